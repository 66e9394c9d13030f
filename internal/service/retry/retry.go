// Package retry повторяет операции, завершившиеся повторяемым конфликтом,
// и защищает внешние вызовы circuit breaker'ом.
package retry

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Config задаёт число попыток и экспоненциальную паузу между ними.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2,
	}
}

// withDefaults заменяет невалидные поля значениями DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts < 1 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	c.InitialDelay = max(c.InitialDelay, 0)
	return c
}

// Delay — пауза после неудачной попытки номер attempt (с 1), не больше MaxDelay.
func (c Config) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	d := float64(c.InitialDelay)
	for i := 1; i < attempt && d < float64(c.MaxDelay); i++ {
		d *= c.BackoffFactor
	}
	return min(time.Duration(d), c.MaxDelay)
}

// Do вызывает fn до cfg.MaxAttempts раз, пока ошибка повторяемая (domain.IsRetryable).
// Возвращает последнюю ошибку fn без обёртки или ошибку ctx, если ожидание прервано.
func Do(ctx context.Context, cfg Config, logger *log.Entry, operation string, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.WithField("component", "retry")
	}
	entry := logger.WithField("operation", operation)

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				entry.WithField("attempt", attempt).Info("operation succeeded after retry")
			}
			return nil
		}
		if !domain.IsRetryable(err) || attempt >= cfg.MaxAttempts {
			return err
		}

		wait := cfg.Delay(attempt)
		entry.WithError(err).WithFields(log.Fields{"attempt": attempt, "delay": wait}).Warn("retryable conflict, retrying")
		if err := pause(ctx, wait); err != nil {
			return err
		}
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

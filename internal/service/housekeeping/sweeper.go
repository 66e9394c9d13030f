// Package housekeeping удаляет устаревшие служебные записи: ключи идемпотентности
// с истёкшим TTL и давно опубликованные события outbox.
package housekeeping

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Цели очистки (метка метрик и поле логов).
const (
	TargetIdempotency = "idempotency"
	TargetOutbox      = "outbox"
)

// Expirer удаляет не более limit записей, устаревших к моменту before.
type Expirer interface {
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// ExpirerFunc позволяет использовать функцию как Expirer.
type ExpirerFunc func(ctx context.Context, before time.Time, limit int) (int, error)

func (f ExpirerFunc) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	return f(ctx, before, limit)
}

var _ Expirer = (domain.IdempotencyRepository)(nil)

// SentOutbox удаляет события outbox, опубликованные раньше, чем retention назад.
// Pending и failed события не затрагиваются.
func SentOutbox(repo domain.OutboxRepository, retention time.Duration) Expirer {
	return ExpirerFunc(func(ctx context.Context, before time.Time, limit int) (int, error) {
		return repo.DeleteSent(ctx, before.Add(-retention), limit)
	})
}

// Config задаёт расписание и объём одного прохода.
type Config struct {
	Target    string
	Interval  time.Duration
	BatchSize int
	// MaxBatches ограничивает число порций за проход, остаток уходит в следующий.
	MaxBatches int
	Logger     *log.Entry
	Metrics    *metrics.HousekeepingMetrics
	Now        func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Target == "" {
		c.Target = TargetIdempotency
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 20
	}
	if c.Logger == nil {
		c.Logger = log.WithField("component", "housekeeping")
	}
	c.Logger = c.Logger.WithField("target", c.Target)
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Report — итог одного прохода.
type Report struct {
	Deleted int
	Batches int
	// Drained=false значит, что проход упёрся в MaxBatches и устаревшие записи ещё остались.
	Drained bool
}

// Sweeper периодически вызывает Expirer порциями.
type Sweeper struct {
	store Expirer
	cfg   Config
}

// NewSweeper создаёт Sweeper. Нулевые поля cfg получают значения по умолчанию.
func NewSweeper(store Expirer, cfg Config) *Sweeper {
	return &Sweeper{store: store, cfg: cfg.withDefaults()}
}

// Run делает проход сразу и затем раз в Interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.store == nil {
		s.cfg.Logger.Warn("housekeeping disabled: no store")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	report, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.cfg.Metrics.RecordRun(s.cfg.Target, "error", report.Deleted)
		s.cfg.Logger.WithError(err).WithField("deleted", report.Deleted).Warn("housekeeping pass failed")
		return
	}

	s.cfg.Metrics.RecordRun(s.cfg.Target, "ok", report.Deleted)
	entry := s.cfg.Logger.WithFields(log.Fields{"deleted": report.Deleted, "batches": report.Batches})
	if !report.Drained {
		entry.Warn("housekeeping hit batch limit, backlog remains")
	} else if report.Deleted > 0 {
		entry.Info("stale records removed")
	}
}

// Sweep удаляет записи, устаревшие к текущему моменту, порциями BatchSize.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	before := s.cfg.Now()
	var report Report
	for report.Batches < s.cfg.MaxBatches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := s.store.DeleteExpired(ctx, before, s.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Deleted += n
		s.cfg.Metrics.AddDeleted(s.cfg.Target, n)
		if n < s.cfg.BatchSize {
			report.Drained = true
			return report, nil
		}
	}
	return report, nil
}

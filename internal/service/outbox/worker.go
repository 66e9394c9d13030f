// Package outbox публикует события transactional outbox во внешнюю шину.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/retry"
)

const (
	defaultPollInterval  = time.Second
	defaultBatchSize     = 100
	defaultMaxAttempts   = 3
	defaultBaseDelay     = 50 * time.Millisecond
	defaultMaxRetryDelay = 2 * time.Second
)

// Метки результата публикации.
const (
	resultSent             = "sent"
	resultRetry            = "retry"
	resultDeadLettered     = "dead_lettered"
	resultDeadLetterFailed = "dead_letter_failed"
	resultDeferred         = "deferred"
)

// Option настраивает Worker.
type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт получателя событий, для которых закончились попытки.
// Без него такие события только помечаются failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.deadLetters = publisher }
}

// WithBreaker пропускает публикацию через circuit breaker. Пока он разомкнут,
// остаток батча не трогается и остаётся pending до следующего цикла.
func WithBreaker(cb *retry.CircuitBreaker) Option {
	return func(w *Worker) { w.breaker = cb }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток на одно событие.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками; 0 отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.baseDelay = max(delay, 0) }
}

// WithMaxRetryDelay ограничивает рост паузы между попытками.
func WithMaxRetryDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay > 0 {
			w.maxDelay = delay
		}
	}
}

// DeadLetter — запись, которую worker кладёт в DLQ вместо исходного события.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failed_at"`
}

// BatchResult — итог одного прохода по outbox.
type BatchResult struct {
	Sent         int
	DeadLettered int
	// Deferred — события, которые остались pending из-за разомкнутого breaker'а или остановки.
	Deferred int
}

// Worker публикует pending-события outbox и помечает их sent или failed.
type Worker struct {
	repo        domain.OutboxRepository
	publisher   domain.OutboxPublisher
	deadLetters domain.OutboxPublisher
	breaker     *retry.CircuitBreaker
	metrics     *metrics.OutboxMetrics
	logger      *log.Entry

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	now          func() time.Time
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		maxDelay:     defaultMaxRetryDelay,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx. Пустой батч ждёт следующего тика,
// полный батч сразу запрашивает следующий.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		res := w.ProcessOnce(ctx)
		if res.Deferred == 0 && res.Sent+res.DeadLettered >= w.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует один батч pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox messages")
		return res
	}

	for i, event := range batch {
		attempts, err := w.deliver(ctx, event)
		switch {
		case err == nil:
			if markErr := w.repo.MarkSent(ctx, event.ID); markErr != nil {
				w.logger.WithError(markErr).WithField("outbox_id", event.ID).Warn("mark outbox message sent")
				continue
			}
			res.Sent++
		case errors.Is(err, retry.ErrCircuitOpen), ctx.Err() != nil:
			res.Deferred = len(batch) - i
			w.metrics.RecordPublish(resultDeferred)
			w.logger.WithFields(log.Fields{
				"deferred": res.Deferred,
				"reason":   err.Error(),
			}).Warn("outbox batch deferred")
			return res
		default:
			w.deadLetter(ctx, event, attempts, err)
			res.DeadLettered++
		}
	}
	return res
}

// deliver публикует событие с паузами между попытками и возвращает число сделанных попыток.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publishOnce(event)
		if err == nil {
			w.metrics.RecordPublish(resultSent)
			return attempt, nil
		}
		if errors.Is(err, retry.ErrCircuitOpen) {
			return attempt - 1, err
		}
		lastErr = err
		w.metrics.RecordPublish(resultRetry)

		if attempt == w.maxAttempts {
			break
		}
		if delay := w.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return w.maxAttempts, fmt.Errorf("%w: %v", domain.ErrOutboxPublish, lastErr)
}

func (w *Worker) publishOnce(event domain.OutboxMessage) error {
	if w.breaker == nil {
		return w.publisher.Publish(event)
	}
	return w.breaker.Execute("outbox.publish", func() error {
		return w.publisher.Publish(event)
	})
}

// backoff удваивает паузу после каждой неудачной попытки, не превышая maxDelay.
func (w *Worker) backoff(attempt int) time.Duration {
	if w.baseDelay <= 0 {
		return 0
	}
	delay := w.baseDelay
	for i := 1; i < attempt && delay < w.maxDelay; i++ {
		delay *= 2
	}
	return min(delay, w.maxDelay)
}

func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, attempts int, cause error) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"event_type": event.EventType,
		"attempts":   attempts,
	})
	entry.WithError(cause).Error("outbox message exhausted publish attempts")

	if w.deadLetters != nil {
		if err := w.publishDeadLetter(event, attempts, cause); err != nil {
			entry.WithError(err).Warn("publish outbox dead letter")
			w.metrics.RecordPublish(resultDeadLetterFailed)
		} else {
			w.metrics.RecordPublish(resultDeadLettered)
		}
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		entry.WithError(err).Warn("mark outbox message failed")
	}
}

func (w *Worker) publishDeadLetter(event domain.OutboxMessage, attempts int, cause error) error {
	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(event.Payload))
		if err != nil {
			return err
		}
		payload = quoted
	}

	data, err := json.Marshal(DeadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishError:  cause.Error(),
		Attempts:      attempts,
		FailedAt:      w.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := event
	letter.Payload = data
	return w.deadLetters.Publish(letter)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt, w.now())
}

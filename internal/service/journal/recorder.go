// Package journal пишет событие таймлайна и сообщение outbox в текущей транзакции.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Entry описывает одно бизнес-событие заказа.
type Entry struct {
	OrderID       string
	AggregateType string
	AggregateID   string
	// TimelineType пустой, если событие не попадает в таймлайн.
	TimelineType string
	// EventType пустой, если событие не публикуется наружу.
	EventType string
	Reason    string
	Actor     string
	Payload   map[string]any
	Occurred  time.Time
}

// Recorder сохраняет записи журнала заказа.
type Recorder struct {
	metrics *metrics.FulfillmentMetrics
}

// NewRecorder создаёт Recorder. metrics может быть nil.
func NewRecorder(m *metrics.FulfillmentMetrics) *Recorder {
	return &Recorder{metrics: m}
}

// Record добавляет событие в таймлайн и outbox через репозитории транзакции.
// Ошибка откатывает всю транзакцию: событие не может потеряться при успешном коммите.
func (r *Recorder) Record(ctx context.Context, repos domain.Repositories, entry Entry) error {
	if entry.Occurred.IsZero() {
		entry.Occurred = time.Now().UTC()
	}

	if entry.TimelineType != "" && repos.Timeline != nil {
		err := repos.Timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  entry.OrderID,
			Type:     entry.TimelineType,
			Reason:   entry.Reason,
			Actor:    entry.Actor,
			Occurred: entry.Occurred,
		})
		if err != nil {
			return fmt.Errorf("append timeline %s: %w", entry.TimelineType, err)
		}
		r.metricsOrNil().RecordTimelineEvent()
	}

	if entry.EventType == "" || repos.Outbox == nil {
		return nil
	}

	payload := make(map[string]any, len(entry.Payload)+4)
	for k, v := range entry.Payload {
		payload[k] = v
	}
	payload["order_id"] = entry.OrderID
	payload["occurred_at"] = entry.Occurred.Format(time.RFC3339Nano)
	if entry.Reason != "" {
		payload["reason"] = entry.Reason
	}
	if entry.Actor != "" {
		payload["actor"] = entry.Actor
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", entry.EventType, err)
	}

	aggregateType, aggregateID := entry.AggregateType, entry.AggregateID
	if aggregateType == "" {
		aggregateType = domain.AggregateOrder
	}
	if aggregateID == "" {
		aggregateID = entry.OrderID
	}

	if _, err := repos.Outbox.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     entry.EventType,
		Payload:       data,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", entry.EventType, err)
	}
	r.metricsOrNil().RecordOutboxEvent(entry.EventType)
	return nil
}

func (r *Recorder) metricsOrNil() *metrics.FulfillmentMetrics {
	if r == nil {
		return nil
	}
	return r.metrics
}

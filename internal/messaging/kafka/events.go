package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents          = "fulfillment.order.events"
	TopicPaymentEvents        = "fulfillment.payment.events"
	TopicPaymentNotifications = "fulfillment.payment.notifications"
	TopicDeadLetterQueue      = "fulfillment.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope — формат сообщения, в котором outbox-события уходят в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(event domain.OutboxMessage, at time.Time) Envelope {
	payload := json.RawMessage(event.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishedAt:   at,
	}
}

// ParseEnvelope парсит Envelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &envelope, nil
}

// TopicRouter выбирает topic по типу агрегата.
type TopicRouter struct {
	OrderTopic   string
	PaymentTopic string
}

// DefaultTopicRouter возвращает маршрутизацию по умолчанию.
func DefaultTopicRouter() TopicRouter {
	return TopicRouter{OrderTopic: TopicOrderEvents, PaymentTopic: TopicPaymentEvents}
}

// Route возвращает topic для события; неизвестные агрегаты идут в topic заказов.
func (r TopicRouter) Route(event domain.OutboxMessage) string {
	if event.AggregateType == domain.AggregatePayment && r.PaymentTopic != "" {
		return r.PaymentTopic
	}
	if r.OrderTopic != "" {
		return r.OrderTopic
	}
	return TopicOrderEvents
}

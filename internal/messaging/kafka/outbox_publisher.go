package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

var errNoProducer = errors.New("kafka: outbox publisher has no producer")

// OutboxPublisher отправляет события outbox в формате Envelope.
type OutboxPublisher struct {
	producer *Producer
	topic    func(domain.OutboxMessage) string
	now      func() time.Time
}

// NewOutboxPublisher раскладывает события по topic'ам через router.
func NewOutboxPublisher(producer *Producer, router TopicRouter) *OutboxPublisher {
	return &OutboxPublisher{producer: producer, topic: router.Route, now: time.Now}
}

// NewDLQPublisher отправляет все события в один topic. Пустой topic означает TopicDeadLetterQueue.
func NewDLQPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	return &OutboxPublisher{
		producer: producer,
		topic:    func(domain.OutboxMessage) string { return topic },
		now:      time.Now,
	}
}

func (p *OutboxPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errNoProducer
	}
	value, err := json.Marshal(NewEnvelope(event, p.now().UTC()))
	if err != nil {
		return fmt.Errorf("kafka: encode outbox event %s: %w", event.ID, err)
	}
	return p.producer.Send(Message{
		Topic:   p.topic(event),
		Key:     PartitionKey(event),
		Value:   value,
		Headers: map[string]string{HeaderEventType: event.EventType},
	})
}

// PartitionKey держит события одного агрегата в одной партиции.
func PartitionKey(event domain.OutboxMessage) string {
	if event.AggregateID != "" {
		return event.AggregateID
	}
	return event.ID
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)

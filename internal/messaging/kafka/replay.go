package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Источники записей в DLQ.
const (
	ReplaySourceConsumer = "consumer"
	ReplaySourceOutbox   = "outbox"
)

// ErrNotReplayable — запись DLQ не похожа ни на один из известных форматов.
var ErrNotReplayable = errors.New("dead letter is not replayable")

// ReplayMessage — запись DLQ, восстановленная для повторной публикации.
type ReplayMessage struct {
	Source string
	Topic  string
	Key    string
	Value  []byte
}

// outboxDeadLetter повторяет формат outbox.DeadLetter.
type outboxDeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
}

// DecodeDeadLetter восстанавливает исходное сообщение из записи DLQ.
//
// Уведомление шлюза, отвергнутое consumer'ом, возвращается в свой topic как есть.
// Событие outbox заново оборачивается в Envelope и направляется router'ом по типу агрегата.
func DecodeDeadLetter(value []byte, router TopicRouter, now time.Time) (ReplayMessage, error) {
	var letter DeadLetter
	if err := json.Unmarshal(value, &letter); err == nil && letter.OriginalValue != "" {
		topic := strings.TrimSpace(letter.OriginalTopic)
		if topic == "" {
			topic = TopicPaymentNotifications
		}
		return ReplayMessage{
			Source: ReplaySourceConsumer,
			Topic:  topic,
			Key:    letter.OriginalKey,
			Value:  []byte(letter.OriginalValue),
		}, nil
	}

	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 || string(envelope.Payload) == "null" {
		return ReplayMessage{}, ErrNotReplayable
	}

	var dead outboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &dead); err != nil {
		return ReplayMessage{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(dead.Payload) == 0 {
		return ReplayMessage{}, fmt.Errorf("outbox dead letter %s has no original payload", envelope.ID)
	}

	event := domain.OutboxMessage{
		ID:            firstNonEmpty(dead.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dead.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dead.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dead.EventType, envelope.EventType),
		Payload:       dead.Payload,
	}
	encoded, err := json.Marshal(NewEnvelope(event, now))
	if err != nil {
		return ReplayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}

	return ReplayMessage{
		Source: ReplaySourceOutbox,
		Topic:  router.Route(event),
		Key:    PartitionKey(event),
		Value:  encoded,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

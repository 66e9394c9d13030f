package kafka

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestDecodeDeadLetter_ConsumerNotification(t *testing.T) {
	raw, err := json.Marshal(DeadLetter{
		OriginalTopic: TopicPaymentNotifications,
		OriginalKey:   "2610190001",
		OriginalValue: `{"order_id":"2610190001"}`,
		ErrorMessage:  "unavailable",
	})
	require.NoError(t, err)

	got, err := DecodeDeadLetter(raw, DefaultTopicRouter(), time.Now())
	require.NoError(t, err)
	require.Equal(t, ReplaySourceConsumer, got.Source)
	require.Equal(t, TopicPaymentNotifications, got.Topic)
	require.Equal(t, "2610190001", got.Key)
	require.JSONEq(t, `{"order_id":"2610190001"}`, string(got.Value))
}

func TestDecodeDeadLetter_OutboxRoutedByAggregate(t *testing.T) {
	dead := map[string]any{
		"outbox_id":      "evt-9",
		"aggregate_type": domain.AggregatePayment,
		"aggregate_id":   "pay-1",
		"event_type":     "payment.settled",
		"payload":        map[string]any{"order_id": "ord-1"},
		"publish_error":  "broker timeout",
	}
	deadRaw, err := json.Marshal(dead)
	require.NoError(t, err)
	envelope, err := json.Marshal(NewEnvelope(domain.OutboxMessage{
		ID:            "evt-9",
		AggregateType: domain.AggregatePayment,
		AggregateID:   "pay-1",
		EventType:     "payment.settled",
		Payload:       deadRaw,
	}, time.Now()))
	require.NoError(t, err)

	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	got, err := DecodeDeadLetter(envelope, TopicRouter{OrderTopic: "orders", PaymentTopic: "payments"}, now)
	require.NoError(t, err)
	require.Equal(t, ReplaySourceOutbox, got.Source)
	require.Equal(t, "payments", got.Topic)
	require.Equal(t, "pay-1", got.Key)

	var replay Envelope
	require.NoError(t, json.Unmarshal(got.Value, &replay))
	require.Equal(t, "evt-9", replay.ID)
	require.Equal(t, "payment.settled", replay.EventType)
	require.JSONEq(t, `{"order_id":"ord-1"}`, string(replay.Payload))
	require.True(t, replay.PublishedAt.Equal(now))
}

func TestDecodeDeadLetter_OutboxWithoutOriginalPayload(t *testing.T) {
	envelope, err := json.Marshal(map[string]any{
		"id":             "evt-1",
		"aggregate_type": "order",
		"payload":        map[string]any{"outbox_id": "evt-1"},
	})
	require.NoError(t, err)

	_, err = DecodeDeadLetter(envelope, DefaultTopicRouter(), time.Now())
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotReplayable))
}

func TestDecodeDeadLetter_Unknown(t *testing.T) {
	for _, raw := range []string{`{"foo":"bar"}`, `not json`, `{"id":"x","payload":null}`} {
		_, err := DecodeDeadLetter([]byte(raw), DefaultTopicRouter(), time.Now())
		require.ErrorIs(t, err, ErrNotReplayable, raw)
	}
}

package kafka

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func envelopeOf(msg *sarama.ProducerMessage) (Envelope, error) {
	raw, err := msg.Value.Encode()
	if err != nil {
		return Envelope{}, err
	}
	var e Envelope
	return e, json.Unmarshal(raw, &e)
}

func TestOutboxPublisher_RoutesByAggregate(t *testing.T) {
	producer, sp := newMockProducer(t)
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(sent(TopicOrderEvents, "order-123", func(msg *sarama.ProducerMessage) error {
		if v, _ := header(msg, HeaderEventType); v != domain.EventOrderStatusChanged {
			return fmt.Errorf("event type header %q", v)
		}
		e, err := envelopeOf(msg)
		if err != nil {
			return err
		}
		if string(e.Payload) != `{"status":"paid"}` || !e.PublishedAt.Equal(at) {
			return fmt.Errorf("unexpected envelope %+v", e)
		}
		return nil
	}))
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(sent(TopicPaymentEvents, "outbox-2", nil))

	publisher := NewOutboxPublisher(producer, DefaultTopicRouter())
	publisher.now = func() time.Time { return at }

	require.NoError(t, publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventOrderStatusChanged,
		Payload:       []byte(`{"status":"paid"}`),
	}))
	require.NoError(t, publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregatePayment,
		EventType:     domain.EventPaymentStatusChanged,
		Payload:       []byte(`{}`),
	}), "events without aggregate id are keyed by their own id")
	require.NoError(t, sp.Close())
}

func TestOutboxPublisher_Errors(t *testing.T) {
	producer, sp := newMockProducer(t)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewOutboxPublisher(producer, DefaultTopicRouter()).Publish(domain.OutboxMessage{ID: "outbox-2", AggregateType: domain.AggregateOrder})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sp.Close())

	require.ErrorIs(t, NewOutboxPublisher(nil, DefaultTopicRouter()).Publish(domain.OutboxMessage{ID: "outbox-3"}), errNoProducer)
}

func TestDLQPublisher_UsesSingleTopic(t *testing.T) {
	producer, sp := newMockProducer(t)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(sent(TopicDeadLetterQueue, "order-1", nil))
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(sent("custom.dlq", "pay-1", nil))

	require.NoError(t, NewDLQPublisher(producer, "").Publish(domain.OutboxMessage{ID: "x", AggregateType: domain.AggregateOrder, AggregateID: "order-1"}))
	require.NoError(t, NewDLQPublisher(producer, "custom.dlq").Publish(domain.OutboxMessage{ID: "y", AggregateType: domain.AggregatePayment, AggregateID: "pay-1"}))
	require.NoError(t, sp.Close())
}

func TestNewEnvelope_EmptyPayload(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	data, err := json.Marshal(NewEnvelope(domain.OutboxMessage{ID: "1"}, at))
	require.NoError(t, err)
	require.Contains(t, string(data), `"payload":null`)

	parsed, err := ParseEnvelope(&sarama.ConsumerMessage{Value: data})
	require.NoError(t, err)
	require.Equal(t, "1", parsed.ID)
	require.True(t, parsed.PublishedAt.Equal(at))

	_, err = ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("{")})
	require.Error(t, err)
}

func TestTopicRouter_Fallbacks(t *testing.T) {
	require.Equal(t, TopicOrderEvents, TopicRouter{}.Route(domain.OutboxMessage{AggregateType: domain.AggregatePayment}))
	require.Equal(t, "custom", TopicRouter{OrderTopic: "custom"}.Route(domain.OutboxMessage{AggregateType: "unknown"}))
	require.Equal(t, "pay", TopicRouter{OrderTopic: "o", PaymentTopic: "pay"}.Route(domain.OutboxMessage{AggregateType: domain.AggregatePayment}))
}

func TestPartitionKey(t *testing.T) {
	require.Equal(t, "order-1", PartitionKey(domain.OutboxMessage{ID: "e-1", AggregateID: "order-1"}))
	require.Equal(t, "e-1", PartitionKey(domain.OutboxMessage{ID: "e-1"}))
}

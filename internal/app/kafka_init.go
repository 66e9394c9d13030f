package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
)

// initKafkaProducer создаёт producer, если список брокеров не пуст.
// Для пустого списка возвращает nil, nil.
func initKafkaProducer(brokers, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, clientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func splitBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// closeKafka закрывает producer, если он есть.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// outboxPublishers выбирает, куда уходят события outbox: в Kafka или в лог.
func outboxPublishers(cfg Config, producer *kafka.Producer, logger *log.Entry) (publisher, dlq domain.OutboxPublisher) {
	if producer == nil {
		return outbox.NewLogPublisher(logger.WithField("component", "outbox-log-publisher")), nil
	}
	router := kafka.TopicRouter{OrderTopic: cfg.KafkaOrderTopic, PaymentTopic: cfg.KafkaPaymentTopic}
	return kafka.NewOutboxPublisher(producer, router), kafka.NewDLQPublisher(producer, cfg.KafkaDLQTopic)
}

// startNotificationConsumer подписывается на ретранслированные уведомления шлюза.
// Возвращает nil, если приём отключён.
func startNotificationConsumer(ctx context.Context, cfg Config, processor kafka.CallbackProcessor, producer *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	if !cfg.KafkaConsumeCallbacks {
		return nil, nil
	}

	consumerLogger := logger.WithField("component", "payment-notification-consumer")
	opts := []kafka.ConsumerOption{kafka.WithConsumerLogger(consumerLogger)}
	if producer != nil {
		opts = append(opts, kafka.WithDLQ(producer, cfg.KafkaDLQTopic))
	}

	consumer, err := kafka.NewConsumer(
		cfg.kafkaBrokerList(),
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaNotificationTopic},
		kafka.NewNotificationHandler(processor, consumerLogger),
		opts...,
	)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, err
	}

	consumerLogger.WithField("topic", cfg.KafkaNotificationTopic).Info("payment notification consumer started")
	return consumer, nil
}

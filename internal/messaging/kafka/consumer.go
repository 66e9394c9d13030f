package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение. Ошибка, обёрнутая Permanent, не повторяется.
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

type ConsumerOption func(*Consumer)

// WithDLQ включает перенос необработанных сообщений в topic (пустой topic — TopicDeadLetterQueue).
func WithDLQ(producer *Producer, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = producer
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithMaxRetries задаёт общий бюджет попыток на сообщение с учётом x-retry-count.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

func WithRetryDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.retryDelay = d
		}
	}
}

func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Consumer читает topics в составе consumer group и отдаёт сообщения handler'у.
// Offset фиксируется только после успешной обработки или переноса в DLQ.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	now        func() time.Time
	dlq        *Producer
	dlqTopic   string
	maxRetries int
	retryDelay time.Duration

	wg sync.WaitGroup
}

func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("create kafka consumer group %q: %w", groupID, errNoBrokers)
	}

	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %q: %w", groupID, err)
	}
	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		now:        time.Now,
		dlqTopic:   TopicDeadLetterQueue,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	for _, apply := range options {
		apply(c)
	}
	return c
}

// Start запускает чтение в фоне и сразу возвращает управление.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go c.consumeLoop(ctx)
	go c.logErrors()
	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// consumeLoop заново входит в Consume после каждого rebalance, пока жив ctx.
func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		err := c.group.Consume(ctx, c.topics, c)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return
		case err != nil:
			c.logger.WithError(err).Error("consumer group session failed")
		}
	}
}

func (c *Consumer) logErrors() {
	defer c.wg.Done()
	for err := range c.group.Errors() {
		c.logger.WithError(err).Error("kafka consumer error")
	}
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		var msg *sarama.ConsumerMessage
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-claim.Messages():
			if !ok || m == nil {
				return nil
			}
			msg = m
		}

		entry := c.logger.WithFields(log.Fields{"topic": msg.Topic, "partition": msg.Partition, "offset": msg.Offset})
		entry.Debug("message received")
		if err := c.deliver(ctx, msg); err != nil {
			// offset не фиксируется: сообщение перечитается после rebalance
			entry.WithError(err).Error("message left unacknowledged")
			continue
		}
		session.MarkMessage(msg, "")
	}
}

// deliver вызывает handler, пока не исчерпан бюджет попыток, затем переносит сообщение в DLQ.
// Без DLQ возвращает последнюю ошибку handler'а.
func (c *Consumer) deliver(ctx context.Context, msg *sarama.ConsumerMessage) error {
	spent := priorAttempts(msg)
	var err error
	for {
		err = c.handler(ctx, msg)
		spent++
		if err == nil {
			return nil
		}
		if IsPermanent(err) || spent >= c.maxRetries {
			break
		}
		c.logger.WithError(err).WithFields(log.Fields{"topic": msg.Topic, "attempt": spent, "max_retries": c.maxRetries}).
			Warn("message handling failed, retrying")
		if err := c.pause(ctx); err != nil {
			return err
		}
	}

	if c.dlq == nil {
		return err
	}
	letter, buildErr := deadLetterMessage(c.dlqTopic, msg, err, spent, c.now())
	if buildErr != nil {
		return buildErr
	}
	if sendErr := c.dlq.Send(letter); sendErr != nil {
		return fmt.Errorf("move message to dlq %s: %w", c.dlqTopic, sendErr)
	}
	c.logger.WithFields(log.Fields{"topic": msg.Topic, "dlq": c.dlqTopic, "attempts": spent, "permanent": IsPermanent(err)}).
		Warn("message moved to dlq")
	return nil
}

func (c *Consumer) pause(ctx context.Context) error {
	if c.retryDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

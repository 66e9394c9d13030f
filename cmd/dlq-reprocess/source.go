package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
)

// deadLetterSource даёт доступ к партициям DLQ.
type deadLetterSource interface {
	Partitions(topic string) ([]int32, error)
	// Window возвращает смещения первой и следующей за последней записью.
	Window(topic string, partition int32) (first, next int64, err error)
	Open(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type saramaSource struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func dialSource(brokers []string) (*saramaSource, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "fulfillment-dlq-reprocess"
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create dlq consumer: %w", err)
	}
	return &saramaSource{client: client, consumer: consumer}, nil
}

func (s *saramaSource) Partitions(topic string) ([]int32, error) {
	return s.client.Partitions(topic)
}

func (s *saramaSource) Window(topic string, partition int32) (int64, int64, error) {
	first, err := s.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, err
	}
	next, err := s.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, err
	}
	return first, next, nil
}

func (s *saramaSource) Open(topic string, partition int32, offset int64) (partitionStream, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s *saramaSource) Close() error {
	_ = s.consumer.Close()
	return s.client.Close()
}

// scan читает партиции по возрастанию номера, пока не исчерпан limit.
// Каждая партиция читается до записи, бывшей последней на момент старта.
func scan(ctx context.Context, src deadLetterSource, opts options, r *replayer) (summary, error) {
	sum := newSummary()
	partitions, err := src.Partitions(opts.dlqTopic)
	if err != nil {
		return sum, fmt.Errorf("list partitions of %s: %w", opts.dlqTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, p := range partitions {
		budget := opts.limit - sum.Scanned
		if budget <= 0 {
			break
		}
		if err := scanPartition(ctx, src, opts, p, budget, r, &sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func scanPartition(ctx context.Context, src deadLetterSource, opts options, partition int32, budget int, r *replayer, sum *summary) error {
	first, next, err := src.Window(opts.dlqTopic, partition)
	if err != nil {
		return fmt.Errorf("offsets of partition %d: %w", partition, err)
	}
	if next <= first {
		return nil
	}
	start := first
	if opts.tail {
		start = max(first, next-int64(budget))
	}

	stream, err := src.Open(opts.dlqTopic, partition, start)
	if err != nil {
		return fmt.Errorf("open partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(opts.idleTimeout)
	defer idle.Stop()

	for read := 0; read < budget; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
			return nil
		case cerr := <-stream.Errors():
			if cerr != nil {
				return fmt.Errorf("read partition %d: %w", partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= next {
				return nil
			}
			read++
			if err := r.handle(msg, sum); err != nil {
				return err
			}
			if msg.Offset+1 >= next {
				return nil
			}
			idle.Reset(opts.idleTimeout)
		}
	}
	return nil
}

// Package kafka связывает сервис с Kafka: публикация outbox-событий и приём ретранслированных уведомлений шлюза.
package kafka

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultClientID = "fulfillment-service"

var errNoBrokers = errors.New("kafka: no brokers configured")

// Message — запись для синхронной отправки.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

func (m Message) record(at time.Time) *sarama.ProducerMessage {
	names := make([]string, 0, len(m.Headers))
	for name := range m.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	headers := make([]sarama.RecordHeader, 0, len(names))
	for _, name := range names {
		headers = append(headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(m.Headers[name])})
	}
	return &sarama.ProducerMessage{
		Topic:     m.Topic,
		Key:       sarama.StringEncoder(m.Key),
		Value:     sarama.ByteEncoder(m.Value),
		Headers:   headers,
		Timestamp: at,
	}
}

// Producer отправляет записи синхронно и ждёт подтверждения всех реплик.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// producerConfig — идемпотентный producer: acks=all и одна запись в полёте на соединение.
func producerConfig(clientID string) *sarama.Config {
	if clientID == "" {
		clientID = defaultClientID
	}
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.Idempotent = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

func NewProducer(brokers []string, clientID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	sp, err := sarama.NewSyncProducer(brokers, producerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("kafka: open producer: %w", err)
	}
	return newProducer(sp), nil
}

func newProducer(sp sarama.SyncProducer) *Producer {
	return &Producer{sync: sp, logger: log.WithField("component", "kafka-producer")}
}

// Send отправляет запись и возвращает ошибку брокера как есть, обёрнутую темой.
func (p *Producer) Send(m Message) error {
	partition, offset, err := p.sync.SendMessage(m.record(time.Now()))
	entry := p.logger.WithFields(log.Fields{"topic": m.Topic, "key": m.Key})
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("kafka: send to %s: %w", m.Topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka record sent")
	return nil
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("kafka: close producer: %w", err)
	}
	return nil
}

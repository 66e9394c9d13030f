package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// PermanentError помечает ошибку, повтор которой ничего не изменит: сообщение сразу уходит в DLQ.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// DeadLetter — уведомление, которое consumer не смог обработать.
// Исходные ключ и тело сохраняются, чтобы dlq-reprocess мог вернуть его в topic.
type DeadLetter struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

// deadLetterMessage упаковывает отвергнутое сообщение для topic DLQ.
func deadLetterMessage(topic string, src *sarama.ConsumerMessage, cause error, attempts int, at time.Time) (Message, error) {
	failedAt := at.UTC().Format(time.RFC3339)
	body, err := json.Marshal(DeadLetter{
		OriginalTopic:     src.Topic,
		OriginalPartition: src.Partition,
		OriginalOffset:    src.Offset,
		OriginalKey:       string(src.Key),
		OriginalValue:     string(src.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        attempts,
	})
	if err != nil {
		return Message{}, fmt.Errorf("marshal dead letter: %w", err)
	}
	return Message{
		Topic: topic,
		Key:   string(src.Key),
		Value: body,
		Headers: map[string]string{
			HeaderOriginalTopic: src.Topic,
			HeaderErrorMessage:  cause.Error(),
			HeaderFailedAt:      failedAt,
			HeaderRetryCount:    strconv.Itoa(attempts),
		},
	}, nil
}

// priorAttempts читает x-retry-count: столько попыток уже потрачено до этого чтения.
func priorAttempts(msg *sarama.ConsumerMessage) int {
	for _, h := range msg.Headers {
		if h == nil || string(h.Key) != HeaderRetryCount {
			continue
		}
		n, err := strconv.Atoi(string(h.Value))
		if err != nil || n < 0 {
			return 0
		}
		return n
	}
	return 0
}

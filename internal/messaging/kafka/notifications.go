package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
)

// CallbackProcessor — то, что умеет применять уведомление шлюза.
type CallbackProcessor interface {
	Process(ctx context.Context, cb payment.Callback) (payment.Result, error)
}

// NewNotificationHandler возвращает MessageHandler, который передаёт ретранслированные
// уведомления шлюза в сверку платежей. Ошибки подписи, разбора и поиска заказа постоянные.
func NewNotificationHandler(processor CallbackProcessor, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-notification-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		cb, err := payment.ParseNotification(message.Value)
		if err != nil {
			return Permanent(err)
		}

		result, err := processor.Process(ctx, cb)
		if err != nil {
			if permanentCallbackError(err) {
				return Permanent(err)
			}
			return err
		}

		logger.WithFields(log.Fields{
			"order_number": cb.OrderNumber,
			"outcome":      result.Outcome,
			"offset":       message.Offset,
		}).Debug("relayed payment notification applied")
		return nil
	}
}

func permanentCallbackError(err error) bool {
	return errors.Is(err, domain.ErrInvalidSignature) ||
		errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrForbidden)
}

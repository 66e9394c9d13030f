package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/journal"
)

// InitiatorDependencies — зависимости инициации платежа.
type InitiatorDependencies struct {
	Tx      domain.TxManager
	Gateway Gateway
	Journal *journal.Recorder
	Metrics *metrics.FulfillmentMetrics
	Logger  *log.Entry
	Now     func() time.Time
}

// Initiator создаёт платёж по заказу у шлюза.
type Initiator struct {
	tx      domain.TxManager
	gateway Gateway
	journal *journal.Recorder
	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry
	now     func() time.Time
}

// NewInitiator создаёт Initiator.
func NewInitiator(deps InitiatorDependencies) *Initiator {
	i := &Initiator{
		tx:      deps.Tx,
		gateway: deps.Gateway,
		journal: deps.Journal,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		now:     deps.Now,
	}
	if i.journal == nil {
		i.journal = journal.NewRecorder(deps.Metrics)
	}
	if i.logger == nil {
		i.logger = log.WithField("component", "payment-initiator")
	}
	if i.now == nil {
		i.now = func() time.Time { return time.Now().UTC() }
	}
	return i
}

// Initiate создаёт транзакцию у шлюза и сохраняет платёж в статусе pending.
// Вызов шлюза выполняется вне транзакции хранилища.
func (i *Initiator) Initiate(ctx context.Context, caller domain.Caller, orderID string) (payment domain.Payment, err error) {
	started := time.Now()
	defer func() {
		i.metrics.ObserveOperation("initiate_payment", started, err)
		i.metrics.RecordPaymentInitiated(initiationResult(err))
	}()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Payment{}, domain.NewValidationError("invalid request",
			domain.FieldError{Field: "order_id", Message: "is required"})
	}

	repos := i.tx.Repos()
	order, err := repos.Orders.Get(ctx, orderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := checkPayable(caller, order); err != nil {
		return domain.Payment{}, err
	}
	if _, err := repos.Payments.GetByOrderID(ctx, order.ID); err == nil {
		return domain.Payment{}, duplicatePayment(order.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Payment{}, err
	}

	req := ChargeRequest{
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		Amount:      order.Total,
		Currency:    order.Currency,
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, ChargeItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	charge, err := i.gateway.Initiate(ctx, req)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("initiate gateway transaction: %w", err)
	}

	now := i.now()
	payment = domain.Payment{
		ID:              uuid.NewString(),
		OrderID:         order.ID,
		Amount:          order.Total,
		Currency:        order.Currency,
		Status:          domain.PaymentStatusPending,
		GatewayRef:      charge.Token,
		RedirectURL:     charge.RedirectURL,
		GatewayResponse: charge.Raw,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = i.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		current, err := repos.Orders.GetForUpdate(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := checkPayable(caller, current); err != nil {
			return err
		}
		if err := repos.Payments.Create(ctx, payment); err != nil {
			return err
		}
		return i.journal.Record(ctx, repos, journal.Entry{
			OrderID:       order.ID,
			AggregateType: domain.AggregatePayment,
			AggregateID:   payment.ID,
			TimelineType:  domain.TimelinePaymentCreated,
			EventType:     domain.EventPaymentInitiated,
			Actor:         caller.UserID,
			Occurred:      now,
			Payload: map[string]any{
				"payment_id":   payment.ID,
				"order_number": order.Number,
				"amount":       payment.Amount,
				"currency":     payment.Currency,
				"status":       string(payment.Status),
			},
		})
	})
	if err != nil {
		return domain.Payment{}, err
	}

	i.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"payment_id": payment.ID,
		"amount":     payment.Amount,
	}).Info("payment initiated")
	return payment, nil
}

func checkPayable(caller domain.Caller, order domain.Order) error {
	if !caller.CanAccess(order) {
		return domain.NewForbiddenError("order belongs to another user")
	}
	if order.Status != domain.OrderStatusNew {
		return domain.NewValidationError(
			fmt.Sprintf("order in status %s cannot be paid", order.Status),
			domain.FieldError{Field: "status", Message: "must be new"},
		)
	}
	return nil
}

func duplicatePayment(orderID string) error {
	return domain.NewConflictError(domain.ConflictDuplicatePayment, "order "+orderID+" already has a payment", false)
}

func initiationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

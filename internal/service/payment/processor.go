package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/journal"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/retry"
)

// Итоги обработки уведомления (метка метрик и поле ответа).
const (
	OutcomeApplied          = "applied"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeNotFound         = "not_found"
	OutcomeRejected         = "rejected"
	OutcomeError            = "error"
)

// Callback — уведомление шлюза о статусе транзакции.
type Callback struct {
	TransactionID string
	// OrderNumber — order_id в терминах шлюза, равен номеру заказа.
	OrderNumber   string
	GatewayStatus string
	StatusCode    string
	GrossAmount   string
	FraudStatus   string
	PaymentType   string
	Signature     string
	// RawPayload сохраняется в Payment.GatewayResponse без интерпретации.
	RawPayload []byte
}

// Result — итог обработки уведомления.
type Result struct {
	Outcome       string
	OrderID       string
	PaymentID     string
	PaymentStatus domain.PaymentStatus
	OrderStatus   domain.OrderStatus
}

// ProcessorDependencies — зависимости сверки.
type ProcessorDependencies struct {
	Tx        domain.TxManager
	Verifier  *Verifier
	Lifecycle *lifecycle.Manager
	Journal   *journal.Recorder
	Metrics   *metrics.FulfillmentMetrics
	Logger    *log.Entry
	Retry     retry.Config
	Now       func() time.Time
}

// Processor сверяет уведомления шлюза с платежами и заказами.
type Processor struct {
	tx        domain.TxManager
	verifier  *Verifier
	lifecycle *lifecycle.Manager
	journal   *journal.Recorder
	metrics   *metrics.FulfillmentMetrics
	logger    *log.Entry
	retry     retry.Config
	now       func() time.Time
}

// NewProcessor создаёт Processor.
func NewProcessor(deps ProcessorDependencies) *Processor {
	p := &Processor{
		tx:        deps.Tx,
		verifier:  deps.Verifier,
		lifecycle: deps.Lifecycle,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		retry:     deps.Retry,
		now:       deps.Now,
	}
	if p.journal == nil {
		p.journal = journal.NewRecorder(deps.Metrics)
	}
	if p.lifecycle == nil {
		p.lifecycle = lifecycle.NewManager(lifecycle.Dependencies{Tx: deps.Tx, Journal: p.journal, Metrics: deps.Metrics})
	}
	if p.logger == nil {
		p.logger = log.WithField("component", "payment-reconciliation")
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	return p
}

// Process применяет уведомление. Повтор того же уведомления ничего не меняет.
func (p *Processor) Process(ctx context.Context, cb Callback) (result Result, err error) {
	started := time.Now()
	defer func() {
		if err != nil {
			result.Outcome = callbackFailure(err)
		}
		p.metrics.ObserveOperation("process_callback", started, err)
		p.metrics.RecordPaymentCallback(result.Outcome)
	}()

	if err := p.verifier.Verify(cb); err != nil {
		p.logger.WithField("order_number", cb.OrderNumber).Warn("payment notification rejected: bad signature")
		return Result{}, err
	}

	incoming, known := domain.MapGatewayStatus(cb.GatewayStatus, cb.FraudStatus)
	if !known {
		p.logger.WithFields(log.Fields{
			"order_number":   cb.OrderNumber,
			"gateway_status": cb.GatewayStatus,
		}).Warn("unknown gateway status ignored")
		return Result{Outcome: OutcomeIgnored}, nil
	}

	var applied *lifecycle.Applied
	err = retry.Do(ctx, p.retry, p.logger, "process_callback", func(ctx context.Context) error {
		applied = nil
		return p.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			var txErr error
			result, applied, txErr = p.apply(ctx, repos, cb, incoming)
			return txErr
		})
	})
	if err != nil {
		return Result{}, err
	}

	if applied != nil {
		p.lifecycle.Committed(*applied, domain.SystemPaymentCaller, "payment settled")
	}
	p.logger.WithFields(log.Fields{
		"order_id":       result.OrderID,
		"payment_id":     result.PaymentID,
		"gateway_status": cb.GatewayStatus,
		"payment_status": result.PaymentStatus,
		"outcome":        result.Outcome,
	}).Info("payment notification processed")
	return result, nil
}

func (p *Processor) apply(ctx context.Context, repos domain.Repositories, cb Callback, incoming domain.PaymentStatus) (Result, *lifecycle.Applied, error) {
	number := strings.TrimSpace(cb.OrderNumber)
	if number == "" {
		return Result{}, nil, domain.NewValidationError("invalid notification",
			domain.FieldError{Field: "order_id", Message: "is required"})
	}
	found, err := repos.Orders.GetByNumber(ctx, number)
	if err != nil {
		return Result{}, nil, err
	}
	// статус для перевода в paid читается только под блокировкой; заказ блокируется раньше платежа
	order, err := repos.Orders.GetForUpdate(ctx, found.ID)
	if err != nil {
		return Result{}, nil, err
	}
	payment, err := repos.Payments.GetByOrderIDForUpdate(ctx, order.ID)
	if err != nil {
		return Result{}, nil, err
	}

	result := Result{
		Outcome:       OutcomeDuplicate,
		OrderID:       order.ID,
		PaymentID:     payment.ID,
		PaymentStatus: payment.Status,
		OrderStatus:   order.Status,
	}

	next, changed := domain.NextPaymentStatus(payment.Status, incoming)
	if !changed {
		return result, nil, nil
	}

	if next == domain.PaymentStatusSuccess {
		amount, err := ParseGrossAmount(cb.GrossAmount)
		if err != nil {
			return Result{}, nil, domain.NewValidationError("invalid notification",
				domain.FieldError{Field: "gross_amount", Message: err.Error()})
		}
		if amount != payment.Amount {
			return Result{}, nil, domain.NewValidationError("gross amount does not match payment",
				domain.FieldError{Field: "gross_amount", Message: fmt.Sprintf("expected %d, got %d", payment.Amount, amount)})
		}
	}

	now := p.now()
	previous := payment.Status
	payment.Status = next
	payment.UpdatedAt = now
	if cb.TransactionID != "" {
		payment.TransactionID = cb.TransactionID
	}
	if cb.PaymentType != "" {
		payment.PaymentType = cb.PaymentType
	}
	if len(cb.RawPayload) > 0 {
		payment.GatewayResponse = append([]byte(nil), cb.RawPayload...)
	}
	if next == domain.PaymentStatusSuccess && payment.PaidAt == nil {
		paidAt := now
		payment.PaidAt = &paidAt
	}
	if err := repos.Payments.Update(ctx, payment); err != nil {
		return Result{}, nil, fmt.Errorf("update payment: %w", err)
	}

	if err := p.journal.Record(ctx, repos, journal.Entry{
		OrderID:       order.ID,
		AggregateType: domain.AggregatePayment,
		AggregateID:   payment.ID,
		TimelineType:  domain.TimelinePaymentUpdated,
		EventType:     domain.EventPaymentStatusChanged,
		Reason:        "gateway status " + strings.ToLower(cb.GatewayStatus),
		Actor:         domain.SystemPaymentCaller.UserID,
		Occurred:      now,
		Payload: map[string]any{
			"payment_id":     payment.ID,
			"order_number":   order.Number,
			"from":           string(previous),
			"to":             string(next),
			"transaction_id": payment.TransactionID,
			"payment_type":   payment.PaymentType,
		},
	}); err != nil {
		return Result{}, nil, err
	}

	result.Outcome = OutcomeApplied
	result.PaymentStatus = next

	if next != domain.PaymentStatusSuccess || order.Status != domain.OrderStatusNew {
		return result, nil, nil
	}
	applied, err := p.lifecycle.TransitionInTx(ctx, repos, order.ID, domain.OrderStatusPaid, domain.SystemPaymentCaller, "payment settled")
	if err != nil {
		return Result{}, nil, err
	}
	result.OrderStatus = applied.Order.Status
	return result, &applied, nil
}

func callbackFailure(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return OutcomeInvalidSignature
	case errors.Is(err, domain.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrValidation):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

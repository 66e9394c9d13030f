// Package lifecycle двигает заказ по таблице статусов.
// Отмена недоставленного заказа возвращает товары на склад в той же транзакции.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/journal"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/retry"
)

// MaxBulkOrders ограничивает размер пакетного перевода.
const MaxBulkOrders = 100

// Dependencies — зависимости менеджера.
type Dependencies struct {
	Tx      domain.TxManager
	Ledger  *inventory.Ledger
	Journal *journal.Recorder
	Metrics *metrics.FulfillmentMetrics
	Logger  *log.Entry
	Retry   retry.Config
	Now     func() time.Time
}

// Manager применяет переходы статусов.
type Manager struct {
	tx      domain.TxManager
	ledger  *inventory.Ledger
	journal *journal.Recorder
	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry
	retry   retry.Config
	now     func() time.Time
}

// NewManager создаёт менеджер жизненного цикла.
func NewManager(deps Dependencies) *Manager {
	m := &Manager{
		tx:      deps.Tx,
		ledger:  deps.Ledger,
		journal: deps.Journal,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		retry:   deps.Retry,
		now:     deps.Now,
	}
	if m.ledger == nil {
		m.ledger = inventory.NewLedger(deps.Metrics)
	}
	if m.journal == nil {
		m.journal = journal.NewRecorder(deps.Metrics)
	}
	if m.logger == nil {
		m.logger = log.WithField("component", "lifecycle")
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// Applied описывает применённый, но ещё не обязательно зафиксированный переход.
type Applied struct {
	Order     domain.Order
	From      domain.OrderStatus
	Cancelled bool
}

// Transition переводит заказ в status от имени caller.
func (m *Manager) Transition(ctx context.Context, orderID string, status domain.OrderStatus, caller domain.Caller, reason string) (domain.Order, error) {
	started := time.Now()
	applied, err := m.run(ctx, "transition", func(ctx context.Context, repos domain.Repositories) (Applied, error) {
		return m.TransitionInTx(ctx, repos, orderID, status, caller, reason)
	})
	m.metrics.ObserveOperation("transition", started, err)
	if err != nil {
		return domain.Order{}, err
	}
	m.Committed(applied, caller, reason)
	return applied.Order, nil
}

// Cancel закрывает заказ, пока он не отправлен (new или paid).
func (m *Manager) Cancel(ctx context.Context, orderID string, caller domain.Caller, reason string) (domain.Order, error) {
	started := time.Now()
	applied, err := m.run(ctx, "cancel", func(ctx context.Context, repos domain.Repositories) (Applied, error) {
		order, err := m.loadForCaller(ctx, repos, orderID, caller)
		if err != nil {
			return Applied{}, err
		}
		if order.Status != domain.OrderStatusNew && order.Status != domain.OrderStatusPaid {
			return Applied{}, domain.NewValidationError(
				fmt.Sprintf("order in status %s can no longer be cancelled", order.Status),
				domain.FieldError{Field: "status", Message: "must be new or paid"},
			)
		}
		return m.apply(ctx, repos, order, domain.OrderStatusClosed, caller, reason)
	})
	m.metrics.ObserveOperation("cancel", started, err)
	if err != nil {
		return domain.Order{}, err
	}
	m.Committed(applied, caller, reason)
	return applied.Order, nil
}

// TransitionInTx — транзакционная точка входа: использует репозитории вызывающего
// и не фиксирует изменения сама. После коммита вызывающий передаёт результат в Committed.
func (m *Manager) TransitionInTx(ctx context.Context, repos domain.Repositories, orderID string, status domain.OrderStatus, caller domain.Caller, reason string) (Applied, error) {
	if !status.Valid() {
		return Applied{}, domain.NewValidationError("unknown order status",
			domain.FieldError{Field: "status", Message: "unknown status " + string(status)})
	}
	order, err := m.loadForCaller(ctx, repos, orderID, caller)
	if err != nil {
		return Applied{}, err
	}
	return m.apply(ctx, repos, order, status, caller, reason)
}

// Committed пишет метрики и лог после успешного коммита.
func (m *Manager) Committed(applied Applied, caller domain.Caller, reason string) {
	m.metrics.RecordTransition(string(applied.From), string(applied.Order.Status))
	m.logger.WithFields(log.Fields{
		"order_id":  applied.Order.ID,
		"from":      applied.From,
		"to":        applied.Order.Status,
		"actor":     caller.UserID,
		"reason":    reason,
		"cancelled": applied.Cancelled,
	}).Info("order status changed")
}

func (m *Manager) loadForCaller(ctx context.Context, repos domain.Repositories, orderID string, caller domain.Caller) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.NewValidationError("invalid request",
			domain.FieldError{Field: "order_id", Message: "is required"})
	}
	order, err := repos.Orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !caller.CanAccess(order) {
		return domain.Order{}, domain.NewForbiddenError("order belongs to another user")
	}
	return order, nil
}

func (m *Manager) apply(ctx context.Context, repos domain.Repositories, order domain.Order, status domain.OrderStatus, caller domain.Caller, reason string) (Applied, error) {
	from := order.Status
	if !domain.CanTransition(from, status) {
		return Applied{}, &domain.InvalidTransitionError{From: from, To: status}
	}

	cancelled := domain.IsCancellation(from, status)
	if cancelled {
		if err := m.ledger.Restock(ctx, repos, order); err != nil {
			return Applied{}, err
		}
	}

	now := m.now()
	updated, err := repos.Orders.UpdateStatus(ctx, order.ID, order.Version, status, now)
	if err != nil {
		return Applied{}, err
	}

	entry := journal.Entry{
		OrderID:      order.ID,
		TimelineType: domain.TimelineStatusChanged,
		EventType:    domain.EventOrderStatusChanged,
		Reason:       reason,
		Actor:        caller.UserID,
		Occurred:     now,
		Payload: map[string]any{
			"order_number": order.Number,
			"user_id":      order.UserID,
			"from":         string(from),
			"to":           string(status),
		},
	}
	if cancelled {
		entry.TimelineType = domain.TimelineOrderCancelled
		entry.EventType = domain.EventOrderCancelled
		entry.Payload["restocked_items"] = len(order.Items)
	}
	if err := m.journal.Record(ctx, repos, entry); err != nil {
		return Applied{}, err
	}

	return Applied{Order: updated, From: from, Cancelled: cancelled}, nil
}

func (m *Manager) run(ctx context.Context, operation string, fn func(ctx context.Context, repos domain.Repositories) (Applied, error)) (Applied, error) {
	var applied Applied
	err := retry.Do(ctx, m.retry, m.logger, operation, func(ctx context.Context) error {
		return m.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			result, err := fn(ctx, repos)
			if err != nil {
				return err
			}
			applied = result
			return nil
		})
	})
	if err != nil {
		if domain.IsRetryable(err) {
			m.metrics.RecordTxRetry()
		}
		return Applied{}, err
	}
	return applied, nil
}

// BulkResult — итог перевода одного заказа в пакете.
type BulkResult struct {
	OrderID string
	Order   domain.Order
	Err     error
}

// BulkTransition переводит каждый заказ отдельной транзакцией (только администратор).
// Ошибка одного заказа не откатывает остальные.
func (m *Manager) BulkTransition(ctx context.Context, caller domain.Caller, orderIDs []string, status domain.OrderStatus, reason string) ([]BulkResult, error) {
	if !caller.IsAdmin() {
		return nil, domain.NewForbiddenError("only admin can update orders in bulk")
	}

	var fields []domain.FieldError
	ids := make([]string, 0, len(orderIDs))
	seen := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		fields = append(fields, domain.FieldError{Field: "order_ids", Message: "at least one order id is required"})
	}
	if len(ids) > MaxBulkOrders {
		fields = append(fields, domain.FieldError{Field: "order_ids", Message: fmt.Sprintf("at most %d orders per request", MaxBulkOrders)})
	}
	if !status.Valid() {
		fields = append(fields, domain.FieldError{Field: "status", Message: "unknown status " + string(status)})
	}
	if len(fields) > 0 {
		return nil, domain.NewValidationError("invalid bulk update", fields...)
	}

	results := make([]BulkResult, 0, len(ids))
	failed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			results = append(results, BulkResult{OrderID: id, Err: err})
			failed++
			continue
		}
		order, err := m.Transition(ctx, id, status, caller, reason)
		if err != nil {
			failed++
		}
		results = append(results, BulkResult{OrderID: id, Order: order, Err: err})
	}

	if failed > 0 {
		m.logger.WithFields(log.Fields{
			"status":    status,
			"requested": len(ids),
			"failed":    failed,
		}).Warn("bulk status update partially failed")
	}
	return results, nil
}

// IsNoop сообщает, что переход уже применён ранее (повтор в текущий статус).
func IsNoop(err error) bool {
	var invalid *domain.InvalidTransitionError
	return errors.As(err, &invalid) && invalid.From == invalid.To
}

package ordering

import (
	"context"
	"errors"
	"strings"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// OrderDetails — заказ с платежом и таймлайном.
type OrderDetails struct {
	Order    domain.Order
	Payment  *domain.Payment
	Timeline []domain.TimelineEvent
}

// Queries — операции чтения заказов с проверкой доступа.
type Queries struct {
	tx domain.TxManager
}

// NewQueries создаёт сервис чтения.
func NewQueries(tx domain.TxManager) *Queries {
	return &Queries{tx: tx}
}

// Get возвращает заказ владельцу или администратору.
func (q *Queries) Get(ctx context.Context, caller domain.Caller, orderID string) (OrderDetails, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderDetails{}, domain.NewValidationError("invalid request", domain.FieldError{Field: "order_id", Message: "is required"})
	}
	repos := q.tx.Repos()
	order, err := repos.Orders.Get(ctx, orderID)
	if err != nil {
		return OrderDetails{}, err
	}
	return q.details(ctx, repos, caller, order)
}

// GetByNumber возвращает заказ по человекочитаемому номеру.
func (q *Queries) GetByNumber(ctx context.Context, caller domain.Caller, number string) (OrderDetails, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return OrderDetails{}, domain.NewValidationError("invalid request", domain.FieldError{Field: "order_number", Message: "is required"})
	}
	repos := q.tx.Repos()
	order, err := repos.Orders.GetByNumber(ctx, number)
	if err != nil {
		return OrderDetails{}, err
	}
	return q.details(ctx, repos, caller, order)
}

func (q *Queries) details(ctx context.Context, repos domain.Repositories, caller domain.Caller, order domain.Order) (OrderDetails, error) {
	if !caller.CanAccess(order) {
		return OrderDetails{}, domain.NewForbiddenError("order belongs to another user")
	}

	details := OrderDetails{Order: order}
	payment, err := repos.Payments.GetByOrderID(ctx, order.ID)
	switch {
	case err == nil:
		details.Payment = &payment
	case !errors.Is(err, domain.ErrNotFound):
		return OrderDetails{}, err
	}

	timeline, err := repos.Timeline.List(ctx, order.ID)
	if err != nil {
		return OrderDetails{}, err
	}
	details.Timeline = timeline
	return details, nil
}

// ListForUser возвращает заказы вызывающего, новые первыми.
func (q *Queries) ListForUser(ctx context.Context, caller domain.Caller, filter domain.OrderFilter) ([]domain.Order, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return nil, domain.NewValidationError("caller identity is required", domain.FieldError{Field: "user_id", Message: "is required"})
	}
	filter.UserID = caller.UserID
	if err := normalizeFilter(&filter); err != nil {
		return nil, err
	}
	return q.tx.Repos().Orders.List(ctx, filter)
}

// ListAdmin возвращает заказы всех пользователей по фильтру (только администратор).
func (q *Queries) ListAdmin(ctx context.Context, caller domain.Caller, filter domain.OrderFilter) ([]domain.Order, error) {
	if !caller.IsAdmin() {
		return nil, domain.NewForbiddenError("only admin can list all orders")
	}
	if err := normalizeFilter(&filter); err != nil {
		return nil, err
	}
	return q.tx.Repos().Orders.List(ctx, filter)
}

func normalizeFilter(filter *domain.OrderFilter) error {
	var fields []domain.FieldError
	for _, status := range filter.Statuses {
		if !status.Valid() {
			fields = append(fields, domain.FieldError{Field: "statuses", Message: "unknown status " + string(status)})
		}
	}
	if filter.Limit < 0 {
		fields = append(fields, domain.FieldError{Field: "limit", Message: "must be non-negative"})
	}
	if filter.Offset < 0 {
		fields = append(fields, domain.FieldError{Field: "offset", Message: "must be non-negative"})
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		fields = append(fields, domain.FieldError{Field: "from", Message: "must be before to"})
	}
	if len(fields) > 0 {
		return domain.NewValidationError("invalid order filter", fields...)
	}

	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	return nil
}

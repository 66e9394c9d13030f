// Package payment инициирует платежи у шлюза и сверяет уведомления шлюза с заказами.
package payment

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ChargeItem — строка заказа, передаваемая шлюзу.
type ChargeItem struct {
	ProductID string
	Quantity  int64
	UnitPrice int64
}

// ChargeRequest — запрос на создание транзакции у шлюза.
type ChargeRequest struct {
	OrderID     string
	OrderNumber string
	UserID      string
	Amount      int64
	Currency    string
	Items       []ChargeItem
}

// Charge — ответ шлюза на создание транзакции.
type Charge struct {
	Token       string
	RedirectURL string
	// Raw — тело ответа как есть, сохраняется в Payment.GatewayResponse.
	Raw []byte
}

// Gateway — порт платёжного шлюза.
type Gateway interface {
	// Initiate создаёт транзакцию. Ошибки недоступности шлюза оборачивают domain.ErrUnavailable.
	Initiate(ctx context.Context, req ChargeRequest) (Charge, error)
}

// GatewayError — отказ шлюза при создании транзакции.
type GatewayError struct {
	StatusCode int
	Message    string
	Temporary  bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway returned %d: %s", e.StatusCode, e.Message)
}

// Is сопоставляет временные отказы с domain.ErrUnavailable.
func (e *GatewayError) Is(target error) bool {
	return e.Temporary && target == domain.ErrUnavailable
}

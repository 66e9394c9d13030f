// Package coupon определяет порт оценки купонов. Бизнес-правила купонов живут вне движка:
// здесь только контракт и простые реализации для конфигурации и тестов.
package coupon

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Discount — результат применения купона.
type Discount struct {
	CouponID string
	Amount   int64
}

// Evaluator превращает код купона в скидку для конкретного пользователя и subtotal.
type Evaluator interface {
	Evaluate(ctx context.Context, userID, code string, subtotal int64) (Discount, error)
}

// Disabled отклоняет любой код купона.
type Disabled struct{}

// Evaluate всегда возвращает ValidationError.
func (Disabled) Evaluate(_ context.Context, _, code string, _ int64) (Discount, error) {
	return Discount{}, domain.NewValidationError("coupons are not supported",
		domain.FieldError{Field: "coupon_code", Message: fmt.Sprintf("coupon %q is not accepted", code)})
}

// Static — набор фиксированных скидок по коду.
type Static struct {
	amounts map[string]int64
}

// NewStatic создаёт оценщик из пар код → сумма скидки.
func NewStatic(amounts map[string]int64) *Static {
	normalized := make(map[string]int64, len(amounts))
	for code, amount := range amounts {
		normalized[strings.ToUpper(strings.TrimSpace(code))] = amount
	}
	return &Static{amounts: normalized}
}

// ParseStatic разбирает строку вида "WELCOME=10000,VIP=50000".
func ParseStatic(raw string) (*Static, error) {
	amounts := make(map[string]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		code, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("invalid coupon definition %q", pair)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("invalid coupon amount in %q", pair)
		}
		amounts[code] = amount
	}
	return NewStatic(amounts), nil
}

// Evaluate возвращает скидку, не превышающую subtotal.
func (s *Static) Evaluate(_ context.Context, _, code string, subtotal int64) (Discount, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	amount, ok := s.amounts[key]
	if !ok {
		return Discount{}, domain.NewValidationError("unknown coupon",
			domain.FieldError{Field: "coupon_code", Message: fmt.Sprintf("coupon %q does not exist", code)})
	}
	if amount > subtotal {
		amount = subtotal
	}
	return Discount{CouponID: key, Amount: amount}, nil
}

var (
	_ Evaluator = Disabled{}
	_ Evaluator = (*Static)(nil)
)

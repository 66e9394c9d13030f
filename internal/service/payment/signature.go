package payment

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Verifier проверяет подпись уведомления шлюза:
// hex(SHA-512(order_id + status_code + gross_amount + server_key)).
type Verifier struct {
	serverKey string
}

// NewVerifier создаёт Verifier. Пустой ключ отклоняет любое уведомление.
func NewVerifier(serverKey string) *Verifier {
	return &Verifier{serverKey: strings.TrimSpace(serverKey)}
}

// Sign вычисляет подпись для набора полей.
func (v *Verifier) Sign(orderNumber, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderNumber + statusCode + grossAmount + v.serverKey))
	return hex.EncodeToString(sum[:])
}

// Verify сравнивает подпись за постоянное время.
func (v *Verifier) Verify(cb Callback) error {
	if v == nil || v.serverKey == "" {
		return &domain.InvalidSignatureError{Reason: "server key is not configured"}
	}
	signature := strings.ToLower(strings.TrimSpace(cb.Signature))
	if signature == "" {
		return &domain.InvalidSignatureError{Reason: "signature is missing"}
	}
	expected := v.Sign(cb.OrderNumber, cb.StatusCode, cb.GrossAmount)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return &domain.InvalidSignatureError{Reason: "signature mismatch"}
	}
	return nil
}

// ParseGrossAmount переводит строку шлюза ("53000.00") в целые минимальные единицы.
func ParseGrossAmount(raw string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse gross amount %q: %w", raw, err)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("gross amount %q is negative", raw)
	}
	if !amount.Equal(amount.Truncate(0)) {
		return 0, fmt.Errorf("gross amount %q has a fractional minor unit", raw)
	}
	return amount.IntPart(), nil
}

// FormatGrossAmount форматирует сумму так же, как шлюз (две цифры после точки).
func FormatGrossAmount(amount int64) string {
	return decimal.NewFromInt(amount).StringFixed(2)
}

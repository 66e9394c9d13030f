package payment

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// Notification — тело HTTP-уведомления шлюза (и его копии, ретранслированной в Kafka).
type Notification struct {
	TransactionID     string          `json:"transaction_id"`
	OrderID           string          `json:"order_id"`
	TransactionStatus string          `json:"transaction_status"`
	StatusCode        string          `json:"status_code"`
	GrossAmount       json.RawMessage `json:"gross_amount"`
	FraudStatus       string          `json:"fraud_status,omitempty"`
	PaymentType       string          `json:"payment_type,omitempty"`
	SignatureKey      string          `json:"signature_key"`
}

// ParseNotification разбирает JSON уведомления в Callback.
// gross_amount принимается и строкой, и числом: подпись считается по его текстовому виду.
func ParseNotification(raw []byte) (Callback, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return Callback{}, domain.NewValidationError("malformed notification",
			domain.FieldError{Field: "body", Message: err.Error()})
	}

	amount, err := rawAmount(n.GrossAmount)
	if err != nil {
		return Callback{}, domain.NewValidationError("malformed notification",
			domain.FieldError{Field: "gross_amount", Message: err.Error()})
	}

	cb := Callback{
		TransactionID: strings.TrimSpace(n.TransactionID),
		OrderNumber:   strings.TrimSpace(n.OrderID),
		GatewayStatus: strings.TrimSpace(n.TransactionStatus),
		StatusCode:    strings.TrimSpace(n.StatusCode),
		GrossAmount:   amount,
		FraudStatus:   strings.TrimSpace(n.FraudStatus),
		PaymentType:   strings.TrimSpace(n.PaymentType),
		Signature:     strings.TrimSpace(n.SignatureKey),
		RawPayload:    append([]byte(nil), raw...),
	}

	var fields []domain.FieldError
	if cb.OrderNumber == "" {
		fields = append(fields, domain.FieldError{Field: "order_id", Message: "is required"})
	}
	if cb.GatewayStatus == "" {
		fields = append(fields, domain.FieldError{Field: "transaction_status", Message: "is required"})
	}
	if len(fields) > 0 {
		return Callback{}, domain.NewValidationError("malformed notification", fields...)
	}
	return cb, nil
}

func rawAmount(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}

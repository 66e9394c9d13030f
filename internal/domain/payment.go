package domain

import (
	"strings"
	"time"
)

// PaymentStatus описывает внутреннее состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — транзакция создана у шлюза, результат ещё неизвестен.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSuccess — деньги списаны; статус поглощающий.
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusFailed — шлюз отклонил платёж или транзакция истекла.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled — шлюз сообщил о возврате средств.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Valid проверяет, что статус поддерживается.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Статусы транзакции в терминах платёжного шлюза.
const (
	GatewayStatusCapture    = "capture"
	GatewayStatusSettlement = "settlement"
	GatewayStatusPending    = "pending"
	GatewayStatusDeny       = "deny"
	GatewayStatusCancel     = "cancel"
	GatewayStatusExpire     = "expire"
	GatewayStatusRefund     = "refund"
)

// FraudStatusChallenge — capture, требующий ручной проверки на стороне шлюза.
const FraudStatusChallenge = "challenge"

var gatewayStatusMap = map[string]PaymentStatus{
	GatewayStatusCapture:    PaymentStatusSuccess,
	GatewayStatusSettlement: PaymentStatusSuccess,
	GatewayStatusPending:    PaymentStatusPending,
	GatewayStatusDeny:       PaymentStatusFailed,
	GatewayStatusCancel:     PaymentStatusFailed,
	GatewayStatusExpire:     PaymentStatusFailed,
	GatewayStatusRefund:     PaymentStatusCancelled,
}

// MapGatewayStatus переводит статус шлюза во внутренний статус платежа.
// Второе значение false означает неизвестный статус шлюза.
func MapGatewayStatus(gatewayStatus, fraudStatus string) (PaymentStatus, bool) {
	gatewayStatus = strings.ToLower(strings.TrimSpace(gatewayStatus))
	status, ok := gatewayStatusMap[gatewayStatus]
	if !ok {
		return "", false
	}
	if gatewayStatus == GatewayStatusCapture && strings.EqualFold(strings.TrimSpace(fraudStatus), FraudStatusChallenge) {
		return PaymentStatusPending, true
	}
	return status, true
}

// NextPaymentStatus применяет входящий статус к текущему.
// success поглощает любые последующие статусы; changed=false означает no-op.
func NextPaymentStatus(current, incoming PaymentStatus) (next PaymentStatus, changed bool) {
	if current == PaymentStatusSuccess {
		return current, false
	}
	if current == incoming {
		return current, false
	}
	return incoming, true
}

// Payment описывает платёж по заказу (не более одного на заказ).
type Payment struct {
	ID      string
	OrderID string
	Amount  int64
	// Currency — ISO-код валюты платежа.
	Currency string
	Status   PaymentStatus
	// GatewayRef — токен/ссылка, выданные шлюзом при инициации.
	GatewayRef    string
	RedirectURL   string
	TransactionID string
	PaymentType   string
	// GatewayResponse хранит последний сырой ответ шлюза без интерпретации.
	GatewayResponse []byte
	PaidAt          *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.Amount < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if !p.Status.Valid() {
		errs = append(errs, ErrPaymentStatusInvalid)
	}

	return errs
}

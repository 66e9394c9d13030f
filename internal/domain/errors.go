package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Базовые категории ошибок. Типизированные ошибки ниже сопоставляются с ними через errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSignature  = errors.New("invalid callback signature")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrCartValidation    = errors.New("cart validation failed")
)

// ErrUnavailable — внешняя зависимость (платёжный шлюз) временно недоступна.
var ErrUnavailable = errors.New("dependency unavailable")

// Ошибки инвариантов агрегатов.
var (
	// Ошибка отсутствующего владельца заказа.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order number is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной денежной суммы.
	ErrAmountNegative = errors.New("amounts must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия subtotal сумме позиций.
	ErrAmountMismatch = errors.New("order subtotal does not match items sum")
	// Ошибка нарушения формулы total = subtotal + tax + shipping - discount.
	ErrTotalMismatch = errors.New("order total does not match its components")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего идентификатора заказа в платеже.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка неизвестного статуса платежа.
	ErrPaymentStatusInvalid = errors.New("payment status is invalid")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// FieldError описывает проблему с конкретным полем запроса.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError — некорректный или выходящий за допустимые границы ввод.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

// NewValidationError собирает ошибку валидации с деталями по полям.
func NewValidationError(message string, fields ...FieldError) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError — отсутствует заказ, платёж, товар или корзина.
type NotFoundError struct {
	Entity string
	Key    string
}

// NewNotFoundError создаёт ошибку отсутствия сущности.
func NewNotFoundError(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ForbiddenError — нарушение роли или владения.
type ForbiddenError struct {
	Message string
}

// NewForbiddenError создаёт ошибку доступа.
func NewForbiddenError(message string) *ForbiddenError {
	return &ForbiddenError{Message: message}
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Message }

func (e *ForbiddenError) Is(target error) bool { return target == ErrForbidden }

// ConflictReason уточняет природу конфликта.
type ConflictReason string

const (
	ConflictStock            ConflictReason = "stock_conflict"
	ConflictDuplicatePayment ConflictReason = "duplicate_payment"
	ConflictVersion          ConflictReason = "version_conflict"
	ConflictTransaction      ConflictReason = "transaction_conflict"
	ConflictSequence         ConflictReason = "order_number_exhausted"
	ConflictDuplicate        ConflictReason = "duplicate"
	ConflictInsufficient     ConflictReason = "insufficient_stock"
)

// ConflictError — состояние хранилища изменилось или операция уже выполнена.
type ConflictError struct {
	Reason  ConflictReason
	Message string
	// Retryable сигнализирует, что повтор запроса может завершиться успешно.
	Retryable bool
}

// NewConflictError создаёт ошибку конфликта.
func NewConflictError(reason ConflictReason, message string, retryable bool) *ConflictError {
	return &ConflictError{Reason: reason, Message: message, Retryable: retryable}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%s): %s", e.Reason, e.Message)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// InvalidTransitionError — переход отсутствует в таблице статусов.
// Повторный переход в текущий статус дополнительно считается конфликтом.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return target == ErrConflict && e.From == e.To
}

// InvalidSignatureError — подпись уведомления шлюза не прошла проверку.
type InvalidSignatureError struct {
	Reason string
}

func (e *InvalidSignatureError) Error() string {
	if e.Reason == "" {
		return ErrInvalidSignature.Error()
	}
	return ErrInvalidSignature.Error() + ": " + e.Reason
}

func (e *InvalidSignatureError) Is(target error) bool { return target == ErrInvalidSignature }

// EmptyCartError — попытка оформить заказ из пустой корзины.
type EmptyCartError struct {
	UserID string
}

func (e *EmptyCartError) Error() string {
	return fmt.Sprintf("cart of user %q is empty", e.UserID)
}

func (e *EmptyCartError) Is(target error) bool { return target == ErrEmptyCart }

// LineProblemCode описывает причину отказа по позиции.
type LineProblemCode string

const (
	LineProblemNotFound          LineProblemCode = "product_not_found"
	LineProblemUnavailable       LineProblemCode = "product_unavailable"
	LineProblemInsufficientStock LineProblemCode = "insufficient_stock"
)

// LineProblem — проблема с одной позицией корзины или ручного заказа.
type LineProblem struct {
	ProductID string          `json:"product_id"`
	Code      LineProblemCode `json:"code"`
	Requested int64           `json:"requested"`
	Available int64           `json:"available"`
}

// CartValidationError перечисляет все проблемные позиции, а не только первую.
type CartValidationError struct {
	Problems []LineProblem
}

func (e *CartValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.ProductID, p.Code))
	}
	return "cart validation failed: " + strings.Join(parts, "; ")
}

func (e *CartValidationError) Is(target error) bool {
	return target == ErrCartValidation || target == ErrValidation
}

// IsRetryable сообщает, имеет ли смысл повторить операцию.
func IsRetryable(err error) bool {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Retryable
	}
	return false
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict) && conflict.Reason == ConflictVersion
}

package domain

import "time"

// Записи журнала заказа, видимые покупателю в деталях заказа.
const (
	TimelineOrderCreated   = "order_created"
	TimelineStatusChanged  = "status_changed"
	TimelineOrderCancelled = "order_cancelled"
	TimelinePaymentCreated = "payment_created"
	TimelinePaymentUpdated = "payment_updated"
)

// TimelineEvent — запись журнала заказа. Actor пуст для системных событий.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	Actor    string
	Occurred time.Time
}

// Типы событий outbox. Уходят в Kafka только после коммита транзакции, которая их записала.
const (
	EventOrderCreated         = "order.created"
	EventOrderStatusChanged   = "order.status_changed"
	EventOrderCancelled       = "order.cancelled"
	EventPaymentInitiated     = "payment.initiated"
	EventPaymentStatusChanged = "payment.status_changed"
)

// Агрегаты outbox; по ним выбирается topic.
const (
	AggregateOrder   = "order"
	AggregatePayment = "payment"
)

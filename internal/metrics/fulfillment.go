package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics содержит бизнес-метрики движка заказов.
// Методы безопасно вызывать на nil-получателе.
type FulfillmentMetrics struct {
	ordersCreated     *prometheus.CounterVec
	creationFailures  *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	paymentCallbacks  *prometheus.CounterVec
	paymentsInitiated *prometheus.CounterVec
	stockConflicts    prometheus.Counter
	stockAdjustments  *prometheus.CounterVec
	txRetries         prometheus.Counter
	timelineEvents    prometheus.Counter
	outboxEvents      *prometheus.CounterVec

	operationDuration *prometheus.HistogramVec
}

// NewFulfillmentMetrics регистрирует метрики в DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	return &FulfillmentMetrics{
		ordersCreated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_created_total",
			Help: "Total number of created orders grouped by source (cart, manual).",
		}, []string{"source"}),
		creationFailures: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_order_creation_failures_total",
			Help: "Total number of failed order creations grouped by reason.",
		}, []string{"reason"}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_order_transitions_total",
			Help: "Total number of applied order status transitions.",
		}, []string{"from", "to"}),
		paymentCallbacks: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_payment_callbacks_total",
			Help: "Total number of processed payment gateway callbacks grouped by result.",
		}, []string{"result"}),
		paymentsInitiated: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_payments_initiated_total",
			Help: "Total number of payment initiation attempts grouped by result.",
		}, []string{"result"}),
		stockConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_stock_conflicts_total",
			Help: "Total number of stock compare-and-swap conflicts.",
		}),
		stockAdjustments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_stock_adjustments_total",
			Help: "Total number of inventory ledger entries grouped by reason.",
		}, []string{"reason"}),
		txRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_tx_retries_total",
			Help: "Total number of store transaction retries after serialization failures.",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_timeline_events_total",
			Help: "Total number of order timeline events recorded.",
		}),
		outboxEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_events_enqueued_total",
			Help: "Total number of events enqueued into transactional outbox.",
		}, []string{"event_type"}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_operation_duration_seconds",
			Help:    "Duration of engine operations in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation", "result"}),
	}
}

// RecordOrderCreated учитывает созданный заказ.
func (m *FulfillmentMetrics) RecordOrderCreated(source string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(source).Inc()
}

// RecordCreationFailure учитывает неудачное оформление заказа.
func (m *FulfillmentMetrics) RecordCreationFailure(reason string) {
	if m == nil {
		return
	}
	m.creationFailures.WithLabelValues(reason).Inc()
}

// RecordTransition учитывает применённый переход статуса.
func (m *FulfillmentMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordPaymentCallback учитывает обработанное уведомление шлюза.
func (m *FulfillmentMetrics) RecordPaymentCallback(result string) {
	if m == nil {
		return
	}
	m.paymentCallbacks.WithLabelValues(result).Inc()
}

// RecordPaymentInitiated учитывает попытку инициации платежа.
func (m *FulfillmentMetrics) RecordPaymentInitiated(result string) {
	if m == nil {
		return
	}
	m.paymentsInitiated.WithLabelValues(result).Inc()
}

// RecordStockConflict учитывает конфликт CAS по остатку.
func (m *FulfillmentMetrics) RecordStockConflict() {
	if m == nil {
		return
	}
	m.stockConflicts.Inc()
}

// RecordStockAdjustment учитывает запись журнала остатков.
func (m *FulfillmentMetrics) RecordStockAdjustment(reason string) {
	if m == nil {
		return
	}
	m.stockAdjustments.WithLabelValues(reason).Inc()
}

// RecordTxRetry учитывает повтор транзакции.
func (m *FulfillmentMetrics) RecordTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *FulfillmentMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий, поставленных в outbox.
func (m *FulfillmentMetrics) RecordOutboxEvent(eventType string) {
	if m == nil {
		return
	}
	m.outboxEvents.WithLabelValues(eventType).Inc()
}

// ObserveOperation записывает длительность операции.
func (m *FulfillmentMetrics) ObserveOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}

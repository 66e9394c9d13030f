package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics — метрики outbox worker.
type OutboxMetrics struct {
	publishAttempts  *prometheus.CounterVec
	pendingRecords   prometheus.Gauge
	oldestPendingAge prometheus.Gauge
}

// NewOutboxMetrics регистрирует метрики outbox worker.
func NewOutboxMetrics(registerer prometheus.Registerer) *OutboxMetrics {
	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pendingRecords: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestPendingAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
	}
}

// RecordPublish учитывает результат попытки публикации: sent, retry, dead_lettered, dead_letter_failed или deferred.
func (m *OutboxMetrics) RecordPublish(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// SetBacklog обновляет размер и возраст backlog.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestPendingAge.Set(0)
		return
	}
	age := now.Sub(oldest).Seconds()
	if age < 0 {
		age = 0
	}
	m.oldestPendingAge.Set(age)
}

// HousekeepingMetrics — метрики фоновой очистки (ключи идемпотентности, опубликованный outbox).
type HousekeepingMetrics struct {
	runs        *prometheus.CounterVec
	deleted     *prometheus.CounterVec
	lastDeleted *prometheus.GaugeVec
}

func NewHousekeepingMetrics(registerer prometheus.Registerer) *HousekeepingMetrics {
	return &HousekeepingMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_housekeeping_runs_total",
			Help: "Total number of housekeeping passes grouped by target and result.",
		}, []string{"target", "result"}),
		deleted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "fulfillment_housekeeping_deleted_total",
			Help: "Total number of rows removed by housekeeping.",
		}, []string{"target"}),
		lastDeleted: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_housekeeping_last_deleted",
			Help: "Rows removed by the last successful housekeeping pass.",
		}, []string{"target"}),
	}
}

// RecordRun учитывает завершённый проход. lastDeleted обновляется только для ok.
func (m *HousekeepingMetrics) RecordRun(target, result string, deleted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(target, result).Inc()
	if result == "ok" {
		m.lastDeleted.WithLabelValues(target).Set(float64(deleted))
	}
}

func (m *HousekeepingMetrics) AddDeleted(target string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.WithLabelValues(target).Add(float64(n))
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestFulfillmentMetrics_RecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFulfillmentMetricsWithRegisterer(reg)

	m.RecordOrderCreated("cart")
	m.RecordOrderCreated("cart")
	m.RecordOrderCreated("manual")
	m.RecordTransition("new", "paid")
	m.RecordPaymentCallback("applied")
	m.RecordStockConflict()
	m.RecordTxRetry()

	require.Equal(t, 2.0, testutil.ToFloat64(m.ordersCreated.WithLabelValues("cart")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ordersCreated.WithLabelValues("manual")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("new", "paid")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.paymentCallbacks.WithLabelValues("applied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.stockConflicts))
	require.Equal(t, 1.0, testutil.ToFloat64(m.txRetries))
}

func TestFulfillmentMetrics_ObserveOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFulfillmentMetricsWithRegisterer(reg)

	m.ObserveOperation("create_order", time.Now().Add(-10*time.Millisecond), nil)
	m.ObserveOperation("create_order", time.Now(), errors.New("boom"))

	require.Equal(t, 2, testutil.CollectAndCount(m.operationDuration))
}

func TestFulfillmentMetrics_RegisterTwiceReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewFulfillmentMetricsWithRegisterer(reg)
	second := NewFulfillmentMetricsWithRegisterer(reg)

	first.RecordStockConflict()
	second.RecordStockConflict()

	require.Equal(t, 2.0, testutil.ToFloat64(first.stockConflicts))
}

func TestFulfillmentMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *FulfillmentMetrics
	require.NotPanics(t, func() {
		m.RecordOrderCreated("cart")
		m.RecordCreationFailure("validation")
		m.ObserveOperation("op", time.Now(), nil)
	})
}

func TestOutboxMetrics_SetBacklog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	now := time.Now()

	m.SetBacklog(3, now.Add(-30*time.Second), now)
	gauge := &dto.Metric{}
	require.NoError(t, m.oldestPendingAge.Write(gauge))
	require.InDelta(t, 30, gauge.GetGauge().GetValue(), 0.001)
	require.Equal(t, 3.0, testutil.ToFloat64(m.pendingRecords))

	m.SetBacklog(0, time.Time{}, now)
	require.Equal(t, 0.0, testutil.ToFloat64(m.oldestPendingAge))
}

func TestHousekeepingMetrics_PerTarget(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHousekeepingMetrics(reg)

	m.AddDeleted("outbox", 5)
	m.AddDeleted("outbox", 0)
	m.RecordRun("outbox", "ok", 5)
	m.RecordRun("idempotency", "error", 0)

	require.Equal(t, 5.0, testutil.ToFloat64(m.deleted.WithLabelValues("outbox")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.lastDeleted.WithLabelValues("outbox")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.lastDeleted.WithLabelValues("idempotency")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("idempotency", "error")))

	var nilMetrics *HousekeepingMetrics
	require.NotPanics(t, func() { nilMetrics.RecordRun("outbox", "ok", 1) })
}

package journal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestRecorder_WritesTimelineAndOutbox(t *testing.T) {
	store := memory.NewStore()
	recorder := NewRecorder(nil)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		return recorder.Record(ctx, repos, Entry{
			OrderID:      "order-1",
			TimelineType: domain.TimelineStatusChanged,
			EventType:    domain.EventOrderStatusChanged,
			Reason:       "shipped by carrier",
			Actor:        "admin-1",
			Payload:      map[string]any{"from": "paid", "to": "shipped"},
		})
	})
	require.NoError(t, err)

	events, err := store.Repos().Timeline.List(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "admin-1", events[0].Actor)

	pending, err := store.Repos().Outbox.PullPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, domain.AggregateOrder, pending[0].AggregateType)
	require.Equal(t, "order-1", pending[0].AggregateID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, "order-1", payload["order_id"])
	require.Equal(t, "shipped", payload["to"])
	require.Equal(t, "shipped by carrier", payload["reason"])
}

func TestRecorder_TimelineOnly(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	err := store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		return NewRecorder(nil).Record(ctx, repos, Entry{OrderID: "o", TimelineType: domain.TimelinePaymentCreated})
	})
	require.NoError(t, err)

	stats, err := store.Repos().Outbox.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
}

package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func seedProduct(t *testing.T, store *memory.Store, id string, stock int64) {
	t.Helper()
	require.NoError(t, store.Repos().Products.Create(context.Background(), domain.Product{
		ID:            id,
		Name:          "product " + id,
		Price:         1000,
		Status:        domain.ProductStatusActive,
		StockQuantity: stock,
	}))
}

func TestStore_WithinTxRollsBackEveryWrite(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "p1", 5)
	require.NoError(t, store.Repos().Carts.Upsert(ctx, domain.CartItem{UserID: "u1", ProductID: "p1", Quantity: 3}))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
		_, err := repos.Products.CompareAndAdjustStock(ctx, "p1", 5, -3)
		require.NoError(t, err)
		_, err = repos.Inventory.Append(ctx, domain.InventoryLogEntry{ProductID: "p1", ChangeAmount: -3, Reason: domain.InventoryReasonOrderDecrease})
		require.NoError(t, err)
		require.NoError(t, repos.Carts.Clear(ctx, "u1"))
		_, err = repos.Sequences.Next(ctx, "orders:261019")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	product, err := store.Repos().Products.Get(ctx, "p1")
	require.NoError(t, err)
	require.EqualValues(t, 5, product.StockQuantity)

	entries, err := store.Repos().Inventory.ListByProduct(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, entries)

	cart, err := store.Repos().Carts.Items(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart, 1)

	next, err := store.Repos().Sequences.Next(ctx, "orders:261019")
	require.NoError(t, err)
	require.EqualValues(t, 1, next)
}

func TestStore_WithinTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := memory.NewStore().WithinTx(ctx, func(context.Context, domain.Repositories) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestProductRepository_CompareAndAdjustStock(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "p1", 5)
	products := store.Repos().Products

	_, err := products.CompareAndAdjustStock(ctx, "p1", 4, -1)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain.ConflictStock, conflict.Reason)
	require.True(t, conflict.Retryable)

	_, err = products.CompareAndAdjustStock(ctx, "p1", 5, -6)
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain.ConflictInsufficient, conflict.Reason)

	stock, err := products.CompareAndAdjustStock(ctx, "p1", 5, -5)
	require.NoError(t, err)
	require.Zero(t, stock)

	_, err = products.AdjustStock(ctx, "p1", -1)
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = products.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrderRepository_ListAndUpdateStatus(t *testing.T) {
	ctx := context.Background()
	orders := memory.NewStore().Repos().Orders
	base := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		id, number, user string
		status           domain.OrderStatus
	}{
		{"o1", "2610190001", "u1", domain.OrderStatusNew},
		{"o2", "2610190002", "u1", domain.OrderStatusPaid},
		{"o3", "2610190003", "u2", domain.OrderStatusNew},
	} {
		require.NoError(t, orders.Create(ctx, domain.Order{
			ID: tc.id, Number: tc.number, UserID: tc.user, Status: tc.status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := orders.List(ctx, domain.OrderFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "o2", list[0].ID)

	list, err = orders.List(ctx, domain.OrderFilter{Statuses: []domain.OrderStatus{domain.OrderStatusNew}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "o3", list[0].ID)

	list, err = orders.List(ctx, domain.OrderFilter{From: base.Add(time.Minute), To: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "o2", list[0].ID)

	byNumber, err := orders.GetByNumber(ctx, "2610190003")
	require.NoError(t, err)
	require.Equal(t, "o3", byNumber.ID)

	updated, err := orders.UpdateStatus(ctx, "o1", 0, domain.OrderStatusPaid, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, updated.Status)
	require.EqualValues(t, 1, updated.Version)

	_, err = orders.UpdateStatus(ctx, "o1", 0, domain.OrderStatusClosed, base.Add(time.Hour))
	require.True(t, domain.IsVersionConflict(err))

	err = orders.Create(ctx, domain.Order{ID: "o4", Number: "2610190001", UserID: "u3"})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestPaymentRepository_OnePerOrder(t *testing.T) {
	ctx := context.Background()
	payments := memory.NewStore().Repos().Payments

	require.NoError(t, payments.Create(ctx, domain.Payment{ID: "pay-1", OrderID: "o1", Amount: 100, Currency: "IDR", Status: domain.PaymentStatusPending}))

	err := payments.Create(ctx, domain.Payment{ID: "pay-2", OrderID: "o1", Amount: 100, Currency: "IDR", Status: domain.PaymentStatusPending})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, domain.ConflictDuplicatePayment, conflict.Reason)

	_, err = payments.GetByOrderID(ctx, "o2")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCartRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	carts := memory.NewStore().Repos().Carts

	require.NoError(t, carts.Upsert(ctx, domain.CartItem{UserID: "u1", ProductID: "p1", Quantity: 1}))
	require.NoError(t, carts.Upsert(ctx, domain.CartItem{UserID: "u1", ProductID: "p2", Quantity: 2}))
	require.NoError(t, carts.Upsert(ctx, domain.CartItem{UserID: "u1", ProductID: "p1", Quantity: 4}))
	require.ErrorIs(t, carts.Upsert(ctx, domain.CartItem{UserID: "u1", ProductID: "p3"}), domain.ErrValidation)

	items, err := carts.Items(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "p1", items[0].ProductID)
	require.EqualValues(t, 4, items[0].Quantity)

	require.NoError(t, carts.Clear(ctx, "u1"))
	items, err = carts.Items(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestTimelineRepository_Chronological(t *testing.T) {
	ctx := context.Background()
	timeline := memory.NewStore().Repos().Timeline
	base := time.Now().UTC()

	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: domain.TimelineStatusChanged, Occurred: base.Add(time.Second)}))
	require.NoError(t, timeline.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: domain.TimelineOrderCreated, Occurred: base}))

	events, err := timeline.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)
}

package ordering

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func newQueriesFixture(t *testing.T) (*memory.Store, *Orchestrator, *Queries) {
	t.Helper()
	store := memory.NewStore()
	inv := inventory.NewService(store, nil, nil)
	_, err := inv.Register(context.Background(), admin, domain.Product{ID: "p1", Price: 1_000, StockQuantity: 100})
	require.NoError(t, err)
	return store, NewOrchestrator(Dependencies{Tx: store}), NewQueries(store)
}

func placeOrder(t *testing.T, store *memory.Store, orch *Orchestrator, userID string) domain.Order {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Repos().Carts.Upsert(ctx, domain.CartItem{UserID: userID, ProductID: "p1", Quantity: 1}))
	order, err := orch.CreateFromCart(ctx, domain.Caller{UserID: userID, Role: domain.RoleBuyer}, Options{})
	require.NoError(t, err)
	return order
}

func TestQueries_GetRespectsOwnership(t *testing.T) {
	ctx := context.Background()
	store, orch, queries := newQueriesFixture(t)
	order := placeOrder(t, store, orch, buyer.UserID)

	details, err := queries.Get(ctx, buyer, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.Number, details.Order.Number)
	require.Nil(t, details.Payment)
	require.Len(t, details.Timeline, 1)

	_, err = queries.Get(ctx, domain.Caller{UserID: "other", Role: domain.RoleBuyer}, order.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = queries.GetByNumber(ctx, admin, order.Number)
	require.NoError(t, err)

	_, err = queries.Get(ctx, buyer, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = queries.GetByNumber(ctx, buyer, "  ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestQueries_ListForUserIsScopedToCaller(t *testing.T) {
	ctx := context.Background()
	store, orch, queries := newQueriesFixture(t)
	placeOrder(t, store, orch, buyer.UserID)
	placeOrder(t, store, orch, buyer.UserID)
	placeOrder(t, store, orch, "other")

	orders, err := queries.ListForUser(ctx, buyer, domain.OrderFilter{UserID: "other"})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		require.Equal(t, buyer.UserID, o.UserID)
	}

	orders, err = queries.ListForUser(ctx, buyer, domain.OrderFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestQueries_ListAdmin(t *testing.T) {
	ctx := context.Background()
	store, orch, queries := newQueriesFixture(t)
	placeOrder(t, store, orch, buyer.UserID)
	placeOrder(t, store, orch, "other")

	_, err := queries.ListAdmin(ctx, buyer, domain.OrderFilter{})
	require.ErrorIs(t, err, domain.ErrForbidden)

	orders, err := queries.ListAdmin(ctx, admin, domain.OrderFilter{Statuses: []domain.OrderStatus{domain.OrderStatusNew}})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	orders, err = queries.ListAdmin(ctx, admin, domain.OrderFilter{Statuses: []domain.OrderStatus{domain.OrderStatusPaid}})
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestNormalizeFilter(t *testing.T) {
	now := time.Now()

	f := domain.OrderFilter{}
	require.NoError(t, normalizeFilter(&f))
	require.Equal(t, defaultListLimit, f.Limit)

	f = domain.OrderFilter{Limit: 10_000}
	require.NoError(t, normalizeFilter(&f))
	require.Equal(t, maxListLimit, f.Limit)

	f = domain.OrderFilter{
		Statuses: []domain.OrderStatus{"lost"},
		Limit:    -1,
		Offset:   -1,
		From:     now,
		To:       now.Add(-time.Hour),
	}
	err := normalizeFilter(&f)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Len(t, validation.Fields, 4)
}

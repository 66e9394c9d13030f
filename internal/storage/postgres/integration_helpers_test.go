package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// testDSNEnv указывает на пустую базу, которую тесты вправе очищать.
const testDSNEnv = "FULFILLMENT_POSTGRES_TEST_DSN"

// integrationTables очищаются перед каждым тестом; порядок не важен из-за CASCADE.
var integrationTables = []string{
	"idempotency_keys",
	"outbox_messages",
	"timeline_events",
	"payments",
	"order_items",
	"orders",
	"inventory_log",
	"cart_items",
	"products",
	"order_number_sequences",
}

// rawTestStore открывает базу без миграций. Без testDSNEnv тест пропускается.
func rawTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	require.NoError(t, err, "open %s", testDSNEnv)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testStore возвращает базу на последней версии схемы без данных.
func testStore(t *testing.T) *Store {
	t.Helper()
	store := rawTestStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, store.MigrateUp(ctx, 0))
	_, err := store.DB().ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(integrationTables, ", ")+" RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return store
}

func seedTestProduct(t *testing.T, store *Store, id string, stock int64) {
	t.Helper()
	require.NoError(t, store.Repos().Products.Create(context.Background(), domain.Product{
		ID:            id,
		Name:          "product " + id,
		Price:         10_000,
		Status:        domain.ProductStatusActive,
		StockQuantity: stock,
	}))
}

// sampleOrder — заказ на две единицы p1 по 10 000 с налогом 10% и доставкой 20 000.
func sampleOrder(id, number, userID string, at time.Time) domain.Order {
	item := domain.OrderItem{
		ID:        id + "-item-1",
		OrderID:   id,
		ProductID: "p1",
		Quantity:  2,
		UnitPrice: 10_000,
		TaxAmount: 2_000,
		CreatedAt: at,
	}
	return domain.Order{
		ID:          id,
		Number:      number,
		UserID:      userID,
		Status:      domain.OrderStatusNew,
		Currency:    "IDR",
		Subtotal:    item.UnitPrice * item.Quantity,
		Tax:         item.TaxAmount,
		ShippingFee: 20_000,
		Total:       42_000,
		Items:       []domain.OrderItem{item},
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          "order-1",
		Number:      "2610190001",
		UserID:      "user-1",
		Status:      domain.OrderStatusNew,
		Currency:    "IDR",
		Subtotal:    500,
		Tax:         50,
		ShippingFee: 20,
		Discount:    10,
		Total:       560,
		Items: []domain.OrderItem{
			{
				ID:        "item-1",
				ProductID: "product-1",
				Quantity:  5,
				UnitPrice: 100,
				TaxAmount: 50,
				CreatedAt: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{name: "no user", mut: func(o *domain.Order) { o.UserID = "" }, want: domain.ErrUserRequired},
		{name: "no number", mut: func(o *domain.Order) { o.Number = "" }, want: domain.ErrOrderNumberRequired},
		{name: "negative tax", mut: func(o *domain.Order) { o.Tax = -1 }, want: domain.ErrAmountNegative},
		{name: "no items", mut: func(o *domain.Order) { o.Items = nil }, want: domain.ErrItemsRequired},
		{name: "qty invalid", mut: func(o *domain.Order) { o.Items[0].Quantity = 0 }, want: domain.ErrItemQtyInvalid},
		{name: "price invalid", mut: func(o *domain.Order) { o.Items[0].UnitPrice = -5 }, want: domain.ErrItemPriceInvalid},
		{name: "subtotal mismatch", mut: func(o *domain.Order) { o.Subtotal = 999 }, want: domain.ErrAmountMismatch},
		{name: "total mismatch", mut: func(o *domain.Order) { o.Total = 1 }, want: domain.ErrTotalMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			require.Contains(t, order.ValidateInvariants(), tc.want)
		})
	}
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusNew:       {domain.OrderStatusPaid, domain.OrderStatusClosed},
		domain.OrderStatusPaid:      {domain.OrderStatusShipped, domain.OrderStatusClosed},
		domain.OrderStatusShipped:   {domain.OrderStatusDelivered, domain.OrderStatusClosed},
		domain.OrderStatusDelivered: {domain.OrderStatusClosed},
	}

	for _, from := range domain.AllOrderStatuses() {
		for _, to := range domain.AllOrderStatuses() {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			require.Equalf(t, want, domain.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestIsCancellation(t *testing.T) {
	require.True(t, domain.IsCancellation(domain.OrderStatusNew, domain.OrderStatusClosed))
	require.True(t, domain.IsCancellation(domain.OrderStatusPaid, domain.OrderStatusClosed))
	require.True(t, domain.IsCancellation(domain.OrderStatusShipped, domain.OrderStatusClosed))
	require.False(t, domain.IsCancellation(domain.OrderStatusDelivered, domain.OrderStatusClosed))
	require.False(t, domain.IsCancellation(domain.OrderStatusNew, domain.OrderStatusPaid))
}

func TestOrderStatusValid(t *testing.T) {
	for _, s := range domain.AllOrderStatuses() {
		require.True(t, s.Valid())
	}
	require.False(t, domain.OrderStatus("pending").Valid())
	require.True(t, domain.OrderStatusClosed.Terminal())
	require.False(t, domain.OrderStatusDelivered.Terminal())
}

func TestCallerAccess(t *testing.T) {
	order := makeOrder()

	require.True(t, domain.Caller{UserID: "user-1", Role: domain.RoleBuyer}.CanAccess(order))
	require.True(t, domain.Caller{UserID: "admin-7", Role: domain.RoleAdmin}.CanAccess(order))
	require.False(t, domain.Caller{UserID: "user-2", Role: domain.RoleSeller}.CanAccess(order))
	require.False(t, domain.Caller{Role: domain.RoleBuyer}.CanAccess(domain.Order{}))
}

func TestParseRole(t *testing.T) {
	role, ok := domain.ParseRole(" Admin ")
	require.True(t, ok)
	require.Equal(t, domain.RoleAdmin, role)

	_, ok = domain.ParseRole("root")
	require.False(t, ok)
}

package grpcsvc

import (
	"context"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
)

// createOrder: {coupon_code?} → {order}.
func (s *FulfillmentService) createOrder(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Orders != nil, "ordering"); err != nil {
		return nil, err
	}
	opts := ordering.Options{CouponCode: r.str("coupon_code")}
	if err := r.err(); err != nil {
		return nil, err
	}
	order, err := s.deps.Orders.CreateFromCart(ctx, caller, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"order": orderMap(order)}, nil
}

// createManualOrder: {user_id, items[], coupon_code?, tax?, shipping_fee?} → {order}.
func (s *FulfillmentService) createManualOrder(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Orders != nil, "ordering"); err != nil {
		return nil, err
	}
	target := r.requiredStr("user_id")
	objs := r.objects("items")
	items := make([]ordering.ManualItem, 0, len(objs))
	for _, obj := range objs {
		items = append(items, ordering.ManualItem{
			ProductID:      obj.requiredStr("product_id"),
			Quantity:       obj.requiredInt("quantity"),
			UnitPrice:      obj.requiredInt("unit_price"),
			DiscountAmount: obj.int("discount_amount"),
			TaxAmount:      obj.int("tax_amount"),
		})
	}
	opts := ordering.ManualOptions{
		CouponCode:       r.str("coupon_code"),
		TaxOverride:      r.optInt("tax"),
		ShippingOverride: r.optInt("shipping_fee"),
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	order, err := s.deps.Orders.CreateManual(ctx, caller, target, items, opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"order": orderMap(order)}, nil
}

// getOrder: {order_id} → {order, payment, timeline}.
func (s *FulfillmentService) getOrder(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Queries != nil, "queries"); err != nil {
		return nil, err
	}
	id := r.requiredStr("order_id")
	if err := r.err(); err != nil {
		return nil, err
	}
	details, err := s.deps.Queries.Get(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return detailsMap(details), nil
}

// getOrderByNumber: {number} → {order, payment, timeline}.
func (s *FulfillmentService) getOrderByNumber(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Queries != nil, "queries"); err != nil {
		return nil, err
	}
	number := r.requiredStr("number")
	if err := r.err(); err != nil {
		return nil, err
	}
	details, err := s.deps.Queries.GetByNumber(ctx, caller, number)
	if err != nil {
		return nil, err
	}
	return detailsMap(details), nil
}

func readFilter(r reader) domain.OrderFilter {
	filter := domain.OrderFilter{
		UserID: r.str("user_id"),
		From:   r.time("from"),
		To:     r.time("to"),
		Limit:  int(r.int("limit")),
		Offset: int(r.int("offset")),
	}
	for _, raw := range r.strList("statuses") {
		filter.Statuses = append(filter.Statuses, domain.OrderStatus(strings.ToLower(strings.TrimSpace(raw))))
	}
	return filter
}

// listMyOrders: {statuses?, from?, to?, limit?, offset?} → {orders}.
func (s *FulfillmentService) listMyOrders(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Queries != nil, "queries"); err != nil {
		return nil, err
	}
	filter := readFilter(r)
	if err := r.err(); err != nil {
		return nil, err
	}
	orders, err := s.deps.Queries.ListForUser(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return ordersMap(orders), nil
}

// listOrders: как listMyOrders, плюс user_id для выборки по пользователю.
func (s *FulfillmentService) listOrders(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Queries != nil, "queries"); err != nil {
		return nil, err
	}
	filter := readFilter(r)
	if err := r.err(); err != nil {
		return nil, err
	}
	orders, err := s.deps.Queries.ListAdmin(ctx, caller, filter)
	if err != nil {
		return nil, err
	}
	return ordersMap(orders), nil
}

// updateOrderStatus: {order_id, status, reason?} → {order}.
func (s *FulfillmentService) updateOrderStatus(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Lifecycle != nil, "lifecycle"); err != nil {
		return nil, err
	}
	id := r.requiredStr("order_id")
	next := domain.OrderStatus(strings.ToLower(r.requiredStr("status")))
	reason := r.str("reason")
	if err := r.err(); err != nil {
		return nil, err
	}
	order, err := s.deps.Lifecycle.Transition(ctx, id, next, caller, reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"order": orderMap(order)}, nil
}

// bulkUpdateOrderStatus: {order_ids[], status, reason?} → {results[]}.
func (s *FulfillmentService) bulkUpdateOrderStatus(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Lifecycle != nil, "lifecycle"); err != nil {
		return nil, err
	}
	ids := r.strList("order_ids")
	next := domain.OrderStatus(strings.ToLower(r.requiredStr("status")))
	reason := r.str("reason")
	if err := r.err(); err != nil {
		return nil, err
	}
	results, err := s.deps.Lifecycle.BulkTransition(ctx, caller, ids, next, reason)
	if err != nil {
		return nil, err
	}
	return bulkMap(results), nil
}

// cancelOrder: {order_id, reason?} → {order}.
func (s *FulfillmentService) cancelOrder(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Lifecycle != nil, "lifecycle"); err != nil {
		return nil, err
	}
	id := r.requiredStr("order_id")
	reason := r.str("reason")
	if err := r.err(); err != nil {
		return nil, err
	}
	order, err := s.deps.Lifecycle.Cancel(ctx, id, caller, reason)
	if err != nil {
		return nil, err
	}
	return map[string]any{"order": orderMap(order)}, nil
}

// reorder: {order_id, excluded_product_ids?} → {added, unavailable_items}.
func (s *FulfillmentService) reorder(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Reorder != nil, "reorder"); err != nil {
		return nil, err
	}
	id := r.requiredStr("order_id")
	excluded := r.strList("excluded_product_ids")
	if err := r.err(); err != nil {
		return nil, err
	}
	res, err := s.deps.Reorder.Reorder(ctx, caller, id, excluded)
	if err != nil {
		return nil, err
	}
	return reorderMap(res), nil
}

// initiatePayment: {order_id} → {payment}.
func (s *FulfillmentService) initiatePayment(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Payments != nil, "payments"); err != nil {
		return nil, err
	}
	id := r.requiredStr("order_id")
	if err := r.err(); err != nil {
		return nil, err
	}
	p, err := s.deps.Payments.Initiate(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{"payment": paymentMap(p)}, nil
}

// processPaymentCallback принимает тело уведомления шлюза как есть; подлинность проверяется подписью.
func (s *FulfillmentService) processPaymentCallback(ctx context.Context, _ domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Callbacks != nil, "payment callbacks"); err != nil {
		return nil, err
	}
	raw, err := protojson.Marshal(r.source)
	if err != nil {
		return nil, domain.NewValidationError("malformed notification", domain.FieldError{Field: "body", Message: err.Error()})
	}
	cb, err := payment.ParseNotification(raw)
	if err != nil {
		return nil, err
	}
	res, err := s.deps.Callbacks.Process(ctx, cb)
	if err != nil {
		return nil, err
	}
	return callbackMap(res), nil
}

// adjustStock: {product_id, delta, note?} → {entry_id, reason, delta, new_stock}.
func (s *FulfillmentService) adjustStock(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Inventory != nil, "inventory"); err != nil {
		return nil, err
	}
	productID := r.requiredStr("product_id")
	delta := r.requiredInt("delta")
	note := r.str("note")
	if err := r.err(); err != nil {
		return nil, err
	}
	res, err := s.deps.Inventory.Adjust(ctx, caller, productID, delta, note)
	if err != nil {
		return nil, err
	}
	return adjustMap(res), nil
}

// auditStock: {product_id} → {current_stock, ledger_sum, consistent}.
func (s *FulfillmentService) auditStock(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Inventory != nil, "inventory"); err != nil {
		return nil, err
	}
	productID := r.requiredStr("product_id")
	if err := r.err(); err != nil {
		return nil, err
	}
	audit, err := s.deps.Inventory.Audit(ctx, caller, productID)
	if err != nil {
		return nil, err
	}
	return auditMap(audit), nil
}

func (s *FulfillmentService) registerProduct(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Inventory != nil, "inventory"); err != nil {
		return nil, err
	}
	product := domain.Product{
		ID:            r.requiredStr("id"),
		Name:          r.str("name"),
		Price:         r.requiredInt("price"),
		Status:        domain.ProductStatus(strings.ToLower(r.str("status"))),
		StockQuantity: r.int("stock_quantity"),
	}
	if err := r.err(); err != nil {
		return nil, err
	}
	created, err := s.deps.Inventory.Register(ctx, caller, product)
	if err != nil {
		return nil, err
	}
	return map[string]any{"product": productMap(created)}, nil
}

func (s *FulfillmentService) setProductStatus(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Inventory != nil, "inventory"); err != nil {
		return nil, err
	}
	productID := r.requiredStr("product_id")
	next := domain.ProductStatus(strings.ToLower(r.requiredStr("status")))
	if err := r.err(); err != nil {
		return nil, err
	}
	product, err := s.deps.Inventory.SetStatus(ctx, caller, productID, next)
	if err != nil {
		return nil, err
	}
	return map[string]any{"product": productMap(product)}, nil
}

func (s *FulfillmentService) putCartItem(ctx context.Context, caller domain.Caller, r reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Carts != nil, "cart"); err != nil {
		return nil, err
	}
	productID := r.requiredStr("product_id")
	quantity := r.requiredInt("quantity")
	if err := r.err(); err != nil {
		return nil, err
	}
	item, err := s.deps.Carts.Put(ctx, caller, productID, quantity)
	if err != nil {
		return nil, err
	}
	return map[string]any{"product_id": item.ProductID, "quantity": item.Quantity}, nil
}

func (s *FulfillmentService) getCart(ctx context.Context, caller domain.Caller, _ reader) (map[string]any, error) {
	if err := s.requireDep(s.deps.Carts != nil, "cart"); err != nil {
		return nil, err
	}
	items, err := s.deps.Carts.Items(ctx, caller)
	if err != nil {
		return nil, err
	}
	list := make([]any, 0, len(items))
	for _, item := range items {
		list = append(list, map[string]any{"product_id": item.ProductID, "quantity": item.Quantity})
	}
	return map[string]any{"items": list}, nil
}

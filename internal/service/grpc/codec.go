package grpcsvc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/ordering"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/payment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/reorder"
)

// reader читает поля запроса и копит ошибки по полям, чтобы вернуть их одним ValidationError.
type reader struct {
	prefix string
	source *structpb.Struct
	fields map[string]*structpb.Value
	errs   *[]domain.FieldError
}

func newReader(req *structpb.Struct) reader {
	var errs []domain.FieldError
	return reader{source: req, fields: req.GetFields(), errs: &errs}
}

func (r reader) fail(name, msg string) {
	*r.errs = append(*r.errs, domain.FieldError{Field: r.prefix + name, Message: msg})
}

// err возвращает накопленные ошибки как ValidationError или nil.
func (r reader) err() error {
	if len(*r.errs) == 0 {
		return nil
	}
	return domain.NewValidationError("invalid request", *r.errs...)
}

func (r reader) str(name string) string {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return ""
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return ""
	}
	s, isString := v.GetKind().(*structpb.Value_StringValue)
	if !isString {
		r.fail(name, "must be a string")
		return ""
	}
	return strings.TrimSpace(s.StringValue)
}

func (r reader) requiredStr(name string) string {
	before := len(*r.errs)
	s := r.str(name)
	if s == "" && len(*r.errs) == before {
		r.fail(name, "is required")
	}
	return s
}

// optInt возвращает nil, если поле отсутствует. Числа принимаются как JSON number или строка.
func (r reader) optInt(name string) *int64 {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil
	case *structpb.Value_NumberValue:
		f := kind.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			r.fail(name, "must be an integer")
			return nil
		}
		n := int64(f)
		return &n
	case *structpb.Value_StringValue:
		n, err := strconv.ParseInt(strings.TrimSpace(kind.StringValue), 10, 64)
		if err != nil {
			r.fail(name, "must be an integer")
			return nil
		}
		return &n
	default:
		r.fail(name, "must be an integer")
		return nil
	}
}

func (r reader) int(name string) int64 {
	if n := r.optInt(name); n != nil {
		return *n
	}
	return 0
}

func (r reader) requiredInt(name string) int64 {
	before := len(*r.errs)
	n := r.optInt(name)
	if n == nil {
		if len(*r.errs) == before {
			r.fail(name, "is required")
		}
		return 0
	}
	return *n
}

func (r reader) time(name string) time.Time {
	s := r.str(name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		r.fail(name, "must be an RFC 3339 timestamp")
		return time.Time{}
	}
	return t
}

func (r reader) strList(name string) []string {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return nil
	}
	list, isList := v.GetKind().(*structpb.Value_ListValue)
	if !isList {
		r.fail(name, "must be a list of strings")
		return nil
	}
	out := make([]string, 0, len(list.ListValue.GetValues()))
	for i, item := range list.ListValue.GetValues() {
		s, isString := item.GetKind().(*structpb.Value_StringValue)
		if !isString {
			r.fail(fmt.Sprintf("%s[%d]", name, i), "must be a string")
			continue
		}
		out = append(out, s.StringValue)
	}
	return out
}

// objects возвращает readers для списка объектов; ошибки полей получают префикс name[i].
func (r reader) objects(name string) []reader {
	v, ok := r.fields[name]
	if !ok || v == nil {
		return nil
	}
	list, isList := v.GetKind().(*structpb.Value_ListValue)
	if !isList {
		r.fail(name, "must be a list of objects")
		return nil
	}
	out := make([]reader, 0, len(list.ListValue.GetValues()))
	for i, item := range list.ListValue.GetValues() {
		obj, isObj := item.GetKind().(*structpb.Value_StructValue)
		if !isObj {
			r.fail(fmt.Sprintf("%s[%d]", name, i), "must be an object")
			continue
		}
		out = append(out, reader{
			prefix: fmt.Sprintf("%s%s[%d].", r.prefix, name, i),
			fields: obj.StructValue.GetFields(),
			errs:   r.errs,
		})
	}
	return out
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func orderMap(order domain.Order) map[string]any {
	items := make([]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"id":              item.ID,
			"product_id":      item.ProductID,
			"quantity":        item.Quantity,
			"unit_price":      item.UnitPrice,
			"discount_amount": item.DiscountAmount,
			"tax_amount":      item.TaxAmount,
		})
	}
	return map[string]any{
		"id":           order.ID,
		"number":       order.Number,
		"user_id":      order.UserID,
		"status":       string(order.Status),
		"currency":     order.Currency,
		"subtotal":     order.Subtotal,
		"tax":          order.Tax,
		"shipping_fee": order.ShippingFee,
		"discount":     order.Discount,
		"total":        order.Total,
		"coupon_id":    order.CouponID,
		"items":        items,
		"version":      order.Version,
		"created_at":   formatTime(order.CreatedAt),
		"updated_at":   formatTime(order.UpdatedAt),
	}
}

func paymentMap(p domain.Payment) map[string]any {
	m := map[string]any{
		"id":             p.ID,
		"order_id":       p.OrderID,
		"amount":         p.Amount,
		"currency":       p.Currency,
		"status":         string(p.Status),
		"gateway_ref":    p.GatewayRef,
		"redirect_url":   p.RedirectURL,
		"transaction_id": p.TransactionID,
		"payment_type":   p.PaymentType,
		"created_at":     formatTime(p.CreatedAt),
		"updated_at":     formatTime(p.UpdatedAt),
		"paid_at":        nil,
	}
	if p.PaidAt != nil {
		m["paid_at"] = formatTime(*p.PaidAt)
	}
	return m
}

func detailsMap(details ordering.OrderDetails) map[string]any {
	timeline := make([]any, 0, len(details.Timeline))
	for _, ev := range details.Timeline {
		timeline = append(timeline, map[string]any{
			"type":     ev.Type,
			"reason":   ev.Reason,
			"actor":    ev.Actor,
			"occurred": formatTime(ev.Occurred),
		})
	}
	m := map[string]any{
		"order":    orderMap(details.Order),
		"timeline": timeline,
		"payment":  nil,
	}
	if details.Payment != nil {
		m["payment"] = paymentMap(*details.Payment)
	}
	return m
}

func ordersMap(orders []domain.Order) map[string]any {
	list := make([]any, 0, len(orders))
	for _, order := range orders {
		list = append(list, orderMap(order))
	}
	return map[string]any{"orders": list}
}

func bulkMap(results []lifecycle.BulkResult) map[string]any {
	list := make([]any, 0, len(results))
	for _, res := range results {
		entry := map[string]any{"order_id": res.OrderID, "ok": res.Err == nil}
		if res.Err != nil {
			st := statusOf(res.Err)
			entry["code"] = st.Code().String()
			entry["error"] = st.Message()
		} else {
			entry["status"] = string(res.Order.Status)
		}
		list = append(list, entry)
	}
	return map[string]any{"results": list}
}

func reorderMap(res reorder.Result) map[string]any {
	added := make([]any, 0, len(res.Added))
	for _, item := range res.Added {
		added = append(added, map[string]any{"product_id": item.ProductID, "quantity": item.Quantity})
	}
	unavailable := make([]any, 0, len(res.UnavailableItems))
	for _, item := range res.UnavailableItems {
		unavailable = append(unavailable, map[string]any{
			"product_id": item.ProductID,
			"requested":  item.Requested,
			"code":       string(item.Code),
			"available":  item.Available,
		})
	}
	return map[string]any{"added": added, "unavailable_items": unavailable}
}

func callbackMap(res payment.Result) map[string]any {
	return map[string]any{
		"outcome":        res.Outcome,
		"order_id":       res.OrderID,
		"payment_id":     res.PaymentID,
		"payment_status": string(res.PaymentStatus),
		"order_status":   string(res.OrderStatus),
	}
}

func productMap(p domain.Product) map[string]any {
	return map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"price":          p.Price,
		"status":         string(p.Status),
		"stock_quantity": p.StockQuantity,
	}
}

func adjustMap(res inventory.AdjustResult) map[string]any {
	return map[string]any{
		"entry_id":  res.Entry.ID,
		"reason":    string(res.Entry.Reason),
		"delta":     res.Entry.ChangeAmount,
		"new_stock": res.NewStock,
	}
}

func auditMap(a domain.StockAudit) map[string]any {
	return map[string]any{
		"product_id":    a.ProductID,
		"current_stock": a.CurrentStock,
		"ledger_sum":    a.LedgerSum,
		"entries":       a.Entries,
		"consistent":    a.Consistent(),
	}
}

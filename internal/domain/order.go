package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusNew — заказ создан, оплата ещё не подтверждена.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusPaid — платёжный шлюз подтвердил оплату.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped — заказ передан перевозчику.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — перевозчик подтвердил доставку.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusClosed — терминальный статус (завершён или отменён).
	OrderStatusClosed OrderStatus = "closed"
)

// orderTransitions — таблица допустимых переходов статусов.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew:       {OrderStatusPaid, OrderStatusClosed},
	OrderStatusPaid:      {OrderStatusShipped, OrderStatusClosed},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusClosed},
	OrderStatusDelivered: {OrderStatusClosed},
	OrderStatusClosed:    nil,
}

// Valid проверяет, что статус известен системе.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal возвращает true для статуса, из которого нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusClosed
}

// CanTransition сообщает, разрешён ли переход from → to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsCancellation возвращает true, если переход закрывает недоставленный заказ.
// Такой переход обязан вернуть товары на склад.
func IsCancellation(from, to OrderStatus) bool {
	return to == OrderStatusClosed && from != OrderStatusDelivered
}

// AllOrderStatuses возвращает статусы в порядке жизненного цикла.
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusNew,
		OrderStatusPaid,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusClosed,
	}
}

// OrderItem — снимок позиции на момент оформления заказа.
// После создания не изменяется: смена цены товара не влияет на уже оформленные позиции.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	// Quantity — количество единиц товара, не меньше 1.
	Quantity int64
	// UnitPrice — цена за единицу в минимальных денежных единицах.
	UnitPrice      int64
	DiscountAmount int64
	TaxAmount      int64
	CreatedAt      time.Time
}

// Верхние границы количества и цены: произведение и сумма по заказу остаются в пределах int64.
const (
	MaxQuantity  int64 = 1_000_000
	MaxUnitPrice int64 = 10_000_000_000
)

// Subtotal возвращает стоимость позиции без налога и скидки.
func (i OrderItem) Subtotal() int64 {
	return i.Quantity * i.UnitPrice
}

// Order агрегирует заказ, его позиции и денежные итоги.
type Order struct {
	ID string
	// Number — человекочитаемый уникальный номер вида YYMMDDNNNN.
	Number      string
	UserID      string
	Status      OrderStatus
	Currency    string
	Subtotal    int64
	Tax         int64
	ShippingFee int64
	Discount    int64
	Total       int64
	// CouponID пустой, если купон не применялся.
	CouponID  string
	Items     []OrderItem
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет денежные и структурные инварианты заказа.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserRequired)
	}
	if o.Number == "" {
		errs = append(errs, ErrOrderNumberRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Subtotal < 0 || o.Tax < 0 || o.ShippingFee < 0 || o.Discount < 0 || o.Total < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	var subtotal int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		subtotal += item.Subtotal()
	}
	if subtotal != o.Subtotal {
		errs = append(errs, ErrAmountMismatch)
	}
	if o.Total != o.Subtotal+o.Tax+o.ShippingFee-o.Discount {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}

// OwnedBy сообщает, принадлежит ли заказ пользователю.
func (o *Order) OwnedBy(userID string) bool {
	return userID != "" && o.UserID == userID
}

// OrderFilter задаёт выборку для списков заказов.
type OrderFilter struct {
	// UserID пустой означает выборку по всем пользователям (только для администратора).
	UserID   string
	Statuses []OrderStatus
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

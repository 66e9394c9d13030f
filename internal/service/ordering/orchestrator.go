// Package ordering оформляет заказы из корзины и вручную (администратором).
// Каждое оформление — одна транзакция: заказ, позиции, журнал остатков и очистка корзины
// фиксируются вместе или не фиксируются вовсе.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/coupon"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/journal"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/pricing"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/retry"
)

// Источники заказа (метка метрик и поле события order.created).
const (
	SourceCart   = "cart"
	SourceManual = "manual"
)

// DefaultCurrency — валюта заказов по умолчанию.
const DefaultCurrency = "IDR"

// Options — параметры оформления из корзины.
type Options struct {
	CouponCode string
}

// ManualItem — позиция ручного заказа с явными ценой, скидкой и налогом.
type ManualItem struct {
	ProductID      string
	Quantity       int64
	UnitPrice      int64
	DiscountAmount int64
	TaxAmount      int64
}

// ManualOptions — переопределения для ручного заказа.
type ManualOptions struct {
	CouponCode       string
	TaxOverride      *int64
	ShippingOverride *int64
}

// Dependencies — зависимости оркестратора.
type Dependencies struct {
	Tx         domain.TxManager
	Calculator *pricing.Calculator
	Coupons    coupon.Evaluator
	Numbers    *NumberAllocator
	Ledger     *inventory.Ledger
	Journal    *journal.Recorder
	Metrics    *metrics.FulfillmentMetrics
	Logger     *log.Entry
	Retry      retry.Config
	Currency   string
	// Now подменяется в тестах.
	Now func() time.Time
}

// Orchestrator оформляет заказы.
type Orchestrator struct {
	tx       domain.TxManager
	calc     *pricing.Calculator
	coupons  coupon.Evaluator
	numbers  *NumberAllocator
	ledger   *inventory.Ledger
	journal  *journal.Recorder
	metrics  *metrics.FulfillmentMetrics
	logger   *log.Entry
	retry    retry.Config
	currency string
	now      func() time.Time
}

// NewOrchestrator создаёт оркестратор, подставляя значения по умолчанию для пустых зависимостей.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	o := &Orchestrator{
		tx:       deps.Tx,
		calc:     deps.Calculator,
		coupons:  deps.Coupons,
		numbers:  deps.Numbers,
		ledger:   deps.Ledger,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		retry:    deps.Retry,
		currency: deps.Currency,
		now:      deps.Now,
	}
	if o.calc == nil {
		o.calc = pricing.NewCalculator(pricing.DefaultConfig())
	}
	if o.coupons == nil {
		o.coupons = coupon.Disabled{}
	}
	if o.numbers == nil {
		o.numbers = NewNumberAllocator(time.UTC)
	}
	if o.ledger == nil {
		o.ledger = inventory.NewLedger(deps.Metrics)
	}
	if o.journal == nil {
		o.journal = journal.NewRecorder(deps.Metrics)
	}
	if o.logger == nil {
		o.logger = log.WithField("component", "ordering")
	}
	if o.currency == "" {
		o.currency = DefaultCurrency
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// line — проверенная строка заказа.
type line struct {
	pricing.Line
	observedStock int64
}

// CreateFromCart оформляет заказ из корзины вызывающего.
func (o *Orchestrator) CreateFromCart(ctx context.Context, caller domain.Caller, opts Options) (order domain.Order, err error) {
	started := time.Now()
	defer func() { o.finish("create_from_cart", SourceCart, started, err) }()

	userID := strings.TrimSpace(caller.UserID)
	if userID == "" {
		return domain.Order{}, domain.NewValidationError("caller identity is required",
			domain.FieldError{Field: "user_id", Message: "is required"})
	}

	err = retry.Do(ctx, o.retry, o.logger, "create_from_cart", func(ctx context.Context) error {
		return o.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			cart, err := repos.Carts.Items(ctx, userID)
			if err != nil {
				return fmt.Errorf("load cart: %w", err)
			}
			if len(cart) == 0 {
				return &domain.EmptyCartError{UserID: userID}
			}

			requested := make([]requestedLine, 0, len(cart))
			for _, item := range cart {
				requested = append(requested, requestedLine{ProductID: item.ProductID, Quantity: item.Quantity})
			}
			lines, err := o.validateLines(ctx, repos, requested, true)
			if err != nil {
				return err
			}

			created, err := o.persist(ctx, repos, caller, userID, lines, opts.CouponCode, nil, nil, SourceCart)
			if err != nil {
				return err
			}
			if err := repos.Carts.Clear(ctx, userID); err != nil {
				return fmt.Errorf("clear cart: %w", err)
			}
			order = created
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"user_id":      order.UserID,
		"total":        order.Total,
	}).Info("order created from cart")
	return order, nil
}

// CreateManual оформляет заказ администратора для targetUserID без участия корзины.
func (o *Orchestrator) CreateManual(ctx context.Context, caller domain.Caller, targetUserID string, items []ManualItem, opts ManualOptions) (order domain.Order, err error) {
	started := time.Now()
	defer func() { o.finish("create_manual", SourceManual, started, err) }()

	if !caller.IsAdmin() {
		return domain.Order{}, domain.NewForbiddenError("only admin can create manual orders")
	}
	targetUserID = strings.TrimSpace(targetUserID)
	if fields := validateManualInput(targetUserID, items, opts); len(fields) > 0 {
		return domain.Order{}, domain.NewValidationError("invalid manual order", fields...)
	}

	requested := make([]requestedLine, 0, len(items))
	for _, item := range items {
		requested = append(requested, requestedLine{
			ProductID:      strings.TrimSpace(item.ProductID),
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			DiscountAmount: item.DiscountAmount,
			TaxAmount:      item.TaxAmount,
			explicit:       true,
		})
	}

	err = retry.Do(ctx, o.retry, o.logger, "create_manual", func(ctx context.Context) error {
		return o.tx.WithinTx(ctx, func(ctx context.Context, repos domain.Repositories) error {
			lines, err := o.validateLines(ctx, repos, requested, false)
			if err != nil {
				return err
			}
			created, err := o.persist(ctx, repos, caller, targetUserID, lines, opts.CouponCode, opts.TaxOverride, opts.ShippingOverride, SourceManual)
			if err != nil {
				return err
			}
			order = created
			return nil
		})
	})
	if err != nil {
		return domain.Order{}, err
	}

	o.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
		"user_id":      order.UserID,
		"admin_id":     caller.UserID,
	}).Info("manual order created")
	return order, nil
}

type requestedLine struct {
	ProductID      string
	Quantity       int64
	UnitPrice      int64
	DiscountAmount int64
	TaxAmount      int64
	explicit       bool
}

// validateLines перечитывает товары и собирает все проблемные позиции в одну ошибку.
// Повторы одного товара проверяются по суммарному количеству.
func (o *Orchestrator) validateLines(ctx context.Context, repos domain.Repositories, requested []requestedLine, useCatalogPrice bool) ([]line, error) {
	totals := make(map[string]int64, len(requested))
	for _, r := range requested {
		totals[r.ProductID] += r.Quantity
	}

	products := make(map[string]domain.Product, len(totals))
	reported := make(map[string]bool, len(totals))
	var problems []domain.LineProblem
	for _, r := range requested {
		if _, seen := products[r.ProductID]; seen || reported[r.ProductID] {
			continue
		}
		product, err := repos.Products.Get(ctx, r.ProductID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			reported[r.ProductID] = true
			problems = append(problems, domain.LineProblem{ProductID: r.ProductID, Code: domain.LineProblemNotFound, Requested: totals[r.ProductID]})
			continue
		case err != nil:
			return nil, fmt.Errorf("load product %s: %w", r.ProductID, err)
		}
		products[r.ProductID] = product

		if !product.Available() {
			reported[r.ProductID] = true
			problems = append(problems, domain.LineProblem{
				ProductID: r.ProductID, Code: domain.LineProblemUnavailable,
				Requested: totals[r.ProductID], Available: product.StockQuantity,
			})
			continue
		}
		if product.StockQuantity < totals[r.ProductID] {
			reported[r.ProductID] = true
			problems = append(problems, domain.LineProblem{
				ProductID: r.ProductID, Code: domain.LineProblemInsufficientStock,
				Requested: totals[r.ProductID], Available: product.StockQuantity,
			})
		}
	}
	if len(problems) > 0 {
		return nil, &domain.CartValidationError{Problems: problems}
	}

	lines := make([]line, 0, len(requested))
	for _, r := range requested {
		product := products[r.ProductID]
		l := line{
			Line: pricing.Line{
				ProductID:      r.ProductID,
				Quantity:       r.Quantity,
				UnitPrice:      r.UnitPrice,
				Explicit:       r.explicit,
				DiscountAmount: r.DiscountAmount,
				TaxAmount:      r.TaxAmount,
			},
			observedStock: product.StockQuantity,
		}
		if useCatalogPrice {
			l.UnitPrice = product.Price
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// persist рассчитывает цены, выделяет номер, сохраняет заказ и списывает остатки.
func (o *Orchestrator) persist(
	ctx context.Context,
	repos domain.Repositories,
	caller domain.Caller,
	userID string,
	lines []line,
	couponCode string,
	taxOverride, shippingOverride *int64,
	source string,
) (domain.Order, error) {
	input := pricing.Input{
		Lines:            make([]pricing.Line, 0, len(lines)),
		TaxOverride:      taxOverride,
		ShippingOverride: shippingOverride,
	}
	for _, l := range lines {
		input.Lines = append(input.Lines, l.Line)
	}

	var couponID string
	if code := strings.TrimSpace(couponCode); code != "" {
		base := o.calc.Calculate(input)
		discount, err := o.coupons.Evaluate(ctx, userID, code, base.Subtotal)
		if err != nil {
			return domain.Order{}, err
		}
		couponID = discount.CouponID
		input.CouponDiscount = discount.Amount
	}
	quote := o.calc.Calculate(input)

	now := o.now()
	number, err := o.numbers.Allocate(ctx, repos.Sequences, now)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:          uuid.NewString(),
		Number:      number,
		UserID:      userID,
		Status:      domain.OrderStatusNew,
		Currency:    o.currency,
		Subtotal:    quote.Subtotal,
		Tax:         quote.Tax,
		ShippingFee: quote.ShippingFee,
		Discount:    quote.Discount,
		Total:       quote.Total,
		CouponID:    couponID,
		Items:       make([]domain.OrderItem, 0, len(quote.Items)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, item := range quote.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:             uuid.NewString(),
			OrderID:        order.ID,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			DiscountAmount: item.DiscountAmount,
			TaxAmount:      item.TaxAmount,
			CreatedAt:      now,
		})
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("order invariants violated: %w", errors.Join(errs...))
	}

	if err := repos.Orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	stock := make(map[string]int64, len(lines))
	for _, l := range lines {
		observed, ok := stock[l.ProductID]
		if !ok {
			observed = l.observedStock
		}
		next, err := o.ledger.Decrease(ctx, repos, order.ID, l.ProductID, l.Quantity, observed)
		if err != nil {
			return domain.Order{}, err
		}
		stock[l.ProductID] = next
	}

	if err := o.journal.Record(ctx, repos, journal.Entry{
		OrderID:      order.ID,
		TimelineType: domain.TimelineOrderCreated,
		EventType:    domain.EventOrderCreated,
		Actor:        caller.UserID,
		Occurred:     now,
		Payload: map[string]any{
			"order_number": order.Number,
			"user_id":      order.UserID,
			"status":       string(order.Status),
			"total":        order.Total,
			"currency":     order.Currency,
			"items_count":  len(order.Items),
			"source":       source,
		},
	}); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

func validateManualInput(targetUserID string, items []ManualItem, opts ManualOptions) []domain.FieldError {
	var fields []domain.FieldError
	if targetUserID == "" {
		fields = append(fields, domain.FieldError{Field: "user_id", Message: "is required"})
	}
	if len(items) == 0 {
		fields = append(fields, domain.FieldError{Field: "items", Message: "at least one item is required"})
	}
	for i, item := range items {
		prefix := fmt.Sprintf("items[%d].", i)
		if strings.TrimSpace(item.ProductID) == "" {
			fields = append(fields, domain.FieldError{Field: prefix + "product_id", Message: "is required"})
		}
		quantityOK := item.Quantity > 0 && item.Quantity <= domain.MaxQuantity
		priceOK := item.UnitPrice >= 0 && item.UnitPrice <= domain.MaxUnitPrice
		switch {
		case item.Quantity <= 0:
			fields = append(fields, domain.FieldError{Field: prefix + "quantity", Message: "must be greater than zero"})
		case !quantityOK:
			fields = append(fields, domain.FieldError{Field: prefix + "quantity", Message: fmt.Sprintf("must not exceed %d", domain.MaxQuantity)})
		}
		switch {
		case item.UnitPrice < 0:
			fields = append(fields, domain.FieldError{Field: prefix + "unit_price", Message: "must be non-negative"})
		case !priceOK:
			fields = append(fields, domain.FieldError{Field: prefix + "unit_price", Message: fmt.Sprintf("must not exceed %d", domain.MaxUnitPrice)})
		}
		if item.DiscountAmount < 0 {
			fields = append(fields, domain.FieldError{Field: prefix + "discount_amount", Message: "must be non-negative"})
		} else if quantityOK && priceOK && item.DiscountAmount > item.Quantity*item.UnitPrice {
			fields = append(fields, domain.FieldError{Field: prefix + "discount_amount", Message: "must not exceed line subtotal"})
		}
		if item.TaxAmount < 0 {
			fields = append(fields, domain.FieldError{Field: prefix + "tax_amount", Message: "must be non-negative"})
		} else if quantityOK && priceOK && item.TaxAmount > item.Quantity*item.UnitPrice {
			fields = append(fields, domain.FieldError{Field: prefix + "tax_amount", Message: "must not exceed line subtotal"})
		}
	}
	if opts.TaxOverride != nil && *opts.TaxOverride < 0 {
		fields = append(fields, domain.FieldError{Field: "tax_override", Message: "must be non-negative"})
	}
	if opts.ShippingOverride != nil && *opts.ShippingOverride < 0 {
		fields = append(fields, domain.FieldError{Field: "shipping_override", Message: "must be non-negative"})
	}
	return fields
}

func (o *Orchestrator) finish(operation, source string, started time.Time, err error) {
	o.metrics.ObserveOperation(operation, started, err)
	if err == nil {
		o.metrics.RecordOrderCreated(source)
		return
	}
	o.metrics.RecordCreationFailure(failureReason(err))
	if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrEmptyCart) && !errors.Is(err, domain.ErrForbidden) {
		o.logger.WithError(err).WithField("operation", operation).Warn("order creation failed")
	}
}

func failureReason(err error) string {
	var conflict *domain.ConflictError
	switch {
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrCartValidation):
		return "cart_validation"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.As(err, &conflict):
		return string(conflict.Reason)
	default:
		return "internal"
	}
}

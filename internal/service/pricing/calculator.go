// Package pricing рассчитывает денежные итоги заказа в минимальных денежных единицах.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// DefaultFlatShippingFee — фиксированная стоимость доставки.
	DefaultFlatShippingFee int64 = 20_000
	// DefaultFreeShippingThreshold — subtotal, строго выше которого доставка бесплатна.
	DefaultFreeShippingThreshold int64 = 500_000
)

// DefaultTaxRate — ставка налога по умолчанию (10%).
var DefaultTaxRate = decimal.RequireFromString("0.10")

// Config задаёт константы ценообразования.
type Config struct {
	TaxRate               decimal.Decimal
	FlatShippingFee       int64
	FreeShippingThreshold int64
}

// DefaultConfig возвращает константы по умолчанию.
func DefaultConfig() Config {
	return Config{
		TaxRate:               DefaultTaxRate,
		FlatShippingFee:       DefaultFlatShippingFee,
		FreeShippingThreshold: DefaultFreeShippingThreshold,
	}
}

// ParseTaxRate разбирает ставку вида "0.10" и проверяет диапазон [0, 1].
func ParseTaxRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse tax rate %q: %w", raw, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("tax rate %s must be within [0, 1]", rate)
	}
	return rate, nil
}

// Line — строка расчёта.
type Line struct {
	ProductID string
	Quantity  int64
	UnitPrice int64
	// Explicit означает, что DiscountAmount и TaxAmount заданы вызывающим (ручной заказ)
	// и не пересчитываются.
	Explicit       bool
	DiscountAmount int64
	TaxAmount      int64
}

// Input — вход калькулятора.
type Input struct {
	Lines []Line
	// CouponDiscount — скидка, определённая внешним оценщиком купонов.
	CouponDiscount int64
	// TaxOverride и ShippingOverride заменяют вычисленные значения (только для администратора).
	TaxOverride      *int64
	ShippingOverride *int64
}

// ItemQuote — расчёт по одной позиции.
type ItemQuote struct {
	ProductID      string
	Quantity       int64
	UnitPrice      int64
	Subtotal       int64
	DiscountAmount int64
	TaxAmount      int64
}

// Quote — итоговый расчёт заказа.
// Total всегда равен Subtotal + Tax + ShippingFee - Discount и не бывает отрицательным.
type Quote struct {
	Subtotal    int64
	Tax         int64
	ShippingFee int64
	Discount    int64
	Total       int64
	Items       []ItemQuote
}

// Calculator — чистый калькулятор без побочных эффектов.
type Calculator struct {
	cfg Config
}

// NewCalculator создаёт калькулятор. Отрицательные значения конфигурации заменяются
// значениями по умолчанию; нулевая ставка означает отсутствие налога.
func NewCalculator(cfg Config) *Calculator {
	def := DefaultConfig()
	if cfg.TaxRate.IsNegative() {
		cfg.TaxRate = def.TaxRate
	}
	if cfg.FlatShippingFee < 0 {
		cfg.FlatShippingFee = def.FlatShippingFee
	}
	if cfg.FreeShippingThreshold < 0 {
		cfg.FreeShippingThreshold = def.FreeShippingThreshold
	}
	return &Calculator{cfg: cfg}
}

// Config возвращает действующие константы.
func (c *Calculator) Config() Config {
	return c.cfg
}

// Calculate считает итоги. Отрицательные цены и количества отсекаются раньше, на валидации.
func (c *Calculator) Calculate(in Input) Quote {
	quote := Quote{Items: make([]ItemQuote, 0, len(in.Lines))}

	var lineDiscounts, lineTaxes int64
	explicit := false
	for _, line := range in.Lines {
		item := ItemQuote{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Quantity * line.UnitPrice,
		}
		if line.Explicit {
			item.DiscountAmount = line.DiscountAmount
			item.TaxAmount = line.TaxAmount
			explicit = true
		} else {
			item.TaxAmount = c.tax(item.Subtotal)
		}
		lineDiscounts += item.DiscountAmount
		lineTaxes += item.TaxAmount
		quote.Subtotal += item.Subtotal
		quote.Items = append(quote.Items, item)
	}

	// налог заказа совпадает с суммой налогов позиций, если хотя бы одна задана явно
	quote.Tax = c.tax(quote.Subtotal)
	if explicit {
		quote.Tax = lineTaxes
	}
	if in.TaxOverride != nil && *in.TaxOverride >= 0 {
		quote.Tax = *in.TaxOverride
	}

	quote.ShippingFee = c.shipping(quote.Subtotal)
	if in.ShippingOverride != nil && *in.ShippingOverride >= 0 {
		quote.ShippingFee = *in.ShippingOverride
	}

	discount := lineDiscounts
	if in.CouponDiscount > 0 {
		discount += in.CouponDiscount
	}
	gross := quote.Subtotal + quote.Tax + quote.ShippingFee
	if discount > gross {
		discount = gross
	}
	quote.Discount = discount
	quote.Total = gross - discount

	return quote
}

// tax округляет subtotal*rate до целой минимальной единицы, половина — от нуля.
func (c *Calculator) tax(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(c.cfg.TaxRate).Round(0).IntPart()
}

func (c *Calculator) shipping(subtotal int64) int64 {
	if subtotal > c.cfg.FreeShippingThreshold {
		return 0
	}
	return c.cfg.FlatShippingFee
}

// Package inventory ведёт журнал остатков: каждое изменение stock сопровождается записью.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

// Ledger меняет остатки внутри транзакции вызывающего.
type Ledger struct {
	metrics *metrics.FulfillmentMetrics
}

// NewLedger создаёт Ledger. metrics может быть nil.
func NewLedger(m *metrics.FulfillmentMetrics) *Ledger {
	return &Ledger{metrics: m}
}

// Decrease списывает qty под заказ при условии, что остаток всё ещё равен observed.
// Возвращает новый остаток.
func (l *Ledger) Decrease(ctx context.Context, repos domain.Repositories, orderID, productID string, qty, observed int64) (int64, error) {
	stock, err := repos.Products.CompareAndAdjustStock(ctx, productID, observed, -qty)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) && conflict.Reason == domain.ConflictStock {
			l.metricsOrNil().RecordStockConflict()
		}
		return 0, fmt.Errorf("decrease stock of %s: %w", productID, err)
	}
	if err := l.append(ctx, repos, domain.InventoryLogEntry{
		ProductID:    productID,
		OrderID:      orderID,
		ChangeAmount: -qty,
		Reason:       domain.InventoryReasonOrderDecrease,
	}); err != nil {
		return 0, err
	}
	return stock, nil
}

// Restock возвращает на склад все позиции отменяемого заказа.
func (l *Ledger) Restock(ctx context.Context, repos domain.Repositories, order domain.Order) error {
	for _, item := range order.Items {
		if _, err := repos.Products.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("restock %s: %w", item.ProductID, err)
		}
		if err := l.append(ctx, repos, domain.InventoryLogEntry{
			ProductID:    item.ProductID,
			OrderID:      order.ID,
			ChangeAmount: item.Quantity,
			Reason:       domain.InventoryReasonOrderRestock,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Adjust применяет ручную корректировку по CAS и пишет manual_adjustment.
func (l *Ledger) Adjust(ctx context.Context, repos domain.Repositories, productID string, delta int64, note string) (domain.InventoryLogEntry, int64, error) {
	product, err := repos.Products.Get(ctx, productID)
	if err != nil {
		return domain.InventoryLogEntry{}, 0, err
	}
	stock, err := repos.Products.CompareAndAdjustStock(ctx, productID, product.StockQuantity, delta)
	if err != nil {
		return domain.InventoryLogEntry{}, 0, fmt.Errorf("adjust stock of %s: %w", productID, err)
	}
	entry, err := repos.Inventory.Append(ctx, domain.InventoryLogEntry{
		ProductID:    productID,
		ChangeAmount: delta,
		Reason:       domain.InventoryReasonManualAdjustment,
		Note:         note,
	})
	if err != nil {
		return domain.InventoryLogEntry{}, 0, fmt.Errorf("append inventory log: %w", err)
	}
	l.metricsOrNil().RecordStockAdjustment(string(domain.InventoryReasonManualAdjustment))
	return entry, stock, nil
}

func (l *Ledger) append(ctx context.Context, repos domain.Repositories, entry domain.InventoryLogEntry) error {
	if _, err := repos.Inventory.Append(ctx, entry); err != nil {
		return fmt.Errorf("append inventory log: %w", err)
	}
	l.metricsOrNil().RecordStockAdjustment(string(entry.Reason))
	return nil
}

func (l *Ledger) metricsOrNil() *metrics.FulfillmentMetrics {
	if l == nil {
		return nil
	}
	return l.metrics
}

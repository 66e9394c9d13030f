package domain

import "time"

// InventoryReason объясняет, почему изменился остаток.
type InventoryReason string

const (
	InventoryReasonOrderDecrease    InventoryReason = "order_decrease"
	InventoryReasonOrderRestock     InventoryReason = "order_restock"
	InventoryReasonInitialStock     InventoryReason = "initial_stock"
	InventoryReasonManualAdjustment InventoryReason = "manual_adjustment"
)

// Valid проверяет, что причина поддерживается журналом.
func (r InventoryReason) Valid() bool {
	switch r {
	case InventoryReasonOrderDecrease, InventoryReasonOrderRestock,
		InventoryReasonInitialStock, InventoryReasonManualAdjustment:
		return true
	default:
		return false
	}
}

// InventoryLogEntry — запись append-only журнала изменений остатка.
// Сумма ChangeAmount по товару всегда равна текущему остатку.
type InventoryLogEntry struct {
	ID        string
	ProductID string
	// OrderID пустой для ручных корректировок и начального остатка.
	OrderID      string
	ChangeAmount int64
	Reason       InventoryReason
	Note         string
	CreatedAt    time.Time
}

// StockAudit — результат сверки журнала с текущим остатком товара.
type StockAudit struct {
	ProductID    string
	CurrentStock int64
	LedgerSum    int64
	Entries      int
}

// Consistent возвращает true, если журнал сходится с остатком.
func (a StockAudit) Consistent() bool {
	return a.CurrentStock == a.LedgerSum && a.CurrentStock >= 0
}

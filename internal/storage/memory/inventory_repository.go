package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// inventoryLogRepository — append-only журнал остатков.
type inventoryLogRepository struct {
	view
}

func (r *inventoryLogRepository) Append(_ context.Context, entry domain.InventoryLogEntry) (domain.InventoryLogEntry, error) {
	defer r.lock()()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now()
	}
	st := r.data()
	st.ledger = append(st.ledger, entry)
	return entry, nil
}

func (r *inventoryLogRepository) ListByProduct(_ context.Context, productID string) ([]domain.InventoryLogEntry, error) {
	defer r.rlock()()

	result := make([]domain.InventoryLogEntry, 0)
	for _, entry := range r.data().ledger {
		if entry.ProductID == productID {
			result = append(result, entry)
		}
	}
	return result, nil
}

func (r *inventoryLogRepository) ListByOrder(_ context.Context, orderID string) ([]domain.InventoryLogEntry, error) {
	defer r.rlock()()

	result := make([]domain.InventoryLogEntry, 0)
	for _, entry := range r.data().ledger {
		if entry.OrderID == orderID {
			result = append(result, entry)
		}
	}
	return result, nil
}

var _ domain.InventoryLogRepository = (*inventoryLogRepository)(nil)

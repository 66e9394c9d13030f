package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type inventoryLogRepository struct {
	q dbtx
}

func (r *inventoryLogRepository) Append(ctx context.Context, entry domain.InventoryLogEntry) (domain.InventoryLogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO inventory_log (id, product_id, order_id, change_amount, reason, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		entry.ID, entry.ProductID, nullString(entry.OrderID), entry.ChangeAmount,
		string(entry.Reason), entry.Note, entry.CreatedAt,
	); err != nil {
		return domain.InventoryLogEntry{}, fmt.Errorf("append inventory log entry: %w", err)
	}
	return entry, nil
}

func (r *inventoryLogRepository) ListByProduct(ctx context.Context, productID string) ([]domain.InventoryLogEntry, error) {
	return r.list(ctx, "product_id = $1", productID)
}

func (r *inventoryLogRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.InventoryLogEntry, error) {
	return r.list(ctx, "order_id = $1", orderID)
}

func (r *inventoryLogRepository) list(ctx context.Context, where, key string) ([]domain.InventoryLogEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, order_id, change_amount, reason, note, created_at
		FROM inventory_log
		WHERE `+where+`
		ORDER BY created_at, id
	`, key)
	if err != nil {
		return nil, fmt.Errorf("list inventory log: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.InventoryLogEntry, 0)
	for rows.Next() {
		var (
			entry   domain.InventoryLogEntry
			orderID sql.NullString
			reason  string
		)
		if err := rows.Scan(&entry.ID, &entry.ProductID, &orderID, &entry.ChangeAmount, &reason, &entry.Note, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory log entry: %w", err)
		}
		entry.OrderID = orderID.String
		entry.Reason = domain.InventoryReason(reason)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory log: %w", err)
	}
	return entries, nil
}

var _ domain.InventoryLogRepository = (*inventoryLogRepository)(nil)

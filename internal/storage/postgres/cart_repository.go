package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type cartRepository struct {
	q dbtx
}

func (r *cartRepository) Items(ctx context.Context, userID string) ([]domain.CartItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT user_id, product_id, quantity, added_at, updated_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at, product_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.UserID, &item.ProductID, &item.Quantity, &item.AddedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

// Upsert создаёт строку корзины или заменяет в ней количество.
func (r *cartRepository) Upsert(ctx context.Context, item domain.CartItem) error {
	if item.Quantity <= 0 {
		return domain.NewValidationError("cart quantity must be positive",
			domain.FieldError{Field: "quantity", Message: "must be greater than zero"})
	}

	now := time.Now().UTC()
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, quantity, added_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity,
		              updated_at = EXCLUDED.updated_at
	`, item.UserID, item.ProductID, item.Quantity, item.AddedAt, now); err != nil {
		return fmt.Errorf("upsert cart item: %w", err)
	}
	return nil
}

func (r *cartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)

package memory

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// cartRepository хранит строки корзины в порядке добавления.
type cartRepository struct {
	view
}

func (r *cartRepository) Items(_ context.Context, userID string) ([]domain.CartItem, error) {
	defer r.rlock()()

	return append([]domain.CartItem{}, r.data().carts[userID]...), nil
}

// Upsert создаёт строку или заменяет количество в существующей.
func (r *cartRepository) Upsert(_ context.Context, item domain.CartItem) error {
	if item.Quantity <= 0 {
		return domain.NewValidationError("cart quantity must be positive",
			domain.FieldError{Field: "quantity", Message: "must be greater than zero"})
	}

	defer r.lock()()

	st := r.data()
	ts := now()
	lines := st.carts[item.UserID]
	for i := range lines {
		if lines[i].ProductID == item.ProductID {
			lines[i].Quantity = item.Quantity
			lines[i].UpdatedAt = ts
			return nil
		}
	}

	if item.AddedAt.IsZero() {
		item.AddedAt = ts
	}
	item.UpdatedAt = ts
	st.carts[item.UserID] = append(lines, item)
	return nil
}

func (r *cartRepository) Clear(_ context.Context, userID string) error {
	defer r.lock()()

	delete(r.data().carts, userID)
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)

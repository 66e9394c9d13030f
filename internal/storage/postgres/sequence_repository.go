package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type sequenceRepository struct {
	q dbtx
}

// Next атомарно увеличивает счётчик. Upsert берёт блокировку строки scope до конца транзакции,
// поэтому конкурентные создания заказов получают разные значения.
func (r *sequenceRepository) Next(ctx context.Context, scope string) (int64, error) {
	var value int64
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO order_number_sequences (scope, last_value)
		VALUES ($1, 1)
		ON CONFLICT (scope)
		DO UPDATE SET last_value = order_number_sequences.last_value + 1
		RETURNING last_value
	`, scope).Scan(&value); err != nil {
		return 0, fmt.Errorf("next sequence value for %s: %w", scope, err)
	}
	return value, nil
}

var _ domain.SequenceRepository = (*sequenceRepository)(nil)

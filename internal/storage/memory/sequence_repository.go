package memory

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type sequenceRepository struct {
	view
}

// Next увеличивает счётчик scope под блокировкой хранилища.
func (r *sequenceRepository) Next(_ context.Context, scope string) (int64, error) {
	defer r.lock()()

	st := r.data()
	st.sequences[scope]++
	return st.sequences[scope], nil
}

var _ domain.SequenceRepository = (*sequenceRepository)(nil)

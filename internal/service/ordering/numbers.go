package ordering

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	numberDateLayout = "060102"
	// maxDailySequence — четыре разряда суточного счётчика.
	maxDailySequence = 9999
)

// NumberAllocator выдаёт номера вида YYMMDDNNNN через атомарный счётчик на дату.
// Вызывается внутри транзакции создания заказа.
type NumberAllocator struct {
	loc *time.Location
}

// NewNumberAllocator создаёт аллокатор; дата номера берётся в часовом поясе loc.
func NewNumberAllocator(loc *time.Location) *NumberAllocator {
	if loc == nil {
		loc = time.UTC
	}
	return &NumberAllocator{loc: loc}
}

// Allocate резервирует следующий номер за дату at.
func (a *NumberAllocator) Allocate(ctx context.Context, seq domain.SequenceRepository, at time.Time) (string, error) {
	prefix := at.In(a.loc).Format(numberDateLayout)
	next, err := seq.Next(ctx, "orders:"+prefix)
	if err != nil {
		return "", fmt.Errorf("allocate order number: %w", err)
	}
	if next > maxDailySequence {
		return "", domain.NewConflictError(domain.ConflictSequence,
			fmt.Sprintf("daily order number sequence for %s is exhausted", prefix), false)
	}
	return fmt.Sprintf("%s%04d", prefix, next), nil
}

package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// timelineRepository хранит события заказов в памяти.
type timelineRepository struct {
	view
}

// Append добавляет событие, сохраняя хронологический порядок.
func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	defer r.lock()()

	if event.Occurred.IsZero() {
		event.Occurred = now()
	}
	st := r.data()
	events := append(st.timeline[event.OrderID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	st.timeline[event.OrderID] = events
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	defer r.rlock()()

	return append([]domain.TimelineEvent{}, r.data().timeline[orderID]...), nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)

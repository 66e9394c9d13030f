package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository.
type orderRepository struct {
	view
}

// Create сохраняет новый заказ, если ID и номер ещё не заняты.
func (r *orderRepository) Create(_ context.Context, order domain.Order) error {
	defer r.lock()()

	st := r.data()
	if _, exists := st.orders[order.ID]; exists {
		return domain.NewConflictError(domain.ConflictDuplicate, "order "+order.ID+" already exists", false)
	}
	if _, exists := st.numbers[order.Number]; exists {
		return domain.NewConflictError(domain.ConflictDuplicate, "order number "+order.Number+" already exists", true)
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	st.orders[order.ID] = cloneOrder(order)
	st.numbers[order.Number] = order.ID
	return nil
}

func (r *orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	defer r.rlock()()

	order, ok := r.data().orders[id]
	if !ok {
		return domain.Order{}, domain.NewNotFoundError("order", id)
	}
	return cloneOrder(order), nil
}

// GetForUpdate совпадает с Get: транзакции in-memory хранилища и так сериализованы.
func (r *orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

func (r *orderRepository) GetByNumber(_ context.Context, number string) (domain.Order, error) {
	defer r.rlock()()

	st := r.data()
	id, ok := st.numbers[number]
	if !ok {
		return domain.Order{}, domain.NewNotFoundError("order", number)
	}
	return cloneOrder(st.orders[id]), nil
}

// List возвращает заказы по фильтру, новые первыми.
func (r *orderRepository) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	defer r.rlock()()

	result := make([]domain.Order, 0)
	for _, order := range r.data().orders {
		if !matchesFilter(order, filter) {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Number > result[j].Number
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.Order{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

// UpdateStatus меняет статус, проверяя версию (optimistic locking).
func (r *orderRepository) UpdateStatus(_ context.Context, id string, expectedVersion int64, status domain.OrderStatus, at time.Time) (domain.Order, error) {
	defer r.lock()()

	st := r.data()
	current, ok := st.orders[id]
	if !ok {
		return domain.Order{}, domain.NewNotFoundError("order", id)
	}
	if current.Version != expectedVersion {
		return domain.Order{}, domain.NewConflictError(domain.ConflictVersion, "order "+id+" was modified concurrently", true)
	}

	current.Status = status
	current.Version++
	current.UpdatedAt = at
	st.orders[id] = current
	return cloneOrder(current), nil
}

func matchesFilter(order domain.Order, filter domain.OrderFilter) bool {
	if filter.UserID != "" && order.UserID != filter.UserID {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			if order.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.From.IsZero() && order.CreatedAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !order.CreatedAt.Before(filter.To) {
		return false
	}
	return true
}

var _ domain.OrderRepository = (*orderRepository)(nil)

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// state содержит все данные in-memory хранилища.
type state struct {
	orders    map[string]domain.Order
	numbers   map[string]string
	products  map[string]domain.Product
	ledger    []domain.InventoryLogEntry
	carts     map[string][]domain.CartItem
	payments  map[string]domain.Payment
	sequences map[string]int64
	outbox    map[string]outboxRecord
	timeline  map[string][]domain.TimelineEvent
}

func newState() *state {
	return &state{
		orders:    make(map[string]domain.Order),
		numbers:   make(map[string]string),
		products:  make(map[string]domain.Product),
		carts:     make(map[string][]domain.CartItem),
		payments:  make(map[string]domain.Payment),
		sequences: make(map[string]int64),
		outbox:    make(map[string]outboxRecord),
		timeline:  make(map[string][]domain.TimelineEvent),
	}
}

// clone делает глубокую копию для отката транзакции.
func (s *state) clone() *state {
	dst := newState()
	for id, order := range s.orders {
		dst.orders[id] = cloneOrder(order)
	}
	for number, id := range s.numbers {
		dst.numbers[number] = id
	}
	for id, product := range s.products {
		dst.products[id] = product
	}
	dst.ledger = append([]domain.InventoryLogEntry(nil), s.ledger...)
	for userID, lines := range s.carts {
		dst.carts[userID] = append([]domain.CartItem(nil), lines...)
	}
	for orderID, payment := range s.payments {
		dst.payments[orderID] = clonePayment(payment)
	}
	for scope, value := range s.sequences {
		dst.sequences[scope] = value
	}
	for id, rec := range s.outbox {
		rec.msg.Payload = append([]byte(nil), rec.msg.Payload...)
		dst.outbox[id] = rec
	}
	for orderID, events := range s.timeline {
		dst.timeline[orderID] = append([]domain.TimelineEvent(nil), events...)
	}
	return dst
}

// Store — in-memory транзакционное хранилище для разработки и тестов.
// Транзакции сериализуются одной блокировкой; при ошибке состояние восстанавливается из снимка.
type Store struct {
	mu    sync.RWMutex
	state *state
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{state: newState()}
}

// WithinTx выполняет fn атомарно. Репозитории, переданные в fn, нельзя использовать после возврата.
// Вызов нетранзакционных репозиториев из fn приведёт к взаимоблокировке.
func (s *Store) WithinTx(ctx context.Context, fn domain.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, s.repositories(true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Repos возвращает репозитории для чтений и одиночных записей вне транзакции.
func (s *Store) Repos() domain.Repositories {
	return s.repositories(false)
}

func (s *Store) repositories(inTx bool) domain.Repositories {
	v := view{store: s, inTx: inTx}
	return domain.Repositories{
		Orders:    &orderRepository{view: v},
		Products:  &productRepository{view: v},
		Inventory: &inventoryLogRepository{view: v},
		Carts:     &cartRepository{view: v},
		Payments:  &paymentRepository{view: v},
		Sequences: &sequenceRepository{view: v},
		Outbox:    &outboxRepository{view: v},
		Timeline:  &timelineRepository{view: v},
	}
}

// Ping всегда успешен: хранилище живёт в процессе.
func (s *Store) Ping(context.Context) error { return nil }

// view привязывает репозиторий к хранилищу. Внутри транзакции блокировка уже взята.
type view struct {
	store *Store
	inTx  bool
}

func (v view) rlock() func() {
	if v.inTx {
		return func() {}
	}
	v.store.mu.RLock()
	return v.store.mu.RUnlock
}

func (v view) lock() func() {
	if v.inTx {
		return func() {}
	}
	v.store.mu.Lock()
	return v.store.mu.Unlock
}

func (v view) data() *state { return v.store.state }

func now() time.Time { return time.Now().UTC() }

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}

func clonePayment(src domain.Payment) domain.Payment {
	dst := src
	dst.GatewayResponse = append([]byte(nil), src.GatewayResponse...)
	if src.PaidAt != nil {
		paidAt := *src.PaidAt
		dst.PaidAt = &paidAt
	}
	return dst
}

var _ domain.TxManager = (*Store)(nil)

package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или NotFoundError.
	Get(ctx context.Context, id string) (Order, error)
	// GetForUpdate читает заказ с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, id string) (Order, error)
	// GetByNumber ищет заказ по человекочитаемому номеру.
	GetByNumber(ctx context.Context, number string) (Order, error)
	// List возвращает заказы по фильтру, новые первыми.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// UpdateStatus меняет статус с учётом optimistic locking и возвращает обновлённый заказ.
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, status OrderStatus, at time.Time) (Order, error)
}

// ProductRepository — порт каталога: цена, доступность и остаток товара.
type ProductRepository interface {
	Create(ctx context.Context, product Product) error
	Get(ctx context.Context, id string) (Product, error)
	// CompareAndAdjustStock применяет delta, только если остаток всё ещё равен expected
	// и не станет отрицательным. Иначе возвращает ConflictError.
	CompareAndAdjustStock(ctx context.Context, id string, expected, delta int64) (int64, error)
	// AdjustStock применяет delta к текущему остатку, не допуская отрицательного значения.
	AdjustStock(ctx context.Context, id string, delta int64) (int64, error)
	// SetStatus включает или снимает товар с продажи.
	SetStatus(ctx context.Context, id string, status ProductStatus) (Product, error)
}

// InventoryLogRepository — append-only журнал изменений остатков.
type InventoryLogRepository interface {
	Append(ctx context.Context, entry InventoryLogEntry) (InventoryLogEntry, error)
	ListByProduct(ctx context.Context, productID string) ([]InventoryLogEntry, error)
	ListByOrder(ctx context.Context, orderID string) ([]InventoryLogEntry, error)
}

// CartRepository — порт корзины пользователя.
type CartRepository interface {
	Items(ctx context.Context, userID string) ([]CartItem, error)
	// Upsert создаёт строку или заменяет количество в существующей.
	Upsert(ctx context.Context, item CartItem) error
	Clear(ctx context.Context, userID string) error
}

// PaymentRepository хранит платежи (не более одного на заказ).
type PaymentRepository interface {
	// Create возвращает ConflictError(duplicate_payment), если у заказа уже есть платёж.
	Create(ctx context.Context, payment Payment) error
	GetByOrderID(ctx context.Context, orderID string) (Payment, error)
	GetByOrderIDForUpdate(ctx context.Context, orderID string) (Payment, error)
	Update(ctx context.Context, payment Payment) error
}

// SequenceRepository выдаёт монотонные значения счётчика в пределах scope.
type SequenceRepository interface {
	// Next атомарно увеличивает счётчик и возвращает новое значение (первое — 1).
	Next(ctx context.Context, scope string) (int64, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	// PullPending отдаёт pending-события в порядке записи, не блокируя их.
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	// DeleteSent удаляет не более limit опубликованных событий, отмеченных раньше before.
	// Pending и failed не трогает.
	DeleteSent(ctx context.Context, before time.Time, limit int) (int, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ключи повтора мутирующих запросов.
// Работает вне бизнес-транзакции: ключ занимается до неё и закрывается после.
type IdempotencyRepository interface {
	// Reserve занимает ключ под запрос с отпечатком fingerprint до expiresAt.
	// Для занятого ключа возвращает существующую запись и ErrIdempotencyReplay
	// (тот же запрос) или ErrIdempotencyMismatch (другой запрос).
	Reserve(ctx context.Context, key, fingerprint string, expiresAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	// Settle сохраняет итог запроса. Закрыть можно только ключ в состоянии in-flight.
	Settle(ctx context.Context, key string, outcome IdempotencyOutcome) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Repositories — набор репозиториев, привязанных к одной транзакции (или к пулу вне её).
type Repositories struct {
	Orders    OrderRepository
	Products  ProductRepository
	Inventory InventoryLogRepository
	Carts     CartRepository
	Payments  PaymentRepository
	Sequences SequenceRepository
	Outbox    OutboxRepository
	Timeline  TimelineRepository
}

// TxFunc — тело транзакции. Ненулевая ошибка откатывает все записи.
type TxFunc func(ctx context.Context, repos Repositories) error

// TxManager выполняет многошаговые записи атомарно.
type TxManager interface {
	// WithinTx выполняет fn в одной транзакции. Конфликты сериализации повторяются
	// ограниченное число раз и затем возвращаются как ConflictError{Retryable: true}.
	WithinTx(ctx context.Context, fn TxFunc) error
	// Repos возвращает репозитории для чтений вне транзакции.
	Repos() Repositories
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

// Коды ошибок PostgreSQL, которые обрабатываются явно.
const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// RetryPolicy задаёт повтор транзакций, прерванных конфликтом сериализации, дедлоком или lock timeout.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// LockTimeout ограничивает ожидание блокировок строк внутри транзакции.
	LockTimeout time.Duration
	// OnRetry вызывается перед каждым повтором (метрики, логи).
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy возвращает политику по умолчанию.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		LockTimeout:  5 * time.Second,
	}
}

// Store оборачивает SQL-подключение к PostgreSQL и реализует domain.TxManager.
type Store struct {
	db    *sql.DB
	retry RetryPolicy
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db, retry: DefaultRetryPolicy()}, nil
}

// SetRetryPolicy заменяет политику повтора транзакций. Нулевые поля берутся из DefaultRetryPolicy.
func (s *Store) SetRetryPolicy(policy RetryPolicy) {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = def.InitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.LockTimeout < 0 {
		policy.LockTimeout = 0
	}
	s.retry = policy
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Repos возвращает репозитории поверх пула соединений.
func (s *Store) Repos() domain.Repositories {
	return repositories(s.db)
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Транзакции, прерванные
// конфликтом сериализации, дедлоком или lock timeout, повторяются по RetryPolicy;
// после исчерпания попыток возвращается повторяемый domain.ConflictTransaction.
func (s *Store) WithinTx(ctx context.Context, fn domain.TxFunc) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	p := s.retry
	wait := p.InitialDelay
	for attempt := 1; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil || !isRetryableTxError(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return domain.NewConflictError(domain.ConflictTransaction,
				fmt.Sprintf("transaction aborted after %d attempts: %v", attempt, err), true)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		wait = min(2*wait, p.MaxDelay)
	}
}

func (s *Store) runTx(ctx context.Context, fn domain.TxFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if ms := s.retry.LockTimeout.Milliseconds(); ms > 0 {
		// SET LOCAL не принимает плейсхолдеры
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}
	if err := fn(ctx, repositories(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// dbtx — общее подмножество *sql.DB и *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func repositories(q dbtx) domain.Repositories {
	return domain.Repositories{
		Orders:    &orderRepository{q: q},
		Products:  &productRepository{q: q},
		Inventory: &inventoryLogRepository{q: q},
		Carts:     &cartRepository{q: q},
		Payments:  &paymentRepository{q: q},
		Sequences: &sequenceRepository{q: q},
		Outbox:    &outboxRepository{q: q},
		Timeline:  &timelineRepository{q: q},
	}
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgUniqueViolation
}

func isRetryableTxError(err error) bool {
	switch pgErrorCode(err) {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return true
	default:
		return false
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ domain.TxManager = (*Store)(nil)

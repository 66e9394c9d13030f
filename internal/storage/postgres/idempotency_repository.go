package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	// idempotencyOpTimeout ограничивает запросы к ключам: они идут вне бизнес-транзакции.
	idempotencyOpTimeout  = 5 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	idempotencyColumns = `key, request_hash, status, status_code, response_body, ttl_at, created_at, updated_at`
)

// IdempotencyRepository хранит ключи повтора в таблице idempotency_keys на пуле соединений Store.
type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(store *Store) *IdempotencyRepository {
	return &IdempotencyRepository{db: store.DB()}
}

func (r *IdempotencyRepository) Reserve(ctx context.Context, key, fingerprint string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, fingerprint, err := domain.NormalizeIdempotencyKey(key, fingerprint)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	ts := time.Now().UTC()
	if expiresAt.IsZero() {
		expiresAt = ts.Add(defaultIdempotencyTTL)
	}

	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO NOTHING`,
		key, fingerprint, string(domain.IdempotencyInFlight), expiresAt, ts)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key %s: %w", key, err)
	} else if n == 1 {
		return domain.IdempotencyRecord{
			Key:         key,
			Fingerprint: fingerprint,
			Outcome:     domain.IdempotencyOutcome{State: domain.IdempotencyInFlight},
			ExpiresAt:   expiresAt,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		}, nil
	}

	held, err := r.Get(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load held idempotency key %s: %w", key, err)
	}
	if held.Fingerprint != fingerprint {
		return held, domain.ErrIdempotencyMismatch
	}
	return held, domain.ErrIdempotencyReplay
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()

	var (
		rec   domain.IdempotencyRecord
		state string
		code  sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key).Scan(
		&rec.Key, &rec.Fingerprint, &state, &code, &rec.Outcome.Body,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyUnknownKey
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency key %s: %w", key, err)
	}

	rec.Outcome.State = domain.IdempotencyState(state)
	if !rec.Outcome.State.Known() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown state %q", key, state)
	}
	rec.Outcome.Code = int(code.Int64)
	return rec, nil
}

func (r *IdempotencyRepository) Settle(ctx context.Context, key string, outcome domain.IdempotencyOutcome) error {
	if err := domain.CheckIdempotencyOutcome(outcome); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, status_code = $3, response_body = $4, updated_at = $5
		WHERE key = $1 AND status = $6`,
		key, string(outcome.State), outcome.Code, outcome.Body, time.Now().UTC(), string(domain.IdempotencyInFlight))
	if err != nil {
		return fmt.Errorf("settle idempotency key %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle idempotency key %s: %w", key, err)
	}
	if n == 1 {
		return nil
	}

	held, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	return fmt.Errorf("settle %s: already %s: %w", key, held.Outcome.State, domain.ErrIdempotencyReplay)
}

// DeleteExpired удаляет не больше limit истёкших ключей, самые старые первыми. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	var capArg any
	if limit > 0 {
		capArg = limit
	}

	ctx, cancel := context.WithTimeout(ctx, idempotencyOpTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE ttl_at <= $1
			ORDER BY ttl_at
			LIMIT $2
		)`, before, capArg)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return int(n), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)

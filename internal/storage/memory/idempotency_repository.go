package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository держит ключи повтора вне транзакционного Store.
type IdempotencyRepository struct {
	mu   sync.Mutex
	keys map[string]domain.IdempotencyRecord
}

func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{keys: make(map[string]domain.IdempotencyRecord)}
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, fingerprint string, expiresAt time.Time) (domain.IdempotencyRecord, error) {
	key, fingerprint, err := domain.NormalizeIdempotencyKey(key, fingerprint)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	ts := now()
	if expiresAt.IsZero() {
		expiresAt = ts.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.keys[key]; ok {
		if held.Fingerprint != fingerprint {
			return held.Clone(), domain.ErrIdempotencyMismatch
		}
		return held.Clone(), domain.ErrIdempotencyReplay
	}
	rec := domain.IdempotencyRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Outcome:     domain.IdempotencyOutcome{State: domain.IdempotencyInFlight},
		ExpiresAt:   expiresAt,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	r.keys[key] = rec
	return rec, nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.keys[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyUnknownKey
	}
	return rec.Clone(), nil
}

func (r *IdempotencyRepository) Settle(_ context.Context, key string, outcome domain.IdempotencyOutcome) error {
	if err := domain.CheckIdempotencyOutcome(outcome); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.keys[key]
	if !ok {
		return domain.ErrIdempotencyUnknownKey
	}
	if rec.Outcome.State != domain.IdempotencyInFlight {
		return fmt.Errorf("settle %s: already %s: %w", key, rec.Outcome.State, domain.ErrIdempotencyReplay)
	}
	outcome.Body = append([]byte(nil), outcome.Body...)
	rec.Outcome = outcome
	rec.UpdatedAt = now()
	r.keys[key] = rec
	return nil
}

// DeleteExpired удаляет ключи с истёкшим сроком, самые старые первыми. limit <= 0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.IdempotencyRecord
	for _, rec := range r.keys {
		if !rec.ExpiresAt.After(before) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, rec := range expired {
		delete(r.keys, rec.Key)
	}
	return len(expired), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)

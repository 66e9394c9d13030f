package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestIdempotencyRepository_PostgresReserveSettle(t *testing.T) {
	repo := NewIdempotencyRepository(testStore(t))
	ctx := context.Background()
	expires := time.Now().UTC().Add(time.Hour)

	rec, err := repo.Reserve(ctx, "buyer-1:pg-settle", "fp-a", expires)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyInFlight, rec.Outcome.State)

	held, err := repo.Reserve(ctx, "buyer-1:pg-settle", "fp-a", expires)
	require.ErrorIs(t, err, domain.ErrIdempotencyReplay)
	require.Equal(t, domain.IdempotencyInFlight, held.Outcome.State)
	_, err = repo.Reserve(ctx, "buyer-1:pg-settle", "fp-b", expires)
	require.ErrorIs(t, err, domain.ErrIdempotencyMismatch)

	outcome := domain.IdempotencyOutcome{State: domain.IdempotencyFailed, Code: 9, Body: []byte{0x08, 0x09}}
	require.NoError(t, repo.Settle(ctx, "buyer-1:pg-settle", outcome))
	require.ErrorIs(t, repo.Settle(ctx, "buyer-1:pg-settle", outcome), domain.ErrIdempotencyReplay)

	got, err := repo.Get(ctx, "buyer-1:pg-settle")
	require.NoError(t, err)
	require.Equal(t, outcome, got.Outcome)
	require.WithinDuration(t, expires, got.ExpiresAt, time.Millisecond)

	require.ErrorIs(t, repo.Settle(ctx, "buyer-1:pg-missing", outcome), domain.ErrIdempotencyUnknownKey)
	_, err = repo.Get(ctx, "buyer-1:pg-missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyUnknownKey)
}

func TestIdempotencyRepository_PostgresDeleteExpired(t *testing.T) {
	repo := NewIdempotencyRepository(testStore(t))
	ctx := context.Background()
	now := time.Now().UTC()

	for i, key := range []string{"pg-expired-1", "pg-expired-2", "pg-expired-3"} {
		_, err := repo.Reserve(ctx, key, "fp", now.Add(-time.Duration(5-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.Reserve(ctx, "pg-live", "fp", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)
	_, err = repo.Get(ctx, "pg-expired-3")
	require.NoError(t, err)

	removed, err = repo.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	_, err = repo.Get(ctx, "pg-live")
	require.NoError(t, err)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestDo_RetriesRetryableConflicts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.NewConflictError(domain.ConflictStock, "changed", true)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, "test", func(context.Context) error {
		calls++
		return domain.NewNotFoundError("order", "o-1")
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, 1, calls)
}

func TestDo_ReturnsLastConflictAfterExhaustion(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), nil, "test", func(context.Context) error {
		calls++
		return domain.NewConflictError(domain.ConflictTransaction, "busy", true)
	})
	require.True(t, domain.IsRetryable(err))
	require.Equal(t, 3, calls)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 2}

	calls := 0
	err := Do(ctx, cfg, nil, "test", func(context.Context) error {
		calls++
		cancel()
		return domain.NewConflictError(domain.ConflictStock, "changed", true)
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestConfig_DelayGrowsAndCaps(t *testing.T) {
	cfg := Config{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 35 * time.Millisecond, BackoffFactor: 2}
	require.Equal(t, 10*time.Millisecond, cfg.Delay(1))
	require.Equal(t, 20*time.Millisecond, cfg.Delay(2))
	require.Equal(t, 35*time.Millisecond, cfg.Delay(3))
	require.Equal(t, 35*time.Millisecond, cfg.Delay(10))

	require.Equal(t, DefaultConfig().InitialDelay, Config{InitialDelay: 10 * time.Millisecond}.Delay(1))
	require.Equal(t, 2*DefaultConfig().InitialDelay, Config{InitialDelay: 10 * time.Millisecond, BackoffFactor: 0.5}.Delay(2))
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(2, time.Minute, nil)
	cb.now = func() time.Time { return now }

	boom := errors.New("gateway down")
	require.ErrorIs(t, cb.Execute("initiate", func() error { return boom }), boom)
	require.Equal(t, CircuitClosed, cb.State())
	require.ErrorIs(t, cb.Execute("initiate", func() error { return boom }), boom)
	require.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Execute("initiate", func() error { called = true; return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.False(t, called)

	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Execute("initiate", func() error { return nil }))
	require.Equal(t, CircuitClosed, cb.State())
	require.Equal(t, "closed", cb.State().String())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(1, time.Second, nil)
	cb.now = func() time.Time { return now }

	boom := errors.New("boom")
	_ = cb.Execute("op", func() error { return boom })
	require.Equal(t, CircuitOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Execute("op", func() error { return boom })
	require.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(1, time.Second, nil)
	cb.now = func() time.Time { return now }

	_ = cb.Execute("op", func() error { return errors.New("boom") })
	now = now.Add(2 * time.Second)

	err := cb.Execute("op", func() error {
		require.Equal(t, CircuitHalfOpen, cb.State())
		require.ErrorIs(t, cb.Execute("op", func() error { return nil }), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, CircuitClosed, cb.State())
	require.Equal(t, "half-open", CircuitHalfOpen.String())
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyState(t *testing.T) {
	require.True(t, IdempotencyInFlight.Known())
	require.False(t, IdempotencyInFlight.Settled())
	for _, s := range []IdempotencyState{IdempotencySucceeded, IdempotencyFailed} {
		require.True(t, s.Known(), s)
		require.True(t, s.Settled(), s)
	}
	require.False(t, IdempotencyState("expired").Known())
	require.False(t, IdempotencyState("").Known())
}

func TestNormalizeIdempotencyKey(t *testing.T) {
	key, fp, err := NormalizeIdempotencyKey(" buyer-1:k ", " abc ")
	require.NoError(t, err)
	require.Equal(t, "buyer-1:k", key)
	require.Equal(t, "abc", fp)

	_, _, err = NormalizeIdempotencyKey(" ", "abc")
	require.ErrorIs(t, err, ErrValidation)
	_, _, err = NormalizeIdempotencyKey("k", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestCheckIdempotencyOutcome(t *testing.T) {
	require.NoError(t, CheckIdempotencyOutcome(IdempotencyOutcome{State: IdempotencyFailed, Code: 9}))
	require.ErrorIs(t, CheckIdempotencyOutcome(IdempotencyOutcome{State: IdempotencyInFlight}), ErrValidation)
}

func TestIdempotencyRecordClone(t *testing.T) {
	rec := IdempotencyRecord{Key: "k", Outcome: IdempotencyOutcome{State: IdempotencySucceeded, Body: []byte("x")}}
	cp := rec.Clone()
	cp.Outcome.Body[0] = 'y'
	require.Equal(t, "x", string(rec.Outcome.Body))
}

package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "version conflict error",
			err:  NewConflictError(ConflictVersion, "order changed", true),
			want: true,
		},
		{
			name: "wrapped version conflict error",
			err:  fmt.Errorf("save order: %w", NewConflictError(ConflictVersion, "order changed", true)),
			want: true,
		},
		{
			name: "stock conflict",
			err:  NewConflictError(ConflictStock, "stock changed", true),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "replay", err: ErrIdempotencyReplay, want: true},
		{name: "mismatch", err: ErrIdempotencyMismatch, want: true},
		{name: "wrapped", err: fmt.Errorf("create order: %w", ErrIdempotencyReplay), want: true},
		{name: "joined", err: errors.Join(ErrIdempotencyMismatch, errors.New("extra context")), want: true},
		{name: "unknown key", err: ErrIdempotencyUnknownKey, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", NewValidationError("bad input", FieldError{Field: "quantity", Message: "must be positive"}), ErrValidation},
		{"not found", NewNotFoundError("order", "42"), ErrNotFound},
		{"forbidden", NewForbiddenError("not an owner"), ErrForbidden},
		{"conflict", NewConflictError(ConflictStock, "stock changed", true), ErrConflict},
		{"transition", &InvalidTransitionError{From: OrderStatusDelivered, To: OrderStatusPaid}, ErrInvalidTransition},
		{"signature", &InvalidSignatureError{Reason: "mismatch"}, ErrInvalidSignature},
		{"empty cart", &EmptyCartError{UserID: "u1"}, ErrEmptyCart},
		{"cart validation", &CartValidationError{Problems: []LineProblem{{ProductID: "p1", Code: LineProblemInsufficientStock}}}, ErrCartValidation},
		{"cart validation is validation", &CartValidationError{}, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("operation: %w", tt.err)
			require.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestInvalidTransitionToSameStatusIsConflict(t *testing.T) {
	same := &InvalidTransitionError{From: OrderStatusPaid, To: OrderStatusPaid}
	require.ErrorIs(t, same, ErrInvalidTransition)
	require.ErrorIs(t, same, ErrConflict)

	other := &InvalidTransitionError{From: OrderStatusDelivered, To: OrderStatusPaid}
	require.NotErrorIs(t, other, ErrConflict)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(fmt.Errorf("tx: %w", NewConflictError(ConflictTransaction, "deadlock", true))))
	require.False(t, IsRetryable(NewConflictError(ConflictDuplicatePayment, "exists", false)))
	require.False(t, IsRetryable(errors.New("boom")))
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, `order "42" not found`, NewNotFoundError("order", "42").Error())
	require.Equal(t, "cart not found", NewNotFoundError("cart", "").Error())
	require.Equal(t, "bad input (quantity: must be positive)",
		NewValidationError("bad input", FieldError{Field: "quantity", Message: "must be positive"}).Error())

	cartErr := &CartValidationError{Problems: []LineProblem{
		{ProductID: "p1", Code: LineProblemInsufficientStock},
		{ProductID: "p2", Code: LineProblemUnavailable},
	}}
	require.Equal(t, "cart validation failed: p1: insufficient_stock; p2: product_unavailable", cartErr.Error())
}

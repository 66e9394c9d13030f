package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPayment_Validate(t *testing.T) {
	tests := []struct {
		name     string
		payment  *Payment
		errCount int
	}{
		{
			name: "valid payment",
			payment: &Payment{
				OrderID:   "order-123",
				Amount:    1000,
				Currency:  "IDR",
				Status:    PaymentStatusPending,
				CreatedAt: time.Now(),
			},
			errCount: 0,
		},
		{
			name:     "missing order ID",
			payment:  &Payment{Amount: 1000, Currency: "IDR", Status: PaymentStatusPending},
			errCount: 1,
		},
		{
			name:     "negative amount",
			payment:  &Payment{OrderID: "order-123", Amount: -100, Currency: "IDR", Status: PaymentStatusPending},
			errCount: 1,
		},
		{
			name:     "everything missing",
			payment:  &Payment{Amount: -1},
			errCount: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Len(t, tt.payment.Validate(), tt.errCount)
		})
	}
}

func TestMapGatewayStatus(t *testing.T) {
	tests := []struct {
		gateway string
		fraud   string
		want    PaymentStatus
		known   bool
	}{
		{GatewayStatusCapture, "accept", PaymentStatusSuccess, true},
		{GatewayStatusCapture, "challenge", PaymentStatusPending, true},
		{GatewayStatusSettlement, "", PaymentStatusSuccess, true},
		{"SETTLEMENT", "", PaymentStatusSuccess, true},
		{GatewayStatusPending, "", PaymentStatusPending, true},
		{GatewayStatusDeny, "", PaymentStatusFailed, true},
		{GatewayStatusCancel, "", PaymentStatusFailed, true},
		{GatewayStatusExpire, "", PaymentStatusFailed, true},
		{GatewayStatusRefund, "", PaymentStatusCancelled, true},
		{"authorize", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.gateway+"/"+tt.fraud, func(t *testing.T) {
			got, known := MapGatewayStatus(tt.gateway, tt.fraud)
			require.Equal(t, tt.known, known)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNextPaymentStatus_SuccessAbsorbs(t *testing.T) {
	for _, incoming := range []PaymentStatus{PaymentStatusPending, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusSuccess} {
		next, changed := NextPaymentStatus(PaymentStatusSuccess, incoming)
		require.Equal(t, PaymentStatusSuccess, next)
		require.False(t, changed)
	}
}

func TestNextPaymentStatus_Moves(t *testing.T) {
	next, changed := NextPaymentStatus(PaymentStatusPending, PaymentStatusSuccess)
	require.True(t, changed)
	require.Equal(t, PaymentStatusSuccess, next)

	next, changed = NextPaymentStatus(PaymentStatusFailed, PaymentStatusPending)
	require.True(t, changed)
	require.Equal(t, PaymentStatusPending, next)

	_, changed = NextPaymentStatus(PaymentStatusPending, PaymentStatusPending)
	require.False(t, changed)
}

func TestStockAuditConsistent(t *testing.T) {
	require.True(t, StockAudit{CurrentStock: 5, LedgerSum: 5}.Consistent())
	require.False(t, StockAudit{CurrentStock: 5, LedgerSum: 7}.Consistent())
	require.False(t, StockAudit{CurrentStock: -1, LedgerSum: -1}.Consistent())
}

package payment

import (
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestVerifier_Sign(t *testing.T) {
	sum := sha512.Sum512([]byte("2610190001" + "200" + "53000.00" + serverKey))
	require.Equal(t, hex.EncodeToString(sum[:]), NewVerifier(serverKey).Sign("2610190001", "200", "53000.00"))
}

func TestVerifier_Verify(t *testing.T) {
	v := NewVerifier(serverKey)
	cb := Callback{OrderNumber: "2610190001", StatusCode: "200", GrossAmount: "53000.00"}
	cb.Signature = strings.ToUpper(v.Sign(cb.OrderNumber, cb.StatusCode, cb.GrossAmount))
	require.NoError(t, v.Verify(cb))

	tampered := cb
	tampered.StatusCode = "201"
	require.ErrorIs(t, v.Verify(tampered), domain.ErrInvalidSignature)

	var nilVerifier *Verifier
	require.ErrorIs(t, nilVerifier.Verify(cb), domain.ErrInvalidSignature)
}

func TestParseGrossAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "53000.00", want: 53000},
		{raw: "53000", want: 53000},
		{raw: " 1.0 ", want: 1},
		{raw: "10.50", wantErr: true},
		{raw: "-1", wantErr: true},
		{raw: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseGrossAmount(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
	require.Equal(t, "53000.00", FormatGrossAmount(53000))
}

package coupon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func TestStatic_Evaluate(t *testing.T) {
	eval, err := ParseStatic("welcome=10000, VIP=50000")
	require.NoError(t, err)
	ctx := context.Background()

	discount, err := eval.Evaluate(ctx, "u1", "WELCOME", 100_000)
	require.NoError(t, err)
	require.Equal(t, Discount{CouponID: "WELCOME", Amount: 10_000}, discount)

	discount, err = eval.Evaluate(ctx, "u1", "vip", 20_000)
	require.NoError(t, err)
	require.EqualValues(t, 20_000, discount.Amount)

	_, err = eval.Evaluate(ctx, "u1", "nope", 20_000)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseStatic_Errors(t *testing.T) {
	for _, raw := range []string{"broken", "=100", "A=abc", "A=-5"} {
		_, err := ParseStatic(raw)
		require.Error(t, err, raw)
	}

	eval, err := ParseStatic("")
	require.NoError(t, err)
	_, err = eval.Evaluate(context.Background(), "u", "ANY", 1)
	require.Error(t, err)
}

func TestDisabled_RejectsEverything(t *testing.T) {
	_, err := Disabled{}.Evaluate(context.Background(), "u1", "WELCOME", 1_000)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, "coupon_code", validation.Fields[0].Field)
}

package strategies

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccrualLinearGrowth(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a := NewAccrual("mm", 500, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, a.Deposit(ctx, uint256.NewInt(1_000_000)))

	v, err := a.TotalValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1000000", v.Dec())

	// Half a year at 5%: 25,000 of interest.
	now = now.Add(365 * 12 * time.Hour)
	v, err = a.TotalValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1025000", v.Dec())

	// Withdrawal caps at the accrued value.
	got, err := a.Withdraw(ctx, uint256.NewInt(2_000_000))
	require.NoError(t, err)
	assert.Equal(t, "1025000", got.Dec())

	v, err = a.TotalValue(ctx)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestAccrualZeroRateHoldsPar(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a := NewAccrual("flat", 0, func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, a.Deposit(ctx, uint256.NewInt(500)))
	now = now.Add(1000 * time.Hour)

	v, err := a.TotalValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "500", v.Dec())
}

func TestHoldWithdrawAll(t *testing.T) {
	h := NewHold("park")
	ctx := context.Background()

	require.NoError(t, h.Deposit(ctx, uint256.NewInt(300)))
	require.NoError(t, h.Deposit(ctx, uint256.NewInt(200)))

	maxOut, err := h.MaxInstantWithdraw(ctx)
	require.NoError(t, err)
	assert.Equal(t, "500", maxOut.Dec())
	assert.True(t, h.SupportsInstantWithdraw())

	out, err := h.WithdrawAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "500", out.Dec())

	v, err := h.TotalValue(ctx)
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

package treasury

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/treasury/strategies"
)

// lossyAdapter returns only a fraction of every withdrawal, simulating an
// illiquid or impaired position.
type lossyAdapter struct {
	name       string
	balance    *uint256.Int
	lossBps    uint64
	depositErr error
}

func newLossy(name string, lossBps uint64) *lossyAdapter {
	return &lossyAdapter{name: name, balance: uint256.NewInt(0), lossBps: lossBps}
}

func (l *lossyAdapter) Name() string { return l.name }

func (l *lossyAdapter) Deposit(_ context.Context, amount *uint256.Int) error {
	if l.depositErr != nil {
		return l.depositErr
	}
	l.balance.Add(l.balance, amount)
	return nil
}

func (l *lossyAdapter) Withdraw(_ context.Context, amount *uint256.Int) (*uint256.Int, error) {
	take := new(uint256.Int).Set(amount)
	if take.Cmp(l.balance) > 0 {
		take.Set(l.balance)
	}
	l.balance.Sub(l.balance, take)
	out := new(uint256.Int).Mul(take, uint256.NewInt(domain.BpsDenominator-l.lossBps))
	return out.Div(out, uint256.NewInt(domain.BpsDenominator)), nil
}

func (l *lossyAdapter) WithdrawAll(ctx context.Context) (*uint256.Int, error) {
	return l.Withdraw(ctx, new(uint256.Int).Set(l.balance))
}

func (l *lossyAdapter) TotalValue(_ context.Context) (*uint256.Int, error) {
	return new(uint256.Int).Set(l.balance), nil
}

func (l *lossyAdapter) SupportsInstantWithdraw() bool { return true }

func (l *lossyAdapter) MaxInstantWithdraw(ctx context.Context) (*uint256.Int, error) {
	return l.TotalValue(ctx)
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestAllocator(slippageBps uint16, cooldown time.Duration) (*Allocator, *testClock) {
	clock := &testClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(Config{
		SlippageToleranceBps: slippageBps,
		RebalanceCooldown:    cooldown,
	}, logger, WithClock(clock.Now))
	return a, clock
}

func ctxb() context.Context { return context.Background() }

func TestAddStrategyGuards(t *testing.T) {
	a, _ := newTestAllocator(0, 0)

	require.NoError(t, a.AddStrategy(strategies.NewHold("alpha"), 6_000))

	err := a.AddStrategy(strategies.NewHold("alpha"), 1_000)
	assert.ErrorIs(t, err, domain.ErrStrategyExists)

	err = a.AddStrategy(strategies.NewHold("beta"), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidWeight)

	// 6000 + 4001 > 10000.
	err = a.AddStrategy(strategies.NewHold("beta"), 4_001)
	assert.ErrorIs(t, err, domain.ErrWeightOverflow)

	require.NoError(t, a.AddStrategy(strategies.NewHold("beta"), 4_000))
}

func TestStrategyLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(Config{MaxStrategies: 2}, logger)

	require.NoError(t, a.AddStrategy(strategies.NewHold("a"), 100))
	require.NoError(t, a.AddStrategy(strategies.NewHold("b"), 100))
	err := a.AddStrategy(strategies.NewHold("c"), 100)
	assert.ErrorIs(t, err, domain.ErrTooManyStrategies)
}

func TestWeightSumNeverExceedsCap(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	require.NoError(t, a.AddStrategy(strategies.NewHold("a"), 5_000))
	require.NoError(t, a.AddStrategy(strategies.NewHold("b"), 5_000))

	assert.ErrorIs(t, a.SetWeight("b", 5_001), domain.ErrWeightOverflow)
	assert.ErrorIs(t, a.SetWeight("b", 0), domain.ErrInvalidWeight)
	require.NoError(t, a.SetWeight("b", 2_500))

	sum := uint64(0)
	for _, rec := range a.Records() {
		if rec.Active {
			sum += uint64(rec.WeightBps)
		}
	}
	assert.LessOrEqual(t, sum, uint64(10_000))
}

func TestUnpauseRechecksWeightCap(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	require.NoError(t, a.AddStrategy(strategies.NewHold("alpha"), 6_000))
	require.NoError(t, a.Pause("alpha"))
	require.NoError(t, a.AddStrategy(strategies.NewHold("beta"), 6_000))

	// Beta claimed the weight alpha's pause freed; alpha no longer fits.
	assert.ErrorIs(t, a.Unpause("alpha"), domain.ErrWeightOverflow)

	require.NoError(t, a.SetWeight("alpha", 4_000))
	require.NoError(t, a.Unpause("alpha"))

	sum := uint64(0)
	for _, rec := range a.Records() {
		if rec.Active {
			sum += uint64(rec.WeightBps)
		}
	}
	assert.LessOrEqual(t, sum, uint64(10_000))
}

func TestDepositSplitsByWeight(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	alpha := strategies.NewHold("alpha")
	beta := strategies.NewHold("beta")
	require.NoError(t, a.AddStrategy(alpha, 6_000))
	require.NoError(t, a.AddStrategy(beta, 4_000))

	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(100_000)))

	av, _ := alpha.TotalValue(ctxb())
	bv, _ := beta.TotalValue(ctxb())
	assert.Equal(t, "60000", av.Dec())
	assert.Equal(t, "40000", bv.Dec())
	assert.True(t, a.HeldBalance().IsZero())

	total, err := a.TotalValue(ctxb())
	require.NoError(t, err)
	assert.Equal(t, "100000", total.Dec())
}

func TestDepositRoundingDustStaysHeld(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	require.NoError(t, a.AddStrategy(strategies.NewHold("a"), 3_333))
	require.NoError(t, a.AddStrategy(strategies.NewHold("b"), 3_333))
	require.NoError(t, a.AddStrategy(strategies.NewHold("c"), 3_333))

	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(100)))

	// Each strategy gets floor(100/3) = 33; 1 unit of dust stays held.
	assert.Equal(t, "1", a.HeldBalance().Dec())
	total, err := a.TotalValue(ctxb())
	require.NoError(t, err)
	assert.Equal(t, "100", total.Dec())
}

func TestDepositWithNoActiveStrategyStaysHeld(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(5_000)))
	assert.Equal(t, "5000", a.HeldBalance().Dec())

	// Paused strategies do not receive deposits either.
	require.NoError(t, a.AddStrategy(strategies.NewHold("a"), 1_000))
	require.NoError(t, a.Pause("a"))
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(1_000)))
	assert.Equal(t, "6000", a.HeldBalance().Dec())
}

func TestDepositFanOutRollsBackOnFailure(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	alpha := strategies.NewHold("alpha")
	broken := newLossy("broken", 0)
	broken.depositErr = errors.New("venue offline")
	require.NoError(t, a.AddStrategy(alpha, 5_000))
	require.NoError(t, a.AddStrategy(broken, 5_000))

	err := a.Deposit(ctxb(), uint256.NewInt(10_000))
	require.Error(t, err)

	// The leg already placed into alpha was unwound.
	av, _ := alpha.TotalValue(ctxb())
	assert.True(t, av.IsZero())
	total, terr := a.TotalValue(ctxb())
	require.NoError(t, terr)
	assert.True(t, total.IsZero())
}

func TestWithdrawSlippageScenario(t *testing.T) {
	// 100,000 position with a 60% loss on withdrawal and zero tolerance.
	a, _ := newTestAllocator(0, 0)
	impaired := newLossy("impaired", 6_000)
	require.NoError(t, a.AddStrategy(impaired, 10_000))
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(100_000)))

	_, err := a.Withdraw(ctxb(), uint256.NewInt(100_000))

	var slip *domain.SlippageError
	require.ErrorAs(t, err, &slip)
	assert.Equal(t, "100000", slip.Requested.Dec())
	assert.Equal(t, "40000", slip.Received.Dec())
	assert.ErrorIs(t, err, domain.ErrSlippageExceeded)

	// The rollback pushed the pulled funds back into the strategy.
	v, _ := impaired.TotalValue(ctxb())
	assert.Equal(t, "40000", v.Dec())
}

func TestWithdrawWithinTolerance(t *testing.T) {
	a, _ := newTestAllocator(500, 0) // 5% tolerance
	lossy := newLossy("small-haircut", 100)
	require.NoError(t, a.AddStrategy(lossy, 10_000))
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(100_000)))

	received, err := a.Withdraw(ctxb(), uint256.NewInt(50_000))
	require.NoError(t, err)
	assert.Equal(t, "49500", received.Dec())
}

func TestWithdrawDrainsHeldFirst(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	hold := strategies.NewHold("hold")
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(2_000))) // held: no strategies yet
	require.NoError(t, a.AddStrategy(hold, 10_000))
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(8_000)))

	received, err := a.Withdraw(ctxb(), uint256.NewInt(5_000))
	require.NoError(t, err)
	assert.Equal(t, "5000", received.Dec())
	assert.True(t, a.HeldBalance().IsZero())

	v, _ := hold.TotalValue(ctxb())
	assert.Equal(t, "5000", v.Dec())
}

func TestRemoveStrategyDrainsFunds(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	hold := strategies.NewHold("hold")
	require.NoError(t, a.AddStrategy(hold, 10_000))
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(7_000)))

	require.NoError(t, a.RemoveStrategy(ctxb(), "hold"))
	assert.Equal(t, "7000", a.HeldBalance().Dec())
	assert.Empty(t, a.Records())

	assert.ErrorIs(t, a.RemoveStrategy(ctxb(), "hold"), domain.ErrStrategyNotFound)
}

func TestRebalanceCooldownAndRedistribution(t *testing.T) {
	a, clock := newTestAllocator(0, time.Hour)
	alpha := strategies.NewHold("alpha")
	beta := strategies.NewHold("beta")
	require.NoError(t, a.AddStrategy(alpha, 8_000))
	require.NoError(t, a.AddStrategy(beta, 2_000))
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(100_000)))

	// Shift the targets and rebalance.
	require.NoError(t, a.SetWeight("alpha", 5_000))
	require.NoError(t, a.SetWeight("beta", 5_000))
	require.NoError(t, a.Rebalance(ctxb()))

	av, _ := alpha.TotalValue(ctxb())
	bv, _ := beta.TotalValue(ctxb())
	assert.Equal(t, "50000", av.Dec())
	assert.Equal(t, "50000", bv.Dec())

	// Second rebalance inside the cooldown is rejected.
	clock.Advance(30 * time.Minute)
	assert.ErrorIs(t, a.Rebalance(ctxb()), domain.ErrRebalanceCooldown)

	clock.Advance(31 * time.Minute)
	assert.NoError(t, a.Rebalance(ctxb()))
}

func TestRebalanceNoOpWhenEmpty(t *testing.T) {
	a, _ := newTestAllocator(0, time.Hour)
	require.NoError(t, a.AddStrategy(strategies.NewHold("a"), 10_000))
	assert.NoError(t, a.Rebalance(ctxb()))
}

func TestHarvestYield(t *testing.T) {
	a, clock := newTestAllocator(0, 0)
	accrual := strategies.NewAccrual("mm", 500, clock.Now)
	require.NoError(t, a.AddStrategy(accrual, 10_000))
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(100_000)))

	// No yield yet.
	y, err := a.HarvestYield(ctxb(), "mm")
	require.NoError(t, err)
	assert.True(t, y.IsZero())
	rec, err := a.Record("mm")
	require.NoError(t, err)
	assert.Nil(t, rec.LastHarvest, "no-op harvest does not touch lastHarvest")

	// One year at 5%: 5,000 of yield.
	clock.Advance(365 * 24 * time.Hour)
	y, err = a.HarvestYield(ctxb(), "mm")
	require.NoError(t, err)
	assert.Equal(t, "5000", y.Dec())

	rec, err = a.Record("mm")
	require.NoError(t, err)
	require.NotNil(t, rec.LastHarvest)
	assert.Equal(t, clock.now, *rec.LastHarvest)

	// Harvesting again immediately finds nothing new.
	y, err = a.HarvestYield(ctxb(), "mm")
	require.NoError(t, err)
	assert.True(t, y.IsZero())

	_, err = a.HarvestYield(ctxb(), "missing")
	assert.ErrorIs(t, err, domain.ErrStrategyNotFound)

	// Paused strategies cannot be harvested.
	require.NoError(t, a.Pause("mm"))
	_, err = a.HarvestYield(ctxb(), "mm")
	assert.ErrorIs(t, err, domain.ErrStrategyPaused)
}

func TestEmergencyWithdraw(t *testing.T) {
	a, _ := newTestAllocator(0, 0)
	hold := strategies.NewHold("hold")
	require.NoError(t, a.AddStrategy(hold, 10_000))
	require.NoError(t, a.Deposit(ctxb(), uint256.NewInt(9_000)))

	received, err := a.EmergencyWithdrawFromStrategy(ctxb(), "hold")
	require.NoError(t, err)
	assert.Equal(t, "9000", received.Dec())
	assert.Equal(t, "9000", a.HeldBalance().Dec())

	rec, err := a.Record("hold")
	require.NoError(t, err)
	assert.False(t, rec.Active, "emergency withdrawal pauses the strategy")
}

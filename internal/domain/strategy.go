package domain

import (
	"context"
	"time"

	"github.com/holiman/uint256"
)

// StrategyAdapter is the uniform surface every treasury yield source
// implements. Adapters hold capital on behalf of the allocator and report
// their current value; they have no dependency on the ledger.
type StrategyAdapter interface {
	// Name identifies the adapter; unique within an allocator.
	Name() string

	// Deposit moves amount into the strategy.
	Deposit(ctx context.Context, amount *uint256.Int) error

	// Withdraw pulls up to amount from the strategy and returns what was
	// actually received, which may be less under adverse conditions.
	Withdraw(ctx context.Context, amount *uint256.Int) (*uint256.Int, error)

	// WithdrawAll liquidates the whole position and returns the proceeds.
	WithdrawAll(ctx context.Context) (*uint256.Int, error)

	// TotalValue reports the current value of the strategy's position.
	TotalValue(ctx context.Context) (*uint256.Int, error)

	// SupportsInstantWithdraw reports whether Withdraw settles immediately.
	SupportsInstantWithdraw() bool

	// MaxInstantWithdraw reports the amount withdrawable without delay.
	MaxInstantWithdraw(ctx context.Context) (*uint256.Int, error)
}

// StrategyRecord is the allocator's bookkeeping for one registered adapter.
type StrategyRecord struct {
	Name        string
	WeightBps   uint16
	Active      bool
	AddedAt     time.Time
	LastHarvest *time.Time
}

// Clone returns a copy safe to hand to callers.
func (r StrategyRecord) Clone() StrategyRecord {
	out := r
	out.LastHarvest = cloneTime(r.LastHarvest)
	return out
}

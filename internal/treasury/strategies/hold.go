// Package strategies ships the built-in treasury strategy adapters. Both are
// in-process: Hold parks capital without yield, Accrual simulates a
// money-market position with linear interest. External yield sources plug in
// through the same adapter interface.
package strategies

import (
	"context"
	"sync"

	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// Hold is the null strategy: capital sits at par and is instantly
// withdrawable. Useful as a default allocation target and in tests.
type Hold struct {
	mu      sync.Mutex
	name    string
	balance *uint256.Int
}

// NewHold creates a Hold strategy with the given name.
func NewHold(name string) *Hold {
	return &Hold{name: name, balance: uint256.NewInt(0)}
}

func (h *Hold) Name() string { return h.name }

func (h *Hold) Deposit(_ context.Context, amount *uint256.Int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.balance.Add(h.balance, amount)
	return nil
}

func (h *Hold) Withdraw(_ context.Context, amount *uint256.Int) (*uint256.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := new(uint256.Int).Set(amount)
	if out.Cmp(h.balance) > 0 {
		out.Set(h.balance)
	}
	h.balance.Sub(h.balance, out)
	return out, nil
}

func (h *Hold) WithdrawAll(ctx context.Context) (*uint256.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := new(uint256.Int).Set(h.balance)
	h.balance.Clear()
	return out, nil
}

func (h *Hold) TotalValue(_ context.Context) (*uint256.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return new(uint256.Int).Set(h.balance), nil
}

func (h *Hold) SupportsInstantWithdraw() bool { return true }

func (h *Hold) MaxInstantWithdraw(ctx context.Context) (*uint256.Int, error) {
	return h.TotalValue(ctx)
}

// Compile-time interface check.
var _ domain.StrategyAdapter = (*Hold)(nil)

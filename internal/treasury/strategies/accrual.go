package strategies

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/discount"
	"github.com/lumenfi/factorpool/internal/domain"
)

// Accrual simulates a money-market position: deposited capital grows
// linearly at an annual rate. Used in dev mode and as the reference adapter
// for harvest accounting.
type Accrual struct {
	mu       sync.Mutex
	name     string
	rateBps  uint16
	value    *uint256.Int
	lastTick time.Time
	nowFn    func() time.Time
}

// NewAccrual creates an Accrual strategy growing at rateBps per year.
func NewAccrual(name string, rateBps uint16, now func() time.Time) *Accrual {
	if now == nil {
		now = time.Now
	}
	return &Accrual{
		name:     name,
		rateBps:  rateBps,
		value:    uint256.NewInt(0),
		lastTick: now(),
		nowFn:    now,
	}
}

func (a *Accrual) Name() string { return a.name }

func (a *Accrual) Deposit(_ context.Context, amount *uint256.Int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accrue()
	a.value.Add(a.value, amount)
	return nil
}

func (a *Accrual) Withdraw(_ context.Context, amount *uint256.Int) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accrue()

	out := new(uint256.Int).Set(amount)
	if out.Cmp(a.value) > 0 {
		out.Set(a.value)
	}
	a.value.Sub(a.value, out)
	return out, nil
}

func (a *Accrual) WithdrawAll(_ context.Context) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accrue()

	out := new(uint256.Int).Set(a.value)
	a.value.Clear()
	return out, nil
}

func (a *Accrual) TotalValue(_ context.Context) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accrue()
	return new(uint256.Int).Set(a.value), nil
}

func (a *Accrual) SupportsInstantWithdraw() bool { return true }

func (a *Accrual) MaxInstantWithdraw(ctx context.Context) (*uint256.Int, error) {
	return a.TotalValue(ctx)
}

// accrue folds the interest earned since the last tick into the position.
// Callers must hold the lock.
func (a *Accrual) accrue() {
	now := a.nowFn()
	elapsed := now.Sub(a.lastTick)
	a.lastTick = now
	if elapsed <= 0 || a.value.IsZero() || a.rateBps == 0 {
		return
	}

	secs := uint64(elapsed / time.Second)
	interest := new(uint256.Int).Mul(a.value, uint256.NewInt(uint64(a.rateBps)))
	interest.Mul(interest, uint256.NewInt(secs))
	interest.Div(interest, uint256.NewInt(domain.BpsDenominator*discount.SecondsPerYear))
	a.value.Add(a.value, interest)
}

// Compile-time interface check.
var _ domain.StrategyAdapter = (*Accrual)(nil)

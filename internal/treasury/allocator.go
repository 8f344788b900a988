// Package treasury owns a weighted set of strategy adapters and moves idle
// pool capital across them. Fan-out writes are all-or-nothing: a failure
// partway through a multi-strategy deposit or withdrawal rolls back the
// partial transfers before the error is returned.
package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// DefaultMaxStrategies bounds the registry when no limit is configured.
const DefaultMaxStrategies = 16

// Config carries allocator construction parameters.
type Config struct {
	// SlippageToleranceBps is the maximum acceptable shortfall between a
	// requested withdrawal and the amount actually received.
	SlippageToleranceBps uint16

	// RebalanceCooldown is the minimum interval between rebalances. Bounds
	// operational cost, not correctness.
	RebalanceCooldown time.Duration

	// MaxStrategies caps the number of registered adapters.
	MaxStrategies int
}

type entry struct {
	adapter domain.StrategyAdapter
	rec     domain.StrategyRecord

	// basis is the net principal deposited into the adapter; TotalValue
	// above basis is unharvested yield.
	basis *uint256.Int
}

// placement is one applied leg of a deposit fan-out.
type placement struct {
	e     *entry
	share *uint256.Int
}

// pull is one applied leg of a withdrawal fan-out.
type pull struct {
	e        *entry
	received *uint256.Int
}

// Allocator distributes treasury capital across registered strategy
// adapters by weight. Safe for concurrent use.
type Allocator struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order; also the withdrawal priority

	// held is capital parked at the allocator itself: deposit remainders,
	// deposits with no active strategy, and emergency-withdrawn funds. It is
	// part of TotalValue and is drawn first on withdrawal.
	held *uint256.Int

	slippageBps   uint16
	cooldown      time.Duration
	maxStrategies int
	lastRebalance time.Time

	nowFn  func() time.Time
	logger *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.nowFn = now }
}

// New creates an empty Allocator.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Allocator {
	maxStrategies := cfg.MaxStrategies
	if maxStrategies <= 0 {
		maxStrategies = DefaultMaxStrategies
	}
	a := &Allocator{
		entries:       make(map[string]*entry),
		held:          uint256.NewInt(0),
		slippageBps:   cfg.SlippageToleranceBps,
		cooldown:      cfg.RebalanceCooldown,
		maxStrategies: maxStrategies,
		nowFn:         time.Now,
		logger:        logger.With(slog.String("component", "treasury")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddStrategy registers an adapter with the given weight. The cumulative
// weight of active strategies may not exceed 10000 bps.
func (a *Allocator) AddStrategy(adapter domain.StrategyAdapter, weightBps uint16) error {
	if weightBps == 0 {
		return domain.ErrInvalidWeight
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	name := adapter.Name()
	if _, ok := a.entries[name]; ok {
		return fmt.Errorf("treasury: %s: %w", name, domain.ErrStrategyExists)
	}
	if len(a.entries) >= a.maxStrategies {
		return domain.ErrTooManyStrategies
	}
	if a.activeWeight("")+uint64(weightBps) > domain.BpsDenominator {
		return domain.ErrWeightOverflow
	}

	a.entries[name] = &entry{
		adapter: adapter,
		rec: domain.StrategyRecord{
			Name:      name,
			WeightBps: weightBps,
			Active:    true,
			AddedAt:   a.nowFn(),
		},
		basis: uint256.NewInt(0),
	}
	a.order = append(a.order, name)

	a.logger.Info("strategy added",
		slog.String("strategy", name),
		slog.Uint64("weight_bps", uint64(weightBps)),
	)
	return nil
}

// RemoveStrategy withdraws the adapter's full balance into the allocator's
// held bucket, then deletes the registration.
func (a *Allocator) RemoveStrategy(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[name]
	if !ok {
		return fmt.Errorf("treasury: %s: %w", name, domain.ErrStrategyNotFound)
	}

	received, err := e.adapter.WithdrawAll(ctx)
	if err != nil {
		return fmt.Errorf("treasury: drain %s before removal: %w", name, err)
	}
	a.held.Add(a.held, received)

	delete(a.entries, name)
	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
	a.logger.Info("strategy removed",
		slog.String("strategy", name),
		slog.String("drained", received.Dec()),
	)
	return nil
}

// SetWeight changes a strategy's target weight.
func (a *Allocator) SetWeight(name string, weightBps uint16) error {
	if weightBps == 0 {
		return domain.ErrInvalidWeight
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[name]
	if !ok {
		return fmt.Errorf("treasury: %s: %w", name, domain.ErrStrategyNotFound)
	}
	if a.activeWeight(name)+uint64(weightBps) > domain.BpsDenominator {
		return domain.ErrWeightOverflow
	}
	e.rec.WeightBps = weightBps
	return nil
}

// Pause makes a strategy ineligible for new deposits. Existing funds stay.
func (a *Allocator) Pause(name string) error {
	return a.setActive(name, false)
}

// Unpause restores deposit eligibility. Reactivation is subject to the same
// cumulative weight cap as AddStrategy; weight freed by the pause may have
// been claimed by another strategy in the meantime.
func (a *Allocator) Unpause(name string) error {
	return a.setActive(name, true)
}

// Deposit distributes the amount across active strategies proportionally to
// weight, rounding each strategy's share down; the remainder stays held by
// the allocator, as does the whole amount when no strategy is active. A
// failure partway through the fan-out withdraws the already-placed portions
// back out before returning the error.
func (a *Allocator) Deposit(ctx context.Context, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deposit(ctx, amount)
}

// Withdraw pulls the requested amount, draining the held bucket first and
// then the strategies in registration order. The received total must satisfy
//
//	received >= amount * (10000 - slippageToleranceBps) / 10000
//
// otherwise the pulled funds are pushed back and a SlippageError is
// returned.
func (a *Allocator) Withdraw(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, domain.ErrZeroAmount
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.withdraw(ctx, amount)
}

// Rebalance drains every strategy and the held bucket and redistributes the
// total per current target weights. Rate-limited by the configured cooldown;
// a no-op when total value is zero.
func (a *Allocator) Rebalance(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.nowFn()
	if !a.lastRebalance.IsZero() && now.Sub(a.lastRebalance) < a.cooldown {
		return domain.ErrRebalanceCooldown
	}

	pot := new(uint256.Int).Set(a.held)
	a.held.Clear()
	for _, name := range a.order {
		e := a.entries[name]
		received, err := e.adapter.WithdrawAll(ctx)
		if err != nil {
			// Re-park what was gathered so no value goes unaccounted.
			a.held.Add(a.held, pot)
			return fmt.Errorf("treasury: rebalance drain %s: %w", name, err)
		}
		e.basis.Clear()
		pot.Add(pot, received)
	}

	if pot.IsZero() {
		return nil
	}

	if err := a.deposit(ctx, pot); err != nil {
		a.held.Add(a.held, pot)
		return fmt.Errorf("treasury: rebalance redistribute: %w", err)
	}
	a.lastRebalance = now
	a.logger.Info("rebalanced", slog.String("total", pot.Dec()))
	return nil
}

// HarvestYield records an adapter's value growth above its deposit basis and
// returns the detected yield. A no-op returning zero when no growth is
// detected. Paused strategies cannot be harvested; their reported value is
// not trusted until they are unpaused.
func (a *Allocator) HarvestYield(ctx context.Context, name string) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[name]
	if !ok {
		return nil, fmt.Errorf("treasury: %s: %w", name, domain.ErrStrategyNotFound)
	}
	if !e.rec.Active {
		return nil, fmt.Errorf("treasury: harvest %s: %w", name, domain.ErrStrategyPaused)
	}

	value, err := e.adapter.TotalValue(ctx)
	if err != nil {
		return nil, fmt.Errorf("treasury: harvest %s: %w", name, err)
	}
	if value.Cmp(e.basis) <= 0 {
		return uint256.NewInt(0), nil
	}

	yield := new(uint256.Int).Sub(value, e.basis)
	e.basis.Set(value)
	now := a.nowFn()
	e.rec.LastHarvest = &now

	a.logger.Info("yield harvested",
		slog.String("strategy", name),
		slog.String("yield", yield.Dec()),
	)
	return yield, nil
}

// EmergencyWithdrawFromStrategy force-drains an adapter into the held bucket
// and pauses it. Funds are not auto-forwarded anywhere.
func (a *Allocator) EmergencyWithdrawFromStrategy(ctx context.Context, name string) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[name]
	if !ok {
		return nil, fmt.Errorf("treasury: %s: %w", name, domain.ErrStrategyNotFound)
	}

	received, err := e.adapter.WithdrawAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("treasury: emergency withdraw %s: %w", name, err)
	}
	a.held.Add(a.held, received)
	e.basis.Clear()
	e.rec.Active = false

	a.logger.Warn("emergency withdrawal",
		slog.String("strategy", name),
		slog.String("received", received.Dec()),
	)
	return received, nil
}

// TotalValue reports held capital plus every adapter's current value.
func (a *Allocator) TotalValue(ctx context.Context) (*uint256.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := new(uint256.Int).Set(a.held)
	for _, name := range a.order {
		v, err := a.entries[name].adapter.TotalValue(ctx)
		if err != nil {
			return nil, fmt.Errorf("treasury: value of %s: %w", name, err)
		}
		total.Add(total, v)
	}
	return total, nil
}

// HeldBalance returns capital parked at the allocator itself.
func (a *Allocator) HeldBalance() *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return new(uint256.Int).Set(a.held)
}

// Records returns the registered strategy records in registration order.
func (a *Allocator) Records() []domain.StrategyRecord {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.StrategyRecord, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.entries[name].rec.Clone())
	}
	return out
}

// Record returns one strategy's record.
func (a *Allocator) Record(name string) (domain.StrategyRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[name]
	if !ok {
		return domain.StrategyRecord{}, fmt.Errorf("treasury: %s: %w", name, domain.ErrStrategyNotFound)
	}
	return e.rec.Clone(), nil
}

// deposit distributes with the lock held.
func (a *Allocator) deposit(ctx context.Context, amount *uint256.Int) error {
	var active []*entry
	var totalWeight uint64
	for _, name := range a.order {
		e := a.entries[name]
		if e.rec.Active {
			active = append(active, e)
			totalWeight += uint64(e.rec.WeightBps)
		}
	}

	if len(active) == 0 {
		a.held.Add(a.held, amount)
		return nil
	}

	var placed []placement
	remainder := new(uint256.Int).Set(amount)
	for _, e := range active {
		share := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(e.rec.WeightBps)))
		share.Div(share, uint256.NewInt(totalWeight))
		if share.IsZero() {
			continue
		}
		if err := e.adapter.Deposit(ctx, share); err != nil {
			a.unwindDeposits(ctx, placed)
			return fmt.Errorf("treasury: deposit to %s: %w", e.rec.Name, err)
		}
		e.basis.Add(e.basis, share)
		placed = append(placed, placement{e: e, share: share})
		remainder.Sub(remainder, share)
	}

	// Rounding dust stays held by the allocator.
	a.held.Add(a.held, remainder)
	return nil
}

// unwindDeposits reverses the already-placed legs of a failed fan-out. The
// recovered funds return to the backing asset holder; shortfalls against the
// placed amounts are logged and stay in the strategy, still visible through
// TotalValue.
func (a *Allocator) unwindDeposits(ctx context.Context, placed []placement) {
	for _, pl := range placed {
		received, err := pl.e.adapter.Withdraw(ctx, pl.share)
		if err != nil {
			a.logger.Error("fan-out unwind failed",
				slog.String("strategy", pl.e.rec.Name),
				slog.String("amount", pl.share.Dec()),
				slog.String("error", err.Error()),
			)
			continue
		}
		pl.e.basis.Sub(pl.e.basis, pl.share)
		if received.Cmp(pl.share) < 0 {
			a.logger.Warn("fan-out unwind shortfall",
				slog.String("strategy", pl.e.rec.Name),
				slog.String("placed", pl.share.Dec()),
				slog.String("recovered", received.Dec()),
			)
		}
	}
}

// withdraw pulls with the lock held.
func (a *Allocator) withdraw(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	received := uint256.NewInt(0)
	remaining := new(uint256.Int).Set(amount)

	fromHeld := uint256.NewInt(0)
	if !a.held.IsZero() {
		fromHeld.Set(a.held)
		if fromHeld.Cmp(remaining) > 0 {
			fromHeld.Set(remaining)
		}
		a.held.Sub(a.held, fromHeld)
		received.Add(received, fromHeld)
		remaining.Sub(remaining, fromHeld)
	}

	var pulls []pull
	for _, name := range a.order {
		if remaining.IsZero() {
			break
		}
		e := a.entries[name]
		value, err := e.adapter.TotalValue(ctx)
		if err != nil {
			a.rollbackWithdraw(ctx, fromHeld, pulls)
			return nil, fmt.Errorf("treasury: value of %s: %w", name, err)
		}
		if value.IsZero() {
			continue
		}
		ask := new(uint256.Int).Set(remaining)
		if ask.Cmp(value) > 0 {
			ask.Set(value)
		}
		got, err := e.adapter.Withdraw(ctx, ask)
		if err != nil {
			a.rollbackWithdraw(ctx, fromHeld, pulls)
			return nil, fmt.Errorf("treasury: withdraw from %s: %w", name, err)
		}
		if e.basis.Cmp(ask) < 0 {
			e.basis.Clear()
		} else {
			e.basis.Sub(e.basis, ask)
		}
		pulls = append(pulls, pull{e: e, received: got})
		received.Add(received, got)
		remaining.Sub(remaining, ask)
	}

	// received >= amount * (1 - slippage) is required even when the pulled
	// positions were worth less than requested.
	minOut := new(uint256.Int).Mul(amount, uint256.NewInt(domain.BpsDenominator-uint64(a.slippageBps)))
	minOut.Div(minOut, uint256.NewInt(domain.BpsDenominator))
	if received.Cmp(minOut) < 0 {
		a.rollbackWithdraw(ctx, fromHeld, pulls)
		return nil, &domain.SlippageError{
			Requested: new(uint256.Int).Set(amount),
			Received:  received,
		}
	}
	return received, nil
}

// rollbackWithdraw pushes pulled funds back so a failed withdrawal leaves no
// partial transfer applied.
func (a *Allocator) rollbackWithdraw(ctx context.Context, fromHeld *uint256.Int, pulls []pull) {
	a.held.Add(a.held, fromHeld)
	for _, p := range pulls {
		if p.received.IsZero() {
			continue
		}
		if err := p.e.adapter.Deposit(ctx, p.received); err != nil {
			// Funds stay held by the allocator rather than vanish.
			a.held.Add(a.held, p.received)
			a.logger.Error("withdraw rollback failed",
				slog.String("strategy", p.e.rec.Name),
				slog.String("amount", p.received.Dec()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.e.basis.Add(p.e.basis, p.received)
	}
}

// Restore applies a persisted record to an already-registered adapter. Used
// at startup rehydration, after the app has re-registered the adapter code.
func (a *Allocator) Restore(rec domain.StrategyRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[rec.Name]
	if !ok {
		return fmt.Errorf("treasury: %s: %w", rec.Name, domain.ErrStrategyNotFound)
	}
	e.rec = rec.Clone()
	return nil
}

func (a *Allocator) setActive(name string, active bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[name]
	if !ok {
		return fmt.Errorf("treasury: %s: %w", name, domain.ErrStrategyNotFound)
	}
	if active && !e.rec.Active {
		if a.activeWeight(name)+uint64(e.rec.WeightBps) > domain.BpsDenominator {
			return fmt.Errorf("treasury: unpause %s: %w", name, domain.ErrWeightOverflow)
		}
	}
	e.rec.Active = active
	return nil
}

// activeWeight sums active strategy weights, excluding the named strategy.
func (a *Allocator) activeWeight(excluding string) uint64 {
	var sum uint64
	for _, e := range a.entries {
		if e.rec.Name == excluding || !e.rec.Active {
			continue
		}
		sum += uint64(e.rec.WeightBps)
	}
	return sum
}

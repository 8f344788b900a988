// Package pool implements the LP share ledger: deposits mint shares against
// total assets, repayment yield appreciates the share price, and deployed /
// treasury-held capital is tracked so the accounting identity
//
//	totalAssets = availableLiquidity + totalDeployed + totalTreasuryHeld
//
// holds after every committed operation. The pool is pure book-keeping; the
// ledger facade sequences asset transfers around these mutations.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// TreasuryManager is the narrow allocator surface the pool consumes.
// *treasury.Allocator satisfies it.
type TreasuryManager interface {
	Deposit(ctx context.Context, amount *uint256.Int) error
	Withdraw(ctx context.Context, amount *uint256.Int) (*uint256.Int, error)
	TotalValue(ctx context.Context) (*uint256.Int, error)
}

// Config carries pool construction parameters.
type Config struct {
	// LiquidityBuffer is the minimum available liquidity that must remain in
	// the pool after a treasury deposit.
	LiquidityBuffer *uint256.Int

	// MaxTreasuryAllocationBps caps treasury-held capital as a fraction of
	// total assets.
	MaxTreasuryAllocationBps uint16
}

// Pool is the capital pool ledger. Safe for concurrent use.
type Pool struct {
	mu sync.RWMutex

	shares      map[common.Address]*uint256.Int
	totalShares *uint256.Int

	available    *uint256.Int
	deployed     *uint256.Int
	treasuryHeld *uint256.Int
	invoiceYield *uint256.Int

	liquidityBuffer *uint256.Int
	maxTreasuryBps  uint16
	halted          bool

	treasury TreasuryManager
	logger   *slog.Logger
}

// New creates an empty pool. Share price is 1:1 at genesis.
func New(cfg Config, logger *slog.Logger) *Pool {
	buffer := cfg.LiquidityBuffer
	if buffer == nil {
		buffer = uint256.NewInt(0)
	}
	return &Pool{
		shares:          make(map[common.Address]*uint256.Int),
		totalShares:     uint256.NewInt(0),
		available:       uint256.NewInt(0),
		deployed:        uint256.NewInt(0),
		treasuryHeld:    uint256.NewInt(0),
		invoiceYield:    uint256.NewInt(0),
		liquidityBuffer: new(uint256.Int).Set(buffer),
		maxTreasuryBps:  cfg.MaxTreasuryAllocationBps,
		logger:          logger.With(slog.String("component", "pool")),
	}
}

// SetTreasuryManager wires the allocator used for idle-capital yield and
// shortfall pulls. May be nil, in which case treasury operations fail with
// ErrTreasuryManagerNotSet.
func (p *Pool) SetTreasuryManager(tm TreasuryManager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.treasury = tm
}

// Deposit credits the LP with newly minted shares for the given assets and
// returns the share count. First deposit mints 1:1; afterwards
// shares = assets * totalShares / totalAssets, rounded down.
func (p *Pool) Deposit(lp common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if assets == nil || assets.IsZero() {
		return nil, domain.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted {
		return nil, domain.ErrPoolHalted
	}

	minted := p.sharesForAssets(assets)
	if minted.IsZero() {
		// Total assets so far outgrew shares that this deposit would mint
		// nothing; reject rather than absorb the LP's assets.
		return nil, domain.ErrZeroAmount
	}

	p.credit(lp, minted)
	p.totalShares.Add(p.totalShares, minted)
	p.available.Add(p.available, assets)
	return minted, nil
}

// Withdraw burns the shares corresponding to the requested assets (rounded
// up, favouring the pool) and debits available liquidity. Returns the shares
// burned.
func (p *Pool) Withdraw(lp common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if assets == nil || assets.IsZero() {
		return nil, domain.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted {
		return nil, domain.ErrPoolHalted
	}
	if p.available.Cmp(assets) < 0 {
		return nil, domain.ErrInsufficientLiquidity
	}

	burned := ceilDiv(new(uint256.Int).Mul(assets, p.totalShares), p.totalAssets())
	held := p.shares[lp]
	if held == nil || held.Cmp(burned) < 0 {
		return nil, domain.ErrInsufficientShares
	}

	p.debit(lp, burned)
	p.totalShares.Sub(p.totalShares, burned)
	p.available.Sub(p.available, assets)
	return burned, nil
}

// UndoWithdraw is the compensating rollback used by the ledger facade when
// the outbound LP transfer fails after Withdraw/Redeem. It restores the
// burned shares and the available liquidity.
func (p *Pool) UndoWithdraw(lp common.Address, assets, shares *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.credit(lp, shares)
	p.totalShares.Add(p.totalShares, shares)
	p.available.Add(p.available, assets)
}

// Redeem burns exactly the given shares and returns the corresponding assets
// (rounded down, favouring the pool).
func (p *Pool) Redeem(lp common.Address, shares *uint256.Int) (*uint256.Int, error) {
	if shares == nil || shares.IsZero() {
		return nil, domain.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted {
		return nil, domain.ErrPoolHalted
	}
	held := p.shares[lp]
	if held == nil || held.Cmp(shares) < 0 {
		return nil, domain.ErrInsufficientShares
	}

	assets := new(uint256.Int).Mul(shares, p.totalAssets())
	assets.Div(assets, p.totalShares)
	if p.available.Cmp(assets) < 0 {
		return nil, domain.ErrInsufficientLiquidity
	}

	p.debit(lp, shares)
	p.totalShares.Sub(p.totalShares, shares)
	p.available.Sub(p.available, assets)
	return assets, nil
}

// DeployForFunding reserves capital for an invoice funding. If available
// liquidity does not cover the amount, the shortfall is pulled from the
// treasury allocator first.
func (p *Pool) DeployForFunding(ctx context.Context, amount *uint256.Int, invoiceID uint64) error {
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.halted {
		return domain.ErrPoolHalted
	}

	if p.available.Cmp(amount) < 0 {
		shortfall := new(uint256.Int).Sub(amount, p.available)
		if p.treasury == nil {
			return domain.ErrTreasuryManagerNotSet
		}
		if p.treasuryHeld.Cmp(shortfall) < 0 {
			return domain.ErrInsufficientLiquidity
		}
		received, err := p.treasury.Withdraw(ctx, shortfall)
		if err != nil {
			return fmt.Errorf("pool: treasury pull for invoice %d: %w", invoiceID, err)
		}
		if new(uint256.Int).Add(p.available, received).Cmp(amount) < 0 {
			// The pull cleared the slippage gate but still leaves the pool
			// short. Push the funds back so the failed funding does not touch
			// the books.
			if derr := p.treasury.Deposit(ctx, received); derr != nil {
				// Funds cannot go back; book what actually moved.
				p.treasuryHeld.Sub(p.treasuryHeld, shortfall)
				p.available.Add(p.available, received)
				p.logger.Error("treasury pull return failed",
					slog.Uint64("invoice_id", invoiceID),
					slog.String("amount", received.Dec()),
					slog.String("error", derr.Error()),
				)
			}
			return domain.ErrInsufficientLiquidity
		}
		// A shortfall-within-tolerance is a realized strategy loss: total
		// assets shrink by shortfall - received.
		p.treasuryHeld.Sub(p.treasuryHeld, shortfall)
		p.available.Add(p.available, received)
	}

	p.available.Sub(p.available, amount)
	p.deployed.Add(p.deployed, amount)
	p.logger.Info("capital deployed",
		slog.Uint64("invoice_id", invoiceID),
		slog.String("amount", amount.Dec()),
	)
	return nil
}

// UndoDeploy is the compensating rollback used by the settlement coordinator
// when the outbound supplier transfer fails after DeployForFunding.
func (p *Pool) UndoDeploy(amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deployed.Sub(p.deployed, amount)
	p.available.Add(p.available, amount)
}

// ReceiveRepayment books a repayment: principal returns from deployed to
// available and the yield is credited on top. This is the only path by which
// total assets grow without a new deposit.
func (p *Pool) ReceiveRepayment(principal, yieldAmount *uint256.Int, invoiceID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deployed.Cmp(principal) < 0 {
		return fmt.Errorf("pool: repayment principal %s exceeds deployed %s: %w",
			principal.Dec(), p.deployed.Dec(), domain.ErrInsufficientLiquidity)
	}

	p.deployed.Sub(p.deployed, principal)
	p.available.Add(p.available, principal)
	p.available.Add(p.available, yieldAmount)
	p.invoiceYield.Add(p.invoiceYield, yieldAmount)

	p.logger.Info("repayment received",
		slog.Uint64("invoice_id", invoiceID),
		slog.String("principal", principal.Dec()),
		slog.String("yield", yieldAmount.Dec()),
	)
	return nil
}

// DepositToTreasury moves idle capital into the allocator, bounded by the
// liquidity buffer and the treasury allocation cap.
func (p *Pool) DepositToTreasury(ctx context.Context, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}
	if p.available.Cmp(amount) < 0 {
		return domain.ErrInsufficientLiquidity
	}

	remaining := new(uint256.Int).Sub(p.available, amount)
	if remaining.Cmp(p.liquidityBuffer) < 0 {
		return domain.ErrInsufficientBuffer
	}

	limit := p.maxAllocation()
	next := new(uint256.Int).Add(p.treasuryHeld, amount)
	if next.Cmp(limit) > 0 {
		return domain.ErrAllocationCap
	}

	if err := p.treasury.Deposit(ctx, amount); err != nil {
		return fmt.Errorf("pool: treasury deposit: %w", err)
	}
	p.available.Sub(p.available, amount)
	p.treasuryHeld.Add(p.treasuryHeld, amount)
	return nil
}

// WithdrawFromTreasury pulls capital back from the allocator into available
// liquidity. Slippage losses surface as a totalAssets decrease.
func (p *Pool) WithdrawFromTreasury(ctx context.Context, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}
	if p.treasuryHeld.Cmp(amount) < 0 {
		return domain.ErrInsufficientLiquidity
	}

	received, err := p.treasury.Withdraw(ctx, amount)
	if err != nil {
		return fmt.Errorf("pool: treasury withdraw: %w", err)
	}
	p.treasuryHeld.Sub(p.treasuryHeld, amount)
	p.available.Add(p.available, received)
	return nil
}

// OptimalTreasuryDeposit returns the largest amount DepositToTreasury would
// currently accept: min(cap - held, available - buffer), clamped to zero.
func (p *Pool) OptimalTreasuryDeposit() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	capRoom := uint256.NewInt(0)
	if limit := p.maxAllocation(); limit.Cmp(p.treasuryHeld) > 0 {
		capRoom.Sub(limit, p.treasuryHeld)
	}
	liqRoom := uint256.NewInt(0)
	if p.available.Cmp(p.liquidityBuffer) > 0 {
		liqRoom.Sub(p.available, p.liquidityBuffer)
	}
	if capRoom.Cmp(liqRoom) < 0 {
		return capRoom
	}
	return liqRoom
}

// UtilizationRate returns deployed capital as bps of total assets (0 when
// the pool is empty).
func (p *Pool) UtilizationRate() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := p.totalAssets()
	if total.IsZero() {
		return 0
	}
	r := new(uint256.Int).Mul(p.deployed, uint256.NewInt(domain.BpsDenominator))
	return r.Div(r, total).Uint64()
}

// SharePrice returns assets per share scaled by 1e18 (1e18 when empty).
func (p *Pool) SharePrice() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.totalShares.IsZero() {
		return uint256.NewInt(domain.SharePriceScale)
	}
	price := new(uint256.Int).Mul(p.totalAssets(), uint256.NewInt(domain.SharePriceScale))
	return price.Div(price, p.totalShares)
}

// SharesOf returns the LP's share balance.
func (p *Pool) SharesOf(lp common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if s, ok := p.shares[lp]; ok {
		return new(uint256.Int).Set(s)
	}
	return uint256.NewInt(0)
}

// TotalAssets returns the pool's total accounted capital.
func (p *Pool) TotalAssets() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalAssets()
}

// Snapshot returns a copy of the pool's books.
func (p *Pool) Snapshot() domain.PoolState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return domain.PoolState{
		TotalShares:              new(uint256.Int).Set(p.totalShares),
		AvailableLiquidity:       new(uint256.Int).Set(p.available),
		TotalDeployed:            new(uint256.Int).Set(p.deployed),
		TotalTreasuryHeld:        new(uint256.Int).Set(p.treasuryHeld),
		TotalInvoiceYield:        new(uint256.Int).Set(p.invoiceYield),
		LiquidityBuffer:          new(uint256.Int).Set(p.liquidityBuffer),
		MaxTreasuryAllocationBps: p.maxTreasuryBps,
		Halted:                   p.halted,
	}
}

// Accounts returns a copy of every LP share balance, for persistence.
func (p *Pool) Accounts() map[common.Address]*uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[common.Address]*uint256.Int, len(p.shares))
	for lp, s := range p.shares {
		out[lp] = new(uint256.Int).Set(s)
	}
	return out
}

// Halt blocks deposits, withdrawals, and fundings.
func (p *Pool) Halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted = true
	p.logger.Warn("pool halted")
}

// Unhalt lifts a halt.
func (p *Pool) Unhalt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.halted = false
}

// Restore loads persisted books during startup rehydration. Must not be
// called on a live pool.
func (p *Pool) Restore(st domain.PoolState, accounts map[common.Address]*uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalShares = new(uint256.Int).Set(st.TotalShares)
	p.available = new(uint256.Int).Set(st.AvailableLiquidity)
	p.deployed = new(uint256.Int).Set(st.TotalDeployed)
	p.treasuryHeld = new(uint256.Int).Set(st.TotalTreasuryHeld)
	p.invoiceYield = new(uint256.Int).Set(st.TotalInvoiceYield)
	p.halted = st.Halted
	p.shares = make(map[common.Address]*uint256.Int, len(accounts))
	for lp, s := range accounts {
		p.shares[lp] = new(uint256.Int).Set(s)
	}
}

func (p *Pool) totalAssets() *uint256.Int {
	total := new(uint256.Int).Add(p.available, p.deployed)
	return total.Add(total, p.treasuryHeld)
}

func (p *Pool) maxAllocation() *uint256.Int {
	limit := new(uint256.Int).Mul(p.totalAssets(), uint256.NewInt(uint64(p.maxTreasuryBps)))
	return limit.Div(limit, uint256.NewInt(domain.BpsDenominator))
}

func (p *Pool) sharesForAssets(assets *uint256.Int) *uint256.Int {
	if p.totalShares.IsZero() {
		return new(uint256.Int).Set(assets)
	}
	s := new(uint256.Int).Mul(assets, p.totalShares)
	return s.Div(s, p.totalAssets())
}

func (p *Pool) credit(lp common.Address, shares *uint256.Int) {
	if held, ok := p.shares[lp]; ok {
		held.Add(held, shares)
		return
	}
	p.shares[lp] = new(uint256.Int).Set(shares)
}

func (p *Pool) debit(lp common.Address, shares *uint256.Int) {
	held := p.shares[lp]
	held.Sub(held, shares)
	if held.IsZero() {
		delete(p.shares, lp)
	}
}

func ceilDiv(num, den *uint256.Int) *uint256.Int {
	q, rem := new(uint256.Int).DivMod(num, den, new(uint256.Int))
	if !rem.IsZero() {
		q.AddUint64(q, 1)
	}
	return q
}

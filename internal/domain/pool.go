package domain

import (
	"github.com/holiman/uint256"
)

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator = 10_000

// SharePriceScale is the fixed-point scale used when reporting share price
// (assets per share, scaled by 1e18).
const SharePriceScale = 1_000_000_000_000_000_000

// PoolState is a snapshot of the capital pool's books. The accounting
// identity totalAssets = availableLiquidity + totalDeployed +
// totalTreasuryHeld holds after every committed operation.
type PoolState struct {
	TotalShares              *uint256.Int
	AvailableLiquidity       *uint256.Int
	TotalDeployed            *uint256.Int
	TotalTreasuryHeld        *uint256.Int
	TotalInvoiceYield        *uint256.Int
	LiquidityBuffer          *uint256.Int
	MaxTreasuryAllocationBps uint16
	Halted                   bool
}

// TotalAssets returns the sum of all capital the pool accounts for.
func (s PoolState) TotalAssets() *uint256.Int {
	total := new(uint256.Int).Add(s.AvailableLiquidity, s.TotalDeployed)
	return total.Add(total, s.TotalTreasuryHeld)
}

// Clone returns a deep copy of the snapshot.
func (s PoolState) Clone() PoolState {
	out := s
	out.TotalShares = new(uint256.Int).Set(s.TotalShares)
	out.AvailableLiquidity = new(uint256.Int).Set(s.AvailableLiquidity)
	out.TotalDeployed = new(uint256.Int).Set(s.TotalDeployed)
	out.TotalTreasuryHeld = new(uint256.Int).Set(s.TotalTreasuryHeld)
	out.TotalInvoiceYield = new(uint256.Int).Set(s.TotalInvoiceYield)
	out.LiquidityBuffer = new(uint256.Int).Set(s.LiquidityBuffer)
	return out
}

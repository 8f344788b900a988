package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// Stats is the combined ledger snapshot served to operators.
type Stats struct {
	Registry       domain.RegistryStats `json:"registry"`
	Pool           domain.PoolState     `json:"pool"`
	SharePrice     *uint256.Int         `json:"share_price"` // 1e18-scaled
	UtilizationBps uint64               `json:"utilization_bps"`
	TreasuryValue  *uint256.Int         `json:"treasury_value,omitempty"`
}

// Invoice returns one invoice by id.
func (l *Ledger) Invoice(id uint64) (domain.Invoice, error) {
	return l.registry.Get(id)
}

// Invoices returns every invoice the registry holds.
func (l *Ledger) Invoices() []domain.Invoice {
	return l.registry.All()
}

// PendingApprovals lists the buyer's invoices awaiting approval.
func (l *Ledger) PendingApprovals(buyer common.Address) []domain.Invoice {
	return l.registry.PendingApprovals(buyer)
}

// UpcomingRepayments lists the buyer's funded invoices ordered by maturity.
func (l *Ledger) UpcomingRepayments(buyer common.Address) []domain.Invoice {
	return l.registry.UpcomingRepayments(buyer)
}

// IsOverdue reports whether a funded invoice is strictly past maturity.
func (l *Ledger) IsOverdue(id uint64) (bool, error) {
	return l.registry.IsOverdue(id)
}

// PoolSnapshot returns the pool's books.
func (l *Ledger) PoolSnapshot() domain.PoolState {
	return l.pool.Snapshot()
}

// SharesOf returns the LP's share balance.
func (l *Ledger) SharesOf(lp common.Address) *uint256.Int {
	return l.pool.SharesOf(lp)
}

// SharePrice returns the 1e18-scaled assets-per-share price.
func (l *Ledger) SharePrice() *uint256.Int {
	return l.pool.SharePrice()
}

// Strategies lists the registered treasury strategies.
func (l *Ledger) Strategies() []domain.StrategyRecord {
	if l.treasury == nil {
		return nil
	}
	return l.treasury.Records()
}

// RecentEvents returns up to limit committed events, newest first. Empty when
// no event store is configured.
func (l *Ledger) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if l.events == nil {
		return nil, nil
	}
	return l.events.ListRecent(ctx, limit)
}

// Stats assembles the combined snapshot.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Registry:       l.registry.Stats(),
		Pool:           l.pool.Snapshot(),
		SharePrice:     l.pool.SharePrice(),
		UtilizationBps: l.pool.UtilizationRate(),
	}
	if l.treasury != nil {
		tv, err := l.treasury.TotalValue(ctx)
		if err != nil {
			return Stats{}, err
		}
		st.TreasuryValue = tv
	}
	return st, nil
}

package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// InvoiceStore mirrors committed invoice state for durability and queries.
// The in-memory registry remains authoritative during operation; the store is
// written after commit and read at startup rehydration.
type InvoiceStore interface {
	Upsert(ctx context.Context, inv Invoice) error
	GetByID(ctx context.Context, id uint64) (Invoice, error)
	ListByBuyer(ctx context.Context, buyer common.Address, opts ListOpts) ([]Invoice, error)
	ListByStatus(ctx context.Context, status InvoiceStatus, opts ListOpts) ([]Invoice, error)
	// ListSettledBefore returns paid/cancelled/defaulted invoices whose
	// terminal timestamp is strictly before the cutoff, for archival.
	ListSettledBefore(ctx context.Context, before time.Time) ([]Invoice, error)
	ListAll(ctx context.Context) ([]Invoice, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists the emitted event log.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// StrategyStore persists treasury strategy records.
type StrategyStore interface {
	Upsert(ctx context.Context, rec StrategyRecord) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]StrategyRecord, error)
}

// PoolStateStore persists pool snapshots and per-LP share balances.
type PoolStateStore interface {
	Save(ctx context.Context, at time.Time, st PoolState) error
	Latest(ctx context.Context) (PoolState, error)
	SaveAccounts(ctx context.Context, accounts map[common.Address]*uint256.Int) error
	Accounts(ctx context.Context) (map[common.Address]*uint256.Int, error)
}

// Package ledger is the facade in front of the registry, pool, treasury and
// settlement components. It serializes every mutating operation behind one
// lock, performs the role check the operation declares, emits the event
// record after commit and mirrors committed state into the stores.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/pool"
	"github.com/lumenfi/factorpool/internal/registry"
	"github.com/lumenfi/factorpool/internal/settlement"
	"github.com/lumenfi/factorpool/internal/treasury"
)

// Deps carries the components and optional infrastructure a Ledger drives.
// Bus and the stores may be nil; events and mirroring are then skipped.
type Deps struct {
	Registry    *registry.Registry
	Pool        *pool.Pool
	Treasury    *treasury.Allocator
	Coordinator *settlement.Coordinator
	Asset       domain.Asset
	Authz       domain.Authorizer
	PoolAccount common.Address

	Bus        domain.EventBus
	Invoices   domain.InvoiceStore
	Events     domain.EventStore
	Strategies domain.StrategyStore
	PoolState  domain.PoolStateStore

	Logger *slog.Logger
}

// Ledger is the single entry point for ledger operations. One instance per
// deployment; construct more for independent ledgers in tests.
type Ledger struct {
	mu sync.Mutex

	registry *registry.Registry
	pool     *pool.Pool
	treasury *treasury.Allocator
	coord    *settlement.Coordinator
	asset    domain.Asset
	authz    domain.Authorizer

	poolAccount common.Address

	bus        domain.EventBus
	invoices   domain.InvoiceStore
	events     domain.EventStore
	strategies domain.StrategyStore
	poolState  domain.PoolStateStore

	nowFn  func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.nowFn = now }
}

// New creates a Ledger over the given components.
func New(deps Deps, opts ...Option) *Ledger {
	l := &Ledger{
		registry:    deps.Registry,
		pool:        deps.Pool,
		treasury:    deps.Treasury,
		coord:       deps.Coordinator,
		asset:       deps.Asset,
		authz:       deps.Authz,
		poolAccount: deps.PoolAccount,
		bus:         deps.Bus,
		invoices:    deps.Invoices,
		events:      deps.Events,
		strategies:  deps.Strategies,
		poolState:   deps.PoolState,
		nowFn:       time.Now,
		logger:      deps.Logger.With(slog.String("component", "ledger")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Rehydrate reloads the in-memory components from the stores. Strategy
// adapters must be re-registered by the caller before Rehydrate so their
// persisted weight and pause state can be applied.
func (l *Ledger) Rehydrate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.invoices != nil {
		invs, err := l.invoices.ListAll(ctx)
		if err != nil {
			return err
		}
		for _, inv := range invs {
			l.registry.Restore(inv)
		}
		l.logger.Info("invoices rehydrated", slog.Int("count", len(invs)))
	}

	if l.poolState != nil {
		st, err := l.poolState.Latest(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Fresh deployment.
		case err != nil:
			return err
		default:
			accounts, err := l.poolState.Accounts(ctx)
			if err != nil {
				return err
			}
			l.pool.Restore(st, accounts)
			l.logger.Info("pool state rehydrated", slog.Int("accounts", len(accounts)))
		}
	}

	if l.strategies != nil && l.treasury != nil {
		recs, err := l.strategies.List(ctx)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := l.treasury.Restore(rec); err != nil {
				l.logger.Warn("stored strategy has no registered adapter",
					slog.String("strategy", rec.Name),
				)
			}
		}
	}
	return nil
}

// requireRole checks the caller against the authorizer.
func (l *Ledger) requireRole(caller common.Address, role domain.Role) error {
	if l.authz == nil || l.authz.HasRole(caller, role) {
		return nil
	}
	return &domain.UnauthorizedError{Caller: caller, Required: role}
}

// emit publishes the event and appends it to the event store. Both legs are
// best-effort: the state change has already committed and is not rolled back
// for an observability failure.
func (l *Ledger) emit(ctx context.Context, channel, operation string, invoiceID *uint64, amounts map[string]string, actor common.Address) {
	ev := domain.Event{
		ID:        uuid.NewString(),
		Operation: operation,
		InvoiceID: invoiceID,
		Amounts:   amounts,
		Actor:     actor,
		Timestamp: l.nowFn(),
	}

	if l.bus != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = l.bus.Publish(ctx, channel, payload)
		}
		if err != nil {
			l.logger.Warn("event publish failed",
				slog.String("operation", operation),
				slog.String("error", err.Error()),
			)
		}
	}
	if l.events != nil {
		if err := l.events.Append(ctx, ev); err != nil {
			l.logger.Warn("event append failed",
				slog.String("operation", operation),
				slog.String("error", err.Error()),
			)
		}
	}
}

// mirrorInvoice writes the committed invoice to the store.
func (l *Ledger) mirrorInvoice(ctx context.Context, inv domain.Invoice) {
	if l.invoices == nil {
		return
	}
	if err := l.invoices.Upsert(ctx, inv); err != nil {
		l.logger.Error("invoice mirror failed",
			slog.Uint64("invoice_id", inv.ID),
			slog.String("error", err.Error()),
		)
	}
}

// mirrorPool writes the committed pool snapshot and LP balances to the store.
func (l *Ledger) mirrorPool(ctx context.Context) {
	if l.poolState == nil {
		return
	}
	if err := l.poolState.Save(ctx, l.nowFn(), l.pool.Snapshot()); err != nil {
		l.logger.Error("pool snapshot mirror failed", slog.String("error", err.Error()))
		return
	}
	if err := l.poolState.SaveAccounts(ctx, l.pool.Accounts()); err != nil {
		l.logger.Error("pool accounts mirror failed", slog.String("error", err.Error()))
	}
}

// mirrorStrategy writes a committed strategy record to the store.
func (l *Ledger) mirrorStrategy(ctx context.Context, name string) {
	if l.strategies == nil || l.treasury == nil {
		return
	}
	rec, err := l.treasury.Record(name)
	if err != nil {
		return
	}
	if err := l.strategies.Upsert(ctx, rec); err != nil {
		l.logger.Error("strategy mirror failed",
			slog.String("strategy", name),
			slog.String("error", err.Error()),
		)
	}
}

func invoiceIDRef(id uint64) *uint64 { return &id }

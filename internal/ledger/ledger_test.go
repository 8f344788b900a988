package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfi/factorpool/internal/asset/memasset"
	"github.com/lumenfi/factorpool/internal/authz"
	"github.com/lumenfi/factorpool/internal/bus/membus"
	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/pool"
	"github.com/lumenfi/factorpool/internal/registry"
	"github.com/lumenfi/factorpool/internal/settlement"
	"github.com/lumenfi/factorpool/internal/store/memory"
	"github.com/lumenfi/factorpool/internal/treasury"
	"github.com/lumenfi/factorpool/internal/treasury/strategies"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	treas    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	lp       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	supplier = common.HexToAddress("0x2222222222222222222222222222222222222222")
	buyer    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	poolAcct = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// failingAsset wraps a working asset and fails outbound transfers on demand.
type failingAsset struct {
	domain.Asset
	fail bool
}

func (f *failingAsset) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if f.fail {
		return errors.New("transport down")
	}
	return f.Asset.Transfer(ctx, to, amount)
}

type fixture struct {
	ledger    *Ledger
	tokens    *memasset.Ledger
	asset     *failingAsset
	pool      *pool.Pool
	registry  *registry.Registry
	allocator *treasury.Allocator
	bus       *membus.Bus
	invoices  *memory.InvoiceStore
	events    *memory.EventStore
	strats    *memory.StrategyStore
	poolStore *memory.PoolStateStore
	now       *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reg := registry.New(logger, registry.WithClock(clock))
	p := pool.New(pool.Config{MaxTreasuryAllocationBps: 10_000}, logger)
	alloc := treasury.New(treasury.Config{}, logger, treasury.WithClock(clock))
	p.SetTreasuryManager(alloc)

	tokens := memasset.NewLedger()
	asset := &failingAsset{Asset: tokens.Account(poolAcct)}
	coord := settlement.New(reg, p, asset, poolAcct, logger, settlement.WithClock(clock))

	roles := authz.NewStatic(map[domain.Role][]common.Address{
		domain.RoleOwner:    {owner},
		domain.RoleOperator: {operator},
		domain.RoleTreasury: {treas},
		domain.RoleLP:       {lp},
	})

	f := &fixture{
		tokens:    tokens,
		asset:     asset,
		pool:      p,
		registry:  reg,
		allocator: alloc,
		bus:       membus.New(),
		invoices:  memory.NewInvoiceStore(),
		events:    memory.NewEventStore(),
		strats:    memory.NewStrategyStore(),
		poolStore: memory.NewPoolStateStore(),
		now:       &now,
	}
	f.ledger = New(Deps{
		Registry:    reg,
		Pool:        p,
		Treasury:    alloc,
		Coordinator: coord,
		Asset:       asset,
		Authz:       roles,
		PoolAccount: poolAcct,
		Bus:         f.bus,
		Invoices:    f.invoices,
		Events:      f.events,
		Strategies:  f.strats,
		PoolState:   f.poolStore,
		Logger:      logger,
	}, WithClock(clock))
	return f
}

func (f *fixture) seedPool(t *testing.T, amount uint64) {
	t.Helper()
	f.tokens.Mint(lp, uint256.NewInt(amount))
	_, err := f.ledger.Deposit(context.Background(), lp, uint256.NewInt(amount))
	require.NoError(t, err)
}

func (f *fixture) createApproved(t *testing.T, face uint64) uint64 {
	t.Helper()
	inv, err := f.ledger.CreateInvoice(context.Background(), supplier, registry.CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(face),
		DiscountRateBps: 500,
		MaturityDate:    f.now.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.ledger.ApproveInvoice(context.Background(), buyer, inv.ID)
	require.NoError(t, err)
	return inv.ID
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t, 1_000_000)

	// LP deposit pulled the assets into the pool account.
	assert.Equal(t, "1000000", f.tokens.Balance(poolAcct).Dec())
	assert.True(t, f.tokens.Balance(lp).IsZero())
	assert.Equal(t, "1000000", f.ledger.SharesOf(lp).Dec())

	id := f.createApproved(t, 1_000_000)
	_, err := f.ledger.MarkFundingApproved(ctx, operator, id)
	require.NoError(t, err)

	funded, err := f.ledger.FundInvoice(ctx, operator, id)
	require.NoError(t, err)
	assert.Equal(t, "995891", funded.FundingAmount.Dec())
	assert.Equal(t, "995891", f.tokens.Balance(supplier).Dec())

	f.tokens.Mint(buyer, uint256.NewInt(1_000_000))
	paid, err := f.ledger.ProcessRepayment(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)

	// Yield appreciated the share price above 1e18.
	assert.Equal(t, "1004109", f.ledger.PoolSnapshot().TotalAssets().Dec())
	assert.Equal(t, 1, f.ledger.SharePrice().Cmp(uint256.NewInt(domain.SharePriceScale)))

	stats, err := f.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "995891", stats.Registry.TotalFunded.Dec())
	assert.Equal(t, "1000000", stats.Registry.TotalRepaid.Dec())
	assert.Equal(t, uint64(0), stats.UtilizationBps)
}

func TestRoleChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t, 100_000)
	id := f.createApproved(t, 50_000)

	_, err := f.ledger.FundInvoice(ctx, buyer, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.ledger.Deposit(ctx, supplier, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = f.ledger.DepositToTreasury(ctx, lp, uint256.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	err = f.ledger.HaltPool(ctx, operator)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// Owner passes every check.
	_, err = f.ledger.FundInvoice(ctx, owner, id)
	assert.NoError(t, err)
}

func TestWithdrawRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t, 100_000)

	f.asset.fail = true
	_, err := f.ledger.Withdraw(ctx, lp, uint256.NewInt(40_000))
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	// Shares and liquidity restored.
	assert.Equal(t, "100000", f.ledger.SharesOf(lp).Dec())
	assert.Equal(t, "100000", f.ledger.PoolSnapshot().AvailableLiquidity.Dec())

	f.asset.fail = false
	burned, err := f.ledger.Withdraw(ctx, lp, uint256.NewInt(40_000))
	require.NoError(t, err)
	assert.Equal(t, "40000", burned.Dec())
	assert.Equal(t, "40000", f.tokens.Balance(lp).Dec())
}

func TestEventsEmittedAndMirrored(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := f.bus.Subscribe(ctx, "ledger.*")
	require.NoError(t, err)

	f.seedPool(t, 10_000)
	payload := <-sub
	assert.Contains(t, string(payload), "pool.deposit")

	id := f.createApproved(t, 5_000)
	payload = <-sub
	assert.Contains(t, string(payload), "invoice.created")

	// Store mirrors hold the committed state.
	inv, err := f.invoices.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, inv.Status)

	evs, err := f.ledger.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, "invoice.approved", evs[0].Operation)

	st, err := f.poolStore.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10000", st.AvailableLiquidity.Dec())
}

func TestTreasuryOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t, 1_000_000)

	require.NoError(t, f.ledger.AddStrategy(ctx, treas, strategies.NewHold("park"), 10_000))
	require.NoError(t, f.ledger.DepositToTreasury(ctx, treas, uint256.NewInt(300_000)))

	st := f.ledger.PoolSnapshot()
	assert.Equal(t, "300000", st.TotalTreasuryHeld.Dec())
	assert.Equal(t, "700000", st.AvailableLiquidity.Dec())

	// Strategy record mirrored for rehydration.
	recs, err := f.strats.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "park", recs[0].Name)

	require.NoError(t, f.ledger.WithdrawFromTreasury(ctx, treas, uint256.NewInt(100_000)))
	assert.Equal(t, "200000", f.ledger.PoolSnapshot().TotalTreasuryHeld.Dec())

	require.NoError(t, f.ledger.EmergencyWithdrawStrategy(ctx, owner, "park"))
	rec, err := f.allocator.Record("park")
	require.NoError(t, err)
	assert.False(t, rec.Active)
}

func TestRehydrate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedPool(t, 500_000)
	id := f.createApproved(t, 100_000)
	_, err := f.ledger.FundInvoice(ctx, operator, id)
	require.NoError(t, err)

	// Rebuild the in-memory components over the same stores.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(logger)
	p := pool.New(pool.Config{}, logger)
	fresh := New(Deps{
		Registry:  reg,
		Pool:      p,
		Asset:     f.asset,
		Invoices:  f.invoices,
		Events:    f.events,
		PoolState: f.poolStore,
		Logger:    logger,
	})
	require.NoError(t, fresh.Rehydrate(ctx))

	inv, err := fresh.Invoice(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFunded, inv.Status)
	require.NotNil(t, inv.FundingAmount)
	assert.Equal(t, "99590", inv.FundingAmount.Dec())

	st := fresh.PoolSnapshot()
	assert.Equal(t, "500000", st.TotalAssets().Dec())
	assert.Equal(t, "500000", fresh.SharesOf(lp).Dec())
}

package settlement

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
	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/pool"
	"github.com/lumenfi/factorpool/internal/registry"
)

var (
	supplier = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	lp       = common.HexToAddress("0x3333333333333333333333333333333333333333")
	poolAcct = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// brokenAsset fails outbound transfers while delegating everything else.
type brokenAsset struct {
	domain.Asset
	transferErr error
}

func (b *brokenAsset) Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if b.transferErr != nil {
		return b.transferErr
	}
	return b.Asset.Transfer(ctx, to, amount)
}

type fixture struct {
	coord    *Coordinator
	registry *registry.Registry
	pool     *pool.Pool
	ledger   *memasset.Ledger
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith seeds the pool with a 1,000,000 LP deposit and lets the
// caller wrap the asset before the coordinator sees it.
func newFixtureWith(t *testing.T, wrap func(domain.Asset) domain.Asset) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reg := registry.New(logger, registry.WithClock(clock))
	p := pool.New(pool.Config{}, logger)
	ledger := memasset.NewLedger()

	seed := uint256.NewInt(1_000_000)
	_, err := p.Deposit(lp, seed)
	require.NoError(t, err)
	ledger.Mint(poolAcct, seed)

	var asset domain.Asset = ledger.Account(poolAcct)
	if wrap != nil {
		asset = wrap(asset)
	}

	return &fixture{
		coord:    New(reg, p, asset, poolAcct, logger, WithClock(clock)),
		registry: reg,
		pool:     p,
		ledger:   ledger,
		now:      now,
	}
}

// createApproved registers a 1,000,000 face invoice at 500 bps maturing in
// 30 days and approves it. Funding amount at the fixture clock is 995,891.
func (f *fixture) createApproved(t *testing.T) uint64 {
	t.Helper()

	inv, err := f.registry.Create(supplier, registry.CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(1_000_000),
		DiscountRateBps: 500,
		MaturityDate:    f.now.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.registry.Approve(buyer, inv.ID)
	require.NoError(t, err)
	return inv.ID
}

func TestFundInvoice(t *testing.T) {
	f := newFixture(t)
	id := f.createApproved(t)

	inv, err := f.coord.FundInvoice(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFunded, inv.Status)
	require.NotNil(t, inv.FundingAmount)
	assert.Equal(t, "995891", inv.FundingAmount.Dec())

	// Supplier was paid the discounted amount out of the pool account.
	assert.Equal(t, "995891", f.ledger.Balance(supplier).Dec())
	assert.Equal(t, "4109", f.ledger.Balance(poolAcct).Dec())

	st := f.pool.Snapshot()
	assert.Equal(t, "995891", st.TotalDeployed.Dec())
	assert.Equal(t, "4109", st.AvailableLiquidity.Dec())
	assert.Equal(t, "1000000", st.TotalAssets().Dec())
}

func TestFundInvoiceRequiresFundableStatus(t *testing.T) {
	f := newFixture(t)

	inv, err := f.registry.Create(supplier, registry.CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(50_000),
		DiscountRateBps: 100,
		MaturityDate:    f.now.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	_, err = f.coord.FundInvoice(context.Background(), inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.coord.FundInvoice(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestFundInvoiceDoubleFundingRejected(t *testing.T) {
	f := newFixture(t)
	id := f.createApproved(t)

	_, err := f.coord.FundInvoice(context.Background(), id)
	require.NoError(t, err)

	_, err = f.coord.FundInvoice(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestFundInvoiceRollsBackOnTransferFailure(t *testing.T) {
	var broken *brokenAsset
	f := newFixtureWith(t, func(a domain.Asset) domain.Asset {
		broken = &brokenAsset{Asset: a, transferErr: errors.New("rpc timeout")}
		return broken
	})
	id := f.createApproved(t)

	_, err := f.coord.FundInvoice(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	// Both book entries were unwound.
	inv, gerr := f.registry.Get(id)
	require.NoError(t, gerr)
	assert.Equal(t, domain.StatusApproved, inv.Status)
	assert.Nil(t, inv.FundingAmount)

	st := f.pool.Snapshot()
	assert.True(t, st.TotalDeployed.IsZero())
	assert.Equal(t, "1000000", st.AvailableLiquidity.Dec())

	// With the transport healthy again the same invoice funds cleanly.
	broken.transferErr = nil
	_, err = f.coord.FundInvoice(context.Background(), id)
	assert.NoError(t, err)
}

func TestFundInvoiceInsufficientLiquidity(t *testing.T) {
	f := newFixture(t)

	inv, err := f.registry.Create(supplier, registry.CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(5_000_000), // exceeds the pool seed
		DiscountRateBps: 0,
		MaturityDate:    f.now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.registry.Approve(buyer, inv.ID)
	require.NoError(t, err)

	// No treasury manager configured to cover the shortfall.
	_, err = f.coord.FundInvoice(context.Background(), inv.ID)
	assert.ErrorIs(t, err, domain.ErrTreasuryManagerNotSet)
}

func TestProcessRepayment(t *testing.T) {
	f := newFixture(t)
	id := f.createApproved(t)
	_, err := f.coord.FundInvoice(context.Background(), id)
	require.NoError(t, err)

	f.ledger.Mint(buyer, uint256.NewInt(1_000_000))

	inv, err := f.coord.ProcessRepayment(context.Background(), buyer, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, inv.Status)

	// Face value moved buyer -> pool; books split principal and yield.
	assert.True(t, f.ledger.Balance(buyer).IsZero())
	assert.Equal(t, "1004109", f.ledger.Balance(poolAcct).Dec())

	st := f.pool.Snapshot()
	assert.True(t, st.TotalDeployed.IsZero())
	assert.Equal(t, "1004109", st.AvailableLiquidity.Dec())
	assert.Equal(t, "4109", st.TotalInvoiceYield.Dec())
	assert.Equal(t, "1004109", st.TotalAssets().Dec())
}

func TestProcessRepaymentAuthorization(t *testing.T) {
	f := newFixture(t)
	id := f.createApproved(t)
	_, err := f.coord.FundInvoice(context.Background(), id)
	require.NoError(t, err)

	_, err = f.coord.ProcessRepayment(context.Background(), supplier, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	var ue *domain.UnauthorizedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, supplier, ue.Caller)
}

func TestProcessRepaymentRequiresFunded(t *testing.T) {
	f := newFixture(t)
	id := f.createApproved(t)

	_, err := f.coord.ProcessRepayment(context.Background(), buyer, id)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestProcessRepaymentInsufficientBuyerBalance(t *testing.T) {
	f := newFixture(t)
	id := f.createApproved(t)
	_, err := f.coord.FundInvoice(context.Background(), id)
	require.NoError(t, err)

	// Buyer holds nothing; the pull fails and the invoice stays Funded.
	_, err = f.coord.ProcessRepayment(context.Background(), buyer, id)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)

	inv, gerr := f.registry.Get(id)
	require.NoError(t, gerr)
	assert.Equal(t, domain.StatusFunded, inv.Status)
}

func TestProcessRepaymentDoubleRepaymentRejected(t *testing.T) {
	f := newFixture(t)
	id := f.createApproved(t)
	_, err := f.coord.FundInvoice(context.Background(), id)
	require.NoError(t, err)

	f.ledger.Mint(buyer, uint256.NewInt(2_000_000))
	_, err = f.coord.ProcessRepayment(context.Background(), buyer, id)
	require.NoError(t, err)

	_, err = f.coord.ProcessRepayment(context.Background(), buyer, id)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	assert.Equal(t, "1000000", f.ledger.Balance(buyer).Dec(), "second pull never happened")
}

func TestBatchFundSkipsBadIDs(t *testing.T) {
	f := newFixture(t)
	fundable := f.createApproved(t)

	pending, err := f.registry.Create(supplier, registry.CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(10_000),
		DiscountRateBps: 100,
		MaturityDate:    f.now.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	res, err := f.coord.BatchFund(context.Background(), []uint64{fundable, pending.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, []uint64{fundable}, res.Funded)
	assert.Equal(t, []uint64{pending.ID, 999}, res.Skipped)
}

func TestBatchFundAbortsWhenPoolUnconfigured(t *testing.T) {
	f := newFixture(t)

	big, err := f.registry.Create(supplier, registry.CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(5_000_000),
		DiscountRateBps: 0,
		MaturityDate:    f.now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = f.registry.Approve(buyer, big.ID)
	require.NoError(t, err)

	_, err = f.coord.BatchFund(context.Background(), []uint64{big.ID})
	assert.ErrorIs(t, err, domain.ErrTreasuryManagerNotSet)
}

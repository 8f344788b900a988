package registry

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfi/factorpool/internal/domain"
)

var (
	supplier = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stranger = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, WithClock(clock.Now)), clock
}

func createPending(t *testing.T, r *Registry, clock *fakeClock) domain.Invoice {
	t.Helper()
	inv, err := r.Create(supplier, CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(1_000_000),
		DiscountRateBps: 500,
		MaturityDate:    clock.now.Add(30 * 24 * time.Hour),
		ExternalID:      "INV-001",
	})
	require.NoError(t, err)
	return inv
}

func TestCreateValidation(t *testing.T) {
	r, clock := newTestRegistry(t)
	valid := CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(100),
		DiscountRateBps: 100,
		MaturityDate:    clock.now.Add(time.Hour),
	}

	tests := []struct {
		name    string
		mutate  func(*CreateParams)
		wantErr error
	}{
		{"zero buyer", func(p *CreateParams) { p.Buyer = common.Address{} }, domain.ErrZeroAddress},
		{"self dealing", func(p *CreateParams) { p.Buyer = supplier }, domain.ErrSelfDealing},
		{"zero face value", func(p *CreateParams) { p.FaceValue = uint256.NewInt(0) }, domain.ErrZeroAmount},
		{"rate above 10000", func(p *CreateParams) { p.DiscountRateBps = 10_001 }, domain.ErrInvalidRate},
		{"maturity at now", func(p *CreateParams) { p.MaturityDate = clock.now }, domain.ErrMaturityInPast},
		{"maturity in past", func(p *CreateParams) { p.MaturityDate = clock.now.Add(-time.Hour) }, domain.ErrMaturityInPast},
		{
			"face value above 128 bits",
			func(p *CreateParams) { p.FaceValue = new(uint256.Int).Lsh(uint256.NewInt(1), 128) },
			domain.ErrAmountTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := r.Create(supplier, p)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	inv, err := r.Create(supplier, valid)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), inv.ID)
	assert.Equal(t, domain.StatusPending, inv.Status)
	assert.Nil(t, inv.FundingAmount)

	inv2, err := r.Create(supplier, valid)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), inv2.ID, "ids are a monotonic counter")
}

func TestApprove(t *testing.T) {
	r, clock := newTestRegistry(t)
	inv := createPending(t, r, clock)

	_, err := r.Approve(stranger, inv.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := r.Approve(buyer, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	require.NotNil(t, got.ApprovedAt)
	assert.Equal(t, clock.now, *got.ApprovedAt)

	_, err = r.Approve(buyer, inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = r.Approve(buyer, 99)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestCancelOnlyWhilePending(t *testing.T) {
	r, clock := newTestRegistry(t)

	inv := createPending(t, r, clock)
	_, err := r.Cancel(stranger, inv.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, err := r.Cancel(supplier, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)

	// Approved invoices can no longer be cancelled.
	inv2 := createPending(t, r, clock)
	_, err = r.Approve(buyer, inv2.ID)
	require.NoError(t, err)
	_, err = r.Cancel(buyer, inv2.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestFundingFlow(t *testing.T) {
	r, clock := newTestRegistry(t)
	inv := createPending(t, r, clock)

	// Cannot fund a pending invoice.
	_, err := r.MarkFunded(inv.ID, uint256.NewInt(990_000))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = r.Approve(buyer, inv.ID)
	require.NoError(t, err)

	// Funding from Approved works; FundingApproved is optional.
	funded, err := r.MarkFunded(inv.ID, uint256.NewInt(990_000))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFunded, funded.Status)
	assert.Equal(t, "990000", funded.FundingAmount.Dec())

	// Funding twice is rejected.
	_, err = r.MarkFunded(inv.ID, uint256.NewInt(990_000))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	// The stored funding amount is returned verbatim later, even after time
	// has passed.
	clock.Advance(20 * 24 * time.Hour)
	got, err := r.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "990000", got.FundingAmount.Dec())

	paid, err := r.MarkPaid(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)

	stats := r.Stats()
	assert.Equal(t, "990000", stats.TotalFunded.Dec())
	assert.Equal(t, "1000000", stats.TotalRepaid.Dec())
	assert.Equal(t, 0, stats.ActiveCount)
}

func TestMarkFundedRejectsAboveFace(t *testing.T) {
	r, clock := newTestRegistry(t)
	inv := createPending(t, r, clock)
	_, err := r.Approve(buyer, inv.ID)
	require.NoError(t, err)

	_, err = r.MarkFunded(inv.ID, uint256.NewInt(1_000_001))
	assert.ErrorIs(t, err, domain.ErrAmountTooLarge)
}

func TestFundingApprovedStep(t *testing.T) {
	r, clock := newTestRegistry(t)
	inv := createPending(t, r, clock)

	_, err := r.MarkFundingApproved(inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = r.Approve(buyer, inv.ID)
	require.NoError(t, err)
	got, err := r.MarkFundingApproved(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFundingApproved, got.Status)

	_, err = r.MarkFunded(inv.ID, uint256.NewInt(1))
	require.NoError(t, err)
}

func TestUnmarkFundedRollback(t *testing.T) {
	r, clock := newTestRegistry(t)
	inv := createPending(t, r, clock)
	_, err := r.Approve(buyer, inv.ID)
	require.NoError(t, err)
	_, err = r.MarkFunded(inv.ID, uint256.NewInt(990_000))
	require.NoError(t, err)

	require.NoError(t, r.UnmarkFunded(inv.ID, domain.StatusApproved))

	got, err := r.Get(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
	assert.Nil(t, got.FundingAmount)
	assert.Nil(t, got.FundedAt)
	assert.True(t, r.Stats().TotalFunded.IsZero())
}

func TestMarkDefaultedBoundary(t *testing.T) {
	r, clock := newTestRegistry(t)
	inv := createPending(t, r, clock)
	_, err := r.Approve(buyer, inv.ID)
	require.NoError(t, err)
	_, err = r.MarkFunded(inv.ID, uint256.NewInt(990_000))
	require.NoError(t, err)

	// Exactly at maturity: not yet overdue.
	clock.now = inv.MaturityDate
	_, err = r.MarkDefaulted(inv.ID)
	assert.ErrorIs(t, err, domain.ErrNotOverdue)

	overdue, err := r.IsOverdue(inv.ID)
	require.NoError(t, err)
	assert.False(t, overdue)

	// One second later: default succeeds.
	clock.Advance(time.Second)
	overdue, err = r.IsOverdue(inv.ID)
	require.NoError(t, err)
	assert.True(t, overdue)

	got, err := r.MarkDefaulted(inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDefaulted, got.Status)
}

func TestProcessOrderNeverSkipsStates(t *testing.T) {
	r, clock := newTestRegistry(t)
	inv := createPending(t, r, clock)

	// Paid requires Funded.
	_, err := r.MarkPaid(inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	// Defaulted requires Funded.
	_, err = r.MarkDefaulted(inv.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestBuyerQueries(t *testing.T) {
	r, clock := newTestRegistry(t)

	first := createPending(t, r, clock)
	second, err := r.Create(supplier, CreateParams{
		Buyer:           buyer,
		FaceValue:       uint256.NewInt(500_000),
		DiscountRateBps: 300,
		MaturityDate:    clock.now.Add(10 * 24 * time.Hour),
	})
	require.NoError(t, err)

	pending := r.PendingApprovals(buyer)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)

	_, err = r.Approve(buyer, first.ID)
	require.NoError(t, err)
	_, err = r.Approve(buyer, second.ID)
	require.NoError(t, err)
	_, err = r.MarkFunded(first.ID, uint256.NewInt(1))
	require.NoError(t, err)
	_, err = r.MarkFunded(second.ID, uint256.NewInt(1))
	require.NoError(t, err)

	// Upcoming repayments are sorted by maturity, soonest first.
	upcoming := r.UpcomingRepayments(buyer)
	require.Len(t, upcoming, 2)
	assert.Equal(t, second.ID, upcoming[0].ID)
	assert.Empty(t, r.UpcomingRepayments(stranger))
}

func TestRestoreRebuildsCounters(t *testing.T) {
	r, clock := newTestRegistry(t)
	inv := createPending(t, r, clock)
	_, err := r.Approve(buyer, inv.ID)
	require.NoError(t, err)
	funded, err := r.MarkFunded(inv.ID, uint256.NewInt(990_000))
	require.NoError(t, err)

	fresh, _ := newTestRegistry(t)
	fresh.Restore(funded)

	stats := fresh.Stats()
	assert.Equal(t, "990000", stats.TotalFunded.Dec())
	assert.Equal(t, 1, stats.ActiveCount)
	assert.Equal(t, inv.ID+1, stats.NextID)
}

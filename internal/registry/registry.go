// Package registry owns invoice records and their lifecycle state machine.
//
// Legal transitions:
//
//	Pending -> Approved -> [FundingApproved] -> Funded -> Paid
//	Pending -> Cancelled
//	Funded  -> Defaulted (strictly past maturity)
//
// The registry checks buyer/supplier identity itself; role-gated transitions
// (funding, default) are authorized by the caller before they reach here.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/discount"
	"github.com/lumenfi/factorpool/internal/domain"
)

// maxFaceValueBits bounds face values so discount math stays overflow-free.
const maxFaceValueBits = 128

// Registry is the in-memory invoice ledger. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	invoices map[uint64]*domain.Invoice
	nextID   uint64

	totalFunded *uint256.Int
	totalRepaid *uint256.Int
	activeCount int

	nowFn  func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.nowFn = now }
}

// New creates an empty Registry. Invoice IDs start at 1.
func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		invoices:    make(map[uint64]*domain.Invoice),
		nextID:      1,
		totalFunded: uint256.NewInt(0),
		totalRepaid: uint256.NewInt(0),
		nowFn:       time.Now,
		logger:      logger.With(slog.String("component", "registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateParams carries the supplier-provided fields for a new invoice.
type CreateParams struct {
	Buyer           common.Address
	FaceValue       *uint256.Int
	DiscountRateBps uint16
	MaturityDate    time.Time
	ContentHash     common.Hash
	ExternalID      string
}

// Create registers a new invoice with the caller as supplier and returns it
// in Pending status.
func (r *Registry) Create(supplier common.Address, p CreateParams) (domain.Invoice, error) {
	if supplier == (common.Address{}) || p.Buyer == (common.Address{}) {
		return domain.Invoice{}, domain.ErrZeroAddress
	}
	if p.Buyer == supplier {
		return domain.Invoice{}, domain.ErrSelfDealing
	}
	if p.FaceValue == nil || p.FaceValue.IsZero() {
		return domain.Invoice{}, domain.ErrZeroAmount
	}
	if p.FaceValue.BitLen() > maxFaceValueBits {
		return domain.Invoice{}, domain.ErrAmountTooLarge
	}
	if err := discount.ValidateRate(p.DiscountRateBps); err != nil {
		return domain.Invoice{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	if !p.MaturityDate.After(now) {
		return domain.Invoice{}, domain.ErrMaturityInPast
	}

	inv := &domain.Invoice{
		ID:              r.nextID,
		Supplier:        supplier,
		Buyer:           p.Buyer,
		FaceValue:       new(uint256.Int).Set(p.FaceValue),
		DiscountRateBps: p.DiscountRateBps,
		MaturityDate:    p.MaturityDate,
		Status:          domain.StatusPending,
		CreatedAt:       now,
		ContentHash:     p.ContentHash,
		ExternalID:      p.ExternalID,
	}
	r.invoices[inv.ID] = inv
	r.nextID++
	r.activeCount++

	r.logger.Info("invoice created",
		slog.Uint64("id", inv.ID),
		slog.String("supplier", supplier.Hex()),
		slog.String("buyer", p.Buyer.Hex()),
		slog.String("face_value", inv.FaceValue.Dec()),
	)
	return inv.Clone(), nil
}

// Approve moves Pending -> Approved. Caller must be the invoice's buyer.
func (r *Registry) Approve(caller common.Address, id uint64) (domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, err := r.get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.Buyer != caller {
		return domain.Invoice{}, &domain.UnauthorizedError{Caller: caller, Required: "buyer"}
	}
	if inv.Status != domain.StatusPending {
		return domain.Invoice{}, domain.NewInvalidStatus(id, inv.Status, domain.StatusPending)
	}

	now := r.nowFn()
	inv.Status = domain.StatusApproved
	inv.ApprovedAt = &now
	return inv.Clone(), nil
}

// Cancel moves Pending -> Cancelled. Caller must be buyer or supplier. Once
// approved, cancellation is no longer permitted.
func (r *Registry) Cancel(caller common.Address, id uint64) (domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, err := r.get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if caller != inv.Buyer && caller != inv.Supplier {
		return domain.Invoice{}, &domain.UnauthorizedError{Caller: caller, Required: "buyer or supplier"}
	}
	if inv.Status != domain.StatusPending {
		return domain.Invoice{}, domain.NewInvalidStatus(id, inv.Status, domain.StatusPending)
	}

	now := r.nowFn()
	inv.Status = domain.StatusCancelled
	inv.CancelledAt = &now
	r.activeCount--
	return inv.Clone(), nil
}

// MarkFundingApproved is the optional operator pre-clearance step,
// Approved -> FundingApproved. Advisory gating only; no capital moves here.
func (r *Registry) MarkFundingApproved(id uint64) (domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, err := r.get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.Status != domain.StatusApproved {
		return domain.Invoice{}, domain.NewInvalidStatus(id, inv.Status, domain.StatusApproved)
	}
	inv.Status = domain.StatusFundingApproved
	return inv.Clone(), nil
}

// MarkFunded stores the funding amount and moves the invoice to Funded.
// The amount is recorded exactly once and never recomputed afterward.
func (r *Registry) MarkFunded(id uint64, fundingAmount *uint256.Int) (domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, err := r.get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if !inv.Status.Fundable() {
		return domain.Invoice{}, domain.NewInvalidStatus(id, inv.Status,
			domain.StatusApproved, domain.StatusFundingApproved)
	}
	if fundingAmount == nil {
		return domain.Invoice{}, domain.ErrZeroAmount
	}
	if fundingAmount.Cmp(inv.FaceValue) > 0 {
		return domain.Invoice{}, fmt.Errorf("registry: funding amount exceeds face value: %w", domain.ErrAmountTooLarge)
	}

	now := r.nowFn()
	inv.Status = domain.StatusFunded
	inv.FundingAmount = new(uint256.Int).Set(fundingAmount)
	inv.FundedAt = &now
	r.totalFunded.Add(r.totalFunded, fundingAmount)
	return inv.Clone(), nil
}

// UnmarkFunded is the compensating rollback used by the settlement
// coordinator when the outbound supplier transfer fails after MarkFunded.
// It restores the pre-funding state; it is not a lifecycle edge.
func (r *Registry) UnmarkFunded(id uint64, previous domain.InvoiceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, err := r.get(id)
	if err != nil {
		return err
	}
	if inv.Status != domain.StatusFunded || !previous.Fundable() {
		return domain.NewInvalidStatus(id, inv.Status, domain.StatusFunded)
	}
	r.totalFunded.Sub(r.totalFunded, inv.FundingAmount)
	inv.Status = previous
	inv.FundingAmount = nil
	inv.FundedAt = nil
	return nil
}

// MarkPaid moves Funded -> Paid.
func (r *Registry) MarkPaid(id uint64) (domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, err := r.get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.Status != domain.StatusFunded {
		return domain.Invoice{}, domain.NewInvalidStatus(id, inv.Status, domain.StatusFunded)
	}

	now := r.nowFn()
	inv.Status = domain.StatusPaid
	inv.PaidAt = &now
	r.totalRepaid.Add(r.totalRepaid, inv.FaceValue)
	r.activeCount--
	return inv.Clone(), nil
}

// MarkDefaulted moves Funded -> Defaulted. Only legal strictly past
// maturity; exactly at maturity the invoice is not yet overdue.
func (r *Registry) MarkDefaulted(id uint64) (domain.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, err := r.get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if inv.Status != domain.StatusFunded {
		return domain.Invoice{}, domain.NewInvalidStatus(id, inv.Status, domain.StatusFunded)
	}
	now := r.nowFn()
	if !now.After(inv.MaturityDate) {
		return domain.Invoice{}, domain.ErrNotOverdue
	}

	inv.Status = domain.StatusDefaulted
	inv.DefaultedAt = &now
	r.activeCount--
	r.logger.Warn("invoice defaulted",
		slog.Uint64("id", id),
		slog.String("face_value", inv.FaceValue.Dec()),
	)
	return inv.Clone(), nil
}

// Get returns a copy of the invoice.
func (r *Registry) Get(id uint64) (domain.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, err := r.get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return inv.Clone(), nil
}

// IsOverdue reports whether the invoice is funded and strictly past maturity.
func (r *Registry) IsOverdue(id uint64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, err := r.get(id)
	if err != nil {
		return false, err
	}
	return inv.Overdue(r.nowFn()), nil
}

// PendingApprovals lists invoices awaiting the given buyer's approval.
func (r *Registry) PendingApprovals(buyer common.Address) []domain.Invoice {
	return r.listByBuyer(buyer, domain.StatusPending)
}

// UpcomingRepayments lists funded invoices owed by the given buyer, soonest
// maturity first.
func (r *Registry) UpcomingRepayments(buyer common.Address) []domain.Invoice {
	out := r.listByBuyer(buyer, domain.StatusFunded)
	sort.Slice(out, func(i, j int) bool {
		return out[i].MaturityDate.Before(out[j].MaturityDate)
	})
	return out
}

// Stats returns a snapshot of registry-wide counters.
func (r *Registry) Stats() domain.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return domain.RegistryStats{
		TotalFunded: new(uint256.Int).Set(r.totalFunded),
		TotalRepaid: new(uint256.Int).Set(r.totalRepaid),
		ActiveCount: r.activeCount,
		NextID:      r.nextID,
	}
}

// All returns copies of every invoice, ordered by ID.
func (r *Registry) All() []domain.Invoice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Invoice, 0, len(r.invoices))
	for _, inv := range r.invoices {
		out = append(out, inv.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore loads a persisted invoice during startup rehydration. It bypasses
// transition checks and must not be called on a live registry.
func (r *Registry) Restore(inv domain.Invoice) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := inv.Clone()
	r.invoices[cp.ID] = &cp
	if cp.ID >= r.nextID {
		r.nextID = cp.ID + 1
	}
	if !cp.Status.Terminal() {
		r.activeCount++
	}
	if cp.FundingAmount != nil {
		r.totalFunded.Add(r.totalFunded, cp.FundingAmount)
	}
	if cp.Status == domain.StatusPaid {
		r.totalRepaid.Add(r.totalRepaid, cp.FaceValue)
	}
}

func (r *Registry) get(id uint64) (*domain.Invoice, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %d: %w", id, domain.ErrInvoiceNotFound)
	}
	return inv, nil
}

func (r *Registry) listByBuyer(buyer common.Address, status domain.InvoiceStatus) []domain.Invoice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Invoice
	for _, inv := range r.invoices {
		if inv.Buyer == buyer && inv.Status == status {
			out = append(out, inv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

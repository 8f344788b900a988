package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvoiceStatus tracks the invoice lifecycle.
type InvoiceStatus string

const (
	StatusPending         InvoiceStatus = "pending"
	StatusApproved        InvoiceStatus = "approved"
	StatusFundingApproved InvoiceStatus = "funding_approved"
	StatusFunded          InvoiceStatus = "funded"
	StatusPaid            InvoiceStatus = "paid"
	StatusCancelled       InvoiceStatus = "cancelled"
	StatusDefaulted       InvoiceStatus = "defaulted"
)

// Terminal reports whether the status admits no further transitions.
func (s InvoiceStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusDefaulted:
		return true
	}
	return false
}

// Fundable reports whether an invoice in this status may be funded.
func (s InvoiceStatus) Fundable() bool {
	return s == StatusApproved || s == StatusFundingApproved
}

// Invoice is a receivable submitted by a supplier against a buyer. Records
// are never deleted; terminal statuses are final.
type Invoice struct {
	ID              uint64
	Supplier        common.Address
	Buyer           common.Address
	FaceValue       *uint256.Int
	DiscountRateBps uint16
	MaturityDate    time.Time
	Status          InvoiceStatus

	// FundingAmount is set exactly once, at the Funded transition, and is
	// never recomputed afterward. Nil until funded.
	FundingAmount *uint256.Int

	CreatedAt   time.Time
	ApprovedAt  *time.Time
	FundedAt    *time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time
	DefaultedAt *time.Time

	ContentHash common.Hash
	ExternalID  string
}

// Clone returns a deep copy so callers cannot mutate registry-owned state.
func (inv *Invoice) Clone() Invoice {
	out := *inv
	if inv.FaceValue != nil {
		out.FaceValue = new(uint256.Int).Set(inv.FaceValue)
	}
	if inv.FundingAmount != nil {
		out.FundingAmount = new(uint256.Int).Set(inv.FundingAmount)
	}
	out.ApprovedAt = cloneTime(inv.ApprovedAt)
	out.FundedAt = cloneTime(inv.FundedAt)
	out.PaidAt = cloneTime(inv.PaidAt)
	out.CancelledAt = cloneTime(inv.CancelledAt)
	out.DefaultedAt = cloneTime(inv.DefaultedAt)
	return out
}

// Overdue reports whether the invoice is funded and strictly past maturity.
// At-maturity is not yet overdue.
func (inv *Invoice) Overdue(now time.Time) bool {
	return inv.Status == StatusFunded && now.After(inv.MaturityDate)
}

// YieldAmount returns faceValue - fundingAmount, the spread owed to LPs at
// repayment. Zero if the invoice has not been funded.
func (inv *Invoice) YieldAmount() *uint256.Int {
	if inv.FundingAmount == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(inv.FaceValue, inv.FundingAmount)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// RegistryStats is a snapshot of registry-wide counters.
type RegistryStats struct {
	TotalFunded *uint256.Int // cumulative funding advanced
	TotalRepaid *uint256.Int // cumulative face value repaid
	ActiveCount int          // invoices in a non-terminal status
	NextID      uint64
}

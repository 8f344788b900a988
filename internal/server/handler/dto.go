package handler

import (
	"time"

	"github.com/lumenfi/factorpool/internal/domain"
)

// invoiceDTO is the JSON wire shape of an invoice. Amounts are decimal
// strings; nil timestamps are omitted.
type invoiceDTO struct {
	ID              uint64     `json:"id"`
	Supplier        string     `json:"supplier"`
	Buyer           string     `json:"buyer"`
	FaceValue       string     `json:"face_value"`
	DiscountRateBps uint16     `json:"discount_rate_bps"`
	MaturityDate    time.Time  `json:"maturity_date"`
	Status          string     `json:"status"`
	FundingAmount   string     `json:"funding_amount,omitempty"`
	ContentHash     string     `json:"content_hash"`
	ExternalID      string     `json:"external_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	FundedAt        *time.Time `json:"funded_at,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	DefaultedAt     *time.Time `json:"defaulted_at,omitempty"`
}

func toInvoiceDTO(inv domain.Invoice) invoiceDTO {
	dto := invoiceDTO{
		ID:              inv.ID,
		Supplier:        inv.Supplier.Hex(),
		Buyer:           inv.Buyer.Hex(),
		FaceValue:       inv.FaceValue.Dec(),
		DiscountRateBps: inv.DiscountRateBps,
		MaturityDate:    inv.MaturityDate,
		Status:          string(inv.Status),
		ContentHash:     inv.ContentHash.Hex(),
		ExternalID:      inv.ExternalID,
		CreatedAt:       inv.CreatedAt,
		ApprovedAt:      inv.ApprovedAt,
		FundedAt:        inv.FundedAt,
		PaidAt:          inv.PaidAt,
		CancelledAt:     inv.CancelledAt,
		DefaultedAt:     inv.DefaultedAt,
	}
	if inv.FundingAmount != nil {
		dto.FundingAmount = inv.FundingAmount.Dec()
	}
	return dto
}

func toInvoiceDTOs(invs []domain.Invoice) []invoiceDTO {
	out := make([]invoiceDTO, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toInvoiceDTO(inv))
	}
	return out
}

// poolDTO is the JSON wire shape of the pool state.
type poolDTO struct {
	TotalShares              string `json:"total_shares"`
	AvailableLiquidity       string `json:"available_liquidity"`
	TotalDeployed            string `json:"total_deployed"`
	TotalTreasuryHeld        string `json:"total_treasury_held"`
	TotalInvoiceYield        string `json:"total_invoice_yield"`
	TotalAssets              string `json:"total_assets"`
	LiquidityBuffer          string `json:"liquidity_buffer"`
	MaxTreasuryAllocationBps uint16 `json:"max_treasury_allocation_bps"`
	Halted                   bool   `json:"halted"`
}

func toPoolDTO(st domain.PoolState) poolDTO {
	return poolDTO{
		TotalShares:              st.TotalShares.Dec(),
		AvailableLiquidity:       st.AvailableLiquidity.Dec(),
		TotalDeployed:            st.TotalDeployed.Dec(),
		TotalTreasuryHeld:        st.TotalTreasuryHeld.Dec(),
		TotalInvoiceYield:        st.TotalInvoiceYield.Dec(),
		TotalAssets:              st.TotalAssets().Dec(),
		LiquidityBuffer:          st.LiquidityBuffer.Dec(),
		MaxTreasuryAllocationBps: st.MaxTreasuryAllocationBps,
		Halted:                   st.Halted,
	}
}

// strategyDTO is the JSON wire shape of a registered strategy.
type strategyDTO struct {
	Name        string     `json:"name"`
	WeightBps   uint16     `json:"weight_bps"`
	Active      bool       `json:"active"`
	AddedAt     time.Time  `json:"added_at"`
	LastHarvest *time.Time `json:"last_harvest,omitempty"`
}

func toStrategyDTOs(recs []domain.StrategyRecord) []strategyDTO {
	out := make([]strategyDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, strategyDTO{
			Name:        rec.Name,
			WeightBps:   rec.WeightBps,
			Active:      rec.Active,
			AddedAt:     rec.AddedAt,
			LastHarvest: rec.LastHarvest,
		})
	}
	return out
}

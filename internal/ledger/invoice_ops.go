package ledger

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/registry"
	"github.com/lumenfi/factorpool/internal/settlement"
)

// CreateInvoice registers a new invoice with the caller as supplier.
func (l *Ledger) CreateInvoice(ctx context.Context, caller common.Address, p registry.CreateParams) (domain.Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.registry.Create(caller, p)
	if err != nil {
		return domain.Invoice{}, err
	}

	l.mirrorInvoice(ctx, inv)
	l.emit(ctx, domain.ChannelInvoice, "invoice.created", invoiceIDRef(inv.ID), map[string]string{
		"face_value": inv.FaceValue.Dec(),
	}, caller)
	return inv, nil
}

// ApproveInvoice records the buyer's approval of a pending invoice.
func (l *Ledger) ApproveInvoice(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.registry.Approve(caller, id)
	if err != nil {
		return domain.Invoice{}, err
	}

	l.mirrorInvoice(ctx, inv)
	l.emit(ctx, domain.ChannelInvoice, "invoice.approved", invoiceIDRef(id), nil, caller)
	return inv, nil
}

// CancelInvoice cancels a pending invoice. Buyer or supplier only.
func (l *Ledger) CancelInvoice(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.registry.Cancel(caller, id)
	if err != nil {
		return domain.Invoice{}, err
	}

	l.mirrorInvoice(ctx, inv)
	l.emit(ctx, domain.ChannelInvoice, "invoice.cancelled", invoiceIDRef(id), nil, caller)
	return inv, nil
}

// MarkFundingApproved is the operator's pre-clearance step before funding.
func (l *Ledger) MarkFundingApproved(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error) {
	if err := l.requireRole(caller, domain.RoleOperator); err != nil {
		return domain.Invoice{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.registry.MarkFundingApproved(id)
	if err != nil {
		return domain.Invoice{}, err
	}

	l.mirrorInvoice(ctx, inv)
	l.emit(ctx, domain.ChannelInvoice, "invoice.funding_approved", invoiceIDRef(id), nil, caller)
	return inv, nil
}

// MarkDefaulted marks a funded invoice as defaulted. Operator only; legal
// strictly after maturity.
func (l *Ledger) MarkDefaulted(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error) {
	if err := l.requireRole(caller, domain.RoleOperator); err != nil {
		return domain.Invoice{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.registry.MarkDefaulted(id)
	if err != nil {
		return domain.Invoice{}, err
	}

	l.mirrorInvoice(ctx, inv)
	l.emit(ctx, domain.ChannelInvoice, "invoice.defaulted", invoiceIDRef(id), map[string]string{
		"face_value": inv.FaceValue.Dec(),
	}, caller)
	return inv, nil
}

// FundInvoice deploys pool capital against an approved invoice and pays the
// supplier. Operator only.
func (l *Ledger) FundInvoice(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error) {
	if err := l.requireRole(caller, domain.RoleOperator); err != nil {
		return domain.Invoice{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.coord.FundInvoice(ctx, id)
	if err != nil {
		return domain.Invoice{}, err
	}

	l.mirrorInvoice(ctx, inv)
	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelSettlement, "settlement.funded", invoiceIDRef(id), map[string]string{
		"face_value":     inv.FaceValue.Dec(),
		"funding_amount": inv.FundingAmount.Dec(),
	}, caller)
	return inv, nil
}

// BatchFund funds each id, skipping unfundable ones. Operator only.
func (l *Ledger) BatchFund(ctx context.Context, caller common.Address, ids []uint64) (settlement.BatchResult, error) {
	if err := l.requireRole(caller, domain.RoleOperator); err != nil {
		return settlement.BatchResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.coord.BatchFund(ctx, ids)
	if err != nil {
		return res, err
	}

	for _, id := range res.Funded {
		if inv, gerr := l.registry.Get(id); gerr == nil {
			l.mirrorInvoice(ctx, inv)
		}
	}
	if len(res.Funded) > 0 {
		l.mirrorPool(ctx)
		l.emit(ctx, domain.ChannelSettlement, "settlement.batch_funded", nil, map[string]string{
			"funded":  strconv.Itoa(len(res.Funded)),
			"skipped": strconv.Itoa(len(res.Skipped)),
		}, caller)
	}
	return res, nil
}

// ProcessRepayment pulls the face value from the buyer and settles the
// invoice. Caller must be the invoice's buyer.
func (l *Ledger) ProcessRepayment(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.coord.ProcessRepayment(ctx, caller, id)
	if err != nil {
		return domain.Invoice{}, err
	}

	l.mirrorInvoice(ctx, inv)
	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelSettlement, "settlement.repaid", invoiceIDRef(id), map[string]string{
		"face_value":     inv.FaceValue.Dec(),
		"funding_amount": inv.FundingAmount.Dec(),
		"yield":          inv.YieldAmount().Dec(),
	}, caller)
	return inv, nil
}

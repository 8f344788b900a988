// Package settlement orchestrates the multi-component operations that move
// real value: funding an approved invoice and recording its repayment. Each
// operation finalizes the internal books before issuing the external
// transfer; a failed transfer triggers the compensating rollbacks so no
// partial mutation stays observable.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/discount"
	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/pool"
	"github.com/lumenfi/factorpool/internal/registry"
)

// Coordinator wires the invoice registry, the capital pool and the backing
// asset together. It does not do its own locking; the ledger facade
// serializes calls, and the components it drives are individually safe.
type Coordinator struct {
	registry *registry.Registry
	pool     *pool.Pool
	asset    domain.Asset

	// poolAccount is the holding account repayments are pulled into and
	// supplier fundings are paid out of.
	poolAccount common.Address

	nowFn  func() time.Time
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.nowFn = now }
}

// New creates a Coordinator over the given components.
func New(reg *registry.Registry, p *pool.Pool, asset domain.Asset, poolAccount common.Address, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:    reg,
		pool:        p,
		asset:       asset,
		poolAccount: poolAccount,
		nowFn:       time.Now,
		logger:      logger.With(slog.String("component", "settlement")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FundInvoice deploys pool capital against an approved invoice and pays the
// discounted amount to the supplier. The funding amount is computed from the
// invoice's stored rate and maturity at the current time, then stored on the
// invoice; it is never recomputed afterward.
//
// Ordering: pool deploy, then registry transition, then the outbound
// transfer. A transfer failure unwinds both book entries.
func (c *Coordinator) FundInvoice(ctx context.Context, id uint64) (domain.Invoice, error) {
	inv, err := c.registry.Get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if !inv.Status.Fundable() {
		return domain.Invoice{}, domain.NewInvalidStatus(id, inv.Status,
			domain.StatusApproved, domain.StatusFundingApproved)
	}

	funding := discount.FundingAmount(inv.FaceValue, inv.DiscountRateBps, inv.MaturityDate, c.nowFn())
	if funding.IsZero() {
		return domain.Invoice{}, fmt.Errorf("settlement: invoice %d funds to zero: %w", id, domain.ErrZeroAmount)
	}
	previous := inv.Status

	if err := c.pool.DeployForFunding(ctx, funding, id); err != nil {
		return domain.Invoice{}, fmt.Errorf("settlement: deploy for invoice %d: %w", id, err)
	}

	funded, err := c.registry.MarkFunded(id, funding)
	if err != nil {
		c.pool.UndoDeploy(funding)
		return domain.Invoice{}, fmt.Errorf("settlement: mark funded %d: %w", id, err)
	}

	if err := c.asset.Transfer(ctx, inv.Supplier, funding); err != nil {
		if uerr := c.registry.UnmarkFunded(id, previous); uerr != nil {
			c.logger.Error("funding rollback failed",
				slog.Uint64("invoice_id", id),
				slog.String("error", uerr.Error()),
			)
		}
		c.pool.UndoDeploy(funding)
		return domain.Invoice{}, fmt.Errorf("settlement: pay supplier for invoice %d: %w: %w",
			id, domain.ErrTransferFailed, err)
	}

	c.logger.Info("invoice funded",
		slog.Uint64("invoice_id", id),
		slog.String("supplier", inv.Supplier.Hex()),
		slog.String("face_value", inv.FaceValue.Dec()),
		slog.String("funding_amount", funding.Dec()),
	)
	return funded, nil
}

// BatchResult summarizes a BatchFund run.
type BatchResult struct {
	Funded  []uint64
	Skipped []uint64
}

// BatchFund funds each id in turn. Ids that are missing, not in a fundable
// status, or that fail individually are skipped rather than failing the
// batch. The batch aborts only when the pool itself cannot serve any
// funding: no treasury manager configured, or the pool halted.
func (c *Coordinator) BatchFund(ctx context.Context, ids []uint64) (BatchResult, error) {
	var res BatchResult
	for _, id := range ids {
		inv, err := c.registry.Get(id)
		if err != nil || !inv.Status.Fundable() {
			res.Skipped = append(res.Skipped, id)
			continue
		}

		if _, err := c.FundInvoice(ctx, id); err != nil {
			if errors.Is(err, domain.ErrTreasuryManagerNotSet) || errors.Is(err, domain.ErrPoolHalted) {
				return res, err
			}
			c.logger.Warn("batch funding skipped invoice",
				slog.Uint64("invoice_id", id),
				slog.String("error", err.Error()),
			)
			res.Skipped = append(res.Skipped, id)
			continue
		}
		res.Funded = append(res.Funded, id)
	}
	return res, nil
}

// ProcessRepayment pulls the face value from the buyer, books principal and
// yield into the pool and marks the invoice paid. The incoming transfer
// happens first; a failure booking the repayment refunds the buyer.
func (c *Coordinator) ProcessRepayment(ctx context.Context, caller common.Address, id uint64) (domain.Invoice, error) {
	inv, err := c.registry.Get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if caller != inv.Buyer {
		return domain.Invoice{}, &domain.UnauthorizedError{Caller: caller, Required: "buyer"}
	}
	if inv.Status != domain.StatusFunded {
		return domain.Invoice{}, domain.NewInvalidStatus(id, inv.Status, domain.StatusFunded)
	}

	if err := c.asset.TransferFrom(ctx, inv.Buyer, c.poolAccount, inv.FaceValue); err != nil {
		return domain.Invoice{}, fmt.Errorf("settlement: collect repayment for invoice %d: %w: %w",
			id, domain.ErrTransferFailed, err)
	}

	principal := new(uint256.Int).Set(inv.FundingAmount)
	yield := new(uint256.Int).Sub(inv.FaceValue, inv.FundingAmount)

	if err := c.pool.ReceiveRepayment(principal, yield, id); err != nil {
		if rerr := c.asset.Transfer(ctx, inv.Buyer, inv.FaceValue); rerr != nil {
			c.logger.Error("repayment refund failed",
				slog.Uint64("invoice_id", id),
				slog.String("error", rerr.Error()),
			)
		}
		return domain.Invoice{}, fmt.Errorf("settlement: book repayment for invoice %d: %w", id, err)
	}

	paid, err := c.registry.MarkPaid(id)
	if err != nil {
		// Funded status was verified above; a failure here means the books
		// diverged and must surface loudly.
		c.logger.Error("mark paid failed after repayment booked",
			slog.Uint64("invoice_id", id),
			slog.String("error", err.Error()),
		)
		return domain.Invoice{}, fmt.Errorf("settlement: mark paid %d: %w", id, err)
	}

	c.logger.Info("invoice repaid",
		slog.Uint64("invoice_id", id),
		slog.String("principal", principal.Dec()),
		slog.String("yield", yield.Dec()),
	)
	return paid, nil
}

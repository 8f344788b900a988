package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenfi/factorpool/internal/domain"
)

// InvoiceStore implements domain.InvoiceStore using PostgreSQL.
type InvoiceStore struct {
	pool *pgxpool.Pool
}

// NewInvoiceStore creates an InvoiceStore backed by the given connection pool.
func NewInvoiceStore(pool *pgxpool.Pool) *InvoiceStore {
	return &InvoiceStore{pool: pool}
}

// Upsert writes the committed invoice state.
func (s *InvoiceStore) Upsert(ctx context.Context, inv domain.Invoice) error {
	const query = `
		INSERT INTO invoices (
			id, supplier, buyer, face_value, discount_rate_bps, maturity_date,
			status, funding_amount, content_hash, external_id,
			created_at, approved_at, funded_at, paid_at, cancelled_at, defaulted_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			funding_amount = EXCLUDED.funding_amount,
			approved_at = EXCLUDED.approved_at,
			funded_at = EXCLUDED.funded_at,
			paid_at = EXCLUDED.paid_at,
			cancelled_at = EXCLUDED.cancelled_at,
			defaulted_at = EXCLUDED.defaulted_at,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		int64(inv.ID), inv.Supplier.Hex(), inv.Buyer.Hex(),
		inv.FaceValue.Dec(), int32(inv.DiscountRateBps), inv.MaturityDate,
		string(inv.Status), decOrNil(inv.FundingAmount),
		inv.ContentHash.Hex(), inv.ExternalID,
		inv.CreatedAt, inv.ApprovedAt, inv.FundedAt,
		inv.PaidAt, inv.CancelledAt, inv.DefaultedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert invoice %d: %w", inv.ID, err)
	}
	return nil
}

const invoiceSelectCols = `id, supplier, buyer, face_value, discount_rate_bps,
	maturity_date, status, funding_amount, content_hash, external_id,
	created_at, approved_at, funded_at, paid_at, cancelled_at, defaulted_at`

// GetByID reads one invoice.
func (s *InvoiceStore) GetByID(ctx context.Context, id uint64) (domain.Invoice, error) {
	query := "SELECT " + invoiceSelectCols + " FROM invoices WHERE id = $1"
	inv, err := scanInvoice(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invoice{}, fmt.Errorf("postgres: invoice %d: %w", id, domain.ErrInvoiceNotFound)
		}
		return domain.Invoice{}, fmt.Errorf("postgres: get invoice %d: %w", id, err)
	}
	return inv, nil
}

// ListByBuyer lists a buyer's invoices ordered by id.
func (s *InvoiceStore) ListByBuyer(ctx context.Context, buyer common.Address, opts domain.ListOpts) ([]domain.Invoice, error) {
	query := "SELECT " + invoiceSelectCols + ` FROM invoices
		WHERE buyer = $1 ORDER BY id` + limitOffset(opts)
	return s.listQuery(ctx, query, buyer.Hex())
}

// ListByStatus lists invoices in the given status ordered by id.
func (s *InvoiceStore) ListByStatus(ctx context.Context, status domain.InvoiceStatus, opts domain.ListOpts) ([]domain.Invoice, error) {
	query := "SELECT " + invoiceSelectCols + ` FROM invoices
		WHERE status = $1 ORDER BY id` + limitOffset(opts)
	return s.listQuery(ctx, query, string(status))
}

// ListSettledBefore lists settled invoices whose terminal timestamp is
// strictly before the cutoff.
func (s *InvoiceStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Invoice, error) {
	query := "SELECT " + invoiceSelectCols + ` FROM invoices
		WHERE COALESCE(paid_at, cancelled_at, defaulted_at) < $1
		ORDER BY id`
	return s.listQuery(ctx, query, before)
}

// ListAll returns every invoice ordered by id.
func (s *InvoiceStore) ListAll(ctx context.Context) ([]domain.Invoice, error) {
	query := "SELECT " + invoiceSelectCols + " FROM invoices ORDER BY id"
	return s.listQuery(ctx, query)
}

// Count returns the number of stored invoices.
func (s *InvoiceStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count invoices: %w", err)
	}
	return n, nil
}

func (s *InvoiceStore) listQuery(ctx context.Context, query string, args ...any) ([]domain.Invoice, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list invoices: %w", err)
	}
	defer rows.Close()

	var out []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func scanInvoice(scanner interface{ Scan(dest ...any) error }) (domain.Invoice, error) {
	var (
		id                      int64
		supplier, buyer         string
		faceValue               string
		rateBps                 int32
		status                  string
		fundingAmount           *string
		contentHash, externalID string
		inv                     domain.Invoice
	)

	err := scanner.Scan(
		&id, &supplier, &buyer, &faceValue, &rateBps,
		&inv.MaturityDate, &status, &fundingAmount, &contentHash, &externalID,
		&inv.CreatedAt, &inv.ApprovedAt, &inv.FundedAt,
		&inv.PaidAt, &inv.CancelledAt, &inv.DefaultedAt,
	)
	if err != nil {
		return domain.Invoice{}, err
	}

	inv.ID = uint64(id)
	inv.Supplier = common.HexToAddress(supplier)
	inv.Buyer = common.HexToAddress(buyer)
	inv.DiscountRateBps = uint16(rateBps)
	inv.Status = domain.InvoiceStatus(status)
	inv.ContentHash = common.HexToHash(contentHash)
	inv.ExternalID = externalID

	if inv.FaceValue, err = uint256.FromDecimal(faceValue); err != nil {
		return domain.Invoice{}, fmt.Errorf("face value %q: %w", faceValue, err)
	}
	if fundingAmount != nil {
		if inv.FundingAmount, err = uint256.FromDecimal(*fundingAmount); err != nil {
			return domain.Invoice{}, fmt.Errorf("funding amount %q: %w", *fundingAmount, err)
		}
	}
	return inv, nil
}

// decOrNil renders an optional amount as a nullable decimal string.
func decOrNil(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.Dec()
	return &s
}

func limitOffset(opts domain.ListOpts) string {
	out := ""
	if opts.Limit > 0 {
		out += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		out += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}
	return out
}

// Compile-time interface check.
var _ domain.InvoiceStore = (*InvoiceStore)(nil)

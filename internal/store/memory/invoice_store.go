// Package memory provides in-process implementations of the ledger stores.
// Dev mode and tests run on these; production runs on the postgres package
// behind the same interfaces.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lumenfi/factorpool/internal/domain"
)

// InvoiceStore keeps invoice mirrors in a map. Safe for concurrent use.
type InvoiceStore struct {
	mu       sync.RWMutex
	invoices map[uint64]domain.Invoice
}

// NewInvoiceStore creates an empty store.
func NewInvoiceStore() *InvoiceStore {
	return &InvoiceStore{invoices: make(map[uint64]domain.Invoice)}
}

func (s *InvoiceStore) Upsert(_ context.Context, inv domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv.Clone()
	return nil
}

func (s *InvoiceStore) GetByID(_ context.Context, id uint64) (domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return domain.Invoice{}, fmt.Errorf("memory: invoice %d: %w", id, domain.ErrInvoiceNotFound)
	}
	return inv.Clone(), nil
}

func (s *InvoiceStore) ListByBuyer(_ context.Context, buyer common.Address, opts domain.ListOpts) ([]domain.Invoice, error) {
	return s.list(func(inv domain.Invoice) bool { return inv.Buyer == buyer }, opts), nil
}

func (s *InvoiceStore) ListByStatus(_ context.Context, status domain.InvoiceStatus, opts domain.ListOpts) ([]domain.Invoice, error) {
	return s.list(func(inv domain.Invoice) bool { return inv.Status == status }, opts), nil
}

func (s *InvoiceStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Invoice, error) {
	return s.list(func(inv domain.Invoice) bool {
		ts := settledAt(inv)
		return ts != nil && ts.Before(before)
	}, domain.ListOpts{}), nil
}

func (s *InvoiceStore) ListAll(_ context.Context) ([]domain.Invoice, error) {
	return s.list(func(domain.Invoice) bool { return true }, domain.ListOpts{}), nil
}

func (s *InvoiceStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.invoices)), nil
}

func (s *InvoiceStore) list(match func(domain.Invoice) bool, opts domain.ListOpts) []domain.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Invoice
	for _, inv := range s.invoices {
		if match(inv) {
			out = append(out, inv.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// settledAt returns the terminal timestamp of a settled invoice, or nil if
// the invoice is still live.
func settledAt(inv domain.Invoice) *time.Time {
	switch inv.Status {
	case domain.StatusPaid:
		return inv.PaidAt
	case domain.StatusCancelled:
		return inv.CancelledAt
	case domain.StatusDefaulted:
		return inv.DefaultedAt
	default:
		return nil
	}
}

// Compile-time interface check.
var _ domain.InvoiceStore = (*InvoiceStore)(nil)

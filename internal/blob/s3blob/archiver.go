package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lumenfi/factorpool/internal/domain"
)

// BlobWriter is the upload surface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver serializes settled invoices and old events to JSONL and uploads
// them, partitioned by the year-month of the cutoff. Archival never deletes
// from the primary store; pruning is a separate, explicit step executed after
// the archive has been verified.
type Archiver struct {
	writer   BlobWriter
	invoices domain.InvoiceStore
	events   domain.EventStore
	bus      domain.EventBus
}

// NewArchiver creates an Archiver. bus may be nil; the archive notification
// is then skipped.
func NewArchiver(writer BlobWriter, invoices domain.InvoiceStore, events domain.EventStore, bus domain.EventBus) *Archiver {
	return &Archiver{
		writer:   writer,
		invoices: invoices,
		events:   events,
		bus:      bus,
	}
}

// invoiceRecord is the archived JSONL shape. Amounts are decimal strings.
type invoiceRecord struct {
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
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	DefaultedAt     *time.Time `json:"defaulted_at,omitempty"`
}

// ArchiveInvoices uploads all invoices settled strictly before the cutoff to
// archive/invoices/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveInvoices(ctx context.Context, before time.Time) (int64, error) {
	invs, err := a.invoices.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive invoices query: %w", err)
	}
	if len(invs) == 0 {
		return 0, nil
	}

	records := make([]invoiceRecord, 0, len(invs))
	for _, inv := range invs {
		rec := invoiceRecord{
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
			PaidAt:          inv.PaidAt,
			CancelledAt:     inv.CancelledAt,
			DefaultedAt:     inv.DefaultedAt,
		}
		if inv.FundingAmount != nil {
			rec.FundingAmount = inv.FundingAmount.Dec()
		}
		records = append(records, rec)
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive invoices marshal: %w", err)
	}

	path := archivePath("invoices", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive invoices upload: %w", err)
	}

	a.notify(ctx, "archive.invoices", path, int64(len(records)), before)
	return int64(len(records)), nil
}

// ArchiveEvents uploads all events older than the cutoff to
// archive/events/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	evs, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(evs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(evs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	a.notify(ctx, "archive.events", path, int64(len(evs)), before)
	return int64(len(evs)), nil
}

// notify publishes an archive.* record on the settlement channel.
// Best-effort: a publish failure does not fail the archive.
func (a *Archiver) notify(ctx context.Context, operation, path string, count int64, before time.Time) {
	if a.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"operation": operation,
		"path":      path,
		"count":     count,
		"before":    before.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	_ = a.bus.Publish(ctx, domain.ChannelSettlement, payload)
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

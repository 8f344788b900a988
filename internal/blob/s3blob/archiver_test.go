package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfi/factorpool/internal/bus/membus"
	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/store/memory"
)

type captureWriter struct {
	path        string
	contentType string
	body        string
}

func (w *captureWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.path = path
	w.contentType = contentType
	w.body = string(b)
	return nil
}

func TestArchiveInvoices(t *testing.T) {
	ctx := context.Background()
	invoices := memory.NewInvoiceStore()
	events := memory.NewEventStore()
	writer := &captureWriter{}
	bus := membus.New()

	paidAt := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, invoices.Upsert(ctx, domain.Invoice{
		ID:            7,
		Supplier:      common.HexToAddress("0x01"),
		Buyer:         common.HexToAddress("0x02"),
		FaceValue:     uint256.NewInt(1_000_000),
		Status:        domain.StatusPaid,
		FundingAmount: uint256.NewInt(995_891),
		PaidAt:        &paidAt,
	}))
	// Still live; must not be archived.
	require.NoError(t, invoices.Upsert(ctx, domain.Invoice{
		ID:        8,
		Supplier:  common.HexToAddress("0x01"),
		Buyer:     common.HexToAddress("0x02"),
		FaceValue: uint256.NewInt(5_000),
		Status:    domain.StatusFunded,
	}))

	a := NewArchiver(writer, invoices, events, bus)
	cutoff := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	count, err := a.ArchiveInvoices(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	assert.Equal(t, "archive/invoices/2026-04.jsonl", writer.path)
	assert.Equal(t, "application/x-ndjson", writer.contentType)
	assert.Equal(t, 1, strings.Count(writer.body, "\n"))
	assert.Contains(t, writer.body, `"face_value":"1000000"`)
	assert.Contains(t, writer.body, `"funding_amount":"995891"`)

	// Archive notification was published.
	msgs, err := bus.StreamRead(ctx, domain.ChannelSettlement, "0", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Payload), "archive.invoices")
}

func TestArchiveEventsEmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	writer := &captureWriter{}
	a := NewArchiver(writer, memory.NewInvoiceStore(), memory.NewEventStore(), nil)

	count, err := a.ArchiveEvents(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.path)
}

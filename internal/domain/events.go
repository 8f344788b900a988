package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event channels published on the bus.
const (
	ChannelInvoice    = "ledger.invoice"
	ChannelPool       = "ledger.pool"
	ChannelTreasury   = "ledger.treasury"
	ChannelSettlement = "ledger.settlement"
)

// Event is the structured record emitted after every committed state-changing
// operation, for off-chain indexing. One-way notification, not a query
// surface.
type Event struct {
	ID        string            `json:"id"`
	Operation string            `json:"operation"`
	InvoiceID *uint64           `json:"invoice_id,omitempty"`
	Amounts   map[string]string `json:"amounts,omitempty"` // decimal strings
	Actor     common.Address    `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
}

// EventBus publishes event payloads to a named channel.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// EventSubscriber delivers payloads published to a channel. Channel names may
// use glob-style wildcards ("ledger.*"). The returned channel closes when the
// context is cancelled.
type EventSubscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// StreamMessage is one durable bus entry read back from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

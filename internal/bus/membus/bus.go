// Package membus is an in-process event bus with the same surface as the
// Redis-backed one: Pub/Sub delivery plus a bounded per-channel replay
// buffer. Dev mode and tests run on this.
package membus

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/lumenfi/factorpool/internal/domain"
)

// bufferLen bounds the per-channel replay buffer.
const bufferLen = 10000

type subscriber struct {
	pattern string
	ch      chan []byte
	done    <-chan struct{}
}

// Bus is an in-memory pub/sub hub. Safe for concurrent use.
type Bus struct {
	mu      sync.Mutex
	subs    []*subscriber
	streams map[string][]domain.StreamMessage
	nextID  uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{streams: make(map[string][]domain.StreamMessage)}
}

// Publish delivers the payload to matching subscribers and appends it to the
// channel's replay buffer. Slow subscribers drop messages rather than block
// the publisher.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	msgs := append(b.streams[channel], domain.StreamMessage{
		ID:      strconv.FormatUint(b.nextID, 10),
		Payload: payload,
	})
	if len(msgs) > bufferLen {
		msgs = msgs[len(msgs)-bufferLen:]
	}
	b.streams[channel] = msgs

	for _, sub := range b.subs {
		if !matches(sub.pattern, channel) {
			continue
		}
		select {
		case <-sub.done:
		case sub.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channels matching the
// glob pattern. The channel closes when the context is cancelled.
func (b *Bus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	sub := &subscriber{
		pattern: pattern,
		ch:      make(chan []byte, 128),
		done:    ctx.Done(),
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// StreamRead returns up to count buffered messages with IDs strictly greater
// than lastID. Use "0" to read from the beginning.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil {
		after = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		id, _ := strconv.ParseUint(msg.ID, 10, 64)
		if id <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func matches(pattern, channel string) bool {
	ok, err := path.Match(pattern, channel)
	return err == nil && ok
}

// Compile-time interface checks.
var (
	_ domain.EventBus        = (*Bus)(nil)
	_ domain.EventSubscriber = (*Bus)(nil)
)

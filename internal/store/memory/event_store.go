package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lumenfi/factorpool/internal/domain"
)

// EventStore keeps the emitted event log in an append-only slice.
type EventStore struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewEventStore creates an empty store.
func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Append(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// ListRecent returns up to limit events, newest first.
func (s *EventStore) ListRecent(_ context.Context, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

func (s *EventStore) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, ev := range s.events {
		if ev.Timestamp.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lumenfi/factorpool/internal/domain"
)

// StrategyStore mirrors treasury strategy records.
type StrategyStore struct {
	mu      sync.RWMutex
	records map[string]domain.StrategyRecord
}

// NewStrategyStore creates an empty store.
func NewStrategyStore() *StrategyStore {
	return &StrategyStore{records: make(map[string]domain.StrategyRecord)}
}

func (s *StrategyStore) Upsert(_ context.Context, rec domain.StrategyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Name] = rec.Clone()
	return nil
}

func (s *StrategyStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
	return nil
}

func (s *StrategyStore) List(_ context.Context) ([]domain.StrategyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StrategyRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt.Before(out[j].AddedAt) })
	return out, nil
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// PoolStateStore keeps the latest pool snapshot and LP share balances.
type PoolStateStore struct {
	mu       sync.RWMutex
	latest   *domain.PoolState
	latestAt time.Time
	accounts map[common.Address]*uint256.Int
}

// NewPoolStateStore creates an empty store.
func NewPoolStateStore() *PoolStateStore {
	return &PoolStateStore{accounts: make(map[common.Address]*uint256.Int)}
}

func (s *PoolStateStore) Save(_ context.Context, at time.Time, st domain.PoolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := st.Clone()
	s.latest = &snap
	s.latestAt = at
	return nil
}

func (s *PoolStateStore) Latest(_ context.Context) (domain.PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return domain.PoolState{}, domain.ErrNotFound
	}
	return s.latest.Clone(), nil
}

func (s *PoolStateStore) SaveAccounts(_ context.Context, accounts map[common.Address]*uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[common.Address]*uint256.Int, len(accounts))
	for addr, shares := range accounts {
		s.accounts[addr] = new(uint256.Int).Set(shares)
	}
	return nil
}

func (s *PoolStateStore) Accounts(_ context.Context) (map[common.Address]*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[common.Address]*uint256.Int, len(s.accounts))
	for addr, shares := range s.accounts {
		out[addr] = new(uint256.Int).Set(shares)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PoolStateStore = (*PoolStateStore)(nil)

// Package authz resolves caller addresses to roles. The static implementation
// reads a fixed role table from configuration; deployments with on-chain
// access control swap in their own Authorizer.
package authz

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lumenfi/factorpool/internal/domain"
)

// Static is a fixed address-to-roles table. Owners implicitly hold every
// role. Safe for concurrent use.
type Static struct {
	mu    sync.RWMutex
	roles map[common.Address]map[domain.Role]struct{}
}

// NewStatic builds the table from per-role address lists.
func NewStatic(grants map[domain.Role][]common.Address) *Static {
	s := &Static{roles: make(map[common.Address]map[domain.Role]struct{})}
	for role, addrs := range grants {
		for _, addr := range addrs {
			s.grant(addr, role)
		}
	}
	return s
}

// Grant adds a role to an address.
func (s *Static) Grant(addr common.Address, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grant(addr, role)
}

// Revoke removes a role from an address.
func (s *Static) Revoke(addr common.Address, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.roles[addr]; ok {
		delete(held, role)
		if len(held) == 0 {
			delete(s.roles, addr)
		}
	}
}

// HasRole reports whether the address holds the role. RoleOwner satisfies
// every check.
func (s *Static) HasRole(caller common.Address, role domain.Role) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	held, ok := s.roles[caller]
	if !ok {
		return false
	}
	if _, owner := held[domain.RoleOwner]; owner {
		return true
	}
	_, has := held[role]
	return has
}

func (s *Static) grant(addr common.Address, role domain.Role) {
	held, ok := s.roles[addr]
	if !ok {
		held = make(map[domain.Role]struct{})
		s.roles[addr] = held
	}
	held[role] = struct{}{}
}

// Compile-time interface check.
var _ domain.Authorizer = (*Static)(nil)

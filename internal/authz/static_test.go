package authz

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/lumenfi/factorpool/internal/domain"
)

func TestStaticRoles(t *testing.T) {
	owner := common.HexToAddress("0x01")
	op := common.HexToAddress("0x02")
	nobody := common.HexToAddress("0x03")

	s := NewStatic(map[domain.Role][]common.Address{
		domain.RoleOwner:    {owner},
		domain.RoleOperator: {op},
	})

	assert.True(t, s.HasRole(op, domain.RoleOperator))
	assert.False(t, s.HasRole(op, domain.RoleTreasury))
	assert.False(t, s.HasRole(nobody, domain.RoleOperator))

	// Owner satisfies every role check.
	assert.True(t, s.HasRole(owner, domain.RoleOwner))
	assert.True(t, s.HasRole(owner, domain.RoleOperator))
	assert.True(t, s.HasRole(owner, domain.RoleTreasury))
}

func TestStaticGrantRevoke(t *testing.T) {
	addr := common.HexToAddress("0x0a")
	s := NewStatic(nil)

	assert.False(t, s.HasRole(addr, domain.RoleLP))
	s.Grant(addr, domain.RoleLP)
	assert.True(t, s.HasRole(addr, domain.RoleLP))
	s.Revoke(addr, domain.RoleLP)
	assert.False(t, s.HasRole(addr, domain.RoleLP))
}

package domain

import "github.com/ethereum/go-ethereum/common"

// Role is a ledger-wide capability. Buyer-of-invoice and supplier-of-invoice
// checks are made against the invoice record itself rather than the role set.
type Role string

const (
	RoleOwner    Role = "owner"
	RoleOperator Role = "operator"
	RoleTreasury Role = "treasury"
	RoleLP       Role = "lp"
)

// Authorizer resolves a caller address to its role set. Every mutating ledger
// operation declares its required role and fails with an UnauthorizedError
// when the check does not pass.
type Authorizer interface {
	HasRole(caller common.Address, role Role) bool
}

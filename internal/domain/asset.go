package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset is the value-transfer interface the ledger consumes. Semantics match
// a standard fungible token: Transfer moves value out of the pool's holding
// account, TransferFrom pulls value from an external account (requires prior
// approval in on-chain implementations). Implementations must surface
// transfer failures explicitly; a nil error means the value moved.
type Asset interface {
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

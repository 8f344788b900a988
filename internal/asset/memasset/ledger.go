// Package memasset is an in-process fungible asset ledger. It backs dev mode
// and tests; production deployments point the same interface at an on-chain
// token instead.
package memasset

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// Ledger tracks balances per account. Safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[common.Address]*uint256.Int)}
}

// Mint credits an account out of thin air. Test and dev setup only.
func (l *Ledger) Mint(account common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, amount)
}

// Balance returns an account's balance.
func (l *Ledger) Balance(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[account]; ok {
		return new(uint256.Int).Set(b)
	}
	return uint256.NewInt(0)
}

// Move transfers between two accounts, failing on insufficient balance.
func (l *Ledger) Move(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return domain.ErrZeroAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[from]
	if !ok || b.Cmp(amount) < 0 {
		return fmt.Errorf("memasset: %s: %w", from.Hex(), domain.ErrInsufficientLiquidity)
	}
	b.Sub(b, amount)
	if b.IsZero() {
		delete(l.balances, from)
	}
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(account common.Address, amount *uint256.Int) {
	if b, ok := l.balances[account]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[account] = new(uint256.Int).Set(amount)
}

// Account binds the ledger to a holder address, yielding the value-transfer
// view the settlement components consume. Outbound transfers debit the
// holder.
type Account struct {
	ledger *Ledger
	holder common.Address
}

// Account returns the holder-bound transfer view.
func (l *Ledger) Account(holder common.Address) *Account {
	return &Account{ledger: l, holder: holder}
}

func (a *Account) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	return a.ledger.Balance(account), nil
}

func (a *Account) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	return a.ledger.Move(a.holder, to, amount)
}

func (a *Account) TransferFrom(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	return a.ledger.Move(from, to, amount)
}

// Compile-time interface check.
var _ domain.Asset = (*Account)(nil)

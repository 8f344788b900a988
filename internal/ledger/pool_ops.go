package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lumenfi/factorpool/internal/domain"
)

// Deposit pulls assets from the LP into the pool account and mints shares.
// The incoming transfer happens first; a failure minting refunds the LP.
func (l *Ledger) Deposit(ctx context.Context, caller common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if err := l.requireRole(caller, domain.RoleLP); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.asset.TransferFrom(ctx, caller, l.poolAccount, assets); err != nil {
		return nil, fmt.Errorf("ledger: collect deposit: %w: %w", domain.ErrTransferFailed, err)
	}

	shares, err := l.pool.Deposit(caller, assets)
	if err != nil {
		if rerr := l.asset.Transfer(ctx, caller, assets); rerr != nil {
			l.logger.Error("deposit refund failed",
				slog.String("lp", caller.Hex()),
				slog.String("error", rerr.Error()),
			)
		}
		return nil, err
	}

	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelPool, "pool.deposit", nil, map[string]string{
		"assets": assets.Dec(),
		"shares": shares.Dec(),
	}, caller)
	return shares, nil
}

// Withdraw burns the LP's shares for the requested assets and transfers them
// out. Books are finalized before the outbound transfer; a transfer failure
// restores the shares.
func (l *Ledger) Withdraw(ctx context.Context, caller common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if err := l.requireRole(caller, domain.RoleLP); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	burned, err := l.pool.Withdraw(caller, assets)
	if err != nil {
		return nil, err
	}

	if err := l.asset.Transfer(ctx, caller, assets); err != nil {
		l.pool.UndoWithdraw(caller, assets, burned)
		return nil, fmt.Errorf("ledger: pay withdrawal: %w: %w", domain.ErrTransferFailed, err)
	}

	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelPool, "pool.withdraw", nil, map[string]string{
		"assets": assets.Dec(),
		"shares": burned.Dec(),
	}, caller)
	return burned, nil
}

// Redeem burns exactly the given shares and pays out the corresponding
// assets.
func (l *Ledger) Redeem(ctx context.Context, caller common.Address, shares *uint256.Int) (*uint256.Int, error) {
	if err := l.requireRole(caller, domain.RoleLP); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	assets, err := l.pool.Redeem(caller, shares)
	if err != nil {
		return nil, err
	}

	if err := l.asset.Transfer(ctx, caller, assets); err != nil {
		l.pool.UndoWithdraw(caller, assets, shares)
		return nil, fmt.Errorf("ledger: pay redemption: %w: %w", domain.ErrTransferFailed, err)
	}

	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelPool, "pool.redeem", nil, map[string]string{
		"assets": assets.Dec(),
		"shares": shares.Dec(),
	}, caller)
	return assets, nil
}

// DepositToTreasury moves idle pool capital into the treasury allocator.
// Treasury role only.
func (l *Ledger) DepositToTreasury(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	if err := l.requireRole(caller, domain.RoleTreasury); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.pool.DepositToTreasury(ctx, amount); err != nil {
		return err
	}

	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelPool, "pool.treasury_deposit", nil, map[string]string{
		"amount": amount.Dec(),
	}, caller)
	return nil
}

// WithdrawFromTreasury pulls capital back from the allocator into available
// liquidity. Treasury role only.
func (l *Ledger) WithdrawFromTreasury(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	if err := l.requireRole(caller, domain.RoleTreasury); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.pool.WithdrawFromTreasury(ctx, amount); err != nil {
		return err
	}

	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelPool, "pool.treasury_withdraw", nil, map[string]string{
		"amount": amount.Dec(),
	}, caller)
	return nil
}

// HaltPool stops deposits, withdrawals and fundings. Owner only.
func (l *Ledger) HaltPool(ctx context.Context, caller common.Address) error {
	if err := l.requireRole(caller, domain.RoleOwner); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pool.Halt()
	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelPool, "pool.halted", nil, nil, caller)
	return nil
}

// UnhaltPool resumes pool operations. Owner only.
func (l *Ledger) UnhaltPool(ctx context.Context, caller common.Address) error {
	if err := l.requireRole(caller, domain.RoleOwner); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pool.Unhalt()
	l.mirrorPool(ctx)
	l.emit(ctx, domain.ChannelPool, "pool.unhalted", nil, nil, caller)
	return nil
}

package ledger

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lumenfi/factorpool/internal/domain"
)

// AddStrategy registers a treasury strategy adapter. Treasury role only.
func (l *Ledger) AddStrategy(ctx context.Context, caller common.Address, adapter domain.StrategyAdapter, weightBps uint16) error {
	if err := l.requireRole(caller, domain.RoleTreasury); err != nil {
		return err
	}
	if l.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.treasury.AddStrategy(adapter, weightBps); err != nil {
		return err
	}

	l.mirrorStrategy(ctx, adapter.Name())
	l.emit(ctx, domain.ChannelTreasury, "treasury.strategy_added", nil, map[string]string{
		"strategy":   adapter.Name(),
		"weight_bps": strconv.FormatUint(uint64(weightBps), 10),
	}, caller)
	return nil
}

// RemoveStrategy drains and deletes a strategy. Treasury role only.
func (l *Ledger) RemoveStrategy(ctx context.Context, caller common.Address, name string) error {
	if err := l.requireRole(caller, domain.RoleTreasury); err != nil {
		return err
	}
	if l.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.treasury.RemoveStrategy(ctx, name); err != nil {
		return err
	}

	if l.strategies != nil {
		if err := l.strategies.Delete(ctx, name); err != nil {
			l.logger.Error("strategy delete mirror failed",
				slog.String("strategy", name),
				slog.String("error", err.Error()),
			)
		}
	}
	l.emit(ctx, domain.ChannelTreasury, "treasury.strategy_removed", nil, map[string]string{
		"strategy": name,
	}, caller)
	return nil
}

// SetStrategyWeight changes a strategy's target weight. Treasury role only.
func (l *Ledger) SetStrategyWeight(ctx context.Context, caller common.Address, name string, weightBps uint16) error {
	if err := l.requireRole(caller, domain.RoleTreasury); err != nil {
		return err
	}
	if l.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.treasury.SetWeight(name, weightBps); err != nil {
		return err
	}

	l.mirrorStrategy(ctx, name)
	l.emit(ctx, domain.ChannelTreasury, "treasury.weight_set", nil, map[string]string{
		"strategy":   name,
		"weight_bps": strconv.FormatUint(uint64(weightBps), 10),
	}, caller)
	return nil
}

// PauseStrategy makes a strategy ineligible for new deposits. Treasury role.
func (l *Ledger) PauseStrategy(ctx context.Context, caller common.Address, name string) error {
	return l.setStrategyActive(ctx, caller, name, false)
}

// UnpauseStrategy restores deposit eligibility. Treasury role.
func (l *Ledger) UnpauseStrategy(ctx context.Context, caller common.Address, name string) error {
	return l.setStrategyActive(ctx, caller, name, true)
}

func (l *Ledger) setStrategyActive(ctx context.Context, caller common.Address, name string, active bool) error {
	if err := l.requireRole(caller, domain.RoleTreasury); err != nil {
		return err
	}
	if l.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	operation := "treasury.strategy_paused"
	if active {
		operation = "treasury.strategy_unpaused"
		err = l.treasury.Unpause(name)
	} else {
		err = l.treasury.Pause(name)
	}
	if err != nil {
		return err
	}

	l.mirrorStrategy(ctx, name)
	l.emit(ctx, domain.ChannelTreasury, operation, nil, map[string]string{
		"strategy": name,
	}, caller)
	return nil
}

// Rebalance redistributes treasury capital per current target weights.
// Treasury role only.
func (l *Ledger) Rebalance(ctx context.Context, caller common.Address) error {
	if err := l.requireRole(caller, domain.RoleTreasury); err != nil {
		return err
	}
	if l.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.treasury.Rebalance(ctx); err != nil {
		return err
	}

	l.emit(ctx, domain.ChannelTreasury, "treasury.rebalanced", nil, nil, caller)
	return nil
}

// HarvestYield records a strategy's value growth. Treasury role only.
func (l *Ledger) HarvestYield(ctx context.Context, caller common.Address, name string) error {
	if err := l.requireRole(caller, domain.RoleTreasury); err != nil {
		return err
	}
	if l.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	yield, err := l.treasury.HarvestYield(ctx, name)
	if err != nil {
		return err
	}
	if yield.IsZero() {
		return nil
	}

	l.mirrorStrategy(ctx, name)
	l.emit(ctx, domain.ChannelTreasury, "treasury.yield_harvested", nil, map[string]string{
		"strategy": name,
		"yield":    yield.Dec(),
	}, caller)
	return nil
}

// EmergencyWithdrawStrategy force-drains a strategy and pauses it. Owner
// only.
func (l *Ledger) EmergencyWithdrawStrategy(ctx context.Context, caller common.Address, name string) error {
	if err := l.requireRole(caller, domain.RoleOwner); err != nil {
		return err
	}
	if l.treasury == nil {
		return domain.ErrTreasuryManagerNotSet
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	received, err := l.treasury.EmergencyWithdrawFromStrategy(ctx, name)
	if err != nil {
		return err
	}

	l.mirrorStrategy(ctx, name)
	l.emit(ctx, domain.ChannelTreasury, "treasury.emergency_withdraw", nil, map[string]string{
		"strategy": name,
		"received": received.Dec(),
	}, caller)
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenfi/factorpool/internal/domain"
)

// PoolStateStore implements domain.PoolStateStore using PostgreSQL. The
// snapshot lives in a singleton row; LP balances are replaced wholesale on
// each save.
type PoolStateStore struct {
	pool *pgxpool.Pool
}

// NewPoolStateStore creates a PoolStateStore backed by the given connection
// pool.
func NewPoolStateStore(pool *pgxpool.Pool) *PoolStateStore {
	return &PoolStateStore{pool: pool}
}

// Save writes the snapshot.
func (s *PoolStateStore) Save(ctx context.Context, at time.Time, st domain.PoolState) error {
	const query = `
		INSERT INTO pool_state (
			id, total_shares, available_liquidity, total_deployed,
			total_treasury_held, total_invoice_yield, liquidity_buffer,
			max_treasury_allocation_bps, halted, saved_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			total_shares = EXCLUDED.total_shares,
			available_liquidity = EXCLUDED.available_liquidity,
			total_deployed = EXCLUDED.total_deployed,
			total_treasury_held = EXCLUDED.total_treasury_held,
			total_invoice_yield = EXCLUDED.total_invoice_yield,
			liquidity_buffer = EXCLUDED.liquidity_buffer,
			max_treasury_allocation_bps = EXCLUDED.max_treasury_allocation_bps,
			halted = EXCLUDED.halted,
			saved_at = EXCLUDED.saved_at`

	_, err := s.pool.Exec(ctx, query,
		st.TotalShares.Dec(), st.AvailableLiquidity.Dec(), st.TotalDeployed.Dec(),
		st.TotalTreasuryHeld.Dec(), st.TotalInvoiceYield.Dec(), st.LiquidityBuffer.Dec(),
		int32(st.MaxTreasuryAllocationBps), st.Halted, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: save pool state: %w", err)
	}
	return nil
}

// Latest reads the snapshot. Returns domain.ErrNotFound on a fresh database.
func (s *PoolStateStore) Latest(ctx context.Context) (domain.PoolState, error) {
	const query = `
		SELECT total_shares, available_liquidity, total_deployed,
			total_treasury_held, total_invoice_yield, liquidity_buffer,
			max_treasury_allocation_bps, halted
		FROM pool_state WHERE id = 1`

	var (
		shares, avail, deployed, held, yield, buffer string
		maxBps                                       int32
		halted                                       bool
	)
	err := s.pool.QueryRow(ctx, query).Scan(
		&shares, &avail, &deployed, &held, &yield, &buffer, &maxBps, &halted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PoolState{}, domain.ErrNotFound
		}
		return domain.PoolState{}, fmt.Errorf("postgres: latest pool state: %w", err)
	}

	st := domain.PoolState{
		MaxTreasuryAllocationBps: uint16(maxBps),
		Halted:                   halted,
	}
	for _, f := range []struct {
		dst **uint256.Int
		src string
	}{
		{&st.TotalShares, shares},
		{&st.AvailableLiquidity, avail},
		{&st.TotalDeployed, deployed},
		{&st.TotalTreasuryHeld, held},
		{&st.TotalInvoiceYield, yield},
		{&st.LiquidityBuffer, buffer},
	} {
		v, err := uint256.FromDecimal(f.src)
		if err != nil {
			return domain.PoolState{}, fmt.Errorf("postgres: pool state amount %q: %w", f.src, err)
		}
		*f.dst = v
	}
	return st, nil
}

// SaveAccounts replaces the stored LP share balances.
func (s *PoolStateStore) SaveAccounts(ctx context.Context, accounts map[common.Address]*uint256.Int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save accounts: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM pool_accounts"); err != nil {
		return fmt.Errorf("postgres: clear pool accounts: %w", err)
	}
	for lp, shares := range accounts {
		_, err := tx.Exec(ctx,
			"INSERT INTO pool_accounts (lp, shares) VALUES ($1, $2)",
			lp.Hex(), shares.Dec(),
		)
		if err != nil {
			return fmt.Errorf("postgres: save account %s: %w", lp.Hex(), err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save accounts: %w", err)
	}
	return nil
}

// Accounts reads the stored LP share balances.
func (s *PoolStateStore) Accounts(ctx context.Context) (map[common.Address]*uint256.Int, error) {
	rows, err := s.pool.Query(ctx, "SELECT lp, shares FROM pool_accounts")
	if err != nil {
		return nil, fmt.Errorf("postgres: list pool accounts: %w", err)
	}
	defer rows.Close()

	out := make(map[common.Address]*uint256.Int)
	for rows.Next() {
		var lp, shares string
		if err := rows.Scan(&lp, &shares); err != nil {
			return nil, fmt.Errorf("postgres: scan pool account: %w", err)
		}
		v, err := uint256.FromDecimal(shares)
		if err != nil {
			return nil, fmt.Errorf("postgres: pool account shares %q: %w", shares, err)
		}
		out[common.HexToAddress(lp)] = v
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.PoolStateStore = (*PoolStateStore)(nil)

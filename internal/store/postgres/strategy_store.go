package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenfi/factorpool/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL.
type StrategyStore struct {
	pool *pgxpool.Pool
}

// NewStrategyStore creates a StrategyStore backed by the given connection pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Upsert writes the committed strategy record.
func (s *StrategyStore) Upsert(ctx context.Context, rec domain.StrategyRecord) error {
	const query = `
		INSERT INTO strategies (name, weight_bps, active, added_at, last_harvest)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			weight_bps = EXCLUDED.weight_bps,
			active = EXCLUDED.active,
			last_harvest = EXCLUDED.last_harvest`
	_, err := s.pool.Exec(ctx, query,
		rec.Name, int32(rec.WeightBps), rec.Active, rec.AddedAt, rec.LastHarvest,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert strategy %s: %w", rec.Name, err)
	}
	return nil
}

// Delete removes a strategy record.
func (s *StrategyStore) Delete(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM strategies WHERE name = $1", name); err != nil {
		return fmt.Errorf("postgres: delete strategy %s: %w", name, err)
	}
	return nil
}

// List returns the stored records ordered by registration time.
func (s *StrategyStore) List(ctx context.Context) ([]domain.StrategyRecord, error) {
	const query = `
		SELECT name, weight_bps, active, added_at, last_harvest
		FROM strategies ORDER BY added_at`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyRecord
	for rows.Next() {
		var (
			rec       domain.StrategyRecord
			weightBps int32
		)
		if err := rows.Scan(&rec.Name, &weightBps, &rec.Active, &rec.AddedAt, &rec.LastHarvest); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		rec.WeightBps = uint16(weightBps)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.StrategyStore = (*StrategyStore)(nil)

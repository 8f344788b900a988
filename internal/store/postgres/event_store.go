package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumenfi/factorpool/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a committed event.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	var amounts []byte
	if ev.Amounts != nil {
		var err error
		if amounts, err = json.Marshal(ev.Amounts); err != nil {
			return fmt.Errorf("postgres: marshal event amounts: %w", err)
		}
	}

	var invoiceID *int64
	if ev.InvoiceID != nil {
		v := int64(*ev.InvoiceID)
		invoiceID = &v
	}

	const query = `
		INSERT INTO events (id, operation, invoice_id, amounts, actor, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Operation, invoiceID, amounts, ev.Actor.Hex(), ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// ListRecent returns up to limit events, newest first.
func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	const query = `
		SELECT id, operation, invoice_id, amounts, actor, ts
		FROM events ORDER BY ts DESC LIMIT $1`
	return s.listQuery(ctx, query, limit)
}

// ListBefore returns events older than the cutoff, oldest first.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	const query = `
		SELECT id, operation, invoice_id, amounts, actor, ts
		FROM events WHERE ts < $1 ORDER BY ts`
	return s.listQuery(ctx, query, before)
}

func (s *EventStore) listQuery(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev        domain.Event
			invoiceID *int64
			amounts   []byte
			actor     string
		)
		if err := rows.Scan(&ev.ID, &ev.Operation, &invoiceID, &amounts, &actor, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if invoiceID != nil {
			v := uint64(*invoiceID)
			ev.InvoiceID = &v
		}
		if len(amounts) > 0 {
			if err := json.Unmarshal(amounts, &ev.Amounts); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event amounts: %w", err)
			}
		}
		ev.Actor = common.HexToAddress(actor)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)

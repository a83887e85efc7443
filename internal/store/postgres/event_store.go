package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/mintmarket/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Event attributes
// are stored as JSONB.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

var _ domain.EventStore = (*EventStore)(nil)

func scanEventRows(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var (
			ev    domain.Event
			attrs []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.At, &attrs); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &ev.Attrs); err != nil {
				return nil, fmt.Errorf("decode attrs for event %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Insert appends an event to the journal.
func (s *EventStore) Insert(ctx context.Context, ev domain.Event) error {
	attrs, err := json.Marshal(ev.Attrs)
	if err != nil {
		return fmt.Errorf("postgres: encode attrs for event %s: %w", ev.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, name, at, attrs)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Name, ev.At, attrs,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// List returns events with pagination and optional time filtering, newest
// first.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	return s.list(ctx, "", opts)
}

// ListByName returns events with the given name, newest first.
func (s *EventStore) ListByName(ctx context.Context, name string, opts domain.ListOpts) ([]domain.Event, error) {
	return s.list(ctx, name, opts)
}

func (s *EventStore) list(ctx context.Context, name string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT id, name, at, attrs FROM events WHERE 1=1`
	var args []any
	argIdx := 1

	if name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, name)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return scanEventRows(rows)
}

// ListBefore returns all events emitted before the cutoff, oldest first.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, at, attrs FROM events WHERE at < $1 ORDER BY at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before, err)
	}
	return scanEventRows(rows)
}

// DeleteBefore removes events emitted before the cutoff and returns the
// number of rows deleted.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

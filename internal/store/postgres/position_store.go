package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantari/tradecore/internal/domain"
)

var (
	openPositionStatuses   = []string{"OPENING", "OPEN", "CLOSING"}
	closedPositionStatuses = []string{"CLOSED", "LIQUIDATED"}
)

// PositionStore implements domain.PositionStore using PostgreSQL. Like
// orders, the canonical projection is the state JSONB column.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Save upserts the position as a single row.
func (s *PositionStore) Save(ctx context.Context, pos *domain.Position) error {
	state := pos.State()
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal position %s: %w", state.ID, err)
	}

	const query = `
		INSERT INTO positions (
			id, pair, side, status, strategy,
			state, created_at, updated_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at,
			closed_at = EXCLUDED.closed_at`

	_, err = s.pool.Exec(ctx, query,
		state.ID, state.Pair.Symbol(), string(state.Side), string(state.Status),
		state.Metadata.Strategy,
		stateJSON, state.Times.CreatedAt, state.Times.UpdatedAt, state.Times.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", state.ID, err)
	}
	return nil
}

func scanPositionFromRow(scanner interface{ Scan(dest ...any) error }) (*domain.Position, error) {
	var stateJSON []byte
	if err := scanner.Scan(&stateJSON); err != nil {
		return nil, err
	}

	var state domain.PositionState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal position state: %w", err)
	}
	return domain.PositionFromState(state)
}

func scanPositionRows(rows pgx.Rows) ([]*domain.Position, error) {
	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPositionFromRow(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetByID retrieves a single position by ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (*domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT state FROM positions WHERE id = $1`, id)

	p, err := scanPositionFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every position that has not yet settled, newest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM positions
		 WHERE status = ANY($1)
		 ORDER BY created_at DESC`, openPositionStatuses)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListByStrategy returns positions attributed to a strategy with pagination.
func (s *PositionStore) ListByStrategy(ctx context.Context, strategy string, opts domain.ListOpts) ([]*domain.Position, error) {
	query := `SELECT state FROM positions WHERE strategy = $1`
	args := []any{strategy}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list positions by strategy: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions by strategy: %w", err)
	}
	return positions, nil
}

// ListClosedSince returns positions settled at or after the cutoff, newest
// first. The risk checks use this to total up realized losses for the day.
func (s *PositionStore) ListClosedSince(ctx context.Context, since time.Time) ([]*domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM positions
		 WHERE status = ANY($1) AND closed_at >= $2
		 ORDER BY closed_at DESC`, closedPositionStatuses, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions since: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions since: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns settled positions that closed before the cutoff,
// oldest first. A non-positive limit returns everything, which is what the
// archiver wants.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Position, error) {
	query := `SELECT state FROM positions
		 WHERE status = ANY($1) AND closed_at < $2
		 ORDER BY closed_at ASC`
	args := []any{closedPositionStatuses, before}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// DeleteClosedBefore removes settled positions older than the cutoff and
// reports how many rows went away.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE status = ANY($1) AND closed_at < $2`,
		closedPositionStatuses, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountOpen reports how many positions are currently live. The risk checks
// consult this before admitting new entries.
func (s *PositionStore) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE status = ANY($1)`,
		openPositionStatuses,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open positions: %w", err)
	}
	return count, nil
}

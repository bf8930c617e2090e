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

// activeOrderStatuses and terminalOrderStatuses partition the order
// lifecycle for the hot-path queries.
var (
	activeOrderStatuses   = []string{"PENDING", "SUBMITTED", "OPEN", "PARTIALLY_FILLED"}
	terminalOrderStatuses = []string{"FILLED", "CANCELLED", "REJECTED", "FAILED"}
)

// OrderStore implements domain.OrderStore using PostgreSQL. The full order
// projection lives in the state JSONB column; the flat columns mirror the
// fields the list queries filter on.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Save upserts the order and its fills as a single row.
func (s *OrderStore) Save(ctx context.Context, order *domain.Order) error {
	state := order.State()
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal order %s: %w", state.ID, err)
	}

	var exchangeID *string
	if state.ExchangeOrderID != "" {
		exchangeID = &state.ExchangeOrderID
	}

	const query = `
		INSERT INTO orders (
			id, pair, side, order_type, status, exchange_order_id,
			state, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			exchange_order_id = EXCLUDED.exchange_order_id,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`

	_, err = s.pool.Exec(ctx, query,
		state.ID, state.Pair.Symbol(), string(state.Side), string(state.Type),
		string(state.Status), exchangeID,
		stateJSON, state.CreatedAt, state.UpdatedAt, state.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save order %s: %w", state.ID, err)
	}
	return nil
}

func scanOrderFromRow(scanner interface{ Scan(dest ...any) error }) (*domain.Order, error) {
	var stateJSON []byte
	if err := scanner.Scan(&stateJSON); err != nil {
		return nil, err
	}

	var state domain.OrderState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal order state: %w", err)
	}
	return domain.OrderFromState(state)
}

func scanOrderRows(rows pgx.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT state FROM orders WHERE id = $1`, id)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListActive returns all orders that can still change, newest first.
func (s *OrderStore) ListActive(ctx context.Context) ([]*domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state FROM orders
		 WHERE status = ANY($1)
		 ORDER BY created_at DESC`, activeOrderStatuses)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active orders: %w", err)
	}
	return orders, nil
}

// ListByPair returns orders for a trading pair with pagination.
func (s *OrderStore) ListByPair(ctx context.Context, pair domain.TradingPair, opts domain.ListOpts) ([]*domain.Order, error) {
	query := `SELECT state FROM orders WHERE pair = $1`
	args := []any{pair.Symbol()}
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
		return nil, fmt.Errorf("postgres: list orders by pair: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders by pair: %w", err)
	}
	return orders, nil
}

// ListTerminalBefore returns settled orders whose final update precedes the
// cutoff, oldest first. A non-positive limit returns everything, which is
// what the archiver wants.
func (s *OrderStore) ListTerminalBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	query := `SELECT state FROM orders
		 WHERE status = ANY($1) AND updated_at < $2
		 ORDER BY updated_at ASC`
	args := []any{terminalOrderStatuses, before}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal orders: %w", err)
	}
	return orders, nil
}

// DeleteTerminalBefore removes settled orders older than the cutoff and
// reports how many rows went away.
func (s *OrderStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orders WHERE status = ANY($1) AND updated_at < $2`,
		terminalOrderStatuses, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete terminal orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

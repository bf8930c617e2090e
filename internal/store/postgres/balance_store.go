package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantari/tradecore/internal/domain"
)

// BalanceStore implements domain.BalanceStore using PostgreSQL. Magnitudes
// are stored as NUMERIC and scanned straight into decimal.Decimal through
// the codecs registered on every connection.
type BalanceStore struct {
	pool *pgxpool.Pool
}

var _ domain.BalanceStore = (*BalanceStore)(nil)

// NewBalanceStore creates a new BalanceStore backed by the given pool.
func NewBalanceStore(pool *pgxpool.Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Save upserts the balance row for the balance's asset.
func (s *BalanceStore) Save(ctx context.Context, bal domain.Balance) error {
	const query = `
		INSERT INTO balances (asset, available, reserved, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (asset) DO UPDATE SET
			available = EXCLUDED.available,
			reserved = EXCLUDED.reserved,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		bal.Asset().Symbol(), bal.Available().Decimal(), bal.Reserved().Decimal())
	if err != nil {
		return fmt.Errorf("postgres: save balance %s: %w", bal.Asset().Symbol(), err)
	}
	return nil
}

func buildBalance(symbol string, available, reserved decimal.Decimal) (domain.Balance, error) {
	asset, err := domain.AssetFromSymbol(symbol)
	if err != nil {
		return domain.Balance{}, err
	}
	avail, err := domain.NewAmount(available, asset)
	if err != nil {
		return domain.Balance{}, err
	}
	res, err := domain.NewAmount(reserved, asset)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.BalanceOf(avail, res)
}

// Get retrieves the balance for a single asset.
func (s *BalanceStore) Get(ctx context.Context, asset domain.Asset) (domain.Balance, error) {
	var available, reserved decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT available, reserved FROM balances WHERE asset = $1`,
		asset.Symbol(),
	).Scan(&available, &reserved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Balance{}, domain.ErrNotFound
		}
		return domain.Balance{}, fmt.Errorf("postgres: get balance %s: %w", asset.Symbol(), err)
	}

	bal, err := buildBalance(asset.Symbol(), available, reserved)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("postgres: rebuild balance %s: %w", asset.Symbol(), err)
	}
	return bal, nil
}

// List returns every tracked balance ordered by asset symbol.
func (s *BalanceStore) List(ctx context.Context) ([]domain.Balance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT asset, available, reserved FROM balances ORDER BY asset`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var symbol string
		var available, reserved decimal.Decimal
		if err := rows.Scan(&symbol, &available, &reserved); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		bal, err := buildBalance(symbol, available, reserved)
		if err != nil {
			return nil, fmt.Errorf("postgres: rebuild balance %s: %w", symbol, err)
		}
		balances = append(balances, bal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return balances, nil
}

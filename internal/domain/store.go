package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists order aggregates with their fills.
type OrderStore interface {
	Save(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListActive(ctx context.Context) ([]*Order, error)
	ListByPair(ctx context.Context, pair TradingPair, opts ListOpts) ([]*Order, error)
	ListTerminalBefore(ctx context.Context, before time.Time, limit int) ([]*Order, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists position aggregates.
type PositionStore interface {
	Save(ctx context.Context, pos *Position) error
	GetByID(ctx context.Context, id string) (*Position, error)
	ListOpen(ctx context.Context) ([]*Position, error)
	ListByStrategy(ctx context.Context, strategy string, opts ListOpts) ([]*Position, error)
	ListClosedSince(ctx context.Context, since time.Time) ([]*Position, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]*Position, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
	CountOpen(ctx context.Context) (int64, error)
}

// BalanceStore persists per-asset balances.
type BalanceStore interface {
	Get(ctx context.Context, asset Asset) (Balance, error)
	List(ctx context.Context) ([]Balance, error)
	Save(ctx context.Context, bal Balance) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Actor     string         `json:"actor,omitempty"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entityId,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Record(ctx context.Context, entry AuditEntry) error
	ListByEntity(ctx context.Context, entity, entityID string, opts ListOpts) ([]AuditEntry, error)
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

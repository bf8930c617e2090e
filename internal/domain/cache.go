package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest marks.
type PriceCache interface {
	SetPrice(ctx context.Context, price Price, ts time.Time) error
	GetPrice(ctx context.Context, pair TradingPair) (Price, time.Time, error)
	GetPrices(ctx context.Context, pairs []TradingPair) (map[string]Price, error)
}

// BookCache stores live depth snapshots.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap *OrderBookSnapshot) error
	GetSnapshot(ctx context.Context, pair TradingPair) (*OrderBookSnapshot, error)
	GetTopOfBook(ctx context.Context, pair TradingPair) (bid, ask OrderBookLevel, err error)
}

// CandleCache keeps a rolling window of recent candles per pair and
// timeframe.
type CandleCache interface {
	Append(ctx context.Context, c Candle) error
	Recent(ctx context.Context, pair TradingPair, tf Timeframe, limit int) ([]Candle, error)
	Latest(ctx context.Context, pair TradingPair, tf Timeframe) (Candle, error)
}

// RateLimiter admits or rejects one request against a shared budget.
// Callers that must block poll Allow under their own context.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans out domain events over pub/sub and mirrors them to a
// durable stream for replay.
type SignalBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, channels ...string) (<-chan Event, error)
	StreamRead(ctx context.Context, lastID string, count int) ([]StreamMessage, error)
}

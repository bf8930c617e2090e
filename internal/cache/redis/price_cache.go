package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantari/tradecore/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each pair's
// mark is stored at key "price:{pair}" with fields "value" (exact decimal
// string) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(pair string) string {
	return "price:" + pair
}

// SetPrice stores the latest mark and timestamp for the price's pair.
func (pc *PriceCache) SetPrice(ctx context.Context, price domain.Price, ts time.Time) error {
	key := priceKey(price.Pair().Symbol())
	fields := map[string]interface{}{
		"value": price.Decimal().String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", price.Pair().Symbol(), err)
	}
	return nil
}

// GetPrice retrieves the latest mark and timestamp for a pair.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, pair domain.TradingPair) (domain.Price, time.Time, error) {
	symbol := pair.Symbol()
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Price{}, time.Time{}, domain.ErrNotFound
	}

	valueStr, ok := vals["value"]
	if !ok {
		return domain.Price{}, time.Time{}, domain.ErrNotFound
	}
	price, err := domain.NewPriceFromString(valueStr, pair)
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Price{}, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Price{}, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest marks for multiple pairs using a pipeline.
// Pairs whose keys do not exist are silently omitted from the result map,
// which is keyed by pair symbol.
func (pc *PriceCache) GetPrices(ctx context.Context, pairs []domain.TradingPair) (map[string]domain.Price, error) {
	if len(pairs) == 0 {
		return map[string]domain.Price{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(pairs))
	byName := make(map[string]domain.TradingPair, len(pairs))
	for _, pair := range pairs {
		symbol := pair.Symbol()
		cmds[symbol] = pipe.HGetAll(ctx, priceKey(symbol))
		byName[symbol] = pair
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]domain.Price, len(pairs))
	for symbol, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		valueStr, ok := vals["value"]
		if !ok {
			continue
		}
		price, err := domain.NewPriceFromString(valueStr, byName[symbol])
		if err != nil {
			continue
		}
		result[symbol] = price
	}

	return result, nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantari/tradecore/internal/domain"
)

// maxCandlesPerSeries bounds the rolling window kept per pair/timeframe.
const maxCandlesPerSeries = 1000

// CandleCache implements domain.CandleCache using Redis sorted sets. Each
// series lives at "candles:{pair}:{tf}" with the candle's JSON projection as
// member and its open time (Unix seconds) as score, so range reads come back
// in chronological order.
type CandleCache struct {
	rdb *redis.Client
}

var _ domain.CandleCache = (*CandleCache)(nil)

// NewCandleCache creates a CandleCache backed by the given Client.
func NewCandleCache(c *Client) *CandleCache {
	return &CandleCache{rdb: c.Underlying()}
}

func candlesKey(pair string, tf domain.Timeframe) string {
	return "candles:" + pair + ":" + string(tf)
}

// Append stores a closed candle, replacing any candle already recorded for
// the same open time, and trims the series to the rolling window.
func (cc *CandleCache) Append(ctx context.Context, c domain.Candle) error {
	key := candlesKey(c.Pair().Symbol(), c.Timeframe())
	payload, err := json.Marshal(c.State())
	if err != nil {
		return fmt.Errorf("redis: marshal candle %s: %w", key, err)
	}
	score := float64(c.OpenTime().Unix())

	pipe := cc.rdb.TxPipeline()
	// A re-delivered candle for the same open time supersedes the old one.
	pipe.ZRemRangeByScore(ctx, key, formatScore(score), formatScore(score))
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: payload})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-maxCandlesPerSeries-1))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append candle %s: %w", key, err)
	}
	return nil
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.0f", score)
}

// Recent returns up to limit candles for a series in chronological order.
// A non-positive limit returns the whole rolling window.
func (cc *CandleCache) Recent(ctx context.Context, pair domain.TradingPair, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	key := candlesKey(pair.Symbol(), tf)
	if limit <= 0 || limit > maxCandlesPerSeries {
		limit = maxCandlesPerSeries
	}

	// Take the newest entries, then reverse into chronological order.
	raw, err := cc.rdb.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent candles %s: %w", key, err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		c, err := decodeCandle([]byte(raw[i]))
		if err != nil {
			return nil, fmt.Errorf("redis: decode candle %s: %w", key, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// Latest returns the most recent candle for a series. It returns
// domain.ErrNotFound when the series is empty.
func (cc *CandleCache) Latest(ctx context.Context, pair domain.TradingPair, tf domain.Timeframe) (domain.Candle, error) {
	key := candlesKey(pair.Symbol(), tf)
	raw, err := cc.rdb.ZRevRange(ctx, key, 0, 0).Result()
	if err != nil {
		return domain.Candle{}, fmt.Errorf("redis: latest candle %s: %w", key, err)
	}
	if len(raw) == 0 {
		return domain.Candle{}, domain.ErrNotFound
	}

	c, err := decodeCandle([]byte(raw[0]))
	if err != nil {
		return domain.Candle{}, fmt.Errorf("redis: decode candle %s: %w", key, err)
	}
	return c, nil
}

func decodeCandle(payload []byte) (domain.Candle, error) {
	var state domain.CandleState
	if err := json.Unmarshal(payload, &state); err != nil {
		return domain.Candle{}, err
	}
	return domain.CandleFromState(state)
}

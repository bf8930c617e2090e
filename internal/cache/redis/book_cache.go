package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantari/tradecore/internal/domain"
)

// BookCache implements domain.BookCache using Redis sorted sets and hashes
// for each pair's depth ladder.
//
// Key schema:
//
//	book:{pair}:bids     - sorted set of bid prices (score = price, member = exact decimal string)
//	book:{pair}:asks     - sorted set of ask prices (score = price, member = exact decimal string)
//	book:{pair}:bid:size - hash mapping price string -> quantity string for bids
//	book:{pair}:ask:size - hash mapping price string -> quantity string for asks
//	book:{pair}:bbo      - hash with "bid", "bid_qty", "ask", "ask_qty"
//	book:{pair}:meta     - hash with "ts" field (snapshot timestamp)
//
// Scores are float64 approximations used only for ordering; the members and
// hash values carry the exact decimal strings, so nothing is lost on the
// round trip.
type BookCache struct {
	rdb *redis.Client
}

var _ domain.BookCache = (*BookCache)(nil)

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookBidsKey(pair string) string    { return "book:" + pair + ":bids" }
func bookAsksKey(pair string) string    { return "book:" + pair + ":asks" }
func bookBidSizeKey(pair string) string { return "book:" + pair + ":bid:size" }
func bookAskSizeKey(pair string) string { return "book:" + pair + ":ask:size" }
func bookBBOKey(pair string) string     { return "book:" + pair + ":bbo" }
func bookMetaKey(pair string) string    { return "book:" + pair + ":meta" }

// SetSnapshot atomically replaces the entire depth snapshot for a pair. It
// clears existing data and repopulates the sorted sets, size hashes, the BBO
// hash, and the metadata hash in one transaction.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap *domain.OrderBookSnapshot) error {
	pair := snap.Pair().Symbol()
	bidsKey := bookBidsKey(pair)
	asksKey := bookAsksKey(pair)
	bidSizeKey := bookBidSizeKey(pair)
	askSizeKey := bookAskSizeKey(pair)
	bboKey := bookBBOKey(pair)
	metaKey := bookMetaKey(pair)

	pipe := bc.rdb.TxPipeline()

	// Clear existing keys.
	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, bboKey, metaKey)

	// Populate bids.
	for _, lvl := range snap.Bids() {
		priceStr := lvl.Price().Decimal().String()
		qtyStr := lvl.Quantity().Decimal().String()
		score, _ := lvl.Price().Decimal().Float64()
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: score, Member: priceStr})
		pipe.HSet(ctx, bidSizeKey, priceStr, qtyStr)
	}

	// Populate asks.
	for _, lvl := range snap.Asks() {
		priceStr := lvl.Price().Decimal().String()
		qtyStr := lvl.Quantity().Decimal().String()
		score, _ := lvl.Price().Decimal().Float64()
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: score, Member: priceStr})
		pipe.HSet(ctx, askSizeKey, priceStr, qtyStr)
	}

	// Set BBO.
	bestBid := snap.BestBid()
	bestAsk := snap.BestAsk()
	pipe.HSet(ctx, bboKey, map[string]interface{}{
		"bid":     bestBid.Price().Decimal().String(),
		"bid_qty": bestBid.Quantity().Decimal().String(),
		"ask":     bestAsk.Price().Decimal().String(),
		"ask_qty": bestAsk.Quantity().Decimal().String(),
	})

	// Set metadata.
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(snap.CapturedAt().UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book snapshot %s: %w", pair, err)
	}
	return nil
}

// GetSnapshot reconstructs a full snapshot from Redis. It returns
// domain.ErrNotFound if no snapshot data exists for the pair.
func (bc *BookCache) GetSnapshot(ctx context.Context, pair domain.TradingPair) (*domain.OrderBookSnapshot, error) {
	symbol := pair.Symbol()

	pipe := bc.rdb.Pipeline()

	// Bids are read highest first, asks lowest first.
	bidsCmd := pipe.ZRevRange(ctx, bookBidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRange(ctx, bookAsksKey(symbol), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(symbol))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(symbol))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis: get book snapshot %s: %w", symbol, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return nil, domain.ErrNotFound
	}

	var capturedAt time.Time
	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			capturedAt = time.Unix(0, tsNano)
		}
	}

	bids, err := buildLadder(pair, bidsCmd.Val(), bidSizeCmd.Val())
	if err != nil {
		return nil, fmt.Errorf("redis: rebuild bids %s: %w", symbol, err)
	}
	asks, err := buildLadder(pair, asksCmd.Val(), askSizeCmd.Val())
	if err != nil {
		return nil, fmt.Errorf("redis: rebuild asks %s: %w", symbol, err)
	}

	snap, err := domain.NewOrderBookSnapshot(pair, bids, asks, capturedAt)
	if err != nil {
		return nil, fmt.Errorf("redis: rebuild book snapshot %s: %w", symbol, err)
	}
	return snap, nil
}

// buildLadder turns ordered price strings plus a size hash back into levels.
func buildLadder(pair domain.TradingPair, prices []string, sizes map[string]string) ([]domain.OrderBookLevel, error) {
	levels := make([]domain.OrderBookLevel, 0, len(prices))
	for _, priceStr := range prices {
		qtyStr, ok := sizes[priceStr]
		if !ok {
			continue
		}
		price, err := domain.NewPriceFromString(priceStr, pair)
		if err != nil {
			return nil, err
		}
		qty, err := domain.NewAmountFromString(qtyStr, pair.Base())
		if err != nil {
			return nil, err
		}
		lvl, err := domain.NewOrderBookLevel(price, qty)
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}

// GetTopOfBook retrieves the best bid and ask levels from the BBO hash
// without touching the full ladder. It returns domain.ErrNotFound if no
// snapshot has been stored for the pair.
func (bc *BookCache) GetTopOfBook(ctx context.Context, pair domain.TradingPair) (bid, ask domain.OrderBookLevel, err error) {
	symbol := pair.Symbol()
	vals, err := bc.rdb.HGetAll(ctx, bookBBOKey(symbol)).Result()
	if err != nil {
		return bid, ask, fmt.Errorf("redis: get bbo %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return bid, ask, domain.ErrNotFound
	}

	bid, err = buildLevel(pair, vals["bid"], vals["bid_qty"])
	if err != nil {
		return bid, ask, fmt.Errorf("redis: rebuild best bid %s: %w", symbol, err)
	}
	ask, err = buildLevel(pair, vals["ask"], vals["ask_qty"])
	if err != nil {
		return bid, ask, fmt.Errorf("redis: rebuild best ask %s: %w", symbol, err)
	}
	return bid, ask, nil
}

func buildLevel(pair domain.TradingPair, priceStr, qtyStr string) (domain.OrderBookLevel, error) {
	price, err := domain.NewPriceFromString(priceStr, pair)
	if err != nil {
		return domain.OrderBookLevel{}, err
	}
	qty, err := domain.NewAmountFromString(qtyStr, pair.Base())
	if err != nil {
		return domain.OrderBookLevel{}, err
	}
	return domain.NewOrderBookLevel(price, qty)
}

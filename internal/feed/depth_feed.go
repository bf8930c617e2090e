package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantari/tradecore/internal/domain"
	"github.com/quantari/tradecore/internal/exchange"
)

const (
	dialTimeout    = 15 * time.Second
	redialInterval = 2 * time.Second
)

// BookIngestor receives validated depth snapshots from the feed.
type BookIngestor interface {
	Ingest(ctx context.Context, snap *domain.OrderBookSnapshot) error
}

// streamConn is the slice of the exchange stream client the feed drives.
type streamConn interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, channels []string, pairs []string) error
	OnDepth(exchange.DepthHandler)
	OnKline(exchange.KlineHandler)
	OnTrade(exchange.TradeHandler)
	Close() error
}

// DepthFeed consumes the exchange market-data stream for a set of pairs:
// depth snapshots are validated and handed to the book ingestor, closed
// klines go to the candle cache, and trades refresh the mark price.
// Malformed or crossed feed data is logged and dropped; the stream is
// treated as untrusted input.
type DepthFeed struct {
	wsURL      string
	pairs      []domain.TradingPair
	timeframes []domain.Timeframe

	books   BookIngestor
	prices  domain.PriceCache
	candles domain.CandleCache
	bus     domain.SignalBus
	logger  *slog.Logger

	dial func() streamConn

	closeOnce sync.Once
	done      chan struct{}
}

// NewDepthFeed creates a feed for the given pairs and kline timeframes.
func NewDepthFeed(
	wsURL string,
	pairs []domain.TradingPair,
	timeframes []domain.Timeframe,
	books BookIngestor,
	prices domain.PriceCache,
	candles domain.CandleCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *DepthFeed {
	return &DepthFeed{
		wsURL:      wsURL,
		pairs:      pairs,
		timeframes: timeframes,
		books:      books,
		prices:     prices,
		candles:    candles,
		bus:        bus,
		logger:     logger.With(slog.String("component", "depth_feed")),
		dial: func() streamConn {
			return exchange.NewWSClient(wsURL)
		},
		done: make(chan struct{}),
	}
}

// Run connects, subscribes, and blocks until ctx is cancelled or the feed
// is closed. Failed dials are retried; once connected, the stream client's
// own reconnect keeps the subscriptions alive.
func (f *DepthFeed) Run(ctx context.Context) error {
	if len(f.pairs) == 0 {
		f.logger.Info("no pairs to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("stream disconnected, redialing", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(redialInterval):
		}
	}
}

func (f *DepthFeed) runConnection(ctx context.Context) error {
	client := f.dial()
	defer client.Close()

	client.OnDepth(func(msg exchange.DepthMessage) {
		f.handleDepth(ctx, msg)
	})
	client.OnKline(func(msg exchange.KlineMessage) {
		f.handleKline(ctx, msg)
	})
	client.OnTrade(func(msg exchange.TradeMessage) {
		f.handleTrade(ctx, msg)
	})

	// Timeout applies to the dial only; the connection itself lives until
	// shutdown.
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := client.Subscribe(ctx, f.channels(), f.pairSymbols()); err != nil {
		return err
	}
	f.logger.Info("stream subscribed",
		slog.Int("pairs", len(f.pairs)),
		slog.Int("timeframes", len(f.timeframes)),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// Close stops the feed.
func (f *DepthFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *DepthFeed) channels() []string {
	channels := []string{exchange.ChannelDepth, exchange.ChannelTrade}
	for _, tf := range f.timeframes {
		channels = append(channels, exchange.KlineChannel(tf))
	}
	return channels
}

func (f *DepthFeed) pairSymbols() []string {
	symbols := make([]string, len(f.pairs))
	for i, p := range f.pairs {
		symbols[i] = p.Symbol()
	}
	return symbols
}

// --------------------------------------------------------------------------
// Message handlers
// --------------------------------------------------------------------------

func (f *DepthFeed) handleDepth(ctx context.Context, msg exchange.DepthMessage) {
	snap, err := msg.ToSnapshot()
	if err != nil {
		f.logger.Warn("dropping malformed depth message",
			slog.String("pair", msg.Pair),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := f.books.Ingest(ctx, snap); err != nil {
		f.logger.Error("book ingest failed",
			slog.String("pair", snap.Pair().Symbol()),
			slog.String("error", err.Error()),
		)
		return
	}

	// Keep the mark fresh between trades; book updates are announced by
	// the ingestor, so no event here.
	if err := f.prices.SetPrice(ctx, snap.MidPrice(), snap.CapturedAt()); err != nil {
		f.logger.Error("mark price update failed",
			slog.String("pair", snap.Pair().Symbol()),
			slog.String("error", err.Error()),
		)
	}
}

func (f *DepthFeed) handleKline(ctx context.Context, msg exchange.KlineMessage) {
	// Open buckets still mutate on the exchange side; only closed buckets
	// enter the cache.
	if !msg.Closed {
		return
	}

	candle, err := msg.ToCandle()
	if err != nil {
		f.logger.Warn("dropping malformed kline message",
			slog.String("pair", msg.Pair),
			slog.String("interval", msg.Interval),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := f.candles.Append(ctx, candle); err != nil {
		f.logger.Error("candle append failed",
			slog.String("pair", candle.Pair().Symbol()),
			slog.String("timeframe", candle.Timeframe().String()),
			slog.String("error", err.Error()),
		)
		return
	}

	f.publish(ctx, domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventCandleClosed,
		Pair:      candle.Pair().Symbol(),
		Detail: map[string]string{
			"timeframe": candle.Timeframe().String(),
			"openTime":  candle.OpenTime().UTC().Format(time.RFC3339),
			"close":     candle.Close().Decimal().String(),
		},
		CreatedAt: time.Now().UTC(),
	})
}

func (f *DepthFeed) handleTrade(ctx context.Context, msg exchange.TradeMessage) {
	pair, err := domain.ParsePair(msg.Pair)
	if err != nil {
		f.logger.Warn("dropping trade for unknown pair",
			slog.String("pair", msg.Pair),
			slog.String("error", err.Error()),
		)
		return
	}
	price, err := domain.NewPriceFromString(msg.Price, pair)
	if err != nil {
		f.logger.Warn("dropping malformed trade message",
			slog.String("pair", msg.Pair),
			slog.String("error", err.Error()),
		)
		return
	}

	executedAt := time.UnixMilli(msg.Timestamp).UTC()
	if err := f.prices.SetPrice(ctx, price, executedAt); err != nil {
		f.logger.Error("trade price update failed",
			slog.String("pair", pair.Symbol()),
			slog.String("error", err.Error()),
		)
		return
	}

	f.publish(ctx, domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventPriceUpdated,
		Pair:      pair.Symbol(),
		Detail: map[string]string{
			"price":   price.Decimal().String(),
			"tradeId": msg.TradeID,
		},
		CreatedAt: time.Now().UTC(),
	})
}

func (f *DepthFeed) publish(ctx context.Context, event domain.Event) {
	if err := f.bus.Publish(ctx, event); err != nil {
		f.logger.Error("event publish failed",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}

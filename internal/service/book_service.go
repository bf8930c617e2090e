package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantari/tradecore/internal/domain"
)

// BookService maintains the live depth cache and answers depth queries and
// market-order estimates against it. The feed pushes validated snapshots in
// through Ingest; readers on the query side never see a snapshot older than
// the staleness window.
type BookService struct {
	books      domain.BookCache
	bus        domain.SignalBus
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewBookService creates a BookService. A non-positive staleAfter disables
// the freshness guard.
func NewBookService(books domain.BookCache, bus domain.SignalBus, staleAfter time.Duration, logger *slog.Logger) *BookService {
	return &BookService{
		books:      books,
		bus:        bus,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Ingest caches one depth snapshot and announces the book change.
func (s *BookService) Ingest(ctx context.Context, snap *domain.OrderBookSnapshot) error {
	if snap == nil {
		return fmt.Errorf("book_service: ingest: %w", domain.ErrInvalidValue)
	}

	if err := s.books.SetSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("book_service: cache snapshot %s: %w", snap.Pair().Symbol(), err)
	}

	s.publish(ctx, domain.Event{
		Type:  domain.EventBookUpdated,
		Pair:  snap.Pair().Symbol(),
		Actor: "book_service",
		Detail: map[string]string{
			"bid": snap.BestBid().Price().String(),
			"ask": snap.BestAsk().Price().String(),
			"mid": snap.MidPrice().String(),
		},
	})

	s.logger.DebugContext(ctx, "book_service: snapshot ingested",
		slog.String("pair", snap.Pair().Symbol()),
		slog.Int("bids", len(snap.Bids())),
		slog.Int("asks", len(snap.Asks())),
	)
	return nil
}

// Snapshot returns the latest cached depth for a pair. A snapshot older
// than the staleness window reports not found.
func (s *BookService) Snapshot(ctx context.Context, pair domain.TradingPair) (*domain.OrderBookSnapshot, error) {
	snap, err := s.books.GetSnapshot(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("book_service: get snapshot %s: %w", pair.Symbol(), err)
	}
	if s.staleAfter > 0 && time.Since(snap.CapturedAt()) > s.staleAfter {
		return nil, fmt.Errorf("book_service: snapshot for %s captured %s ago is stale: %w",
			pair.Symbol(), time.Since(snap.CapturedAt()).Round(time.Millisecond), domain.ErrNotFound)
	}
	return snap, nil
}

// TopOfBook returns the best bid and ask from the cache's fast path,
// without the staleness guard.
func (s *BookService) TopOfBook(ctx context.Context, pair domain.TradingPair) (bid, ask domain.OrderBookLevel, err error) {
	bid, ask, err = s.books.GetTopOfBook(ctx, pair)
	if err != nil {
		return domain.OrderBookLevel{}, domain.OrderBookLevel{}, fmt.Errorf("book_service: top of book %s: %w", pair.Symbol(), err)
	}
	return bid, ask, nil
}

// EstimateBuy simulates a market buy of size against the current ask
// ladder. With strict set, insufficient depth is an error instead of a
// partial-fill estimate.
func (s *BookService) EstimateBuy(ctx context.Context, pair domain.TradingPair, size domain.Amount, strict bool) (domain.MarketOrderEstimate, error) {
	snap, err := s.Snapshot(ctx, pair)
	if err != nil {
		return domain.MarketOrderEstimate{}, err
	}

	var est domain.MarketOrderEstimate
	if strict {
		est, err = snap.EstimateMarketBuyStrict(size)
	} else {
		est, err = snap.EstimateMarketBuy(size)
	}
	if err != nil {
		return domain.MarketOrderEstimate{}, fmt.Errorf("book_service: estimate buy %s: %w", pair.Symbol(), err)
	}
	return est, nil
}

// EstimateSell simulates a market sell of size against the current bid
// ladder.
func (s *BookService) EstimateSell(ctx context.Context, pair domain.TradingPair, size domain.Amount, strict bool) (domain.MarketOrderEstimate, error) {
	snap, err := s.Snapshot(ctx, pair)
	if err != nil {
		return domain.MarketOrderEstimate{}, err
	}

	var est domain.MarketOrderEstimate
	if strict {
		est, err = snap.EstimateMarketSellStrict(size)
	} else {
		est, err = snap.EstimateMarketSell(size)
	}
	if err != nil {
		return domain.MarketOrderEstimate{}, fmt.Errorf("book_service: estimate sell %s: %w", pair.Symbol(), err)
	}
	return est, nil
}

func (s *BookService) publish(ctx context.Context, event domain.Event) {
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now().UTC()
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "book_service: publish event failed",
			slog.String("type", string(event.Type)),
			slog.String("pair", event.Pair),
			slog.String("error", err.Error()),
		)
	}
}

package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBookLevel is one rung of a depth ladder: a price and the
// base-asset quantity resting at it.
type OrderBookLevel struct {
	price    Price
	quantity Amount
}

// NewOrderBookLevel requires a positive base-asset quantity at a price.
func NewOrderBookLevel(price Price, quantity Amount) (OrderBookLevel, error) {
	if price.IsZero() {
		return OrderBookLevel{}, newValueError("order book level", "price", "", "missing price")
	}
	if !quantity.Asset().Equal(price.Pair().Base()) {
		return OrderBookLevel{}, newValueError("order book level", "quantity", quantity.Asset().Symbol(), "quantity must be base-denominated")
	}
	if !quantity.IsPositive() {
		return OrderBookLevel{}, newValueError("order book level", "quantity", quantity.Decimal().String(), "must be positive")
	}
	return OrderBookLevel{price: price, quantity: quantity}, nil
}

func (l OrderBookLevel) Price() Price { return l.price }

func (l OrderBookLevel) Quantity() Amount { return l.quantity }

// Notional returns price x quantity in the quote asset.
func (l OrderBookLevel) Notional() Amount {
	return Amount{value: l.price.Decimal().Mul(l.quantity.Decimal()), asset: l.price.Pair().Quote()}
}

// OrderBookLevelState is the projection of one ladder rung.
type OrderBookLevelState struct {
	Price    json.Number `json:"price"`
	Quantity json.Number `json:"quantity"`
}

// MarketOrderEstimate is the result of simulating a market order
// against resting liquidity. QuoteTotal is the cost for buys and the
// proceeds for sells. FullyFilled reports whether the ladder covered
// the requested size; a partial result is not an error.
type MarketOrderEstimate struct {
	FilledQuantity Amount `json:"filledQuantity"`
	QuoteTotal     Amount `json:"quoteTotal"`
	AveragePrice   Price  `json:"averagePrice"`
	FullyFilled    bool   `json:"fullyFilled"`
}

// OrderBookSnapshot is an immutable view of resting liquidity for one
// pair: bids sorted descending, asks ascending, and a strictly
// uncrossed top of book. New data means a new snapshot; instances are
// safe to share between goroutines.
type OrderBookSnapshot struct {
	pair       TradingPair
	bids       []OrderBookLevel
	asks       []OrderBookLevel
	capturedAt time.Time
}

// NewOrderBookSnapshot normalizes and validates a snapshot: both sides
// non-empty, every level in the snapshot's pair, bids sorted
// descending and asks ascending, and best bid strictly below best ask.
// A crossed or touching book means the feed is corrupt and is rejected
// rather than repaired.
func NewOrderBookSnapshot(pair TradingPair, bids, asks []OrderBookLevel, capturedAt time.Time) (*OrderBookSnapshot, error) {
	if pair.IsZero() {
		return nil, newValueError("order book", "pair", "", "missing trading pair")
	}
	if len(bids) == 0 {
		return nil, newValueError("order book", "bids", "", "must not be empty")
	}
	if len(asks) == 0 {
		return nil, newValueError("order book", "asks", "", "must not be empty")
	}
	if capturedAt.IsZero() {
		return nil, newValueError("order book", "capturedAt", "", "missing capture time")
	}
	sortedBids, err := copyLadder(pair, "bids", bids)
	if err != nil {
		return nil, err
	}
	sortedAsks, err := copyLadder(pair, "asks", asks)
	if err != nil {
		return nil, err
	}
	sort.Slice(sortedBids, func(i, j int) bool {
		return sortedBids[i].price.Decimal().GreaterThan(sortedBids[j].price.Decimal())
	})
	sort.Slice(sortedAsks, func(i, j int) bool {
		return sortedAsks[i].price.Decimal().LessThan(sortedAsks[j].price.Decimal())
	})
	bestBid := sortedBids[0].price.Decimal()
	bestAsk := sortedAsks[0].price.Decimal()
	if bestBid.Cmp(bestAsk) >= 0 {
		return nil, newValueError("order book", "bids", bestBid.String(),
			"crossed book: best bid "+bestBid.String()+" >= best ask "+bestAsk.String())
	}
	return &OrderBookSnapshot{
		pair:       pair,
		bids:       sortedBids,
		asks:       sortedAsks,
		capturedAt: capturedAt,
	}, nil
}

func copyLadder(pair TradingPair, side string, levels []OrderBookLevel) ([]OrderBookLevel, error) {
	out := make([]OrderBookLevel, len(levels))
	for i, lvl := range levels {
		if lvl.price.IsZero() || lvl.quantity.Asset().IsZero() {
			return nil, newValueError("order book", side, "", "uninitialized level")
		}
		if !lvl.price.Pair().Equal(pair) {
			return nil, newValueError("order book", side, lvl.price.Pair().Symbol(), "level pair does not match snapshot pair")
		}
		out[i] = lvl
	}
	return out, nil
}

func (s *OrderBookSnapshot) Pair() TradingPair { return s.pair }

func (s *OrderBookSnapshot) CapturedAt() time.Time { return s.capturedAt }

// Bids returns a copy of the bid ladder, best first.
func (s *OrderBookSnapshot) Bids() []OrderBookLevel {
	out := make([]OrderBookLevel, len(s.bids))
	copy(out, s.bids)
	return out
}

// Asks returns a copy of the ask ladder, best first.
func (s *OrderBookSnapshot) Asks() []OrderBookLevel {
	out := make([]OrderBookLevel, len(s.asks))
	copy(out, s.asks)
	return out
}

// BestBid returns the highest resting bid.
func (s *OrderBookSnapshot) BestBid() OrderBookLevel { return s.bids[0] }

// BestAsk returns the lowest resting ask.
func (s *OrderBookSnapshot) BestAsk() OrderBookLevel { return s.asks[0] }

// MidPrice returns (bestBid + bestAsk) / 2. Always positive on an
// uncrossed book.
func (s *OrderBookSnapshot) MidPrice() Price {
	mid := s.bids[0].price.Decimal().Add(s.asks[0].price.Decimal()).Div(two)
	return Price{value: mid, pair: s.pair}
}

// Spread returns bestAsk - bestBid as a quote amount; strictly
// positive on an uncrossed book.
func (s *OrderBookSnapshot) Spread() Amount {
	return Amount{value: s.asks[0].price.Decimal().Sub(s.bids[0].price.Decimal()), asset: s.pair.Quote()}
}

// SpreadPercent returns the spread relative to the mid price.
func (s *OrderBookSnapshot) SpreadPercent() Percentage {
	return percentFromRatio(s.Spread().Decimal().Div(s.MidPrice().Decimal()))
}

// BidLiquidity sums price x quantity over the first levels rungs of
// the bid ladder; levels <= 0 or beyond the ladder depth means the
// whole side.
func (s *OrderBookSnapshot) BidLiquidity(levels int) Amount {
	return sideLiquidity(s.pair, s.bids, levels)
}

// AskLiquidity sums price x quantity over the first levels rungs of
// the ask ladder.
func (s *OrderBookSnapshot) AskLiquidity(levels int) Amount {
	return sideLiquidity(s.pair, s.asks, levels)
}

func sideLiquidity(pair TradingPair, ladder []OrderBookLevel, levels int) Amount {
	if levels <= 0 || levels > len(ladder) {
		levels = len(ladder)
	}
	total := decimal.Zero
	for _, lvl := range ladder[:levels] {
		total = total.Add(lvl.price.Decimal().Mul(lvl.quantity.Decimal()))
	}
	return Amount{value: total, asset: pair.Quote()}
}

// Imbalance returns (bidLiquidity - askLiquidity) / (bidLiquidity +
// askLiquidity) over the first levels rungs per side, in [-1, 1].
func (s *OrderBookSnapshot) Imbalance(levels int) decimal.Decimal {
	bid := s.BidLiquidity(levels).Decimal()
	ask := s.AskLiquidity(levels).Decimal()
	return bid.Sub(ask).Div(bid.Add(ask))
}

// EstimateMarketBuy walks the ask ladder from the best price outward,
// consuming min(remaining, levelQuantity) per rung. Insufficient depth
// yields a partial result with FullyFilled=false, never an error;
// errors are reserved for invalid input.
func (s *OrderBookSnapshot) EstimateMarketBuy(size Amount) (MarketOrderEstimate, error) {
	return s.walkLadder("estimate market buy", s.asks, size)
}

// EstimateMarketSell walks the bid ladder, accumulating proceeds.
func (s *OrderBookSnapshot) EstimateMarketSell(size Amount) (MarketOrderEstimate, error) {
	return s.walkLadder("estimate market sell", s.bids, size)
}

// EstimateMarketBuyStrict treats ladder exhaustion as a failure.
func (s *OrderBookSnapshot) EstimateMarketBuyStrict(size Amount) (MarketOrderEstimate, error) {
	est, err := s.EstimateMarketBuy(size)
	if err != nil {
		return MarketOrderEstimate{}, err
	}
	return requireFull(est, s.pair, size)
}

// EstimateMarketSellStrict treats ladder exhaustion as a failure.
func (s *OrderBookSnapshot) EstimateMarketSellStrict(size Amount) (MarketOrderEstimate, error) {
	est, err := s.EstimateMarketSell(size)
	if err != nil {
		return MarketOrderEstimate{}, err
	}
	return requireFull(est, s.pair, size)
}

func requireFull(est MarketOrderEstimate, pair TradingPair, size Amount) (MarketOrderEstimate, error) {
	if !est.FullyFilled {
		return MarketOrderEstimate{}, fmt.Errorf("domain: %s depth covers %s of %s: %w",
			pair.Symbol(), est.FilledQuantity.Decimal(), size.Decimal(), ErrInsufficientLiquidity)
	}
	return est, nil
}

func (s *OrderBookSnapshot) walkLadder(op string, ladder []OrderBookLevel, size Amount) (MarketOrderEstimate, error) {
	if !size.Asset().Equal(s.pair.Base()) {
		return MarketOrderEstimate{}, newMismatchError(op, s.pair.Base().Symbol(), size.Asset().Symbol())
	}
	if !size.IsPositive() {
		return MarketOrderEstimate{}, newOperationError(op, "size must be positive")
	}
	remaining := size.Decimal()
	filled := decimal.Zero
	total := decimal.Zero
	for _, lvl := range ladder {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(remaining, lvl.quantity.Decimal())
		filled = filled.Add(take)
		total = total.Add(take.Mul(lvl.price.Decimal()))
		remaining = remaining.Sub(take)
	}
	return MarketOrderEstimate{
		FilledQuantity: Amount{value: filled, asset: s.pair.Base()},
		QuoteTotal:     Amount{value: total, asset: s.pair.Quote()},
		AveragePrice:   Price{value: total.Div(filled), pair: s.pair},
		FullyFilled:    remaining.IsZero(),
	}, nil
}

var two = decimal.NewFromInt(2)

// OrderBookSnapshotState is the exported projection of a snapshot;
// ladder prices and quantities are plain numbers scoped by the pair.
type OrderBookSnapshotState struct {
	Pair       TradingPair           `json:"pair"`
	Bids       []OrderBookLevelState `json:"bids"`
	Asks       []OrderBookLevelState `json:"asks"`
	CapturedAt time.Time             `json:"capturedAt"`
}

// State returns the snapshot's projection.
func (s *OrderBookSnapshot) State() OrderBookSnapshotState {
	return OrderBookSnapshotState{
		Pair:       s.pair,
		Bids:       ladderState(s.bids),
		Asks:       ladderState(s.asks),
		CapturedAt: s.capturedAt,
	}
}

func ladderState(ladder []OrderBookLevel) []OrderBookLevelState {
	out := make([]OrderBookLevelState, len(ladder))
	for i, lvl := range ladder {
		out[i] = OrderBookLevelState{
			Price:    json.Number(lvl.price.Decimal().String()),
			Quantity: json.Number(lvl.quantity.Decimal().String()),
		}
	}
	return out
}

// SnapshotFromState rehydrates with full validation, including the
// uncrossed-book check.
func SnapshotFromState(st OrderBookSnapshotState) (*OrderBookSnapshot, error) {
	bids, err := ladderFromState(st.Pair, st.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := ladderFromState(st.Pair, st.Asks)
	if err != nil {
		return nil, err
	}
	return NewOrderBookSnapshot(st.Pair, bids, asks, st.CapturedAt)
}

func ladderFromState(pair TradingPair, states []OrderBookLevelState) ([]OrderBookLevel, error) {
	out := make([]OrderBookLevel, 0, len(states))
	for _, ls := range states {
		priceDec, err := decimal.NewFromString(ls.Price.String())
		if err != nil {
			return nil, newValueError("order book level", "price", ls.Price.String(), "not a decimal number")
		}
		qtyDec, err := decimal.NewFromString(ls.Quantity.String())
		if err != nil {
			return nil, newValueError("order book level", "quantity", ls.Quantity.String(), "not a decimal number")
		}
		price, err := NewPrice(priceDec, pair)
		if err != nil {
			return nil, err
		}
		lvl, err := NewOrderBookLevel(price, Amount{value: qtyDec, asset: pair.Base()})
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// MarshalJSON projects the snapshot state.
func (s *OrderBookSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.State())
}

package exchange

import (
	"time"

	"github.com/quantari/tradecore/internal/domain"
)

// OrderRequest is the wire payload for placing an order on the exchange.
type OrderRequest struct {
	ClientOrderID string `json:"clientOrderId"`
	Pair          string `json:"pair"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	StopPrice     string `json:"stopPrice,omitempty"`
}

// OrderRequestFrom builds the wire payload for a domain order. The order's
// own id travels as the client order id so acks and fills can be correlated
// back to it.
func OrderRequestFrom(o *domain.Order) OrderRequest {
	req := OrderRequest{
		ClientOrderID: o.ID(),
		Pair:          o.Pair().Symbol(),
		Side:          string(o.Side()),
		Type:          string(o.Type()),
		Quantity:      o.RequestedQuantity().Decimal().String(),
	}
	if stop, ok := o.StopPrice(); ok {
		req.StopPrice = stop.Decimal().String()
	}
	return req
}

// OrderAck is the exchange's acknowledgement of an order operation.
type OrderAck struct {
	ExchangeOrderID string `json:"orderId"`
	ClientOrderID   string `json:"clientOrderId"`
	Pair            string `json:"pair"`
	Status          string `json:"status"`
	TransactTime    int64  `json:"transactTime"` // unix milliseconds
}

// TransactedAt returns the ack timestamp as a time.
func (a OrderAck) TransactedAt() time.Time {
	return time.UnixMilli(a.TransactTime).UTC()
}

// APIBalance is one asset balance as reported by the account endpoint.
type APIBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// ToBalance converts the wire balance to a validated domain balance.
func (b APIBalance) ToBalance() (domain.Balance, error) {
	asset, err := domain.AssetFromSymbol(b.Asset)
	if err != nil {
		return domain.Balance{}, err
	}
	available, err := domain.NewAmountFromString(b.Free, asset)
	if err != nil {
		return domain.Balance{}, err
	}
	reserved, err := domain.NewAmountFromString(b.Locked, asset)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.BalanceOf(available, reserved)
}

// APIError is the error envelope returned by the exchange on non-2xx
// responses.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// DepthMessage is a full depth snapshot, from either the REST depth
// endpoint or the "depth" stream. Levels are [price, quantity] pairs of
// exact decimal strings, best first.
type DepthMessage struct {
	Pair      string      `json:"pair"`
	Bids      [][2]string `json:"bids"`
	Asks      [][2]string `json:"asks"`
	Timestamp int64       `json:"ts"` // unix milliseconds
}

// ToSnapshot converts the wire depth into a validated domain snapshot.
// Crossed or malformed ladders fail here rather than propagating.
func (m DepthMessage) ToSnapshot() (*domain.OrderBookSnapshot, error) {
	pair, err := domain.ParsePair(m.Pair)
	if err != nil {
		return nil, err
	}
	bids, err := ladderFromWire(pair, m.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := ladderFromWire(pair, m.Asks)
	if err != nil {
		return nil, err
	}
	return domain.NewOrderBookSnapshot(pair, bids, asks, time.UnixMilli(m.Timestamp).UTC())
}

func ladderFromWire(pair domain.TradingPair, levels [][2]string) ([]domain.OrderBookLevel, error) {
	out := make([]domain.OrderBookLevel, 0, len(levels))
	for _, raw := range levels {
		price, err := domain.NewPriceFromString(raw[0], pair)
		if err != nil {
			return nil, err
		}
		qty, err := domain.NewAmountFromString(raw[1], pair.Base())
		if err != nil {
			return nil, err
		}
		lvl, err := domain.NewOrderBookLevel(price, qty)
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// KlineMessage is one OHLC bucket from the kline stream or REST endpoint.
// Closed reports whether the bucket is finalized; open buckets still
// mutate on the exchange side.
type KlineMessage struct {
	Pair     string `json:"pair"`
	Interval string `json:"interval"`
	OpenTime int64  `json:"openTime"` // unix milliseconds
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Closed   bool   `json:"closed"`
}

// ToCandle converts the wire kline into a validated domain candle.
func (m KlineMessage) ToCandle() (domain.Candle, error) {
	pair, err := domain.ParsePair(m.Pair)
	if err != nil {
		return domain.Candle{}, err
	}
	tf, err := domain.ParseTimeframe(m.Interval)
	if err != nil {
		return domain.Candle{}, err
	}
	open, err := domain.NewPriceFromString(m.Open, pair)
	if err != nil {
		return domain.Candle{}, err
	}
	high, err := domain.NewPriceFromString(m.High, pair)
	if err != nil {
		return domain.Candle{}, err
	}
	low, err := domain.NewPriceFromString(m.Low, pair)
	if err != nil {
		return domain.Candle{}, err
	}
	closing, err := domain.NewPriceFromString(m.Close, pair)
	if err != nil {
		return domain.Candle{}, err
	}
	volume, err := domain.NewAmountFromString(m.Volume, pair.Base())
	if err != nil {
		return domain.Candle{}, err
	}
	return domain.NewCandle(pair, tf, time.UnixMilli(m.OpenTime).UTC(), open, high, low, closing, volume)
}

// TradeMessage is one execution report, from the trade stream or the
// my-trades endpoint. OrderID is the exchange order id the execution
// belongs to; it is empty on public trade feeds.
type TradeMessage struct {
	Pair      string `json:"pair"`
	TradeID   string `json:"tradeId"`
	OrderID   string `json:"orderId,omitempty"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Fee       string `json:"fee,omitempty"`
	FeeAsset  string `json:"feeAsset,omitempty"`
	Timestamp int64  `json:"ts"` // unix milliseconds
}

// ToFill converts an execution report into a validated domain fill. A
// missing fee is treated as zero in the quote asset.
func (m TradeMessage) ToFill() (domain.Fill, error) {
	pair, err := domain.ParsePair(m.Pair)
	if err != nil {
		return domain.Fill{}, err
	}
	qty, err := domain.NewAmountFromString(m.Quantity, pair.Base())
	if err != nil {
		return domain.Fill{}, err
	}
	price, err := domain.NewPriceFromString(m.Price, pair)
	if err != nil {
		return domain.Fill{}, err
	}
	fee := domain.ZeroAmount(pair.Quote())
	if m.Fee != "" {
		feeAsset := pair.Quote()
		if m.FeeAsset != "" {
			feeAsset, err = domain.AssetFromSymbol(m.FeeAsset)
			if err != nil {
				return domain.Fill{}, err
			}
		}
		fee, err = domain.NewAmountFromString(m.Fee, feeAsset)
		if err != nil {
			return domain.Fill{}, err
		}
	}
	return domain.NewFill(pair, m.TradeID, m.OrderID, qty, price, fee, time.UnixMilli(m.Timestamp).UTC())
}

// WS channel names. Kline subscriptions carry the timeframe in the
// channel itself, e.g. "kline:1m".
const (
	ChannelDepth = "depth"
	ChannelTrade = "trade"
)

// KlineChannel returns the stream channel for one kline timeframe.
func KlineChannel(tf domain.Timeframe) string {
	return "kline:" + tf.String()
}

// wsCommand is a subscribe/unsubscribe frame sent to the stream endpoint.
type wsCommand struct {
	Type    string   `json:"type"` // subscribe | unsubscribe
	Channel string   `json:"channel"`
	Pairs   []string `json:"pairs"`
}

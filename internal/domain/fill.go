package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Fill is an immutable audit record of one exchange execution event.
// Once constructed it never changes; orders aggregate fills but never
// rewrite them.
type Fill struct {
	pair            TradingPair
	tradeID         string
	exchangeOrderID string
	quantity        Amount
	price           Price
	fee             Amount
	executedAt      time.Time
}

// NewFill validates one execution event: a positive base-asset
// quantity, a price in the fill's pair, and a non-negative fee
// denominated in either leg of the pair.
func NewFill(pair TradingPair, tradeID, exchangeOrderID string, quantity Amount, price Price, fee Amount, executedAt time.Time) (Fill, error) {
	if pair.IsZero() {
		return Fill{}, newValueError("fill", "pair", "", "missing trading pair")
	}
	tradeID = strings.TrimSpace(tradeID)
	if tradeID == "" {
		return Fill{}, newValueError("fill", "tradeId", "", "missing trade id")
	}
	exchangeOrderID = strings.TrimSpace(exchangeOrderID)
	if exchangeOrderID == "" {
		return Fill{}, newValueError("fill", "exchangeOrderId", "", "missing exchange order id")
	}
	if !quantity.Asset().Equal(pair.Base()) {
		return Fill{}, newValueError("fill", "quantity", quantity.Asset().Symbol(), "quantity must be base-denominated")
	}
	if !quantity.IsPositive() {
		return Fill{}, newValueError("fill", "quantity", quantity.Decimal().String(), "must be positive")
	}
	if !price.Pair().Equal(pair) {
		return Fill{}, newValueError("fill", "price", price.Pair().Symbol(), "price pair does not match fill pair")
	}
	if fee.IsNegative() {
		return Fill{}, newValueError("fill", "fee", fee.Decimal().String(), "must not be negative")
	}
	if !fee.Asset().Equal(pair.Base()) && !fee.Asset().Equal(pair.Quote()) {
		return Fill{}, newValueError("fill", "fee", fee.Asset().Symbol(), "fee must be denominated in the pair")
	}
	if executedAt.IsZero() {
		return Fill{}, newValueError("fill", "executedAt", "", "missing execution time")
	}
	return Fill{
		pair:            pair,
		tradeID:         tradeID,
		exchangeOrderID: exchangeOrderID,
		quantity:        quantity,
		price:           price,
		fee:             fee,
		executedAt:      executedAt,
	}, nil
}

func (f Fill) Pair() TradingPair       { return f.pair }
func (f Fill) TradeID() string         { return f.tradeID }
func (f Fill) ExchangeOrderID() string { return f.exchangeOrderID }
func (f Fill) Quantity() Amount        { return f.quantity }
func (f Fill) Price() Price            { return f.price }
func (f Fill) Fee() Amount             { return f.fee }
func (f Fill) ExecutedAt() time.Time   { return f.executedAt }

// QuoteValue returns the executed notional (quantity x price) in the
// quote asset.
func (f Fill) QuoteValue() Amount {
	return Amount{value: f.quantity.Decimal().Mul(f.price.Decimal()), asset: f.pair.Quote()}
}

// FeeInQuote returns the fee valued in the quote asset; base-asset
// fees convert at this fill's execution price.
func (f Fill) FeeInQuote() Amount {
	if f.fee.Asset().Equal(f.pair.Quote()) {
		return f.fee
	}
	return Amount{value: f.fee.Decimal().Mul(f.price.Decimal()), asset: f.pair.Quote()}
}

// FillState is the exported projection of a fill.
type FillState struct {
	Pair            TradingPair `json:"pair"`
	TradeID         string      `json:"tradeId"`
	ExchangeOrderID string      `json:"exchangeOrderId"`
	Quantity        Amount      `json:"quantity"`
	Price           Price       `json:"price"`
	Fee             Amount      `json:"fee"`
	ExecutedAt      time.Time   `json:"executedAt"`
}

// State returns the fill's projection.
func (f Fill) State() FillState {
	return FillState{
		Pair:            f.pair,
		TradeID:         f.tradeID,
		ExchangeOrderID: f.exchangeOrderID,
		Quantity:        f.quantity,
		Price:           f.price,
		Fee:             f.fee,
		ExecutedAt:      f.executedAt,
	}
}

// FillFromState rehydrates with full validation.
func FillFromState(s FillState) (Fill, error) {
	return NewFill(s.Pair, s.TradeID, s.ExchangeOrderID, s.Quantity, s.Price, s.Fee, s.ExecutedAt)
}

// MarshalJSON projects the fill state.
func (f Fill) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.State())
}

package domain

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// Price is a strictly positive quote-per-base exchange rate scoped to
// one trading pair. Two prices of different pairs never interact.
// Prices cannot be added (the sum of two exchange rates has no
// meaning); they subtract into a quote-asset Amount, scale by positive
// scalars, and convert Amounts between the pair's legs.
type Price struct {
	value decimal.Decimal
	pair  TradingPair
}

// NewPrice requires a positive magnitude and a valid pair.
func NewPrice(value decimal.Decimal, pair TradingPair) (Price, error) {
	if pair.IsZero() {
		return Price{}, newValueError("price", "pair", "", "missing trading pair")
	}
	if !value.IsPositive() {
		return Price{}, newValueError("price", "value", value.String(), "must be positive")
	}
	return Price{value: value, pair: pair}, nil
}

// NewPriceFromFloat converts a finite positive float.
func NewPriceFromFloat(f float64, pair TradingPair) (Price, error) {
	if !isFinite(f) {
		return Price{}, newValueError("price", "value", strconv.FormatFloat(f, 'g', -1, 64), "must be finite")
	}
	return NewPrice(decimal.NewFromFloat(f), pair)
}

// NewPriceFromString parses a decimal literal.
func NewPriceFromString(s string, pair TradingPair) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, newValueError("price", "value", s, "not a decimal number")
	}
	return NewPrice(d, pair)
}

// Decimal returns the exact rate.
func (p Price) Decimal() decimal.Decimal { return p.value }

// Float64 returns a display approximation of the rate.
func (p Price) Float64() float64 { return p.value.InexactFloat64() }

// Pair returns the trading pair this price belongs to.
func (p Price) Pair() TradingPair { return p.pair }

// IsZero reports whether the price is the uninitialized zero value.
func (p Price) IsZero() bool { return p.pair.IsZero() }

func (p Price) samePair(op string, other Price) error {
	if !p.pair.Equal(other.pair) {
		return newMismatchError(op, p.pair.Symbol(), other.pair.Symbol())
	}
	return nil
}

// Subtract returns the signed difference p - other as an Amount in the
// quote asset.
func (p Price) Subtract(other Price) (Amount, error) {
	if err := p.samePair("price subtract", other); err != nil {
		return Amount{}, err
	}
	return Amount{value: p.value.Sub(other.value), asset: p.pair.Quote()}, nil
}

// MultiplyBy scales the rate by a finite positive factor.
func (p Price) MultiplyBy(factor float64) (Price, error) {
	if !isFinite(factor) {
		return Price{}, newOperationError("price multiply", "non-finite factor")
	}
	if factor <= 0 {
		return Price{}, newOperationError("price multiply", "factor must be positive")
	}
	return Price{value: p.value.Mul(decimal.NewFromFloat(factor)), pair: p.pair}, nil
}

// DivideBy scales the rate by a finite positive divisor.
func (p Price) DivideBy(divisor float64) (Price, error) {
	if !isFinite(divisor) {
		return Price{}, newOperationError("price divide", "non-finite divisor")
	}
	if divisor <= 0 {
		return Price{}, newOperationError("price divide", "divisor must be positive")
	}
	return Price{value: p.value.Div(decimal.NewFromFloat(divisor)), pair: p.pair}, nil
}

// ConvertToQuote values a base-asset amount in the quote asset.
func (p Price) ConvertToQuote(base Amount) (Amount, error) {
	if !base.Asset().Equal(p.pair.Base()) {
		return Amount{}, newMismatchError("price convert to quote", p.pair.Base().Symbol(), base.Asset().Symbol())
	}
	return Amount{value: base.Decimal().Mul(p.value), asset: p.pair.Quote()}, nil
}

// ConvertToBase values a quote-asset amount in the base asset.
func (p Price) ConvertToBase(quote Amount) (Amount, error) {
	if !quote.Asset().Equal(p.pair.Quote()) {
		return Amount{}, newMismatchError("price convert to base", p.pair.Quote().Symbol(), quote.Asset().Symbol())
	}
	return Amount{value: quote.Decimal().Div(p.value), asset: p.pair.Base()}, nil
}

// Equal reports value-and-pair equality. Prices of different pairs are
// never equal.
func (p Price) Equal(other Price) bool {
	return p.pair.Equal(other.pair) && p.value.Equal(other.value)
}

// Cmp orders two prices of the same pair; ordering across pairs errors.
func (p Price) Cmp(other Price) (int, error) {
	if err := p.samePair("price compare", other); err != nil {
		return 0, err
	}
	return p.value.Cmp(other.value), nil
}

// GreaterThan reports p > other for the same pair.
func (p Price) GreaterThan(other Price) (bool, error) {
	c, err := p.Cmp(other)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// LessThan reports p < other for the same pair.
func (p Price) LessThan(other Price) (bool, error) {
	c, err := p.Cmp(other)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

func (p Price) String() string {
	if p.pair.IsZero() {
		return p.value.String()
	}
	return p.value.String() + " " + p.pair.Symbol()
}

// MarshalJSON projects {value, pair, base, quote} with the exact rate
// as a plain JSON number.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value json.RawMessage `json:"value"`
		Pair  string          `json:"pair"`
		Base  string          `json:"base"`
		Quote string          `json:"quote"`
	}{
		Value: json.RawMessage(p.value.String()),
		Pair:  p.pair.Symbol(),
		Base:  p.pair.Base().Symbol(),
		Quote: p.pair.Quote().Symbol(),
	})
}

// UnmarshalJSON rebuilds the price from {value, pair} with validation;
// the redundant base/quote fields of the projection are ignored.
func (p *Price) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value json.RawMessage `json:"value"`
		Pair  string          `json:"pair"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := decimalFromJSON(raw.Value)
	if err != nil {
		return newValueError("price", "value", string(raw.Value), "not a decimal number")
	}
	pair, err := ParsePair(raw.Pair)
	if err != nil {
		return err
	}
	parsed, err := NewPrice(d, pair)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

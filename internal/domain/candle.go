package domain

import (
	"encoding/json"
	"time"
)

// Timeframe is the bucket width of a candle series.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// ParseTimeframe is the validating entry point for external input.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.IsValid() {
		return "", newValueError("timeframe", "value", s, "unknown timeframe")
	}
	return tf, nil
}

// IsValid reports whether the timeframe is one of the defined buckets.
func (t Timeframe) IsValid() bool {
	switch t {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return true
	}
	return false
}

// Duration returns the bucket width. Total over the defined constants;
// an invalid timeframe (never produced by ParseTimeframe) maps to 0.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	}
	return 0
}

func (t Timeframe) String() string { return string(t) }

// Candle is one immutable OHLC bucket of a pair's trade history.
type Candle struct {
	pair      TradingPair
	timeframe Timeframe
	openTime  time.Time
	open      Price
	high      Price
	low       Price
	close     Price
	volume    Amount
}

// NewCandle validates the OHLC shape: every price belongs to the pair,
// high bounds open/close from above, low bounds them from below, and
// volume is a non-negative base-asset amount.
func NewCandle(pair TradingPair, tf Timeframe, openTime time.Time, open, high, low, closing Price, volume Amount) (Candle, error) {
	if pair.IsZero() {
		return Candle{}, newValueError("candle", "pair", "", "missing trading pair")
	}
	if !tf.IsValid() {
		return Candle{}, newValueError("candle", "timeframe", string(tf), "unknown timeframe")
	}
	if openTime.IsZero() {
		return Candle{}, newValueError("candle", "openTime", "", "missing open time")
	}
	for _, pc := range []struct {
		field string
		price Price
	}{
		{"open", open}, {"high", high}, {"low", low}, {"close", closing},
	} {
		if pc.price.IsZero() {
			return Candle{}, newValueError("candle", pc.field, "", "missing price")
		}
		if !pc.price.Pair().Equal(pair) {
			return Candle{}, newValueError("candle", pc.field, pc.price.Pair().Symbol(), "price pair does not match candle pair")
		}
	}
	if high.Decimal().LessThan(open.Decimal()) || high.Decimal().LessThan(closing.Decimal()) {
		return Candle{}, newValueError("candle", "high", high.Decimal().String(), "below open or close")
	}
	if low.Decimal().GreaterThan(open.Decimal()) || low.Decimal().GreaterThan(closing.Decimal()) {
		return Candle{}, newValueError("candle", "low", low.Decimal().String(), "above open or close")
	}
	if !volume.Asset().Equal(pair.Base()) {
		return Candle{}, newValueError("candle", "volume", volume.Asset().Symbol(), "volume must be base-denominated")
	}
	if volume.IsNegative() {
		return Candle{}, newValueError("candle", "volume", volume.Decimal().String(), "must not be negative")
	}
	return Candle{
		pair:      pair,
		timeframe: tf,
		openTime:  openTime,
		open:      open,
		high:      high,
		low:       low,
		close:     closing,
		volume:    volume,
	}, nil
}

func (c Candle) Pair() TradingPair    { return c.pair }
func (c Candle) Timeframe() Timeframe { return c.timeframe }
func (c Candle) OpenTime() time.Time  { return c.openTime }
func (c Candle) Open() Price          { return c.open }
func (c Candle) High() Price          { return c.high }
func (c Candle) Low() Price           { return c.low }
func (c Candle) Close() Price         { return c.close }
func (c Candle) Volume() Amount       { return c.volume }

// CloseTime returns the exclusive end of the bucket.
func (c Candle) CloseTime() time.Time { return c.openTime.Add(c.timeframe.Duration()) }

// Range returns high - low as a quote-asset amount.
func (c Candle) Range() Amount {
	return Amount{value: c.high.Decimal().Sub(c.low.Decimal()), asset: c.pair.Quote()}
}

// Body returns |close - open| as a quote-asset amount.
func (c Candle) Body() Amount {
	return Amount{value: c.close.Decimal().Sub(c.open.Decimal()).Abs(), asset: c.pair.Quote()}
}

func (c Candle) IsBullish() bool { return c.close.Decimal().GreaterThan(c.open.Decimal()) }

func (c Candle) IsBearish() bool { return c.close.Decimal().LessThan(c.open.Decimal()) }

// CandleState is the exported projection of a candle.
type CandleState struct {
	Pair      TradingPair `json:"pair"`
	Timeframe Timeframe   `json:"timeframe"`
	OpenTime  time.Time   `json:"openTime"`
	Open      Price       `json:"open"`
	High      Price       `json:"high"`
	Low       Price       `json:"low"`
	Close     Price       `json:"close"`
	Volume    Amount      `json:"volume"`
}

// State returns the candle's projection.
func (c Candle) State() CandleState {
	return CandleState{
		Pair:      c.pair,
		Timeframe: c.timeframe,
		OpenTime:  c.openTime,
		Open:      c.open,
		High:      c.high,
		Low:       c.low,
		Close:     c.close,
		Volume:    c.volume,
	}
}

// CandleFromState rehydrates with full validation.
func CandleFromState(s CandleState) (Candle, error) {
	return NewCandle(s.Pair, s.Timeframe, s.OpenTime, s.Open, s.High, s.Low, s.Close, s.Volume)
}

// MarshalJSON projects the candle state.
func (c Candle) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.State())
}

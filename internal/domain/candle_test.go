package domain

import (
	"errors"
	"testing"
	"time"
)

func validCandle(t *testing.T) Candle {
	t.Helper()
	pair := mustPair(t, "BTC/USDT")
	c, err := NewCandle(pair, Timeframe1h, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		prc(t, "50000", "BTC/USDT"),
		prc(t, "51000", "BTC/USDT"),
		prc(t, "49500", "BTC/USDT"),
		prc(t, "50800", "BTC/USDT"),
		amt(t, "120.5", "BTC"),
	)
	if err != nil {
		t.Fatalf("NewCandle: %v", err)
	}
	return c
}

func TestNewCandle_ValidatesShape(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	openTime := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	open := prc(t, "50000", "BTC/USDT")
	closing := prc(t, "50800", "BTC/USDT")
	volume := amt(t, "10", "BTC")

	cases := []struct {
		name string
		high Price
		low  Price
	}{
		{"high below open", prc(t, "49999", "BTC/USDT"), prc(t, "49000", "BTC/USDT")},
		{"high below close", prc(t, "50500", "BTC/USDT"), prc(t, "49000", "BTC/USDT")},
		{"low above open", prc(t, "51000", "BTC/USDT"), prc(t, "50001", "BTC/USDT")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewCandle(pair, Timeframe1h, openTime, open, tc.high, tc.low, closing, volume); !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Expected ErrInvalidValue, got %v", err)
			}
		})
	}

	high := prc(t, "51000", "BTC/USDT")
	low := prc(t, "49500", "BTC/USDT")
	if _, err := NewCandle(pair, Timeframe("2h"), openTime, open, high, low, closing, volume); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Unknown timeframe: Expected ErrInvalidValue, got %v", err)
	}
	if _, err := NewCandle(pair, Timeframe1h, openTime, prc(t, "50000", "ETH/USDT"), high, low, closing, volume); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Foreign-pair price: Expected ErrInvalidValue, got %v", err)
	}
	if _, err := NewCandle(pair, Timeframe1h, openTime, open, high, low, closing, amt(t, "10", "USDT")); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Quote-denominated volume: Expected ErrInvalidValue, got %v", err)
	}
	if _, err := NewCandle(pair, Timeframe1h, openTime, open, high, low, closing, amt(t, "-1", "BTC")); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Negative volume: Expected ErrInvalidValue, got %v", err)
	}
}

func TestCandle_DerivedMetrics(t *testing.T) {
	c := validCandle(t)

	if c.Range().Decimal().String() != "1500" {
		t.Errorf("Expected range 1500, got %s", c.Range().Decimal())
	}
	if c.Body().Decimal().String() != "800" {
		t.Errorf("Expected body 800, got %s", c.Body().Decimal())
	}
	if !c.IsBullish() || c.IsBearish() {
		t.Error("Close above open should be bullish")
	}
	want := time.Date(2026, 4, 1, 13, 0, 0, 0, time.UTC)
	if !c.CloseTime().Equal(want) {
		t.Errorf("Expected close time %v, got %v", want, c.CloseTime())
	}
}

func TestCandle_StateRoundTrip(t *testing.T) {
	orig := validCandle(t)
	back, err := CandleFromState(orig.State())
	if err != nil {
		t.Fatalf("CandleFromState: %v", err)
	}
	if !back.Open().Equal(orig.Open()) || !back.Volume().Equal(orig.Volume()) {
		t.Errorf("Round trip changed the candle: %v vs %v", back, orig)
	}
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("4h")
	if err != nil {
		t.Fatalf("ParseTimeframe: %v", err)
	}
	if tf.Duration() != 4*time.Hour {
		t.Errorf("Expected 4h duration, got %v", tf.Duration())
	}
	if _, err := ParseTimeframe("7m"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
}

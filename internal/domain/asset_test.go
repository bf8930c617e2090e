package domain

import (
	"errors"
	"testing"
)

func mustAsset(t *testing.T, symbol string) Asset {
	t.Helper()
	a, err := AssetFromSymbol(symbol)
	if err != nil {
		t.Fatalf("asset %s: %v", symbol, err)
	}
	return a
}

func mustPair(t *testing.T, symbol string) TradingPair {
	t.Helper()
	p, err := ParsePair(symbol)
	if err != nil {
		t.Fatalf("pair %s: %v", symbol, err)
	}
	return p
}

func TestNewAsset_NormalizesSymbol(t *testing.T) {
	a, err := NewAsset("  btc ", AssetClassCrypto)
	if err != nil {
		t.Fatalf("NewAsset: %v", err)
	}
	if a.Symbol() != "BTC" {
		t.Errorf("Expected BTC, got %s", a.Symbol())
	}
	if a.Class() != AssetClassCrypto {
		t.Errorf("Expected CRYPTOCURRENCY, got %s", a.Class())
	}
}

func TestNewAsset_RejectsInvalidSymbols(t *testing.T) {
	cases := []struct {
		name   string
		symbol string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"too long", "VERYLONGSYMBOL"},
		{"hyphen", "BTC-USD"},
		{"slash", "BTC/USD"},
		{"unicode", "BTC€"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAsset(tc.symbol, AssetClassCrypto)
			if err == nil {
				t.Fatalf("Expected error for %q", tc.symbol)
			}
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Expected ErrInvalidValue, got %v", err)
			}
		})
	}
}

func TestNewAsset_RejectsUnknownClass(t *testing.T) {
	_, err := NewAsset("BTC", AssetClass("EQUITY"))
	if !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue, got %v", err)
	}
}

func TestAssetFromSymbol_Classification(t *testing.T) {
	cases := []struct {
		symbol string
		class  AssetClass
	}{
		{"usdt", AssetClassStablecoin},
		{"USDC", AssetClassStablecoin},
		{"DAI", AssetClassStablecoin},
		{"usd", AssetClassFiat},
		{"EUR", AssetClassFiat},
		{"BTC", AssetClassCrypto},
		{"SOL", AssetClassCrypto},
	}
	for _, tc := range cases {
		a := mustAsset(t, tc.symbol)
		if a.Class() != tc.class {
			t.Errorf("%s: Expected %s, got %s", tc.symbol, tc.class, a.Class())
		}
	}
}

func TestAsset_EqualIgnoresClass(t *testing.T) {
	tagged, err := NewAsset("USDT", AssetClassUnknown)
	if err != nil {
		t.Fatalf("NewAsset: %v", err)
	}
	inferred := mustAsset(t, "usdt")
	if !tagged.Equal(inferred) {
		t.Error("Same symbol should compare equal regardless of class")
	}
	if mustAsset(t, "BTC").Equal(mustAsset(t, "ETH")) {
		t.Error("Different symbols should not compare equal")
	}
}

func TestAsset_TextRoundTrip(t *testing.T) {
	orig := mustAsset(t, "BTC")
	text, err := orig.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "BTC" {
		t.Errorf("Expected BTC, got %s", text)
	}
	var back Asset
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if !back.Equal(orig) {
		t.Errorf("Expected %v, got %v", orig, back)
	}
}

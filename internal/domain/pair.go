package domain

import (
	"fmt"
	"strings"
)

// TradingPair is an ordered base/quote asset pairing. Prices in this
// pair are quoted as quote units per one base unit. Immutable.
type TradingPair struct {
	base  Asset
	quote Asset
}

// NewTradingPair requires two distinct, valid assets.
func NewTradingPair(base, quote Asset) (TradingPair, error) {
	if base.IsZero() {
		return TradingPair{}, newValueError("trading pair", "base", "", "missing base asset")
	}
	if quote.IsZero() {
		return TradingPair{}, newValueError("trading pair", "quote", "", "missing quote asset")
	}
	if base.Equal(quote) {
		return TradingPair{}, newValueError("trading pair", "quote", quote.Symbol(), "base and quote must differ")
	}
	return TradingPair{base: base, quote: quote}, nil
}

// ParsePair builds a pair from a "BASE/QUOTE" string with inferred
// asset classification.
func ParsePair(s string) (TradingPair, error) {
	baseSym, quoteSym, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return TradingPair{}, newValueError("trading pair", "symbol", s, "expected BASE/QUOTE")
	}
	base, err := AssetFromSymbol(baseSym)
	if err != nil {
		return TradingPair{}, fmt.Errorf("domain: parse pair %q: %w", s, err)
	}
	quote, err := AssetFromSymbol(quoteSym)
	if err != nil {
		return TradingPair{}, fmt.Errorf("domain: parse pair %q: %w", s, err)
	}
	return NewTradingPair(base, quote)
}

// Base returns the traded asset.
func (p TradingPair) Base() Asset { return p.base }

// Quote returns the pricing/settlement asset.
func (p TradingPair) Quote() Asset { return p.quote }

// Symbol returns the canonical "BASE/QUOTE" form.
func (p TradingPair) Symbol() string { return p.base.Symbol() + "/" + p.quote.Symbol() }

// Inverse swaps base and quote.
func (p TradingPair) Inverse() TradingPair {
	return TradingPair{base: p.quote, quote: p.base}
}

// Equal compares both legs by symbol.
func (p TradingPair) Equal(other TradingPair) bool {
	return p.base.Equal(other.base) && p.quote.Equal(other.quote)
}

// IsZero reports whether the pair is the uninitialized zero value.
func (p TradingPair) IsZero() bool { return p.base.IsZero() || p.quote.IsZero() }

// IsStablePair reports whether both legs are stablecoins.
func (p TradingPair) IsStablePair() bool {
	return p.base.IsStablecoin() && p.quote.IsStablecoin()
}

// IsStableQuoted reports whether the quote leg is a stablecoin.
func (p TradingPair) IsStableQuoted() bool { return p.quote.IsStablecoin() }

// IsFiatQuoted reports whether the quote leg is a fiat currency.
func (p TradingPair) IsFiatQuoted() bool { return p.quote.IsFiat() }

// IsCryptoPair reports whether both legs are cryptocurrencies.
func (p TradingPair) IsCryptoPair() bool {
	return p.base.IsCrypto() && p.quote.IsCrypto()
}

func (p TradingPair) String() string { return p.Symbol() }

// MarshalText projects the pair as "BASE/QUOTE".
func (p TradingPair) MarshalText() ([]byte, error) {
	return []byte(p.Symbol()), nil
}

// UnmarshalText rebuilds the pair with inferred classifications.
func (p *TradingPair) UnmarshalText(text []byte) error {
	parsed, err := ParsePair(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

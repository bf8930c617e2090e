package domain

import "strings"

// AssetClass is broad instrument classification metadata. It never
// participates in equality; two assets with the same symbol are the
// same asset.
type AssetClass string

const (
	AssetClassCrypto     AssetClass = "CRYPTOCURRENCY"
	AssetClassStablecoin AssetClass = "STABLECOIN"
	AssetClassFiat       AssetClass = "FIAT"
	AssetClassUnknown    AssetClass = "UNKNOWN"
)

const maxSymbolLen = 10

// Symbols classified automatically by AssetFromSymbol. Anything not
// listed is treated as a cryptocurrency, the common case on a spot
// exchange; callers needing UNKNOWN set it explicitly via NewAsset.
var (
	stablecoinSymbols = map[string]struct{}{
		"USDT": {}, "USDC": {}, "BUSD": {}, "DAI": {}, "TUSD": {}, "FDUSD": {}, "USDP": {},
	}
	fiatSymbols = map[string]struct{}{
		"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "KRW": {}, "AUD": {}, "CHF": {},
	}
)

// Asset is the canonical identity of a tradable instrument. Immutable;
// constructed once and compared by symbol only.
type Asset struct {
	symbol string
	class  AssetClass
}

// NewAsset validates and normalizes the symbol (trim, uppercase,
// 1-10 alphanumeric chars) and attaches the given classification.
func NewAsset(symbol string, class AssetClass) (Asset, error) {
	norm := strings.ToUpper(strings.TrimSpace(symbol))
	if err := validateSymbol(norm); err != nil {
		return Asset{}, err
	}
	switch class {
	case AssetClassCrypto, AssetClassStablecoin, AssetClassFiat, AssetClassUnknown:
	default:
		return Asset{}, newValueError("asset", "class", string(class), "unknown classification")
	}
	return Asset{symbol: norm, class: class}, nil
}

// AssetFromSymbol builds an Asset with classification inferred from the
// built-in stablecoin and fiat tables.
func AssetFromSymbol(symbol string) (Asset, error) {
	norm := strings.ToUpper(strings.TrimSpace(symbol))
	if err := validateSymbol(norm); err != nil {
		return Asset{}, err
	}
	return Asset{symbol: norm, class: classifySymbol(norm)}, nil
}

func classifySymbol(norm string) AssetClass {
	if _, ok := stablecoinSymbols[norm]; ok {
		return AssetClassStablecoin
	}
	if _, ok := fiatSymbols[norm]; ok {
		return AssetClassFiat
	}
	return AssetClassCrypto
}

func validateSymbol(norm string) error {
	if norm == "" {
		return newValueError("asset", "symbol", "", "empty symbol")
	}
	if len(norm) > maxSymbolLen {
		return newValueError("asset", "symbol", norm, "longer than 10 characters")
	}
	for _, r := range norm {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return newValueError("asset", "symbol", norm, "symbol must be alphanumeric")
		}
	}
	return nil
}

// Symbol returns the normalized uppercase symbol.
func (a Asset) Symbol() string { return a.symbol }

// Class returns the classification metadata.
func (a Asset) Class() AssetClass { return a.class }

// Equal compares by symbol only; classification is metadata.
func (a Asset) Equal(other Asset) bool { return a.symbol == other.symbol }

// IsZero reports whether the asset is the uninitialized zero value.
func (a Asset) IsZero() bool { return a.symbol == "" }

func (a Asset) IsStablecoin() bool { return a.class == AssetClassStablecoin }

func (a Asset) IsFiat() bool { return a.class == AssetClassFiat }

func (a Asset) IsCrypto() bool { return a.class == AssetClassCrypto }

func (a Asset) String() string { return a.symbol }

// MarshalText projects the asset as its bare symbol.
func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.symbol), nil
}

// UnmarshalText rebuilds the asset with inferred classification.
func (a *Asset) UnmarshalText(text []byte) error {
	parsed, err := AssetFromSymbol(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

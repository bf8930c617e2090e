package domain

import (
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// Amount is a signed magnitude denominated in one asset. Negative
// amounts represent signed flows such as losses. Arithmetic between
// two Amounts requires the same asset; mixing assets is the one
// mistake this package exists to make impossible.
type Amount struct {
	value decimal.Decimal
	asset Asset
}

// NewAmount binds a magnitude to an asset.
func NewAmount(value decimal.Decimal, asset Asset) (Amount, error) {
	if asset.IsZero() {
		return Amount{}, newValueError("amount", "asset", "", "missing asset")
	}
	return Amount{value: value, asset: asset}, nil
}

// NewAmountFromFloat converts a finite float.
func NewAmountFromFloat(f float64, asset Asset) (Amount, error) {
	if !isFinite(f) {
		return Amount{}, newValueError("amount", "value", strconv.FormatFloat(f, 'g', -1, 64), "must be finite")
	}
	return NewAmount(decimal.NewFromFloat(f), asset)
}

// NewAmountFromString parses a decimal literal.
func NewAmountFromString(s string, asset Asset) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, newValueError("amount", "value", s, "not a decimal number")
	}
	return NewAmount(d, asset)
}

// ZeroAmount returns the zero magnitude of an asset.
func ZeroAmount(asset Asset) Amount { return Amount{asset: asset} }

// Decimal returns the exact magnitude.
func (a Amount) Decimal() decimal.Decimal { return a.value }

// Float64 returns a display approximation of the magnitude.
func (a Amount) Float64() float64 { return a.value.InexactFloat64() }

// Asset returns the denominating asset.
func (a Amount) Asset() Asset { return a.asset }

func (a Amount) sameAsset(op string, b Amount) error {
	if !a.asset.Equal(b.asset) {
		return newMismatchError(op, a.asset.Symbol(), b.asset.Symbol())
	}
	return nil
}

// Add returns a + b; both must share the asset.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.sameAsset("amount add", b); err != nil {
		return Amount{}, err
	}
	return Amount{value: a.value.Add(b.value), asset: a.asset}, nil
}

// Subtract returns a - b; both must share the asset.
func (a Amount) Subtract(b Amount) (Amount, error) {
	if err := a.sameAsset("amount subtract", b); err != nil {
		return Amount{}, err
	}
	return Amount{value: a.value.Sub(b.value), asset: a.asset}, nil
}

// SubtractOrZero returns a - b floored at zero, for balance decrements
// that must never go negative.
func (a Amount) SubtractOrZero(b Amount) (Amount, error) {
	diff, err := a.Subtract(b)
	if err != nil {
		return Amount{}, err
	}
	if diff.value.IsNegative() {
		return ZeroAmount(a.asset), nil
	}
	return diff, nil
}

// Multiply scales by a finite factor.
func (a Amount) Multiply(factor float64) (Amount, error) {
	if !isFinite(factor) {
		return Amount{}, newOperationError("amount multiply", "non-finite factor")
	}
	return Amount{value: a.value.Mul(decimal.NewFromFloat(factor)), asset: a.asset}, nil
}

// MultiplyDecimal scales by an exact decimal factor.
func (a Amount) MultiplyDecimal(factor decimal.Decimal) Amount {
	return Amount{value: a.value.Mul(factor), asset: a.asset}
}

// Divide scales by a finite non-zero divisor.
func (a Amount) Divide(divisor float64) (Amount, error) {
	if !isFinite(divisor) {
		return Amount{}, newOperationError("amount divide", "non-finite divisor")
	}
	if divisor == 0 {
		return Amount{}, newOperationError("amount divide", "division by zero")
	}
	return Amount{value: a.value.Div(decimal.NewFromFloat(divisor)), asset: a.asset}, nil
}

// Negate flips the sign.
func (a Amount) Negate() Amount {
	return Amount{value: a.value.Neg(), asset: a.asset}
}

// Abs returns the magnitude with any sign removed.
func (a Amount) Abs() Amount {
	return Amount{value: a.value.Abs(), asset: a.asset}
}

func (a Amount) IsZero() bool { return a.value.IsZero() }

func (a Amount) IsPositive() bool { return a.value.IsPositive() }

func (a Amount) IsNegative() bool { return a.value.IsNegative() }

// Equal reports value-and-asset equality. Amounts of different assets
// are never equal.
func (a Amount) Equal(b Amount) bool {
	return a.asset.Equal(b.asset) && a.value.Equal(b.value)
}

// Cmp orders two amounts of the same asset; ordering across assets has
// no meaning and errors.
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.sameAsset("amount compare", b); err != nil {
		return 0, err
	}
	return a.value.Cmp(b.value), nil
}

// GreaterThan reports a > b for the same asset.
func (a Amount) GreaterThan(b Amount) (bool, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

// LessThan reports a < b for the same asset.
func (a Amount) LessThan(b Amount) (bool, error) {
	c, err := a.Cmp(b)
	if err != nil {
		return false, err
	}
	return c < 0, nil
}

func (a Amount) String() string {
	if a.asset.IsZero() {
		return a.value.String()
	}
	return a.value.String() + " " + a.asset.Symbol()
}

// MarshalJSON projects {value, asset} with the exact magnitude as a
// plain JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Value json.RawMessage `json:"value"`
		Asset string          `json:"asset"`
	}{
		Value: json.RawMessage(a.value.String()),
		Asset: a.asset.Symbol(),
	})
}

// UnmarshalJSON rebuilds the amount with validation.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value json.RawMessage `json:"value"`
		Asset string          `json:"asset"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := decimalFromJSON(raw.Value)
	if err != nil {
		return newValueError("amount", "value", string(raw.Value), "not a decimal number")
	}
	asset, err := AssetFromSymbol(raw.Asset)
	if err != nil {
		return err
	}
	parsed, err := NewAmount(d, asset)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

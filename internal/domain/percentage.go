package domain

import (
	"strconv"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Percentage is a finite percentage value. The default domain is
// [-100, +100]; cumulative or ratio-derived percentages that exceed it
// are built with NewCumulativePercentage.
type Percentage struct {
	value decimal.Decimal
}

// NewPercentage requires a finite value within [-100, 100].
func NewPercentage(f float64) (Percentage, error) {
	if !isFinite(f) {
		return Percentage{}, newValueError("percentage", "value", strconv.FormatFloat(f, 'g', -1, 64), "must be finite")
	}
	return NewPercentageFromDecimal(decimal.NewFromFloat(f))
}

// NewPercentageFromDecimal requires a value within [-100, 100].
func NewPercentageFromDecimal(d decimal.Decimal) (Percentage, error) {
	if d.LessThan(hundred.Neg()) || d.GreaterThan(hundred) {
		return Percentage{}, newValueError("percentage", "value", d.String(), "outside [-100, 100]")
	}
	return Percentage{value: d}, nil
}

// NewCumulativePercentage accepts any finite value, for returns and
// ratios that legitimately exceed one hundred percent.
func NewCumulativePercentage(f float64) (Percentage, error) {
	if !isFinite(f) {
		return Percentage{}, newValueError("percentage", "value", strconv.FormatFloat(f, 'g', -1, 64), "must be finite")
	}
	return Percentage{value: decimal.NewFromFloat(f)}, nil
}

// percentFromRatio converts a plain ratio (0.05 -> 5%) without the
// bounded-domain check; used for derived metrics such as ROI and
// spread percent.
func percentFromRatio(ratio decimal.Decimal) Percentage {
	return Percentage{value: ratio.Mul(hundred)}
}

// Decimal returns the exact percentage value.
func (p Percentage) Decimal() decimal.Decimal { return p.value }

// Float64 returns a display approximation.
func (p Percentage) Float64() float64 { return p.value.InexactFloat64() }

// Fraction returns value/100 for use as a multiplier.
func (p Percentage) Fraction() decimal.Decimal { return p.value.Div(hundred) }

// Of applies the percentage to an amount. Only percentages within
// [0, 100] may be taken of an amount; anything else is a share that
// does not exist.
func (p Percentage) Of(a Amount) (Amount, error) {
	if p.value.IsNegative() || p.value.GreaterThan(hundred) {
		return Amount{}, newOperationError("percentage of", "percentage outside [0, 100]")
	}
	return a.MultiplyDecimal(p.Fraction()), nil
}

func (p Percentage) IsZero() bool { return p.value.IsZero() }

func (p Percentage) IsNegative() bool { return p.value.IsNegative() }

func (p Percentage) Equal(other Percentage) bool { return p.value.Equal(other.value) }

func (p Percentage) GreaterThan(other Percentage) bool { return p.value.GreaterThan(other.value) }

func (p Percentage) LessThan(other Percentage) bool { return p.value.LessThan(other.value) }

func (p Percentage) String() string { return p.value.String() + "%" }

// MarshalJSON projects the exact value as a plain JSON number.
func (p Percentage) MarshalJSON() ([]byte, error) {
	return []byte(p.value.String()), nil
}

// UnmarshalJSON rebuilds the percentage. Derived metrics such as ROI
// legitimately exceed the bounded domain, so only finiteness applies
// here (decimal parsing never yields NaN or infinity).
func (p *Percentage) UnmarshalJSON(data []byte) error {
	d, err := decimalFromJSON(data)
	if err != nil {
		return newValueError("percentage", "value", string(data), "not a decimal number")
	}
	*p = Percentage{value: d}
	return nil
}

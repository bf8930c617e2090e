package domain

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Quantity is a dimensionless non-negative magnitude. Arithmetic can
// never produce a negative result; subtraction below zero fails.
type Quantity struct {
	value decimal.Decimal
}

// NewQuantity requires a non-negative magnitude.
func NewQuantity(value decimal.Decimal) (Quantity, error) {
	if value.IsNegative() {
		return Quantity{}, newValueError("quantity", "value", value.String(), "must not be negative")
	}
	return Quantity{value: value}, nil
}

// NewQuantityFromFloat converts a finite non-negative float.
func NewQuantityFromFloat(f float64) (Quantity, error) {
	if !isFinite(f) {
		return Quantity{}, newValueError("quantity", "value", strconv.FormatFloat(f, 'g', -1, 64), "must be finite")
	}
	return NewQuantity(decimal.NewFromFloat(f))
}

// NewQuantityFromString parses a decimal literal.
func NewQuantityFromString(s string) (Quantity, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Quantity{}, newValueError("quantity", "value", s, "not a decimal number")
	}
	return NewQuantity(d)
}

// ZeroQuantity returns the zero magnitude.
func ZeroQuantity() Quantity { return Quantity{} }

// Decimal returns the exact magnitude.
func (q Quantity) Decimal() decimal.Decimal { return q.value }

// Float64 returns a display approximation of the magnitude.
func (q Quantity) Float64() float64 { return q.value.InexactFloat64() }

// Add returns q + other.
func (q Quantity) Add(other Quantity) Quantity {
	return Quantity{value: q.value.Add(other.value)}
}

// Subtract returns q - other and fails if the result would be negative.
func (q Quantity) Subtract(other Quantity) (Quantity, error) {
	diff := q.value.Sub(other.value)
	if diff.IsNegative() {
		return Quantity{}, newOperationError("quantity subtract",
			fmt.Sprintf("%s - %s would be negative", q.value, other.value))
	}
	return Quantity{value: diff}, nil
}

// Multiply scales by a finite non-negative factor.
func (q Quantity) Multiply(factor float64) (Quantity, error) {
	if !isFinite(factor) {
		return Quantity{}, newOperationError("quantity multiply", "non-finite factor")
	}
	if factor < 0 {
		return Quantity{}, newOperationError("quantity multiply", "negative factor")
	}
	return Quantity{value: q.value.Mul(decimal.NewFromFloat(factor))}, nil
}

// Divide scales by a finite positive divisor.
func (q Quantity) Divide(divisor float64) (Quantity, error) {
	if !isFinite(divisor) {
		return Quantity{}, newOperationError("quantity divide", "non-finite divisor")
	}
	if divisor <= 0 {
		return Quantity{}, newOperationError("quantity divide", "divisor must be positive")
	}
	return Quantity{value: q.value.Div(decimal.NewFromFloat(divisor))}, nil
}

func (q Quantity) IsZero() bool { return q.value.IsZero() }

func (q Quantity) Equal(other Quantity) bool { return q.value.Equal(other.value) }

func (q Quantity) GreaterThan(other Quantity) bool { return q.value.GreaterThan(other.value) }

func (q Quantity) LessThan(other Quantity) bool { return q.value.LessThan(other.value) }

func (q Quantity) String() string { return q.value.String() }

// MarshalJSON projects the exact magnitude as a plain JSON number.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.value.String()), nil
}

// UnmarshalJSON rebuilds the quantity with validation.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	d, err := decimalFromJSON(data)
	if err != nil {
		return newValueError("quantity", "value", string(data), "not a decimal number")
	}
	parsed, err := NewQuantity(d)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

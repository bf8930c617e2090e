package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func amt(t *testing.T, value, asset string) Amount {
	t.Helper()
	a, err := NewAmountFromString(value, mustAsset(t, asset))
	if err != nil {
		t.Fatalf("amount %s %s: %v", value, asset, err)
	}
	return a
}

func TestAmount_AddSubtractRoundTrip(t *testing.T) {
	a := amt(t, "0.1", "BTC")
	b := amt(t, "0.2", "BTC")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.Decimal().String() != "0.3" {
		t.Errorf("Expected exactly 0.3, got %s", sum.Decimal())
	}

	back, err := sum.Subtract(b)
	if err != nil {
		t.Fatalf("Subtract: %v", err)
	}
	if !back.Equal(a) {
		t.Errorf("Expected %v after round trip, got %v", a, back)
	}
}

func TestAmount_MismatchedAssets(t *testing.T) {
	btc := amt(t, "1", "BTC")
	eth := amt(t, "1", "ETH")

	if _, err := btc.Add(eth); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Add: Expected ErrInvalidOperation, got %v", err)
	}
	if _, err := btc.Subtract(eth); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Subtract: Expected ErrInvalidOperation, got %v", err)
	}
	if _, err := btc.Cmp(eth); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Cmp: Expected ErrInvalidOperation, got %v", err)
	}

	var opErr *OperationError
	_, err := btc.Add(eth)
	if !errors.As(err, &opErr) {
		t.Fatalf("Expected *OperationError, got %T", err)
	}
	if opErr.Op != "amount add" {
		t.Errorf("Expected op 'amount add', got %q", opErr.Op)
	}
}

func TestAmount_EqualAcrossAssets(t *testing.T) {
	// Equality is defined across assets and is simply false; ordering
	// is not and errors instead.
	if amt(t, "1", "BTC").Equal(amt(t, "1", "ETH")) {
		t.Error("Amounts of different assets should never be equal")
	}
}

func TestAmount_SubtractOrZero(t *testing.T) {
	small := amt(t, "1", "USDT")
	big := amt(t, "5", "USDT")

	floored, err := small.SubtractOrZero(big)
	if err != nil {
		t.Fatalf("SubtractOrZero: %v", err)
	}
	if !floored.IsZero() {
		t.Errorf("Expected zero, got %v", floored)
	}

	diff, err := big.SubtractOrZero(small)
	if err != nil {
		t.Fatalf("SubtractOrZero: %v", err)
	}
	if diff.Decimal().String() != "4" {
		t.Errorf("Expected 4, got %s", diff.Decimal())
	}
}

func TestAmount_ScalarGuards(t *testing.T) {
	a := amt(t, "2", "BTC")

	if _, err := a.Multiply(math.NaN()); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Multiply NaN: Expected ErrInvalidOperation, got %v", err)
	}
	if _, err := a.Multiply(math.Inf(1)); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Multiply Inf: Expected ErrInvalidOperation, got %v", err)
	}
	if _, err := a.Divide(0); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Divide zero: Expected ErrInvalidOperation, got %v", err)
	}
	if _, err := a.Divide(math.Inf(-1)); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("Divide -Inf: Expected ErrInvalidOperation, got %v", err)
	}
}

func TestAmount_SignOperations(t *testing.T) {
	loss := amt(t, "-42.5", "USDT")
	if !loss.IsNegative() {
		t.Error("Expected negative amount")
	}
	if !loss.Negate().IsPositive() {
		t.Error("Negate should flip the sign")
	}
	if loss.Abs().Decimal().String() != "42.5" {
		t.Errorf("Expected 42.5, got %s", loss.Abs().Decimal())
	}
}

func TestAmount_MultiplyDecimalExact(t *testing.T) {
	a := amt(t, "0.1", "BTC")
	scaled := a.MultiplyDecimal(decimal.NewFromInt(3))
	if scaled.Decimal().String() != "0.3" {
		t.Errorf("Expected exactly 0.3, got %s", scaled.Decimal())
	}
}

func TestAmount_JSONRoundTrip(t *testing.T) {
	orig := amt(t, "123.456000789", "BTC")
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"value":123.456000789,"asset":"BTC"}` {
		t.Errorf("Unexpected encoding: %s", data)
	}

	var back Amount
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Equal(orig) {
		t.Errorf("Expected %v, got %v", orig, back)
	}
}

func TestAmount_UnmarshalRejectsBadInput(t *testing.T) {
	var a Amount
	if err := json.Unmarshal([]byte(`{"value":1,"asset":"NOT-VALID"}`), &a); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue for bad asset, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"value":"abc","asset":"BTC"}`), &a); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Expected ErrInvalidValue for bad value, got %v", err)
	}
}

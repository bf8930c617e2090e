package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// isFinite guards every float64 entering the decimal core. NaN or
// infinity silently poisons chained arithmetic, so both are rejected
// up front.
func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// decimalFromJSON parses a JSON number that may arrive quoted or bare.
func decimalFromJSON(data []byte) (decimal.Decimal, error) {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	return decimal.NewFromString(s)
}

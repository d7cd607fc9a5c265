package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// PriceFromDecimal converts a decimal amount to cents exactly. Amounts
// with more than two fractional digits are rejected rather than rounded:
// a client sending 150.255 almost certainly has a unit bug.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative price %s", ErrInvalidPrice, d)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidPrice, d)
	}
	bi := cents.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidPrice, d)
	}
	return Price(bi.Int64()), nil
}

func PriceToDecimal(p Price) decimal.Decimal {
	return decimal.New(int64(p), -2)
}

// PriceFromFloat rounds f dollars to the nearest cent. Kept for float
// intake paths; queue and REST parsing go through PriceFromDecimal.
func PriceFromFloat(f float64) Price {
	return Price(math.Round(f * 100))
}

// PriceToFloat is for display payloads only; state that must round-trip
// stays in cents.
func PriceToFloat(p Price) float64 {
	return float64(p) / 100
}

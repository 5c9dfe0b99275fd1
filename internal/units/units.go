// Package units converts between currency base units and display amounts.
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Format renders a base-unit amount as a token amount, e.g. 1500000 with 6
// decimals is "1.5". A nil amount renders as "0".
func Format(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// FormatString is Format for a decimal string of base units. Strings that do
// not parse are returned unchanged.
func FormatString(amount string, decimals uint8) string {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return amount
	}
	return Format(v, decimals)
}

// Parse converts a token amount such as "12.5" into base units. More
// fractional digits than decimals is an error.
func Parse(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("units: parse %q: %w", s, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("units: %q has more than %d decimals", s, decimals)
	}
	return scaled.BigInt(), nil
}

// Scale returns whole * 10^decimals.
func Scale(whole int64, decimals uint8) *big.Int {
	return decimal.NewFromInt(whole).Shift(int32(decimals)).BigInt()
}

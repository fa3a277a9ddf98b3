package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Prices are fixed-point values with at most two fractional digits. All
// monetary arithmetic in the service runs on decimal.Decimal so repeated
// additions stay exact; floats never enter the calculation path.

// Parse converts a price string from the data-store or a request payload into
// a decimal, rejecting negative values and more than two fractional digits.
func Parse(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("money: parse %q: %w", value, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("money: %q is negative", value)
	}
	if d.Exponent() < -2 {
		return decimal.Zero, fmt.Errorf("money: %q has more than two fractional digits", value)
	}
	return d, nil
}

// MustParse is Parse for trusted literals (seed data, tests).
func MustParse(value string) decimal.Decimal {
	d, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a monetary value with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

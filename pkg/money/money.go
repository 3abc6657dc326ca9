// Package money holds the integer currency arithmetic shared by the loan core.
// Amounts are int64 in the smallest currency unit with no fractional part.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MarkupPercent is the fixed markup applied to principal to obtain the total due.
const MarkupPercent = 20

var hundred = decimal.NewFromInt(100)

// WithMarkup returns principal increased by MarkupPercent, rounded to a whole unit.
func WithMarkup(principal int64) int64 {
	factor := decimal.NewFromInt(100 + MarkupPercent).Div(hundred)
	return decimal.NewFromInt(principal).Mul(factor).Round(0).IntPart()
}

// DivRound divides total into n parts and rounds half away from zero.
func DivRound(total int64, n int) int64 {
	if n <= 0 {
		return 0
	}
	return decimal.NewFromInt(total).Div(decimal.NewFromInt(int64(n))).Round(0).IntPart()
}

// Percent returns part/whole*100 rounded to a whole percentage; zero when whole is not positive.
func Percent(part, whole int64) int {
	if whole <= 0 {
		return 0
	}
	return int(decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(0).IntPart())
}

// Parse reads a user-supplied amount. It accepts plain integers and decimals
// with a zero fractional part ("5000", "5000.00") and rejects anything else.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: fractional units are not allowed", s)
	}
	if d.Abs().GreaterThan(decimal.NewFromInt(1 << 53)) {
		return 0, fmt.Errorf("invalid amount %q: out of range", s)
	}
	return d.IntPart(), nil
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

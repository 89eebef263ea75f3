package aggregation

import "github.com/shopspring/decimal"

// RateSentinel is what every derived quantity resolves to when its denominator is zero.
var RateSentinel = decimal.Zero

var hundred = decimal.NewFromInt(100)

// Rate returns numerator / denominator * 100, or RateSentinel for a zero denominator.
func Rate(numerator, denominator decimal.Decimal) decimal.Decimal {
	q, ok := safeDiv(numerator, denominator)
	if !ok {
		return RateSentinel
	}
	return q.Mul(hundred)
}

// Ratio returns numerator / denominator, or RateSentinel for a zero denominator.
// Used for per-unit amounts such as revenue per email and average order value.
func Ratio(numerator, denominator decimal.Decimal) decimal.Decimal {
	q, ok := safeDiv(numerator, denominator)
	if !ok {
		return RateSentinel
	}
	return q
}

func safeDiv(numerator, denominator decimal.Decimal) (decimal.Decimal, bool) {
	if denominator.IsZero() {
		return decimal.Zero, false
	}
	return numerator.Div(denominator), true
}

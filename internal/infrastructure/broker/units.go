package broker

import "github.com/shopspring/decimal"

// Scale converts a venue integer price into rupees: v / (10^precision * multiplier).
func Scale(v int64, precision int32, multiplier int64) float64 {
	if v == 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	div := decimal.New(1, precision).Mul(decimal.NewFromInt(multiplier))
	return decimal.NewFromInt(v).Div(div).InexactFloat64()
}

// Divide returns v / divisor with exact decimal arithmetic, e.g. paise → rupees with 100.
func Divide(v int64, divisor int64) float64 {
	if v == 0 || divisor == 0 {
		return 0
	}
	return decimal.NewFromInt(v).Div(decimal.NewFromInt(divisor)).InexactFloat64()
}

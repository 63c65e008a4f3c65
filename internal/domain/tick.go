package domain

import (
	"github.com/shopspring/decimal"
)

// DefaultPipSize is used when the stream does not report a pip size.
const DefaultPipSize = 2

// Tick is one timestamped price quote for a market.
type Tick struct {
	Symbol  string  // market identifier, e.g. R_100
	Quote   float64 // price
	Epoch   int64   // exchange timestamp (seconds)
	PipSize int     // number of decimal places the market quotes with
}

// LastDigit returns the final digit of the quote rendered at the market's
// pip size. 1234.5 at pip size 2 renders as "1234.50" and yields 0.
func (t Tick) LastDigit() int {
	pip := t.PipSize
	if pip <= 0 {
		pip = DefaultPipSize
	}
	s := decimal.NewFromFloat(t.Quote).Abs().StringFixed(int32(pip))
	return int(s[len(s)-1] - '0')
}

// Package indicator wraps go-talib for the handful of technical indicators
// the exit-enrichment layer and the example strategies need (RSI entry
// signals, ATR-based stop distances and random-walk volatility). go-talib
// operates on []float64; indicator math is the one place in this codebase
// that works in floating point, matching trader-go/pkg/formulas in the
// reference corpus — outputs are converted back to decimal.Decimal at the
// indicator boundary, before they enter any balance/price/quantity
// computation, so the "decimal throughout the financial path" rule is
// preserved everywhere that actually moves money.
package indicator

import (
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
)

// RSI returns the most recent Relative Strength Index value for closes, or
// ok=false if there is not enough data for the given period.
func RSI(closes []decimal.Decimal, period int) (value decimal.Decimal, ok bool) {
	if len(closes) < period+1 {
		return decimal.Zero, false
	}
	f := toFloat(closes)
	out := talib.Rsi(f, period)
	last := out[len(out)-1]
	if isNaN(last) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(last), true
}

// ATR returns the most recent Average True Range over (high, low, close)
// series, or ok=false if there is not enough data.
func ATR(highs, lows, closes []decimal.Decimal, period int) (value decimal.Decimal, ok bool) {
	if len(closes) < period+1 || len(highs) != len(closes) || len(lows) != len(closes) {
		return decimal.Zero, false
	}
	out := talib.Atr(toFloat(highs), toFloat(lows), toFloat(closes), period)
	last := out[len(out)-1]
	if isNaN(last) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(last), true
}

func toFloat(ds []decimal.Decimal) []float64 {
	out := make([]float64, len(ds))
	for i, v := range ds {
		out[i], _ = v.Float64()
	}
	return out
}

func isNaN(f float64) bool {
	return f != f
}

package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV record for a (Symbol, Timeframe, OpenTime). Immutable
// once closed; code that needs to "update" the in-progress bar should build
// a new Candle value rather than mutate one already pushed onto a window.
type Candle struct {
	Symbol    Symbol
	TF        Timeframe
	OpenTime  time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// CloseTime returns the instant this bar closes, derived from OpenTime plus
// the timeframe's nominal duration.
func (c Candle) CloseTime() time.Time {
	return c.OpenTime.Add(c.TF.Duration())
}

// Validate enforces the candle invariant: low ≤ open,close ≤ high and
// volume ≥ 0.
func (c Candle) Validate() error {
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return fmt.Errorf("%w: low %s exceeds open/close", ErrConfigInvalid, c.Low)
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return fmt.Errorf("%w: high %s below open/close", ErrConfigInvalid, c.High)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("%w: negative volume %s", ErrConfigInvalid, c.Volume)
	}
	return nil
}

// Window is a bounded, append-only ring of closed candles for one
// (symbol, timeframe) pair. Bounded per §5 resource limits (default 1,440).
type Window struct {
	capacity int
	candles  []Candle
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1440
	}
	return &Window{capacity: capacity, candles: make([]Candle, 0, capacity)}
}

// Push appends a closed candle, evicting the oldest if the window is full.
func (w *Window) Push(c Candle) {
	if len(w.candles) == w.capacity {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:len(w.candles)-1]
	}
	w.candles = append(w.candles, c)
}

// Last returns the most recently pushed candle, if any.
func (w *Window) Last() (Candle, bool) {
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}

// Slice returns the underlying candles oldest-first. The returned slice
// must be treated as read-only by callers.
func (w *Window) Slice() []Candle {
	return w.candles
}

func (w *Window) Len() int {
	return len(w.candles)
}

// AsOf returns the sub-slice of candles whose CloseTime is ≤ cutoff, used
// by the backtest engine to align secondary timeframes without look-ahead.
func (w *Window) AsOf(cutoff time.Time) []Candle {
	out := make([]Candle, 0, len(w.candles))
	for _, c := range w.candles {
		if !c.CloseTime().After(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

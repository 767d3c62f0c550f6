// Package mockexchange implements the simulated matching engine of spec
// §4.6: price-path generation (historical replay, random walk, external
// quote pass-through), a synthetic order book built around a mid price,
// market/limit/stop matching with configurable slippage, and reservation
// accounting for pending orders. It implements internal/processor.Executor
// so the simulated signal processor variant and the backtest engine can
// drive it without knowing they are not talking to a live exchange.
//
// Grounded on the teacher's internal/market/book.go for the order-book
// shape and concurrency posture (mutex-protected, derived mid/best-bid-ask
// accessors), generalized from "mirror a real book over a websocket" to
// "synthesize one from a single price".
package mockexchange

import (
	"math"
	"math/rand"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// PriceGenerator produces the tick-by-tick price path the matching engine
// runs against. HistoricalReplay is driven one closed candle at a time;
// RandomWalk and ExternalQuote are driven one step at a time with no
// candle backing.
type PriceGenerator interface {
	// NextTicks returns the next batch of simulated ticks for one step of
	// the driving loop (one candle for HistoricalReplay, one call per
	// paper-trading poll for RandomWalk/ExternalQuote).
	NextTicks() []decimal.Decimal
}

// HistoricalReplay produces twelve intra-bar ticks tracing open → high →
// low → close (or open → low → high → close when the bar closed below
// open, so the path always visits both extremes before the close) for one
// closed candle. Replay speed only affects the driving loop's wall-clock
// pacing, not the tick sequence itself, so it is the caller's concern.
type HistoricalReplay struct {
	candle domain.Candle
	done   bool
}

func NewHistoricalReplay(candle domain.Candle) *HistoricalReplay {
	return &HistoricalReplay{candle: candle}
}

const historicalReplayTicksPerCandle = 12

func (h *HistoricalReplay) NextTicks() []decimal.Decimal {
	if h.done {
		return nil
	}
	h.done = true

	c := h.candle
	var path []decimal.Decimal
	if c.Close.GreaterThanOrEqual(c.Open) {
		path = []decimal.Decimal{c.Open, c.High, c.Low, c.Close}
	} else {
		path = []decimal.Decimal{c.Open, c.Low, c.High, c.Close}
	}

	return interpolatePath(path, historicalReplayTicksPerCandle)
}

// interpolatePath linearly subdivides consecutive waypoints so the total
// output has exactly n ticks (one per waypoint when n is smaller than the
// waypoint count), always including every waypoint.
func interpolatePath(waypoints []decimal.Decimal, n int) []decimal.Decimal {
	if len(waypoints) < 2 {
		return waypoints
	}
	segments := len(waypoints) - 1
	steps := n - 1
	if steps < segments {
		steps = segments
	}

	out := make([]decimal.Decimal, 0, steps+1)
	for i := 0; i < segments; i++ {
		perSegment := steps / segments
		if i < steps%segments {
			perSegment++
		}
		from, to := waypoints[i], waypoints[i+1]
		for step := 0; step < perSegment; step++ {
			frac := decimal.NewFromInt(int64(step)).Div(decimal.NewFromInt(int64(perSegment)))
			out = append(out, from.Add(to.Sub(from).Mul(frac)))
		}
	}
	out = append(out, waypoints[len(waypoints)-1])
	return out
}

// RandomWalk generates one tick per call: a normal-increment step whose
// standard deviation derives from recent ATR, pulled back toward the prior
// close by reversionPull (0 = pure random walk, 1 = always snaps to the
// prior close). Deterministic given the same seeded rand.Source, satisfying
// spec §8 scenario S5's byte-identical reproducibility requirement.
type RandomWalk struct {
	priorClose    decimal.Decimal
	last          decimal.Decimal
	atr           decimal.Decimal
	reversionPull decimal.Decimal
	tickSize      decimal.Decimal
	normal        distuv.Normal
}

func NewRandomWalk(priorClose, atr, reversionPull, tickSize decimal.Decimal, src rand.Source) *RandomWalk {
	sigma, _ := atr.Float64()
	if sigma <= 0 {
		sigma = 0.0001
	}
	return &RandomWalk{
		priorClose:    priorClose,
		last:          priorClose,
		atr:           atr,
		reversionPull: reversionPull,
		tickSize:      tickSize,
		normal:        distuv.Normal{Mu: 0, Sigma: sigma, Src: src},
	}
}

func (r *RandomWalk) NextTicks() []decimal.Decimal {
	step := r.normal.Rand()
	if !isFiniteFloat(step) {
		step = 0
	}
	increment := decimal.NewFromFloat(step)
	reverted := r.priorClose.Sub(r.last).Mul(r.reversionPull)
	next := r.last.Add(increment).Add(reverted)
	next = roundToTick(next, r.tickSize)
	if next.IsNegative() || next.IsZero() {
		next = r.last // a non-positive price is never a legitimate simulated tick
	}
	r.last = next
	return []decimal.Decimal{next}
}

func roundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return price
	}
	units := price.Div(tick).Round(0)
	return units.Mul(tick)
}

// ExternalQuote passes an upstream quote feed through unchanged, used when
// a real market stream is available but execution must stay simulated
// (e.g. paper trading against live prices).
type ExternalQuote struct {
	pending []decimal.Decimal
}

func NewExternalQuote() *ExternalQuote {
	return &ExternalQuote{}
}

// Feed enqueues a tick observed from the real stream for the next NextTicks
// call to drain.
func (e *ExternalQuote) Feed(price decimal.Decimal) {
	e.pending = append(e.pending, price)
}

func (e *ExternalQuote) NextTicks() []decimal.Decimal {
	out := e.pending
	e.pending = nil
	return out
}

var _ PriceGenerator = (*HistoricalReplay)(nil)
var _ PriceGenerator = (*RandomWalk)(nil)
var _ PriceGenerator = (*ExternalQuote)(nil)

// isFiniteFloat guards against NaN/Inf creeping out of the normal
// distribution sampler before it reaches decimal conversion.
func isFiniteFloat(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

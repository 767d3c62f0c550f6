package processor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// resolveQuantity implements dispatch step 4: an absolute Quantity passes
// through unchanged; a QuantityFraction is resolved against the
// configured SizingRule. It returns the unrounded requested size: Dispatch
// then rounds it down to the lot size via ExchangeConstraints.RoundToLot,
// logs a WARN with the requested and resolved quantity when the rounding
// reduced it, and rejects it with ErrBelowMinimum when the result is zero
// or below the exchange minimum.
func (p *Processor) resolveQuantity(ctx context.Context, sc *domain.StrategyContext, sig domain.Signal) (decimal.Decimal, error) {
	if !sig.HasQuantityFraction() {
		return sig.Quantity, nil
	}
	if p.sizing == nil {
		return decimal.Zero, fmt.Errorf("%w: signal carries a quantity fraction but no sizing rule is configured", domain.ErrConfigInvalid)
	}
	return p.sizing.Resolve(ctx, sc, sig.Ticker, sig.QuantityFraction)
}

// FixedFractionSizing resolves a fraction against total account equity at
// the signal's price (or the latest tick if the signal carries none).
type FixedFractionSizing struct{}

func (FixedFractionSizing) Resolve(ctx context.Context, sc *domain.StrategyContext, sym domain.Symbol, fraction decimal.Decimal) (decimal.Decimal, error) {
	if sc == nil {
		return decimal.Zero, fmt.Errorf("%w: fraction sizing requires a strategy context", domain.ErrConfigInvalid)
	}
	notional := sc.Account.TotalEquity.Mul(fraction)
	md, ok := sc.MarketDataFor(sym)
	if !ok || md.Latest.Price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: no latest price available for %s", domain.ErrConfigInvalid, sym)
	}
	return notional.Div(md.Latest.Price), nil
}

// VolatilityScaledSizing scales the fraction inversely to recent ATR,
// so sizing shrinks automatically in choppier conditions: resolved
// quantity = (equity × fraction) / (price × (1 + atr/price)).
type VolatilityScaledSizing struct {
	ATRFor func(sym domain.Symbol) (decimal.Decimal, bool)
}

func (v VolatilityScaledSizing) Resolve(ctx context.Context, sc *domain.StrategyContext, sym domain.Symbol, fraction decimal.Decimal) (decimal.Decimal, error) {
	if sc == nil {
		return decimal.Zero, fmt.Errorf("%w: volatility sizing requires a strategy context", domain.ErrConfigInvalid)
	}
	md, ok := sc.MarketDataFor(sym)
	if !ok || md.Latest.Price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: no latest price available for %s", domain.ErrConfigInvalid, sym)
	}
	price := md.Latest.Price
	notional := sc.Account.TotalEquity.Mul(fraction)
	if v.ATRFor == nil {
		return notional.Div(price), nil
	}
	atr, ok := v.ATRFor(sym)
	if !ok || atr.IsZero() {
		return notional.Div(price), nil
	}
	volAdjustedPrice := price.Mul(decimal.NewFromInt(1).Add(atr.Div(price)))
	return notional.Div(volAdjustedPrice), nil
}

// KellyFractionSizing scales the caller-supplied fraction by a trailing
// win-rate/payoff-ratio-derived Kelly fraction, capped at 1 (full Kelly)
// to avoid over-leveraging on a noisy edge estimate.
type KellyFractionSizing struct {
	WinRate    decimal.Decimal
	PayoffRatio decimal.Decimal // average win / average loss
}

func (k KellyFractionSizing) Resolve(ctx context.Context, sc *domain.StrategyContext, sym domain.Symbol, fraction decimal.Decimal) (decimal.Decimal, error) {
	if sc == nil {
		return decimal.Zero, fmt.Errorf("%w: kelly sizing requires a strategy context", domain.ErrConfigInvalid)
	}
	kelly := k.kellyFraction()
	md, ok := sc.MarketDataFor(sym)
	if !ok || md.Latest.Price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: no latest price available for %s", domain.ErrConfigInvalid, sym)
	}
	notional := sc.Account.TotalEquity.Mul(fraction).Mul(kelly)
	return notional.Div(md.Latest.Price), nil
}

func (k KellyFractionSizing) kellyFraction() decimal.Decimal {
	if k.PayoffRatio.IsZero() {
		return decimal.Zero
	}
	// f* = W - (1-W)/R
	one := decimal.NewFromInt(1)
	f := k.WinRate.Sub(one.Sub(k.WinRate).Div(k.PayoffRatio))
	if f.IsNegative() {
		return decimal.Zero
	}
	if f.GreaterThan(one) {
		return one
	}
	return f
}

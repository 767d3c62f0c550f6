package mockexchange

import (
	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// SlippageModel computes the per-fill slippage amount (in price terms,
// always non-negative) added to a buy fill price or subtracted from a sell
// fill price. notional is fillPrice x quantity before slippage.
type SlippageModel interface {
	Slippage(fillPrice, quantity, notional decimal.Decimal) decimal.Decimal
}

// FixedFractionSlippage applies a constant fraction of the fill price,
// independent of order size.
type FixedFractionSlippage struct {
	Fraction decimal.Decimal
}

func (m FixedFractionSlippage) Slippage(fillPrice, quantity, notional decimal.Decimal) decimal.Decimal {
	return fillPrice.Mul(m.Fraction)
}

// LinearImpactSlippage adds a base fraction plus a fraction proportional to
// notional relative to a reference notional, approximating market impact
// growing with order size.
type LinearImpactSlippage struct {
	BaseFraction       decimal.Decimal
	ImpactFraction     decimal.Decimal
	ReferenceNotional  decimal.Decimal
}

func (m LinearImpactSlippage) Slippage(fillPrice, quantity, notional decimal.Decimal) decimal.Decimal {
	base := fillPrice.Mul(m.BaseFraction)
	if m.ReferenceNotional.IsZero() {
		return base
	}
	impact := fillPrice.Mul(m.ImpactFraction).Mul(notional.Div(m.ReferenceNotional))
	return base.Add(impact)
}

// VolatilityBasedSlippage scales with a fraction of the current ATR,
// widening slippage automatically in choppier conditions.
type VolatilityBasedSlippage struct {
	ATR      decimal.Decimal
	Fraction decimal.Decimal
}

func (m VolatilityBasedSlippage) Slippage(fillPrice, quantity, notional decimal.Decimal) decimal.Decimal {
	return m.ATR.Mul(m.Fraction)
}

// NotionalBracket is one tier of a TieredSlippage schedule: notional at or
// below UpTo (or any notional when NoUpper) uses Fraction.
type NotionalBracket struct {
	UpTo     decimal.Decimal
	NoUpper  bool
	Fraction decimal.Decimal
}

// TieredSlippage applies a different fraction depending on which notional
// bracket the fill falls into, approximating larger fills crossing into
// thinner liquidity bands.
type TieredSlippage struct {
	Brackets []NotionalBracket
}

func (m TieredSlippage) Slippage(fillPrice, quantity, notional decimal.Decimal) decimal.Decimal {
	for _, b := range m.Brackets {
		if b.NoUpper || notional.LessThanOrEqual(b.UpTo) {
			return fillPrice.Mul(b.Fraction)
		}
	}
	if len(m.Brackets) > 0 {
		last := m.Brackets[len(m.Brackets)-1]
		return fillPrice.Mul(last.Fraction)
	}
	return decimal.Zero
}

// applySlippage moves fillPrice against the taker: buys fill worse (higher),
// sells fill worse (lower).
func applySlippage(model SlippageModel, fillPrice, quantity decimal.Decimal, side domain.Side) (adjusted, applied decimal.Decimal) {
	if model == nil {
		return fillPrice, decimal.Zero
	}
	notional := fillPrice.Mul(quantity)
	slip := model.Slippage(fillPrice, quantity, notional)
	if slip.IsNegative() {
		slip = decimal.Zero
	}
	if side == domain.SideBuy {
		return fillPrice.Add(slip), slip
	}
	return fillPrice.Sub(slip), slip
}

var (
	_ SlippageModel = FixedFractionSlippage{}
	_ SlippageModel = LinearImpactSlippage{}
	_ SlippageModel = VolatilityBasedSlippage{}
	_ SlippageModel = TieredSlippage{}
)

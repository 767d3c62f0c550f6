// Package enrich implements the signal enrichment layer that sits between
// a strategy's OnMarketData and the signal processor (spec §4.4): it
// attaches absolute stop-loss/take-profit prices to ENTRY/ADD signals,
// passes trailing-stop/profit-lock/daily-loss-limit rules through as
// metadata for ongoing processor evaluation, and injects a synthetic EXIT
// ahead of an ENTRY when ExitOnOppositeSignal is configured and an opposite-side
// position already exists. Grounded on the teacher's per-tick
// cancel-then-requote sequencing in internal/strategy/maker.go, generalized
// from "always flatten stale quotes before placing new ones" to "always
// exit the opposite side before entering."
package enrich

import (
	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// PositionLookup is the read-only view of currently open positions the
// enrichment layer needs to evaluate ExitOnOppositeSignal. Implemented by
// the signal processor.
type PositionLookup interface {
	PositionsBySymbol(sym domain.Symbol) []domain.Position
}

// Enricher applies an ExitConfig to strategy-emitted signals.
type Enricher struct {
	exit domain.ExitConfig
}

func New(exit domain.ExitConfig) *Enricher {
	return &Enricher{exit: exit}
}

// Enrich transforms raw strategy signals into the sequence the processor
// should dispatch, in order: any synthetic EXITs for opposite-side
// positions first, then the original signals (with ENTRY/ADD signals
// carrying attached SL/TP metadata).
func (e *Enricher) Enrich(signals []domain.Signal, lookup PositionLookup, atr decimal.Decimal, hasATR bool) []domain.Signal {
	out := make([]domain.Signal, 0, len(signals)+1)

	for _, sig := range signals {
		if sig.Kind == domain.SignalEntry && e.exit.ExitOnOppositeSignal {
			if exit, ok := e.syntheticOppositeExit(sig, lookup); ok {
				out = append(out, exit)
			}
		}

		if sig.Kind == domain.SignalEntry || sig.Kind == domain.SignalAddToPosition {
			sig = e.attachExitMetadata(sig, atr, hasATR)
		}
		out = append(out, sig)
	}

	return out
}

func (e *Enricher) syntheticOppositeExit(entry domain.Signal, lookup PositionLookup) (domain.Signal, bool) {
	if lookup == nil {
		return domain.Signal{}, false
	}
	for _, pos := range lookup.PositionsBySymbol(entry.Ticker) {
		if pos.IsEmpty() || pos.Side == entry.Side {
			continue
		}
		exit := domain.Signal{
			Ticker:     entry.Ticker,
			PositionID: pos.Key.PositionID,
			GroupID:    pos.GroupID,
			Kind:       domain.SignalExit,
			Side:       pos.Side.Opposite(),
			Quantity:   pos.Quantity,
			Reason:     "opposite-side entry signal with ExitOnOppositeSignal enabled",
		}
		exit.MetaSet(domain.MetaSyntheticExit, true)
		return exit, true
	}
	return domain.Signal{}, false
}

// attachExitMetadata computes absolute SL/TP prices from entry price when
// the signal carries one (limit entries). For a market entry, or an ATR
// stop with no ATR value, the stop-loss rule is recorded verbatim under
// MetaStopLossRule instead, and no take-profit is attached. The processor
// reads only the absolute MetaStopLossPrice; it does not resolve
// MetaStopLossRule.
func (e *Enricher) attachExitMetadata(sig domain.Signal, atr decimal.Decimal, hasATR bool) domain.Signal {
	entryPrice := sig.Price
	haveEntryPrice := sig.HasPrice

	if e.exit.StopLoss.Enabled {
		if haveEntryPrice {
			if sl, ok := stopLossPrice(e.exit.StopLoss, sig.Side, entryPrice, atr, hasATR); ok {
				sig.MetaSet(domain.MetaStopLossPrice, sl)
			} else {
				sig.MetaSet(domain.MetaStopLossRule, e.exit.StopLoss)
			}
		} else {
			sig.MetaSet(domain.MetaStopLossRule, e.exit.StopLoss)
		}
	}

	if e.exit.TakeProfit.Enabled && haveEntryPrice {
		sig.MetaSet(domain.MetaTakeProfitPrice, takeProfitPrice(e.exit.TakeProfit, sig.Side, entryPrice))
	}

	if e.exit.TrailingStop.Enabled {
		sig.MetaSet(domain.MetaTrailingStop, e.exit.TrailingStop)
	}
	if e.exit.ProfitLock.Enabled {
		sig.MetaSet(domain.MetaProfitLock, e.exit.ProfitLock)
	}
	if e.exit.DailyLossLimit.Enabled {
		sig.MetaSet(domain.MetaDailyLossLimit, e.exit.DailyLossLimit)
	}

	return sig
}

func stopLossPrice(rule domain.StopLossRule, side domain.Side, entry, atr decimal.Decimal, hasATR bool) (decimal.Decimal, bool) {
	switch rule.Kind {
	case domain.StopLossFixedPct:
		return offsetByPct(entry, rule.Pct, side, true), true
	case domain.StopLossATR:
		if !hasATR {
			return decimal.Zero, false
		}
		dist := atr.Mul(rule.ATRMult)
		if side == domain.SideBuy {
			return entry.Sub(dist), true
		}
		return entry.Add(dist), true
	default:
		return decimal.Zero, false
	}
}

func takeProfitPrice(rule domain.TakeProfitRule, side domain.Side, entry decimal.Decimal) decimal.Decimal {
	return offsetByPct(entry, rule.Pct, side, false)
}

// offsetByPct moves entry by pct% in the loss direction (worse=true) or
// profit direction (worse=false) for the given side.
func offsetByPct(entry, pct decimal.Decimal, side domain.Side, worse bool) decimal.Decimal {
	frac := pct.Div(decimal.NewFromInt(100))
	delta := entry.Mul(frac)
	goDown := (side == domain.SideBuy) == worse
	if goDown {
		return entry.Sub(delta)
	}
	return entry.Add(delta)
}

package processor

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// seedExitMetadata copies the trailing-stop/profit-lock rules the
// enrichment layer attached to the opening signal onto the position itself,
// so ReevaluateExits has something to read without threading the strategy's
// ExitConfig through the processor. Only runs on the fill that opens or adds
// to a position; a reducing fill never re-arms the rule.
func seedExitMetadata(pos *domain.Position, sig domain.Signal) {
	if rule, ok := sig.MetaGet(domain.MetaTrailingStop); ok {
		if _, already := pos.Metadata[domain.MetaTrailingStop]; !already {
			pos.Metadata[domain.MetaTrailingStop] = rule
		}
	}
	if rule, ok := sig.MetaGet(domain.MetaProfitLock); ok {
		if _, already := pos.Metadata[domain.MetaProfitLock]; !already {
			pos.Metadata[domain.MetaProfitLock] = rule
		}
	}
}

func closeSignal(pos *domain.Position, reason string) domain.Signal {
	sig := domain.Signal{
		Ticker:     pos.Key.Symbol,
		PositionID: pos.Key.PositionID,
		GroupID:    pos.GroupID,
		Kind:       domain.SignalExit,
		Side:       pos.Side.Opposite(),
		Quantity:   pos.Quantity,
		Reason:     reason,
	}
	sig.MetaSet(domain.MetaSyntheticExit, true)
	return sig
}

// evaluateTrailingStop advances a position's high-water mark and fires an
// EXIT once the mark retraces past the configured stop distance. The rule
// only arms once price has moved TriggerPct in the position's favour from
// entry; before that the high-water mark still tracks, but no exit fires.
func evaluateTrailingStop(pos *domain.Position, mark, atr decimal.Decimal, hasATR bool) (domain.Signal, bool) {
	raw, ok := pos.Metadata[domain.MetaTrailingStop]
	if !ok {
		return domain.Signal{}, false
	}
	rule, ok := raw.(domain.TrailingStopRule)
	if !ok || !rule.Enabled {
		return domain.Signal{}, false
	}

	hwm := highWaterMark(pos, mark)
	pos.Metadata[domain.MetaHighWaterMark] = hwm

	if !trailingArmed(pos, rule, hwm) {
		return domain.Signal{}, false
	}

	triggerPrice, ok := trailingTriggerPrice(pos, rule, hwm, atr, hasATR)
	if !ok {
		return domain.Signal{}, false
	}

	breached := false
	if pos.Side == domain.SideBuy {
		breached = mark.LessThanOrEqual(triggerPrice)
	} else {
		breached = mark.GreaterThanOrEqual(triggerPrice)
	}
	if !breached {
		return domain.Signal{}, false
	}

	return closeSignal(pos, fmt.Sprintf("trailing stop %s triggered at %s (high-water %s)", rule.Kind, mark, hwm)), true
}

// highWaterMark returns the most favourable mark seen so far for the
// position, seeded from the prior high-water mark (or entry price on first
// evaluation) and extended by the latest mark.
func highWaterMark(pos *domain.Position, mark decimal.Decimal) decimal.Decimal {
	prev, ok := pos.Metadata[domain.MetaHighWaterMark].(decimal.Decimal)
	if !ok {
		prev = pos.WeightedAvgEntry
	}
	if pos.Side == domain.SideBuy {
		return decimal.Max(prev, mark)
	}
	return decimal.Min(prev, mark)
}

// trailingArmed reports whether price has moved TriggerPct in the
// position's favour from entry, per spec: the trail does not start
// retracing against a fresh entry.
func trailingArmed(pos *domain.Position, rule domain.TrailingStopRule, hwm decimal.Decimal) bool {
	if rule.TriggerPct.IsZero() {
		return true
	}
	if pos.WeightedAvgEntry.IsZero() {
		return false
	}
	moved := hwm.Sub(pos.WeightedAvgEntry).Div(pos.WeightedAvgEntry).Abs()
	threshold := rule.TriggerPct.Div(decimal.NewFromInt(100))
	return moved.GreaterThanOrEqual(threshold)
}

// trailingTriggerPrice computes the exit price for the configured trailing
// kind. StepLadder ratchets the stop in discrete steps of StepPct of the
// entry price, counted from entry, rather than continuously, so it only
// ever improves in whole steps. ParabolicSAR keeps no bar-by-bar SAR
// state: it is a retracement from the high-water mark of
// StopPct × SARAccel / max(SARMaxAccel, 1) percent.
func trailingTriggerPrice(pos *domain.Position, rule domain.TrailingStopRule, hwm, atr decimal.Decimal, hasATR bool) (decimal.Decimal, bool) {
	switch rule.Kind {
	case domain.TrailingFixedPct:
		return retracementPrice(pos, hwm, rule.StopPct), true
	case domain.TrailingATRBased:
		if !hasATR || atr.IsZero() {
			return decimal.Zero, false
		}
		dist := atr.Mul(rule.ATRMult)
		if pos.Side == domain.SideBuy {
			return hwm.Sub(dist), true
		}
		return hwm.Add(dist), true
	case domain.TrailingStepLadder:
		return stepLadderPrice(pos, hwm, rule.StepPct), true
	case domain.TrailingParabolicSAR:
		divisor := decimal.Max(rule.SARMaxAccel, decimal.NewFromInt(1))
		return retracementPrice(pos, hwm, rule.StopPct.Mul(rule.SARAccel).Div(divisor)), true
	default:
		return decimal.Zero, false
	}
}

func retracementPrice(pos *domain.Position, hwm, stopPct decimal.Decimal) decimal.Decimal {
	frac := stopPct.Div(decimal.NewFromInt(100))
	dist := hwm.Mul(frac)
	if pos.Side == domain.SideBuy {
		return hwm.Sub(dist)
	}
	return hwm.Add(dist)
}

// stepLadderPrice snaps the high-water mark down to the nearest StepPct
// increment below it (long) or up to the nearest increment above it
// (short), so the stop moves in discrete rungs rather than tracking the
// mark continuously.
func stepLadderPrice(pos *domain.Position, hwm, stepPct decimal.Decimal) decimal.Decimal {
	if stepPct.IsZero() || pos.WeightedAvgEntry.IsZero() {
		return hwm
	}
	step := pos.WeightedAvgEntry.Mul(stepPct).Div(decimal.NewFromInt(100))
	if step.IsZero() {
		return hwm
	}
	rungs := hwm.Sub(pos.WeightedAvgEntry).Div(step)
	if pos.Side == domain.SideSell {
		rungs = rungs.Ceil()
	} else {
		rungs = rungs.Floor()
	}
	return pos.WeightedAvgEntry.Add(rungs.Mul(step))
}

// evaluateProfitLock arms once unrealised gain crosses ThresholdPct, then
// fires an EXIT if the gain ever retraces below the locked-in LockPct.
// Once armed it stays armed for the life of the position, even if price
// dips back below the threshold without breaching the lock.
func evaluateProfitLock(pos *domain.Position, mark decimal.Decimal) (domain.Signal, bool) {
	raw, ok := pos.Metadata[domain.MetaProfitLock]
	if !ok {
		return domain.Signal{}, false
	}
	rule, ok := raw.(domain.ProfitLockRule)
	if !ok || !rule.Enabled {
		return domain.Signal{}, false
	}
	if pos.WeightedAvgEntry.IsZero() {
		return domain.Signal{}, false
	}

	gainPct := mark.Sub(pos.WeightedAvgEntry).Div(pos.WeightedAvgEntry).Mul(decimal.NewFromInt(100))
	if pos.Side == domain.SideSell {
		gainPct = gainPct.Neg()
	}

	armed, _ := pos.Metadata[domain.MetaProfitLockArmed].(bool)
	if !armed {
		if gainPct.GreaterThanOrEqual(rule.ThresholdPct) {
			pos.Metadata[domain.MetaProfitLockArmed] = true
		}
		return domain.Signal{}, false
	}

	if gainPct.LessThan(rule.LockPct) {
		return closeSignal(pos, fmt.Sprintf("profit lock triggered: gain %s%% fell below locked %s%%", gainPct, rule.LockPct)), true
	}
	return domain.Signal{}, false
}

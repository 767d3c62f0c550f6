// Package backtest implements the backtest engine of spec §4.7: it drives a
// strategy over historical candles through the same enrichment and
// signal-processor core as paper/live trading (internal/enrich,
// internal/processor), matching against internal/mockexchange instead of a
// real provider, so strategy semantics are identical across modes.
package backtest

import "github.com/zeroquant/zeroquant/internal/domain"

// CandleSource supplies closed historical candles for one (symbol,
// timeframe) pair, oldest-first. cmd/zeroquant's CSV-backed
// fileCandleSource is the production implementation; StaticCandleSource
// below backs the engine tests with in-memory fixtures.
type CandleSource interface {
	Candles(sym domain.Symbol, tf domain.Timeframe) ([]domain.Candle, bool)
}

// StaticCandleSource is an in-memory CandleSource, keyed by symbol then
// timeframe.
type StaticCandleSource map[domain.Symbol]map[domain.Timeframe][]domain.Candle

func (s StaticCandleSource) Candles(sym domain.Symbol, tf domain.Timeframe) ([]domain.Candle, bool) {
	byTF, ok := s[sym]
	if !ok {
		return nil, false
	}
	candles, ok := byTF[tf]
	if !ok || len(candles) == 0 {
		return nil, false
	}
	return candles, true
}

// resolvedStream is the per-symbol timeframe resolution result (spec
// §4.7's fallback cascade): primary, then the strategy's declared
// secondary timeframes, then the default cascade.
type resolvedStream struct {
	timeframe domain.Timeframe
	candles   []domain.Candle
	fellBack  bool
}

// resolveTimeframe walks primary, the strategy's secondary list, then
// domain.DefaultCascade, returning the first timeframe with data. Each
// timeframe is tried at most once even if it appears in more than one
// list.
func resolveTimeframe(src CandleSource, sym domain.Symbol, primary domain.Timeframe, secondary []domain.Timeframe) (resolvedStream, bool) {
	tried := make(map[domain.Timeframe]bool, len(secondary)+len(domain.DefaultCascade)+1)
	try := func(tf domain.Timeframe) ([]domain.Candle, bool) {
		if tf == "" || tried[tf] {
			return nil, false
		}
		tried[tf] = true
		return src.Candles(sym, tf)
	}

	if candles, ok := try(primary); ok {
		return resolvedStream{timeframe: primary, candles: candles}, true
	}
	for _, tf := range secondary {
		if candles, ok := try(tf); ok {
			return resolvedStream{timeframe: tf, candles: candles, fellBack: true}, true
		}
	}
	for _, tf := range domain.DefaultCascade {
		if candles, ok := try(tf); ok {
			return resolvedStream{timeframe: tf, candles: candles, fellBack: true}, true
		}
	}
	return resolvedStream{}, false
}

package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/enrich"
	"github.com/zeroquant/zeroquant/internal/indicator"
	"github.com/zeroquant/zeroquant/internal/mockexchange"
	"github.com/zeroquant/zeroquant/internal/processor"
)

// Engine drives one backtest run per Config.
type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// symbolStream tracks one universe symbol's resolved primary timeframe,
// its candle array and read cursor, and the secondary timeframes aligned
// alongside it without look-ahead.
type symbolStream struct {
	sym       domain.Symbol
	timeframe domain.Timeframe
	fellBack  bool
	candles   []domain.Candle
	idx       int

	secondaryCandles map[domain.Timeframe][]domain.Candle
	secondaryIdx     map[domain.Timeframe]int

	md *domain.MarketData
}

// recordingExecutor wraps the simulated exchange so the engine can append
// every immediate Dispatch-triggered fill to the run's trade log in the
// order it actually happened, rather than reconstructing it afterwards.
type recordingExecutor struct {
	inner   processor.Executor
	onTrade func(domain.TradeResult)
}

func (r *recordingExecutor) Execute(ctx context.Context, req domain.OrderRequest) (processor.ExecutionResult, error) {
	res, err := r.inner.Execute(ctx, req)
	if err == nil && res.Trade != nil && r.onTrade != nil {
		r.onTrade(*res.Trade)
	}
	return res, err
}

func (r *recordingExecutor) CancelOrder(ctx context.Context, orderID string) error {
	return r.inner.CancelOrder(ctx, orderID)
}

var _ processor.Executor = (*recordingExecutor)(nil)

// Run executes the backtest end to end and returns the equity curve,
// trade log, signal log and summary metrics of spec §4.7.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	cfg := e.cfg
	if len(cfg.Universe) == 0 {
		return nil, fmt.Errorf("%w: backtest universe is empty", domain.ErrConfigInvalid)
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("%w: backtest requires a strategy instance", domain.ErrConfigInvalid)
	}
	if cfg.Candles == nil {
		return nil, fmt.Errorf("%w: backtest requires a candle source", domain.ErrConfigInvalid)
	}

	mtf := cfg.Strategy.MultiTimeframeConfig()

	streams := make([]*symbolStream, 0, len(cfg.Universe))
	streamsBySymbol := make(map[domain.Symbol]*symbolStream, len(cfg.Universe))
	fallbacks := make(map[domain.Symbol]domain.Timeframe)

	for _, sym := range cfg.Universe {
		resolved, ok := resolveTimeframe(cfg.Candles, sym, mtf.Primary, mtf.Secondary)
		if !ok {
			return nil, fmt.Errorf("%w: no candle data for %s on any declared or default timeframe", domain.ErrConfigInvalid, sym)
		}
		if resolved.fellBack {
			fallbacks[sym] = resolved.timeframe
		}

		secondaryCandles := make(map[domain.Timeframe][]domain.Candle)
		for _, tf := range mtf.Secondary {
			if tf == resolved.timeframe {
				continue
			}
			if candles, ok := cfg.Candles.Candles(sym, tf); ok {
				secondaryCandles[tf] = candles
			}
		}

		s := &symbolStream{
			sym:              sym,
			timeframe:        resolved.timeframe,
			fellBack:         resolved.fellBack,
			candles:          resolved.candles,
			secondaryCandles: secondaryCandles,
			secondaryIdx:     make(map[domain.Timeframe]int),
			md:               domain.NewMarketData(sym),
		}
		streams = append(streams, s)
		streamsBySymbol[sym] = s
	}

	start, end, err := overlapRange(streams)
	if err != nil {
		return nil, err
	}
	for _, s := range streams {
		for s.idx < len(s.candles) && s.candles[s.idx].CloseTime().Before(start) {
			s.idx++
		}
	}

	times := closeTimeUnion(streams, start, end)
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: no candle close times fall within the universe's overlapping date range", domain.ErrConfigInvalid)
	}

	exch := mockexchange.NewExchange(cfg.CredentialID, cfg.Constraints, cfg.Slippage, cfg.BaseVolume, cfg.Persistence, cfg.logger())

	var allTrades []domain.TradeResult
	rec := &recordingExecutor{inner: exch, onTrade: func(t domain.TradeResult) {
		allTrades = append(allTrades, t)
	}}
	proc := processor.NewSimulated(rec, cfg.Constraints, cfg.Routes, cfg.sizing(), cfg.StartingBalance, cfg.logger())
	enricher := enrich.New(cfg.Strategy.ExitConfig())

	marks := make(map[domain.Symbol]decimal.Decimal, len(streams))
	atrFor := func(sym domain.Symbol) (decimal.Decimal, bool) {
		s, ok := streamsBySymbol[sym]
		if !ok {
			return decimal.Zero, false
		}
		return e.atr(s)
	}

	var signalLog []domain.SignalLogEntry
	equityCurve := make([]EquityPoint, 0, len(times))
	var lastDate time.Time

	for tickIdx, t := range times {
		if lastDate.IsZero() || !sameDay(t, lastDate) {
			proc.ResetDailyPnL()
			lastDate = t
		}

		for _, sym := range cfg.Universe {
			s := streamsBySymbol[sym]
			if s.idx >= len(s.candles) || !s.candles[s.idx].CloseTime().Equal(t) {
				continue
			}
			candle := s.candles[s.idx]
			s.idx++

			s.md.ApplyCandle(s.timeframe, candle)
			s.md.ApplyTick(domain.Tick{Symbol: sym, Price: candle.Close, Size: candle.Volume, Timestamp: t})
			feedSecondary(s, t)

			marks[sym] = candle.Close
			exch.SetMark(sym, candle.Close)

			constraints, err := cfg.Constraints.ExchangeConstraints(ctx, sym)
			if err != nil {
				return nil, fmt.Errorf("constraints lookup for %s: %w", sym, err)
			}

			for _, fill := range exch.ProcessTick(ctx, sym, candle.Close, constraints) {
				proc.ReconcilePendingFill(fill)
				allTrades = append(allTrades, fill)
			}

			sc := e.buildContext(proc, streams, marks, constraints, t)

			signals, err := cfg.Strategy.OnMarketData(ctx, sc, s.md)
			if err != nil {
				return nil, fmt.Errorf("strategy OnMarketData for %s at %s: %w", sym, t, err)
			}

			atr, hasATR := e.atr(s)
			for _, sig := range enricher.Enrich(signals, proc, atr, hasATR) {
				entry, err := proc.Dispatch(ctx, sc, sig)
				if err != nil {
					cfg.logger().Warn("backtest: dispatch failed", "symbol", sym, "error", err)
					continue
				}
				signalLog = append(signalLog, entry)
			}

			for _, exitSig := range proc.ReevaluateExits(marks, atrFor) {
				entry, err := proc.Dispatch(ctx, sc, exitSig)
				if err != nil {
					cfg.logger().Warn("backtest: exit dispatch failed", "symbol", sym, "error", err)
					continue
				}
				signalLog = append(signalLog, entry)
			}
		}

		equityCurve = append(equityCurve, EquityPoint{Time: t, Equity: proc.Equity(marks)})

		// Cooperative yield point per spec §5 ("every 1,000 candles in
		// backtest"): this loop runs to completion synchronously, so the
		// only meaningful yield is checking for cancellation.
		if tickIdx%1000 == 999 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
	}

	return &Result{
		EquityCurve: equityCurve,
		TradeLog:    allTrades,
		SignalLog:   signalLog,
		Summary:     computeSummary(equityCurve, allTrades),
		Fallbacks:   fallbacks,
		StartTime:   times[0],
		EndTime:     times[len(times)-1],
	}, nil
}

func (e *Engine) atr(s *symbolStream) (decimal.Decimal, bool) {
	candles := s.md.WindowFor(s.timeframe).Slice()
	period := e.cfg.atrPeriod()
	if len(candles) < period+1 {
		return decimal.Zero, false
	}
	highs := make([]decimal.Decimal, len(candles))
	lows := make([]decimal.Decimal, len(candles))
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return indicator.ATR(highs, lows, closes, period)
}

func (e *Engine) buildContext(proc *processor.Processor, streams []*symbolStream, marks map[domain.Symbol]decimal.Decimal, constraints domain.ExchangeConstraints, at time.Time) *domain.StrategyContext {
	mdMap := make(map[domain.Symbol]*domain.MarketData, len(streams))
	for _, s := range streams {
		mdMap[s.sym] = s.md
	}

	positions := proc.AllPositions()
	posInfo := make([]domain.PositionInfo, 0, len(positions))
	for _, pos := range positions {
		mark, ok := marks[pos.Key.Symbol]
		if !ok {
			mark = pos.WeightedAvgEntry
		}
		posInfo = append(posInfo, domain.PositionInfo{
			Symbol:           pos.Key.Symbol,
			Side:             pos.Side,
			Quantity:         pos.Quantity,
			WeightedAvgEntry: pos.WeightedAvgEntry,
			MarkPrice:        mark,
			UnrealizedPnL:    pos.UnrealizedPnL(mark),
		})
	}

	return &domain.StrategyContext{
		Account: domain.AccountState{
			Cash:          proc.Balance(),
			TotalEquity:   proc.Equity(marks),
			Currency:      "USD",
			Positions:     posInfo,
			PendingOrders: proc.PendingOrders(),
			Constraints:   constraints,
			AsOf:          at,
		},
		MarketData:  mdMap,
		GeneratedAt: at,
	}
}

// feedSecondary pushes every secondary-timeframe candle whose close time
// has arrived (≤ cutoff) into the live MarketData window, advancing each
// timeframe's own cursor independently. Candles with a later close time
// stay unread until their own tick — this, not domain.Window.AsOf, is what
// keeps the strategy from ever seeing a secondary bar before it closes.
func feedSecondary(s *symbolStream, cutoff time.Time) {
	for tf, candles := range s.secondaryCandles {
		idx := s.secondaryIdx[tf]
		for idx < len(candles) && !candles[idx].CloseTime().After(cutoff) {
			s.md.ApplyCandle(tf, candles[idx])
			idx++
		}
		s.secondaryIdx[tf] = idx
	}
}

// overlapRange computes the intersection of every stream's available date
// range (spec §4.7: "the engine stops at the intersection of available
// date ranges").
func overlapRange(streams []*symbolStream) (start, end time.Time, err error) {
	for i, s := range streams {
		if len(s.candles) == 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %s resolved to an empty candle stream", domain.ErrConfigInvalid, s.sym)
		}
		first := s.candles[0].CloseTime()
		last := s.candles[len(s.candles)-1].CloseTime()
		if i == 0 || first.After(start) {
			start = first
		}
		if i == 0 || last.Before(end) {
			end = last
		}
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: universe symbols share no overlapping candle date range", domain.ErrConfigInvalid)
	}
	return start, end, nil
}

// closeTimeUnion collects every distinct candle close time across all
// streams that falls within [start, end], sorted ascending. A multi-asset
// run with symbols on different resolved timeframes still advances on the
// union of their close times, presenting whichever symbols have a candle
// at that instant together, per spec §4.7.
func closeTimeUnion(streams []*symbolStream, start, end time.Time) []time.Time {
	seen := make(map[int64]time.Time)
	for _, s := range streams {
		for _, c := range s.candles {
			ct := c.CloseTime()
			if ct.Before(start) || ct.After(end) {
				continue
			}
			seen[ct.UnixNano()] = ct
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

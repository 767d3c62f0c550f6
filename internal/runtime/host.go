// Package runtime hosts one strategy instance against live market data and
// a live exchange.Provider, for exactly the
// same strategy/enrich/processor core that internal/backtest drives over
// historical candles (spec §4.7's "identical strategy semantics across
// modes"). Grounded on the teacher's internal/engine.Engine: New/Start/Stop
// lifecycle, a risk-manager goroutine draining into a kill-signal handler,
// a single context.CancelFunc tearing every goroutine down together.
// Generalized from one Avellaneda-Stoikov maker wired straight to two
// Polymarket WS feeds to one polymorphic Strategy driven by the
// internal/stream Bridge/Subscriber abstraction.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/analytics"
	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/enrich"
	"github.com/zeroquant/zeroquant/internal/exchange"
	"github.com/zeroquant/zeroquant/internal/indicator"
	"github.com/zeroquant/zeroquant/internal/processor"
	"github.com/zeroquant/zeroquant/internal/risk"
	"github.com/zeroquant/zeroquant/internal/strategy"
	"github.com/zeroquant/zeroquant/internal/stream"
)

// Config bundles every collaborator Host wires together. Every field is
// already constructed by the caller (cmd/zeroquant): Host owns none of
// their lifecycles except the ones started in Start (stream, risk manager,
// cron schedule, and the host's own loops).
type Config struct {
	Universe []domain.Symbol
	Strategy strategy.Strategy
	Provider exchange.Provider
	Stream   *stream.Stream
	Context  *analytics.Provider
	Risk     *risk.Manager
	Sizing   processor.SizingRule

	StartingBalance decimal.Decimal

	// AccountRefresh is the cadence for refreshing account state
	// (spec §4.1: 1-5s). ContextRefresh is the cadence for re-running
	// analytics.Provider.FetchContext. PendingPoll is the cadence the
	// reconciliation loop re-checks resting orders; DailyResetCron is the cron
	// schedule (default midnight UTC) that zeroes the daily-loss counter.
	AccountRefresh time.Duration
	ContextRefresh time.Duration
	PendingPoll    time.Duration
	DailyResetCron string

	// ATRPeriod is the lookback for the trailing-stop/profit-lock ATR
	// input computed from the strategy's primary-timeframe window.
	// Defaults to 14, matching internal/backtest.Config's default.
	ATRPeriod int

	Logger *slog.Logger
}

func (c Config) accountRefresh() time.Duration {
	if c.AccountRefresh > 0 {
		return c.AccountRefresh
	}
	return 2 * time.Second
}

func (c Config) contextRefresh() time.Duration {
	if c.ContextRefresh > 0 {
		return c.ContextRefresh
	}
	return 5 * time.Second
}

func (c Config) pendingPoll() time.Duration {
	if c.PendingPoll > 0 {
		return c.PendingPoll
	}
	return 3 * time.Second
}

func (c Config) dailyResetCron() string {
	if c.DailyResetCron != "" {
		return c.DailyResetCron
	}
	return "0 0 * * *"
}

func (c Config) atrPeriod() int {
	if c.ATRPeriod > 0 {
		return c.ATRPeriod
	}
	return 14
}

func (c Config) sizing() processor.SizingRule {
	if c.Sizing != nil {
		return c.Sizing
	}
	return processor.FixedFractionSizing{}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Host runs Config.Strategy against live ticks until Stop is called.
// Every strategy callback and every dispatch runs on one goroutine
// (runMarketData) so the Strategy interface's single-threaded-per-instance
// contract holds without the strategy itself needing a lock.
type Host struct {
	cfg      Config
	proc     *processor.Processor
	enricher *enrich.Enricher
	logger   *slog.Logger
	cron     *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards ctxCache and lastPrice, both published by background loops
	// and read from runMarketData's goroutine and the account-report loop.
	mu        sync.RWMutex
	ctxCache  *domain.StrategyContext
	lastPrice map[domain.Symbol]decimal.Decimal

	universe map[domain.Symbol]bool
}

// New constructs a Host. Strategy.Initialise must already have been called
// by the caller, mirroring how internal/backtest.Config documents the same
// requirement.
func New(cfg Config) *Host {
	logger := cfg.logger().With("component", "runtime", "strategy", cfg.Strategy.Name())

	proc := processor.NewLive(cfg.Provider, cfg.Context, cfg.sizing(), cfg.StartingBalance, logger)

	universe := make(map[domain.Symbol]bool, len(cfg.Universe))
	for _, sym := range cfg.Universe {
		universe[sym] = true
	}

	return &Host{
		cfg:       cfg,
		proc:      proc,
		enricher:  enrich.New(cfg.Strategy.ExitConfig()),
		logger:    logger,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		lastPrice: make(map[domain.Symbol]decimal.Decimal, len(cfg.Universe)),
		universe:  universe,
	}
}

// Processor exposes the underlying processor for dashboard/API read access
// (position snapshots, pending orders, equity), the same role
// Engine.GetRiskManager plays for the teacher's dashboard wiring.
func (h *Host) Processor() *processor.Processor {
	return h.proc
}

// Risk exposes the risk manager for dashboard/API read access
// (risk.Manager.GetSnapshot), mirroring Processor above.
func (h *Host) Risk() *risk.Manager {
	return h.cfg.Risk
}

// Marks exposes the latest tick price per universe symbol for
// dashboard/API unrealized-P&L computation.
func (h *Host) Marks() map[domain.Symbol]decimal.Decimal {
	return h.marks()
}

// Start launches every background loop and blocks until ctx is cancelled or
// an unrecoverable error occurs in the market-data subscriber.
func (h *Host) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	if _, err := h.cron.AddFunc(h.cfg.dailyResetCron(), h.proc.ResetDailyPnL); err != nil {
		return fmt.Errorf("schedule daily reset: %w", err)
	}
	h.cron.Start()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.cfg.Risk.Run(h.ctx)
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runKillSwitch()
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runContextRefresh()
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runAccountReport()
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runPendingReconciliation()
	}()

	sub := h.cfg.Stream.NewSubscriber(h.ctx, h.cfg.Universe)
	defer sub.Close()

	return h.runMarketData(sub)
}

// Stop cancels every loop started by Start and waits for them to exit, then
// calls the strategy's own Shutdown hook.
func (h *Host) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	h.cron.Stop()
	h.wg.Wait()
	return h.cfg.Strategy.Shutdown(ctx)
}

func (h *Host) runMarketData(sub *stream.Subscriber) error {
	for {
		select {
		case <-h.ctx.Done():
			return h.ctx.Err()
		case tick, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("market data subscriber closed")
			}
			if !h.universe[tick.Symbol] {
				continue
			}
			h.onMarketData(tick)
		}
	}
}

// buildMarketData overlays a fresh tick onto the candle windows already
// held in sc (populated by internal/analytics from store-backed history),
// since the stream itself only ever delivers ticks, never closed candles.
// The returned value is a shallow copy so ApplyTick never mutates the
// shared, concurrently-read StrategyContext snapshot.
func (h *Host) buildMarketData(sc *domain.StrategyContext, tick domain.Tick) *domain.MarketData {
	var md domain.MarketData
	if existing, ok := sc.MarketDataFor(tick.Symbol); ok {
		md = *existing
	} else {
		md = *domain.NewMarketData(tick.Symbol)
	}
	md.ApplyTick(tick)
	return &md
}

// onMarketData runs one OnMarketData call, dispatches every resulting
// signal, and re-evaluates trailing-stop/profit-lock exits across the
// whole universe against the latest marks — the live-tick counterpart to
// internal/backtest's per-candle-close ReevaluateExits call. Recovers from
// a strategy panic so one misbehaving strategy cannot take the whole host
// down (spec §7's panic-recovery boundary).
func (h *Host) onMarketData(tick domain.Tick) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("strategy panic recovered", "symbol", tick.Symbol, "panic", r)
		}
	}()

	h.mu.Lock()
	h.lastPrice[tick.Symbol] = tick.Price
	h.mu.Unlock()

	sc := h.currentContext()
	md := h.buildMarketData(sc, tick)

	signals, err := h.cfg.Strategy.OnMarketData(h.ctx, sc, md)
	if err != nil {
		h.logger.Error("strategy OnMarketData failed", "symbol", tick.Symbol, "error", err)
		return
	}

	atr, hasATR := h.atrFor(md)

	if len(signals) > 0 {
		enriched := h.enricher.Enrich(signals, h.proc, atr, hasATR)
		h.dispatchAll(sc, enriched)
	}

	marks := h.marks()
	exits := h.proc.ReevaluateExits(marks, func(sym domain.Symbol) (decimal.Decimal, bool) {
		if other, ok := sc.MarketDataFor(sym); ok {
			return h.atrFor(other)
		}
		return decimal.Zero, false
	})
	h.dispatchAll(sc, exits)
}

func (h *Host) dispatchAll(sc *domain.StrategyContext, signals []domain.Signal) {
	for _, sig := range signals {
		isEntry := sig.Kind == domain.SignalEntry || sig.Kind == domain.SignalAddToPosition
		if isEntry && h.cfg.Risk != nil && h.cfg.Risk.IsKillSwitchActive() {
			h.logger.Warn("kill switch active, entry skipped", "symbol", sig.Ticker)
			continue
		}
		entry, err := h.proc.Dispatch(h.ctx, sc, sig)
		if err != nil {
			h.logger.Error("dispatch failed", "symbol", sig.Ticker, "error", err)
			continue
		}
		if entry.Outcome == domain.OutcomeFilled && entry.Trade != nil {
			if err := h.cfg.Strategy.OnOrderFilled(h.ctx, *entry.Trade); err != nil {
				h.logger.Warn("strategy OnOrderFilled failed", "symbol", sig.Ticker, "error", err)
			}
		}
	}
}

// marks snapshots the latest tick price per universe symbol for
// ReevaluateExits/reportPositions callers.
func (h *Host) marks() map[domain.Symbol]decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	marks := make(map[domain.Symbol]decimal.Decimal, len(h.lastPrice))
	for sym, px := range h.lastPrice {
		marks[sym] = px
	}
	return marks
}

func (h *Host) atrFor(md *domain.MarketData) (decimal.Decimal, bool) {
	mtf := h.cfg.Strategy.MultiTimeframeConfig()
	candles := md.WindowFor(mtf.Primary).Slice()
	period := h.cfg.atrPeriod()
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

func (h *Host) currentContext() *domain.StrategyContext {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ctxCache
}

// runContextRefresh keeps a StrategyContext snapshot warm at
// Config.contextRefresh() cadence, so runMarketData's hot path never blocks
// on a FetchContext round trip per spec §4.1.
func (h *Host) runContextRefresh() {
	ticker := time.NewTicker(h.cfg.contextRefresh())
	defer ticker.Stop()

	timeframes := []domain.Timeframe{h.cfg.Strategy.MultiTimeframeConfig().Primary}
	timeframes = append(timeframes, h.cfg.Strategy.MultiTimeframeConfig().Secondary...)

	refresh := func() {
		sc, err := h.cfg.Context.FetchContext(h.ctx, h.cfg.Universe, timeframes)
		if err != nil {
			h.logger.Warn("context refresh failed", "error", err)
			return
		}
		h.mu.Lock()
		h.ctxCache = sc
		h.mu.Unlock()
	}

	refresh()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// runAccountReport feeds the risk manager a PositionReport per open
// position at Config.accountRefresh() cadence, the live-mode counterpart to
// the teacher's per-market inventory snapshot feeding risk.Manager.Report.
func (h *Host) runAccountReport() {
	ticker := time.NewTicker(h.cfg.accountRefresh())
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.reportPositions()
		}
	}
}

func (h *Host) reportPositions() {
	marks := h.marks()
	now := time.Now()
	for _, pos := range h.proc.AllPositions() {
		mark := pos.WeightedAvgEntry
		if m, ok := marks[pos.Key.Symbol]; ok {
			mark = m
		}
		h.cfg.Risk.Report(risk.PositionReport{
			Symbol:           pos.Key.Symbol,
			Quantity:         pos.Quantity,
			MarkPrice:        mark,
			ExposureNotional: pos.Quantity.Mul(mark).Abs(),
			UnrealizedPnL:    pos.UnrealizedPnL(mark),
			RealizedPnL:      pos.RealizedPnL,
			Timestamp:        now,
		})
	}
}

// runKillSwitch drains risk.Manager.KillCh and cancels every resting order
// for the affected symbol (or every symbol, for a nil-symbol global kill),
// mirroring the teacher's handleKillSignal/stopMarketLocked cancel-all
// safety net.
func (h *Host) runKillSwitch() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case sig := <-h.cfg.Risk.KillCh():
			h.handleKill(sig)
		}
	}
}

func (h *Host) handleKill(sig risk.KillSignal) {
	h.logger.Error("kill signal received", "symbol", sig.Symbol, "reason", sig.Reason)
	for _, order := range h.proc.PendingOrders() {
		if !killMatches(sig, order.Symbol) {
			continue
		}
		if err := h.proc.CancelOrder(h.ctx, order.OrderID); err != nil {
			h.logger.Error("cancel on kill signal failed", "order_id", order.OrderID, "error", err)
		}
	}
}

// killMatches reports whether a pending order's symbol falls within a kill
// signal's scope: every symbol for a nil Symbol (global kill), or exactly
// the named one otherwise.
func killMatches(sig risk.KillSignal, orderSymbol domain.Symbol) bool {
	return sig.Symbol == nil || orderSymbol == *sig.Symbol
}

// runPendingReconciliation periodically re-polls every order the processor
// is still tracking as pending and feeds terminal fills back through
// ReconcilePendingFill, since LiveExecutor.Execute only polls up to its own
// budget before handing an order back as Pending.
func (h *Host) runPendingReconciliation() {
	ticker := time.NewTicker(h.cfg.pendingPoll())
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.reconcilePending()
		}
	}
}

func (h *Host) reconcilePending() {
	for _, order := range h.proc.PendingOrders() {
		status, err := h.cfg.Provider.OrderStatus(h.ctx, order.OrderID)
		if err != nil {
			h.logger.Warn("pending order status check failed", "order_id", order.OrderID, "error", err)
			continue
		}
		switch status.Status {
		case domain.OrderStatusFilled:
			filled, err := h.cfg.Provider.FilledQuantity(h.ctx, order.OrderID)
			if err != nil {
				h.logger.Warn("pending order filled-quantity check failed", "order_id", order.OrderID, "error", err)
				continue
			}
			trade := domain.TradeResult{
				OrderID:     order.OrderID,
				Symbol:      order.Symbol,
				PositionKey: order.PositionKey,
				GroupID:     order.GroupID,
				Side:        order.Side,
				Quantity:    filled,
				FillPrice:   status.AvgFillPrice,
				Timestamp:   time.Now(),
			}
			h.proc.ReconcilePendingFill(trade)
			if err := h.cfg.Strategy.OnOrderFilled(h.ctx, trade); err != nil {
				h.logger.Warn("strategy OnOrderFilled failed", "order_id", order.OrderID, "error", err)
			}
		case domain.OrderStatusCancelled:
			h.logger.Info("pending order cancelled upstream", "order_id", order.OrderID)
		}
	}
}

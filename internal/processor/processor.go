// Package processor implements the signal-processor core contract (spec
// §4.5): position/cash accounting keyed by (symbol, position_id), dispatch
// gating (OVERHEAT, daily loss limit), quantity resolution, and
// trailing-stop/profit-lock re-evaluation. Live and simulated variants
// share this one implementation and differ only in the Executor they are
// constructed with — a live Executor submits to an exchange.Provider and
// waits for fill confirmation before any local state mutates; a simulated
// Executor (internal/mockexchange) matches synchronously against a
// synthetic order book. Grounded on the teacher's internal/strategy/
// inventory.go for position/cash bookkeeping style (weighted-average entry
// maintained alongside realised P&L), generalized to the FIFO lot queue
// domain.Position implements.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// RouteStateLookup resolves the current route state for a symbol, used by
// the OVERHEAT dispatch gate.
type RouteStateLookup interface {
	RouteStateFor(ctx context.Context, sym domain.Symbol) (domain.RouteState, error)
}

// ConstraintsLookup resolves exchange rounding/fee rules per symbol.
type ConstraintsLookup interface {
	ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error)
}

// ExecutionResult is what an Executor returns for one order: either an
// immediate Trade (market fill, or a limit/stop that matched on
// submission) or a Pending order the processor must track for later
// reservation accounting and re-evaluation.
type ExecutionResult struct {
	Trade   *domain.TradeResult
	Pending *domain.PendingOrder
}

// Executor is the execution boundary the processor calls at dispatch step
// 5. The live implementation submits to an exchange.Provider and blocks
// for fill confirmation; the simulated implementation matches against
// internal/mockexchange synchronously.
type Executor interface {
	Execute(ctx context.Context, req domain.OrderRequest) (ExecutionResult, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// SizingRule resolves a QuantityFraction signal into an absolute quantity.
type SizingRule interface {
	Resolve(ctx context.Context, sc *domain.StrategyContext, sym domain.Symbol, fraction decimal.Decimal) (decimal.Decimal, error)
}

// Processor is the shared core contract. Construct via NewLive or
// NewSimulated (in sibling files) to get the variant-appropriate Executor
// wired in.
type Processor struct {
	executor    Executor
	constraints ConstraintsLookup
	routes      RouteStateLookup
	sizing      SizingRule
	logger      *slog.Logger

	mu                sync.Mutex
	balance           decimal.Decimal
	reserved          decimal.Decimal
	startingEquity    decimal.Decimal
	dailyRealizedPnL  decimal.Decimal
	positions         map[domain.PositionKey]*domain.Position
	pendingOrders     map[string]*domain.PendingOrder
}

func newProcessor(executor Executor, constraints ConstraintsLookup, routes RouteStateLookup, sizing SizingRule, startingBalance decimal.Decimal, logger *slog.Logger) *Processor {
	return &Processor{
		executor:       executor,
		constraints:    constraints,
		routes:         routes,
		sizing:         sizing,
		logger:         logger,
		balance:        startingBalance,
		startingEquity: startingBalance,
		positions:      make(map[domain.PositionKey]*domain.Position),
		pendingOrders:  make(map[string]*domain.PendingOrder),
	}
}

func (p *Processor) Balance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

func (p *Processor) Reserved() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserved
}

// PositionsBySymbol implements enrich.PositionLookup.
func (p *Processor) PositionsBySymbol(sym domain.Symbol) []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Position, 0, 1)
	for key, pos := range p.positions {
		if key.Symbol == sym {
			out = append(out, *pos)
		}
	}
	return out
}

// PositionsByGroup scans positions for a matching group_id (spec §4.5
// grouping).
func (p *Processor) PositionsByGroup(groupID string) []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Position, 0)
	for _, pos := range p.positions {
		if pos.GroupID == groupID {
			out = append(out, *pos)
		}
	}
	return out
}

// GroupUnrealizedPnL sums marked-to-market P&L across a group given
// current mark prices.
func (p *Processor) GroupUnrealizedPnL(groupID string, marks map[domain.Symbol]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.PositionsByGroup(groupID) {
		mark, ok := marks[pos.Key.Symbol]
		if !ok {
			continue
		}
		total = total.Add(pos.UnrealizedPnL(mark))
	}
	return total
}

// AllPositions returns a snapshot of every open position, for callers
// (internal/backtest's equity curve, internal/runtime's periodic account
// snapshot) that need the full book rather than one symbol or group at a
// time.
func (p *Processor) AllPositions() []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out
}

// Equity marks every open position against marks and returns
// balance + reserved + sum(position notional at mark), i.e. the
// total-equity side of the spec §8 invariant
// "balance + reserved + Σ position_mark == total_equity". Positions with
// no mark available are valued at their weighted-average entry price so a
// momentarily-missing quote doesn't understate equity to zero.
func (p *Processor) Equity(marks map[domain.Symbol]decimal.Decimal) decimal.Decimal {
	p.mu.Lock()
	balance := p.balance
	reserved := p.reserved
	positions := make([]*domain.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, pos)
	}
	p.mu.Unlock()

	total := balance.Add(reserved)
	for _, pos := range positions {
		mark, ok := marks[pos.Key.Symbol]
		if !ok {
			mark = pos.WeightedAvgEntry
		}
		total = total.Add(pos.Quantity.Mul(mark))
	}
	return total
}

// ReconcilePendingFill applies a fill that resolves a previously pending
// order — a resting limit/stop order crossing on a later tick — releasing
// its cash reservation and running the same applyFill accounting an
// immediate fill gets. The live and simulated executors both produce these
// asynchronously relative to Dispatch; the backtest engine and any paper
// trading loop call this once per fill their tick-processing step reports.
// A trade whose OrderID does not match a tracked pending order is a no-op:
// either it was already reconciled or it never went through this
// processor's Dispatch.
func (p *Processor) ReconcilePendingFill(trade domain.TradeResult) {
	p.mu.Lock()
	pending, ok := p.pendingOrders[trade.OrderID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pendingOrders, trade.OrderID)
	p.reserved = p.reserved.Sub(pending.ReservedCash)
	p.balance = p.balance.Add(pending.ReservedCash)
	sig := pending.OriginSignal
	p.mu.Unlock()

	p.applyFill(trade, sig)
}

// ResetDailyPnL zeroes the daily realised P&L counter the daily-loss-limit
// gate reads. Called once per new trading day by the backtest engine
// (every session boundary in the candle stream) and any live runtime's
// daily rollover job.
func (p *Processor) ResetDailyPnL() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dailyRealizedPnL = decimal.Zero
}

// PendingOrders returns a snapshot of every order still resting, for the
// backtest engine's end-of-run summary and the runtime host's periodic
// account refresh.
func (p *Processor) PendingOrders() []domain.PendingOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.PendingOrder, 0, len(p.pendingOrders))
	for _, o := range p.pendingOrders {
		out = append(out, *o)
	}
	return out
}

// CancelOrder cancels a still-resting order through the executor and
// releases its cash reservation back to free balance. A no-op if the order
// is not (or no longer) tracked as pending, since it may have already been
// reconciled as filled between the caller's snapshot and this call.
func (p *Processor) CancelOrder(ctx context.Context, orderID string) error {
	if err := p.executor.CancelOrder(ctx, orderID); err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pending, ok := p.pendingOrders[orderID]
	if !ok {
		return nil
	}
	delete(p.pendingOrders, orderID)
	p.reserved = p.reserved.Sub(pending.ReservedCash)
	p.balance = p.balance.Add(pending.ReservedCash)
	return nil
}

// Dispatch runs one signal through the dispatch rules of spec §4.5 steps
// 1, 2, 4, 5, 6 (step 3, exit-on-opposite, is handled by internal/enrich
// before the signal reaches here).
func (p *Processor) Dispatch(ctx context.Context, sc *domain.StrategyContext, sig domain.Signal) (domain.SignalLogEntry, error) {
	now := time.Now()

	if sig.Kind == domain.SignalEntry || sig.Kind == domain.SignalAddToPosition {
		if err := p.checkOverheatGate(ctx, sig); err != nil {
			return p.rejected(sig, domain.OutcomeRejectedOverheat, err, now), nil
		}
		if err := p.checkDailyLossLimit(sig); err != nil {
			return p.rejected(sig, domain.OutcomeRejectedDailyLoss, err, now), nil
		}
	}

	qty, err := p.resolveQuantity(ctx, sc, sig)
	if err != nil {
		return p.rejected(sig, domain.OutcomeRejectedMinimum, err, now), nil
	}

	constraints, err := p.constraints.ExchangeConstraints(ctx, sig.Ticker)
	if err != nil {
		return domain.SignalLogEntry{}, fmt.Errorf("constraints lookup: %w", err)
	}
	requested := qty
	qty = constraints.RoundToLot(qty)
	if qty.LessThanOrEqual(decimal.Zero) || qty.LessThan(constraints.MinQuantity) {
		return p.rejected(sig, domain.OutcomeRejectedMinimum, domain.ErrBelowMinimum, now), nil
	}
	if !qty.Equal(requested) && p.logger != nil {
		p.logger.Warn("quantity rounded down to lot size", "symbol", sig.Ticker, "requested", requested, "resolved", qty)
	}

	notionalPrice := sig.Price
	if !sig.HasPrice {
		if md, ok := sc.MarketDataFor(sig.Ticker); ok {
			notionalPrice = md.Latest.Price
		}
	}
	if notionalPrice.IsPositive() && qty.Mul(notionalPrice).LessThan(constraints.MinNotional) {
		return p.rejected(sig, domain.OutcomeRejectedMinimum, domain.ErrBelowMinimum, now), nil
	}

	req := domain.OrderRequest{
		Symbol:      sig.Ticker,
		PositionKey: domain.PositionKey{Symbol: sig.Ticker, PositionID: sig.PositionID},
		GroupID:     sig.GroupID,
		Side:        sig.Side,
		Type:        orderTypeFor(sig),
		Quantity:    qty,
		Price:       constraints.RoundToTick(sig.Price),
	}
	if slPrice, ok := sig.MetaGet(domain.MetaStopLossPrice); ok {
		if d, ok := slPrice.(decimal.Decimal); ok {
			req.StopPrice = constraints.RoundToTick(d)
		}
	}

	result, err := p.executor.Execute(ctx, req)
	if err != nil {
		return p.rejected(sig, domain.OutcomeFailedProvider, err, now), fmt.Errorf("execute: %w", err)
	}

	if result.Pending != nil {
		result.Pending.OriginSignal = sig
		p.mu.Lock()
		p.pendingOrders[result.Pending.OrderID] = result.Pending
		p.reserved = p.reserved.Add(result.Pending.ReservedCash)
		p.balance = p.balance.Sub(result.Pending.ReservedCash)
		p.mu.Unlock()
		return domain.SignalLogEntry{Signal: sig, Outcome: domain.OutcomePending, Timestamp: now}, nil
	}

	trade := *result.Trade
	p.applyFill(trade, sig)

	return domain.SignalLogEntry{Signal: sig, Outcome: domain.OutcomeFilled, Trade: &trade, Timestamp: now}, nil
}

func (p *Processor) rejected(sig domain.Signal, outcome domain.DispatchOutcome, err error, at time.Time) domain.SignalLogEntry {
	return domain.SignalLogEntry{Signal: sig, Outcome: outcome, Detail: err.Error(), Timestamp: at}
}

func (p *Processor) checkOverheatGate(ctx context.Context, sig domain.Signal) error {
	if p.routes == nil {
		return nil
	}
	state, err := p.routes.RouteStateFor(ctx, sig.Ticker)
	if err != nil {
		return nil // staleness is enrichment's concern; dispatch proceeds on lookup error
	}
	if state == domain.RouteOverheat {
		return domain.ErrRouteOverheat
	}
	return nil
}

func (p *Processor) checkDailyLossLimit(sig domain.Signal) error {
	rule, ok := sig.MetaGet(domain.MetaDailyLossLimit)
	if !ok {
		return nil
	}
	limit, ok := rule.(domain.DailyLossLimitRule)
	if !ok || !limit.Enabled {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startingEquity.IsZero() {
		return nil
	}
	lossRatio := p.dailyRealizedPnL.Div(p.startingEquity)
	if lossRatio.LessThanOrEqual(limit.MaxLossPct.Neg()) {
		return domain.ErrDailyLossLimitHit
	}
	return nil
}

func orderTypeFor(sig domain.Signal) domain.OrderType {
	if sig.HasPrice {
		return domain.OrderLimit
	}
	return domain.OrderMarket
}

// applyFill performs dispatch step 6: buy appends a lot, sell consumes
// FIFO, position removed when quantity reaches zero. The originating signal
// is consulted only to seed trailing-stop/profit-lock metadata onto a
// newly-opened or added-to position; it plays no part in cash accounting.
func (p *Processor) applyFill(trade domain.TradeResult, sig domain.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos, existed := p.positions[trade.PositionKey]
	if !existed {
		pos = domain.NewPosition(trade.PositionKey, trade.Side, trade.GroupID)
		p.positions[trade.PositionKey] = pos
	}

	cost := trade.FillPrice.Mul(trade.Quantity).Add(trade.Commission).Add(trade.SlippageApplied)

	if trade.Side == pos.Side || pos.IsEmpty() {
		pos.Side = trade.Side
		pos.AddLot(trade.Quantity, trade.FillPrice, trade.Timestamp)
		p.balance = p.balance.Sub(cost)
		seedExitMetadata(pos, sig)
	} else {
		grossRealized, consumed := pos.ConsumeFIFO(trade.Quantity, trade.FillPrice)
		netRealized := grossRealized.Sub(trade.Commission)
		pos.RealizedPnL = pos.RealizedPnL.Sub(trade.Commission) // ConsumeFIFO credited the gross amount; net it here
		p.dailyRealizedPnL = p.dailyRealizedPnL.Add(netRealized)
		proceeds := trade.FillPrice.Mul(consumed).Sub(trade.Commission).Sub(trade.SlippageApplied)
		p.balance = p.balance.Add(proceeds)
	}

	if pos.IsEmpty() {
		delete(p.positions, trade.PositionKey)
	}
}

// ReevaluateExits implements dispatch step 7: for every open position
// carrying trailing-stop or profit-lock metadata, update the high-water
// mark against the latest mark price and synthesise an EXIT signal if the
// trigger condition fires. Callers re-enter Dispatch with the returned
// signals. atrFor resolves the current ATR for a symbol, used only by
// ATR-based trailing stops; pass nil when no analytics source is wired.
func (p *Processor) ReevaluateExits(marks map[domain.Symbol]decimal.Decimal, atrFor func(domain.Symbol) (decimal.Decimal, bool)) []domain.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()

	var exits []domain.Signal
	for key, pos := range p.positions {
		mark, ok := marks[key.Symbol]
		if !ok {
			continue
		}
		var atr decimal.Decimal
		hasATR := false
		if atrFor != nil {
			atr, hasATR = atrFor(key.Symbol)
		}
		if sig, fire := evaluateTrailingStop(pos, mark, atr, hasATR); fire {
			exits = append(exits, sig)
		}
		if sig, fire := evaluateProfitLock(pos, mark); fire {
			exits = append(exits, sig)
		}
	}
	return exits
}

package processor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExecutor fills every order immediately at the requested price (or a
// fixed mark for market orders), never returns a Pending order.
type fakeExecutor struct {
	marks map[domain.Symbol]decimal.Decimal
}

// pendingExecutor always hands back a Pending order, reserving cash the
// way a non-marketable limit order would, so tests can exercise
// ReconcilePendingFill independently of any real matching engine.
type pendingExecutor struct {
	reserved decimal.Decimal
}

func (e *pendingExecutor) Execute(ctx context.Context, req domain.OrderRequest) (ExecutionResult, error) {
	return ExecutionResult{Pending: &domain.PendingOrder{
		OrderID:           "order-1",
		Symbol:            req.Symbol,
		PositionKey:       req.PositionKey,
		GroupID:           req.GroupID,
		Side:              req.Side,
		Type:              req.Type,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Price:             req.Price,
		ReservedCash:      e.reserved,
		Status:            domain.OrderStatusOpen,
	}}, nil
}

func (e *pendingExecutor) CancelOrder(ctx context.Context, orderID string) error { return nil }

func (f *fakeExecutor) Execute(ctx context.Context, req domain.OrderRequest) (ExecutionResult, error) {
	price := req.Price
	if !req.Price.IsPositive() {
		price = f.marks[req.Symbol]
	}
	trade := &domain.TradeResult{
		Symbol:      req.Symbol,
		PositionKey: req.PositionKey,
		GroupID:     req.GroupID,
		Side:        req.Side,
		Quantity:    req.Quantity,
		FillPrice:   price,
		Timestamp:   time.Now(),
	}
	return ExecutionResult{Trade: trade}, nil
}

func (f *fakeExecutor) CancelOrder(ctx context.Context, orderID string) error { return nil }

type fakeConstraints struct{}

func (fakeConstraints) ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error) {
	return domain.ExchangeConstraints{LotSize: decimal.NewFromInt(1), MinQuantity: decimal.Zero}, nil
}

// fixedConstraints lets a test pin MinQuantity/MinNotional/TickSizeBands
// directly, for the rejection paths fakeConstraints' zero values can't reach.
type fixedConstraints struct {
	constraints domain.ExchangeConstraints
}

func (f fixedConstraints) ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error) {
	return f.constraints, nil
}

type fakeRoutes struct {
	state domain.RouteState
}

func (f fakeRoutes) RouteStateFor(ctx context.Context, sym domain.Symbol) (domain.RouteState, error) {
	return f.state, nil
}

func newTestProcessor(exec Executor, routes RouteStateLookup) *Processor {
	return newProcessor(exec, fakeConstraints{}, routes, FixedFractionSizing{}, decimal.NewFromInt(1_000_000), testLogger())
}

func newTestProcessorWithConstraints(exec Executor, routes RouteStateLookup, constraints ConstraintsLookup) *Processor {
	return newProcessor(exec, constraints, routes, FixedFractionSizing{}, decimal.NewFromInt(1_000_000), testLogger())
}

func TestDispatchFillsMarketBuyAndTracksPosition(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})

	sig := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(10)}
	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeFilled {
		t.Fatalf("outcome = %v, want FILLED", entry.Outcome)
	}

	positions := p.PositionsBySymbol(sym)
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(positions))
	}
	if !positions[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("quantity = %v, want 10", positions[0].Quantity)
	}
	wantBalance := decimal.NewFromInt(1_000_000).Sub(decimal.NewFromInt(1000))
	if !p.Balance().Equal(wantBalance) {
		t.Errorf("balance = %v, want %v", p.Balance(), wantBalance)
	}
}

func TestDispatchRejectsEntryOnRouteOverheat(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteOverheat})

	sig := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(10)}
	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeRejectedOverheat {
		t.Fatalf("outcome = %v, want REJECTED_ROUTE_OVERHEAT", entry.Outcome)
	}
	if len(p.PositionsBySymbol(sym)) != 0 {
		t.Error("expected no position opened on a rejected entry")
	}
}

func TestDispatchRealizesFIFOPnLOnReducingFill(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})

	buy := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(10)}
	if _, err := p.Dispatch(context.Background(), nil, buy); err != nil {
		t.Fatalf("buy dispatch: %v", err)
	}

	exec.marks[sym] = decimal.NewFromInt(110)
	sell := domain.Signal{Ticker: sym, Kind: domain.SignalExit, Side: domain.SideSell, Quantity: decimal.NewFromInt(10)}
	entry, err := p.Dispatch(context.Background(), nil, sell)
	if err != nil {
		t.Fatalf("sell dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeFilled {
		t.Fatalf("outcome = %v, want FILLED", entry.Outcome)
	}
	if len(p.PositionsBySymbol(sym)) != 0 {
		t.Error("expected position fully closed")
	}
	wantBalance := decimal.NewFromInt(1_000_000).Sub(decimal.NewFromInt(1000)).Add(decimal.NewFromInt(1100))
	if !p.Balance().Equal(wantBalance) {
		t.Errorf("balance = %v, want %v", p.Balance(), wantBalance)
	}
}

func TestReevaluateExitsFiresFixedPctTrailingStop(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})

	trail := domain.TrailingStopRule{Enabled: true, Kind: domain.TrailingFixedPct, StopPct: decimal.NewFromInt(5)}
	buy := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(10)}
	buy.MetaSet(domain.MetaTrailingStop, trail)
	if _, err := p.Dispatch(context.Background(), nil, buy); err != nil {
		t.Fatalf("buy dispatch: %v", err)
	}

	marks := map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(120)}
	if exits := p.ReevaluateExits(marks, nil); len(exits) != 0 {
		t.Fatalf("expected no exit while mark is rising, got %d", len(exits))
	}

	marks[sym] = decimal.NewFromInt(113) // retraced >5% off the 120 high-water mark
	exits := p.ReevaluateExits(marks, nil)
	if len(exits) != 1 {
		t.Fatalf("len(exits) = %d, want 1", len(exits))
	}
	if exits[0].Kind != domain.SignalExit || exits[0].Side != domain.SideSell {
		t.Errorf("unexpected exit signal: %+v", exits[0])
	}
}

func TestReevaluateExitsFiresProfitLock(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})

	lock := domain.ProfitLockRule{Enabled: true, ThresholdPct: decimal.NewFromInt(10), LockPct: decimal.NewFromInt(5)}
	buy := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(10)}
	buy.MetaSet(domain.MetaProfitLock, lock)
	if _, err := p.Dispatch(context.Background(), nil, buy); err != nil {
		t.Fatalf("buy dispatch: %v", err)
	}

	marks := map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(111)} // +11%, arms the lock
	if exits := p.ReevaluateExits(marks, nil); len(exits) != 0 {
		t.Fatalf("expected no exit on arming tick, got %d", len(exits))
	}

	marks[sym] = decimal.NewFromInt(104) // +4%, below the 5% lock
	exits := p.ReevaluateExits(marks, nil)
	if len(exits) != 1 {
		t.Fatalf("len(exits) = %d, want 1", len(exits))
	}
}

func TestReconcilePendingFillReleasesReservationAndOpensPosition(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &pendingExecutor{reserved: decimal.NewFromInt(909)}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})

	sig := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(90), HasPrice: true}
	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomePending {
		t.Fatalf("outcome = %v, want PENDING", entry.Outcome)
	}
	if !p.Reserved().Equal(decimal.NewFromInt(909)) {
		t.Fatalf("reserved = %v, want 909", p.Reserved())
	}
	if len(p.PendingOrders()) != 1 {
		t.Fatalf("len(PendingOrders()) = %d, want 1", len(p.PendingOrders()))
	}

	trade := domain.TradeResult{
		OrderID:     "order-1",
		Symbol:      sym,
		PositionKey: domain.PositionKey{Symbol: sym},
		Side:        domain.SideBuy,
		Quantity:    decimal.NewFromInt(10),
		FillPrice:   decimal.NewFromInt(90),
	}
	p.ReconcilePendingFill(trade)

	if !p.Reserved().IsZero() {
		t.Errorf("reserved = %v, want 0 after reconciliation", p.Reserved())
	}
	if len(p.PendingOrders()) != 0 {
		t.Errorf("expected the pending order to be cleared")
	}
	positions := p.PositionsBySymbol(sym)
	if len(positions) != 1 || !positions[0].Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected a 10-unit position to be opened, got %+v", positions)
	}
	wantBalance := decimal.NewFromInt(1_000_000).Sub(decimal.NewFromInt(900))
	if !p.Balance().Equal(wantBalance) {
		t.Errorf("balance = %v, want %v", p.Balance(), wantBalance)
	}
}

func TestReconcilePendingFillIgnoresUnknownOrderID(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})

	p.ReconcilePendingFill(domain.TradeResult{OrderID: "does-not-exist", Symbol: sym})

	if len(p.PositionsBySymbol(sym)) != 0 {
		t.Error("expected no position to be opened for an unrecognised order id")
	}
}

func TestEquityMarksOpenPositionsAndIncludesReserved(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})

	buy := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(10)}
	if _, err := p.Dispatch(context.Background(), nil, buy); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	equity := p.Equity(map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(110)})
	// balance after the buy is 999,000; 10 units marked at 110 = 1,100.
	want := decimal.NewFromInt(1_000_000).Sub(decimal.NewFromInt(1000)).Add(decimal.NewFromInt(1100))
	if !equity.Equal(want) {
		t.Errorf("Equity = %v, want %v", equity, want)
	}
}

func TestResetDailyPnLClearsCounterSoLimitNoLongerRejects(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})
	p.dailyRealizedPnL = decimal.NewFromInt(-40_000)
	p.ResetDailyPnL()

	sig := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(1)}
	sig.MetaSet(domain.MetaDailyLossLimit, domain.DailyLossLimitRule{Enabled: true, MaxLossPct: decimal.NewFromFloat(0.03)})

	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeFilled {
		t.Fatalf("outcome = %v, want FILLED after daily P&L reset", entry.Outcome)
	}
}

func TestCheckDailyLossLimitRejectsBelowThreshold(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})
	p.dailyRealizedPnL = decimal.NewFromInt(-40_000) // -4% of the 1,000,000 starting balance

	sig := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromInt(1)}
	sig.MetaSet(domain.MetaDailyLossLimit, domain.DailyLossLimitRule{Enabled: true, MaxLossPct: decimal.NewFromFloat(0.03)})

	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeRejectedDailyLoss {
		t.Fatalf("outcome = %v, want REJECTED_DAILY_LOSS_LIMIT", entry.Outcome)
	}
}

func TestDispatchRejectsPositiveQuantityBelowMinQuantity(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketCrypto)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	constraints := fixedConstraints{constraints: domain.ExchangeConstraints{
		LotSize:     decimal.NewFromFloat(0.001),
		MinQuantity: decimal.NewFromFloat(0.01),
	}}
	p := newTestProcessorWithConstraints(exec, fakeRoutes{state: domain.RouteNeutral}, constraints)

	// Lot-rounds to 0.005, positive but below the 0.01 MinQuantity floor.
	sig := domain.Signal{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Quantity: decimal.NewFromFloat(0.0059)}
	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeRejectedMinimum {
		t.Fatalf("outcome = %v, want REJECTED_MINIMUM", entry.Outcome)
	}
	if len(p.PositionsBySymbol(sym)) != 0 {
		t.Error("expected no position opened on a rejected entry")
	}
}

func TestDispatchRejectsQuantityBelowMinNotional(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketCrypto)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	constraints := fixedConstraints{constraints: domain.ExchangeConstraints{
		LotSize:     decimal.NewFromFloat(0.001),
		MinQuantity: decimal.NewFromFloat(0.001),
		MinNotional: decimal.NewFromInt(50),
	}}
	p := newTestProcessorWithConstraints(exec, fakeRoutes{state: domain.RouteNeutral}, constraints)

	// Limit order at 10 for 0.1 units: notional 1 < MinNotional 50.
	sig := domain.Signal{
		Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy,
		Quantity: decimal.NewFromFloat(0.1), Price: decimal.NewFromInt(10), HasPrice: true,
	}
	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeRejectedMinimum {
		t.Fatalf("outcome = %v, want REJECTED_MINIMUM", entry.Outcome)
	}
	if len(p.PositionsBySymbol(sym)) != 0 {
		t.Error("expected no position opened on a rejected entry")
	}
}

func TestDispatchRoundsLimitPriceToTickSize(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketCrypto)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	constraints := fixedConstraints{constraints: domain.ExchangeConstraints{
		LotSize:       decimal.NewFromInt(1),
		MinQuantity:   decimal.Zero,
		TickSizeBands: []domain.TickSizeBand{{NoUpper: true, TickSize: decimal.NewFromFloat(0.5)}},
	}}
	p := newTestProcessorWithConstraints(exec, fakeRoutes{state: domain.RouteNeutral}, constraints)

	sig := domain.Signal{
		Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy,
		Quantity: decimal.NewFromInt(10), Price: decimal.NewFromFloat(100.37), HasPrice: true,
	}
	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeFilled {
		t.Fatalf("outcome = %v, want FILLED", entry.Outcome)
	}
	if entry.Trade == nil {
		t.Fatal("expected a filled trade")
	}
	if !entry.Trade.FillPrice.Equal(decimal.NewFromFloat(100.5)) {
		t.Errorf("fill price = %v, want 100.5 (100.37 rounded to the nearest 0.5 tick)", entry.Trade.FillPrice)
	}
}

// TestDispatchRejectsAddToPositionOnDailyLossLimit exercises the processor
// side of the ADD_TO_POSITION daily-loss-limit gate directly, with the rule
// metadata attached the way internal/enrich now attaches it for
// SignalAddToPosition (see enrich's own
// TestAttachesDailyLossLimitMetadataToAddSignal for that half).
func TestDispatchRejectsAddToPositionOnDailyLossLimit(t *testing.T) {
	t.Parallel()
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	exec := &fakeExecutor{marks: map[domain.Symbol]decimal.Decimal{sym: decimal.NewFromInt(100)}}
	p := newTestProcessor(exec, fakeRoutes{state: domain.RouteNeutral})
	p.dailyRealizedPnL = decimal.NewFromInt(-40_000) // -4% of the 1,000,000 starting balance

	sig := domain.Signal{Ticker: sym, Kind: domain.SignalAddToPosition, Side: domain.SideBuy, Quantity: decimal.NewFromInt(1)}
	sig.MetaSet(domain.MetaDailyLossLimit, domain.DailyLossLimitRule{Enabled: true, MaxLossPct: decimal.NewFromFloat(0.03)})

	entry, err := p.Dispatch(context.Background(), nil, sig)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if entry.Outcome != domain.OutcomeRejectedDailyLoss {
		t.Fatalf("outcome = %v, want REJECTED_DAILY_LOSS_LIMIT", entry.Outcome)
	}
}

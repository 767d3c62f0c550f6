package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/analytics"
	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/exchange"
	"github.com/zeroquant/zeroquant/internal/indicator"
	"github.com/zeroquant/zeroquant/internal/risk"
	"github.com/zeroquant/zeroquant/internal/strategy"
	"github.com/zeroquant/zeroquant/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var btcusd = domain.NewSymbol("BTC", domain.MarketCrypto)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	var c Config
	if c.accountRefresh() != 2*time.Second {
		t.Errorf("accountRefresh default = %v, want 2s", c.accountRefresh())
	}
	if c.contextRefresh() != 5*time.Second {
		t.Errorf("contextRefresh default = %v, want 5s", c.contextRefresh())
	}
	if c.pendingPoll() != 3*time.Second {
		t.Errorf("pendingPoll default = %v, want 3s", c.pendingPoll())
	}
	if c.dailyResetCron() != "0 0 * * *" {
		t.Errorf("dailyResetCron default = %q, want midnight UTC cron", c.dailyResetCron())
	}
	if c.atrPeriod() != 14 {
		t.Errorf("atrPeriod default = %d, want 14", c.atrPeriod())
	}
	if c.sizing() == nil {
		t.Error("sizing default must not be nil")
	}
	if c.logger() == nil {
		t.Error("logger default must not be nil")
	}

	c.AccountRefresh = time.Second
	c.ContextRefresh = 9 * time.Second
	c.PendingPoll = 11 * time.Second
	c.DailyResetCron = "30 3 * * *"
	c.ATRPeriod = 21
	if c.accountRefresh() != time.Second || c.contextRefresh() != 9*time.Second ||
		c.pendingPoll() != 11*time.Second || c.dailyResetCron() != "30 3 * * *" || c.atrPeriod() != 21 {
		t.Error("explicit Config values should override every default")
	}
}

func TestKillMatches(t *testing.T) {
	t.Parallel()
	eth := domain.NewSymbol("ETH", domain.MarketCrypto)

	if !killMatches(risk.KillSignal{Symbol: nil}, btcusd) {
		t.Error("a nil-symbol kill signal should match every symbol")
	}
	if !killMatches(risk.KillSignal{Symbol: &btcusd}, btcusd) {
		t.Error("a symbol-scoped kill signal should match its own symbol")
	}
	if killMatches(risk.KillSignal{Symbol: &btcusd}, eth) {
		t.Error("a symbol-scoped kill signal should not match a different symbol")
	}
}

func candleSeries(n int, base float64) []domain.Candle {
	out := make([]domain.Candle, n)
	now := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		px := decimal.NewFromFloat(base + float64(i))
		out[i] = domain.Candle{
			OpenTime: now.Add(time.Duration(i) * time.Minute),
			Open:     px,
			High:     px.Add(decimal.NewFromInt(1)),
			Low:      px.Sub(decimal.NewFromInt(1)),
			Close:    px,
		}
	}
	return out
}

func TestAtrForRequiresAFullWindow(t *testing.T) {
	t.Parallel()
	h := &Host{cfg: Config{ATRPeriod: 14, Strategy: &fakeStrategy{primary: domain.TF1m}}}

	md := domain.NewMarketData(btcusd)
	for _, c := range candleSeries(10, 100) {
		md.ApplyCandle(domain.TF1m, c)
	}
	if _, ok := h.atrFor(md); ok {
		t.Error("atrFor should report no ATR with fewer than period+1 candles")
	}

	for _, c := range candleSeries(20, 100) {
		md.ApplyCandle(domain.TF1m, c)
	}
	atr, ok := h.atrFor(md)
	if !ok {
		t.Fatal("atrFor should succeed once the window holds period+1 candles")
	}
	if !atr.IsPositive() {
		t.Errorf("atr = %v, want a positive value for a moving price series", atr)
	}
}

func TestBuildMarketDataOverlaysTickOntoCachedWindow(t *testing.T) {
	t.Parallel()
	h := &Host{}

	sc := &domain.StrategyContext{MarketData: map[domain.Symbol]*domain.MarketData{}}
	cached := domain.NewMarketData(btcusd)
	cached.ApplyCandle(domain.TF1m, candleSeries(1, 100)[0])
	sc.MarketData[btcusd] = cached

	tick := domain.Tick{Symbol: btcusd, Price: decimal.NewFromInt(123), Timestamp: time.Now()}
	md := h.buildMarketData(sc, tick)

	if !md.Latest.Price.Equal(decimal.NewFromInt(123)) {
		t.Errorf("Latest.Price = %v, want 123", md.Latest.Price)
	}
	if md.WindowFor(domain.TF1m).Len() != 1 {
		t.Errorf("window length = %d, want 1 (carried over from the cached context)", md.WindowFor(domain.TF1m).Len())
	}
	if cached.Latest.Price.Equal(decimal.NewFromInt(123)) {
		t.Error("buildMarketData must not mutate the shared StrategyContext snapshot in place")
	}

	// No cached entry at all: falls back to a fresh, empty MarketData.
	otherTick := domain.Tick{Symbol: domain.NewSymbol("ETH", domain.MarketCrypto), Price: decimal.NewFromInt(7)}
	fresh := h.buildMarketData(sc, otherTick)
	if !fresh.Latest.Price.Equal(decimal.NewFromInt(7)) {
		t.Errorf("fresh.Latest.Price = %v, want 7", fresh.Latest.Price)
	}
}

func TestMarksSnapshotsLastPrice(t *testing.T) {
	t.Parallel()
	h := &Host{lastPrice: map[domain.Symbol]decimal.Decimal{
		btcusd: decimal.NewFromInt(50000),
	}}
	marks := h.marks()
	if !marks[btcusd].Equal(decimal.NewFromInt(50000)) {
		t.Errorf("marks[btcusd] = %v, want 50000", marks[btcusd])
	}

	// Mutating the returned map must not affect the Host's own state.
	marks[btcusd] = decimal.Zero
	if h.lastPrice[btcusd].IsZero() {
		t.Error("marks() must return a copy, not the live lastPrice map")
	}
}

// fakeStrategy is a minimal strategy.Strategy: it emits one ENTRY signal on
// the first OnMarketData call and none afterward, and records every fill it
// is notified of.
type fakeStrategy struct {
	mu      sync.Mutex
	primary domain.Timeframe
	fired   bool
	fills   []domain.TradeResult
}

func (s *fakeStrategy) Name() string        { return "fake" }
func (s *fakeStrategy) Version() string     { return "test" }
func (s *fakeStrategy) Initialise(any) error { return nil }

func (s *fakeStrategy) OnMarketData(ctx context.Context, sc *domain.StrategyContext, md *domain.MarketData) ([]domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired {
		return nil, nil
	}
	s.fired = true
	return []domain.Signal{{
		Ticker:   md.Symbol,
		Kind:     domain.SignalEntry,
		Side:     domain.SideBuy,
		Quantity: decimal.NewFromInt(1),
	}}, nil
}

func (s *fakeStrategy) OnOrderFilled(ctx context.Context, fill domain.TradeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, fill)
	return nil
}

func (s *fakeStrategy) OnPositionUpdate(ctx context.Context, pos domain.Position) error { return nil }
func (s *fakeStrategy) Shutdown(ctx context.Context) error                              { return nil }
func (s *fakeStrategy) SaveState() ([]byte, error)                                      { return nil, nil }
func (s *fakeStrategy) LoadState([]byte) error                                          { return nil }
func (s *fakeStrategy) ExitConfig() domain.ExitConfig                                   { return domain.ExitConfig{} }
func (s *fakeStrategy) MultiTimeframeConfig() strategy.MultiTimeframeConfig {
	return strategy.MultiTimeframeConfig{Primary: s.primary}
}

var _ strategy.Strategy = (*fakeStrategy)(nil)

// fakeProvider fills every submitted order immediately at its fixed mark
// price, so LiveExecutor.Execute never falls into its poll-until-timeout
// Pending path.
type fakeProvider struct {
	mu      sync.Mutex
	nextID  int
	orders  map[string]domain.OrderRequest
	mark    decimal.Decimal
}

func newFakeProvider(mark decimal.Decimal) *fakeProvider {
	return &fakeProvider{orders: make(map[string]domain.OrderRequest), mark: mark}
}

func (p *fakeProvider) AccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	return domain.AccountInfo{Cash: decimal.NewFromInt(100000), TotalEquity: decimal.NewFromInt(100000)}, nil
}
func (p *fakeProvider) Positions(ctx context.Context) ([]domain.PositionInfo, error) { return nil, nil }
func (p *fakeProvider) PendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	return nil, nil
}
func (p *fakeProvider) ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error) {
	return domain.ExchangeConstraints{
		LotSize:        decimal.NewFromFloat(0.0001),
		MinQuantity:    decimal.NewFromFloat(0.0001),
		MinNotional:    decimal.Zero,
		CommissionRate: decimal.Zero,
		TickSizeBands:  []domain.TickSizeBand{{NoUpper: true, TickSize: decimal.NewFromFloat(0.01)}},
	}, nil
}

func (p *fakeProvider) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("order-%d", p.nextID)
	p.orders[id] = req
	return id, nil
}

func (p *fakeProvider) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.orders, orderID)
	return nil
}

func (p *fakeProvider) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	p.mu.Lock()
	req, ok := p.orders[orderID]
	p.mu.Unlock()
	if !ok {
		return domain.OrderStatus{OrderID: orderID, Status: domain.OrderStatusCancelled}, nil
	}
	return domain.OrderStatus{
		OrderID:        orderID,
		Status:         domain.OrderStatusFilled,
		FilledQuantity: req.Quantity,
		AvgFillPrice:   p.mark,
	}, nil
}

func (p *fakeProvider) FilledQuantity(ctx context.Context, orderID string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orders[orderID].Quantity, nil
}

func (p *fakeProvider) Ticker(ctx context.Context, sym domain.Symbol) (domain.Quote, error) {
	return domain.Quote{Symbol: sym, Bid: p.mark, Ask: p.mark, Last: p.mark}, nil
}
func (p *fakeProvider) OrderBook(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error) {
	return domain.OrderBook{Symbol: sym}, nil
}

var _ exchange.Provider = (*fakeProvider)(nil)

// fakeBridge never delivers a tick: Connect only blocks until ctx is
// cancelled, and Subscribe/Unsubscribe are no-ops.
type fakeBridge struct {
	mark decimal.Decimal
}

func (b *fakeBridge) Connect(ctx context.Context, events chan<- domain.Tick, heartbeats chan<- time.Time) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *fakeBridge) Subscribe(ctx context.Context, symbols []domain.Symbol) error {
	return nil
}

func (b *fakeBridge) Unsubscribe(ctx context.Context, symbols []domain.Symbol) error { return nil }

var _ stream.Bridge = (*fakeBridge)(nil)

type emptyCandles struct{}

func (emptyCandles) LatestCandles(ctx context.Context, sym domain.Symbol, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	return nil, nil
}

type emptyAnalytics struct{}

func (emptyAnalytics) LatestAnalytics(ctx context.Context, symbols []domain.Symbol) ([]analytics.Row, error) {
	return nil, nil
}

type fakeAccount struct{ cash decimal.Decimal }

func (a fakeAccount) FetchAccount(ctx context.Context) (domain.AccountState, error) {
	return domain.AccountState{Cash: a.cash, TotalEquity: a.cash, AsOf: time.Now()}, nil
}

// TestHostDispatchesStrategySignalsAndNotifiesFills drives one real tick
// through a Host wired to every fake collaborator above and checks that the
// strategy's single ENTRY signal is dispatched, filled immediately by the
// fake provider, and reported back via OnOrderFilled.
func TestHostDispatchesStrategySignalsAndNotifiesFills(t *testing.T) {
	t.Parallel()

	mark := decimal.NewFromInt(100)
	provider := newFakeProvider(mark)
	bridge := &fakeBridge{mark: mark}
	str := stream.New(bridge, testLogger())

	ctxProvider := analytics.NewProvider(emptyCandles{}, emptyAnalytics{}, fakeAccount{cash: decimal.NewFromInt(100000)}, analytics.DefaultStalenessBounds(), testLogger())
	riskMgr := risk.NewManager(risk.Config{
		MaxPositionPerSymbol: decimal.NewFromInt(1000000),
		MaxGlobalExposure:    decimal.NewFromInt(1000000),
		MaxMarketsActive:     10,
		MaxDailyLoss:         decimal.NewFromInt(1000000),
	}, testLogger())

	strat := &fakeStrategy{primary: domain.TF1m}

	host := New(Config{
		Universe:        []domain.Symbol{btcusd},
		Strategy:        strat,
		Provider:        provider,
		Stream:          str,
		Context:         ctxProvider,
		Risk:            riskMgr,
		StartingBalance: decimal.NewFromInt(100000),
		ContextRefresh:  50 * time.Millisecond,
		AccountRefresh:  50 * time.Millisecond,
		PendingPoll:     50 * time.Millisecond,
		Logger:          testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = str.Run(ctx)
	}()

	startErrCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		startErrCh <- host.Start(ctx)
	}()

	// Wait for the first context refresh to publish a non-nil snapshot
	// before delivering a tick directly through onMarketData (bypassing the
	// bridge's own timing, which fakeBridge never drives on its own).
	ctxDeadline := time.Now().Add(2 * time.Second)
	for host.currentContext() == nil {
		if time.Now().After(ctxDeadline) {
			t.Fatal("timed out waiting for the first context refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}
	host.onMarketData(domain.Tick{Symbol: btcusd, Price: mark, Timestamp: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for {
		strat.mu.Lock()
		n := len(strat.fills)
		strat.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the strategy to be notified of a fill")
		}
		time.Sleep(5 * time.Millisecond)
	}

	strat.mu.Lock()
	fill := strat.fills[0]
	strat.mu.Unlock()
	if fill.Symbol != btcusd {
		t.Errorf("fill.Symbol = %+v, want %+v", fill.Symbol, btcusd)
	}
	if !fill.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("fill.Quantity = %v, want 1", fill.Quantity)
	}

	cancel()
	if err := <-startErrCh; err == nil {
		t.Error("Start should return a non-nil error once its context is cancelled")
	}
	if err := host.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
	wg.Wait()
}

// sanity-check indicator.ATR is wired the way atrFor expects: increasing
// true range should yield a positive ATR.
func TestIndicatorATRSanity(t *testing.T) {
	t.Parallel()
	candles := candleSeries(20, 100)
	highs := make([]decimal.Decimal, len(candles))
	lows := make([]decimal.Decimal, len(candles))
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}
	atr, ok := indicator.ATR(highs, lows, closes, 14)
	if !ok || !atr.IsPositive() {
		t.Fatalf("ATR(...) = %v, %v, want a positive value", atr, ok)
	}
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/analytics"
	"github.com/zeroquant/zeroquant/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zeroquant.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesEverySchemaTableIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zeroquant.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen of existing database should not fail: %v", err)
	}
	defer s2.Close()

	for _, table := range []string{"candles", "analytics", "trade_fills", "pending_orders", "backtest_runs"} {
		var name string
		if err := s2.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name); err != nil {
			t.Errorf("table %s missing after reopen: %v", table, err)
		}
	}
}

func TestCandleStoreRoundTripsInChronologicalOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := int64(0); i < 3; i++ {
		c := decimal.NewFromInt(100 + i)
		candle := domain.Candle{
			Symbol: sym, TF: domain.TF1m,
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     c, High: c, Low: c, Close: c,
			Volume: decimal.NewFromInt(10),
		}
		if err := s.Candles().SaveCandle(ctx, candle); err != nil {
			t.Fatalf("SaveCandle %d: %v", i, err)
		}
	}

	got, err := s.Candles().LatestCandles(ctx, sym, domain.TF1m, 10)
	if err != nil {
		t.Fatalf("LatestCandles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	for i, c := range got {
		if !c.Close.Equal(decimal.NewFromInt(100 + int64(i))) {
			t.Fatalf("candle %d out of chronological order: close=%s", i, c.Close)
		}
	}
}

func TestCandleStoreLimitReturnsMostRecentWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := int64(0); i < 5; i++ {
		c := decimal.NewFromInt(i)
		candle := domain.Candle{
			Symbol: sym, TF: domain.TF1m,
			OpenTime: start.Add(time.Duration(i) * time.Minute),
			Open:     c, High: c, Low: c, Close: c, Volume: decimal.Zero,
		}
		if err := s.Candles().SaveCandle(ctx, candle); err != nil {
			t.Fatalf("SaveCandle %d: %v", i, err)
		}
	}

	got, err := s.Candles().LatestCandles(ctx, sym, domain.TF1m, 2)
	if err != nil {
		t.Fatalf("LatestCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candles under limit, got %d", len(got))
	}
	// the two most recent closes are 3 and 4, returned oldest-first
	if !got[0].Close.Equal(decimal.NewFromInt(3)) || !got[1].Close.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected the most recent window [3,4], got [%s,%s]", got[0].Close, got[1].Close)
	}
}

func TestCandleStoreSaveCandleUpsertsOnReplay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	openTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := domain.Candle{Symbol: sym, TF: domain.TF1m, OpenTime: openTime,
		Open: decimal.NewFromInt(100), High: decimal.NewFromInt(100), Low: decimal.NewFromInt(100),
		Close: decimal.NewFromInt(100), Volume: decimal.Zero}
	corrected := first
	corrected.Close = decimal.NewFromInt(101)

	if err := s.Candles().SaveCandle(ctx, first); err != nil {
		t.Fatalf("SaveCandle first: %v", err)
	}
	if err := s.Candles().SaveCandle(ctx, corrected); err != nil {
		t.Fatalf("SaveCandle corrected: %v", err)
	}

	got, err := s.Candles().LatestCandles(ctx, sym, domain.TF1m, 10)
	if err != nil {
		t.Fatalf("LatestCandles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected a re-delivered bar to overwrite, not duplicate, got %d rows", len(got))
	}
	if !got[0].Close.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("expected the corrected close to win, got %s", got[0].Close)
	}
}

func TestAnalyticsStoreReturnsLatestRowPerSymbol(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	older := rowFor(sym, start, domain.RouteWait, decimal.NewFromInt(40))
	newer := rowFor(sym, start.Add(time.Hour), domain.RouteAttack, decimal.NewFromInt(80))
	if err := s.Analytics().SaveAnalytics(ctx, older); err != nil {
		t.Fatalf("SaveAnalytics older: %v", err)
	}
	if err := s.Analytics().SaveAnalytics(ctx, newer); err != nil {
		t.Fatalf("SaveAnalytics newer: %v", err)
	}

	got, err := s.Analytics().LatestAnalytics(ctx, []domain.Symbol{sym})
	if err != nil {
		t.Fatalf("LatestAnalytics: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one row for the symbol, got %d", len(got))
	}
	if got[0].RouteState != domain.RouteAttack {
		t.Fatalf("expected the most recent route state ATTACK, got %s", got[0].RouteState)
	}
	if !got[0].GlobalScore.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("expected the most recent global score 80, got %s", got[0].GlobalScore)
	}
}

func TestAnalyticsStoreOmitsSymbolsWithNoRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	known := domain.NewSymbol("BTC", domain.MarketCrypto)
	unknown := domain.NewSymbol("ETH", domain.MarketCrypto)

	if err := s.Analytics().SaveAnalytics(ctx, rowFor(known, time.Now().UTC(), domain.RouteNeutral, decimal.Zero)); err != nil {
		t.Fatalf("SaveAnalytics: %v", err)
	}

	got, err := s.Analytics().LatestAnalytics(ctx, []domain.Symbol{known, unknown})
	if err != nil {
		t.Fatalf("LatestAnalytics: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the known symbol's row, got %d rows", len(got))
	}
}

func TestExchangeStorePendingOrderLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	const credentialID = "cred-1"

	order := domain.PendingOrder{
		OrderID:           "order-1",
		Symbol:            sym,
		PositionKey:       domain.PositionKey{Symbol: sym, PositionID: "pos-1"},
		Side:              domain.SideBuy,
		Type:              domain.OrderLimit,
		Quantity:          decimal.NewFromInt(10),
		RemainingQuantity: decimal.NewFromInt(10),
		Price:             decimal.NewFromInt(100),
		ReservedCash:      decimal.NewFromInt(1000),
		Status:            domain.OrderStatusOpen,
	}
	if err := s.Exchange().RecordPendingOrder(ctx, credentialID, order); err != nil {
		t.Fatalf("RecordPendingOrder: %v", err)
	}

	loaded, err := s.Exchange().LoadPendingOrders(ctx, credentialID)
	if err != nil {
		t.Fatalf("LoadPendingOrders: %v", err)
	}
	if len(loaded) != 1 || loaded[0].OrderID != "order-1" {
		t.Fatalf("expected the recorded order to survive a reload, got %+v", loaded)
	}
	if !loaded[0].ReservedCash.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected reserved cash 1000, got %s", loaded[0].ReservedCash)
	}

	if err := s.Exchange().RemovePendingOrder(ctx, credentialID, "order-1"); err != nil {
		t.Fatalf("RemovePendingOrder: %v", err)
	}
	loaded, err = s.Exchange().LoadPendingOrders(ctx, credentialID)
	if err != nil {
		t.Fatalf("LoadPendingOrders after remove: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no pending orders after removal, got %d", len(loaded))
	}
}

func TestExchangeStoreRecentFillsOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	const credentialID = "cred-1"
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := int64(0); i < 2; i++ {
		trade := domain.TradeResult{
			OrderID: "order", Symbol: sym,
			PositionKey: domain.PositionKey{Symbol: sym, PositionID: "pos-1"},
			Side:        domain.SideBuy,
			Quantity:    decimal.NewFromInt(1),
			FillPrice:   decimal.NewFromInt(100 + i),
			Commission:  decimal.Zero,
			Timestamp:   start.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Exchange().RecordFill(ctx, credentialID, trade); err != nil {
			t.Fatalf("RecordFill %d: %v", i, err)
		}
	}

	fills, err := s.Exchange().RecentFills(ctx, credentialID, 10)
	if err != nil {
		t.Fatalf("RecentFills: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	if !fills[0].FillPrice.Equal(decimal.NewFromInt(101)) {
		t.Fatalf("expected the newest fill first, got fill price %s", fills[0].FillPrice)
	}
}

func rowFor(sym domain.Symbol, asOf time.Time, route domain.RouteState, score decimal.Decimal) analytics.Row {
	return analytics.Row{Symbol: sym, Analytics: domain.Analytics{
		Present: true, GlobalScore: score, RouteState: route, AsOf: asOf,
	}}
}

package enrich

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

type fakeLookup struct {
	byPositionSymbol map[domain.Symbol][]domain.Position
}

func (f fakeLookup) PositionsBySymbol(sym domain.Symbol) []domain.Position {
	return f.byPositionSymbol[sym]
}

func TestAttachFixedPctStopLossAndTakeProfit(t *testing.T) {
	t.Parallel()
	exit := domain.ExitConfig{
		StopLoss:   domain.StopLossRule{Enabled: true, Kind: domain.StopLossFixedPct, Pct: decimal.NewFromInt(5)},
		TakeProfit: domain.TakeProfitRule{Enabled: true, Pct: decimal.NewFromInt(10)},
	}
	e := New(exit)
	sym := domain.NewSymbol("TEST", domain.MarketKR)

	signals := []domain.Signal{{
		Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy,
		Price: decimal.NewFromInt(100), HasPrice: true,
	}}

	out := e.Enrich(signals, fakeLookup{}, decimal.Zero, false)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	sl, ok := out[0].MetaGet(domain.MetaStopLossPrice)
	if !ok {
		t.Fatal("expected stop-loss price in metadata")
	}
	if !sl.(decimal.Decimal).Equal(decimal.NewFromInt(95)) {
		t.Errorf("stop loss = %v, want 95", sl)
	}
	tp, ok := out[0].MetaGet(domain.MetaTakeProfitPrice)
	if !ok {
		t.Fatal("expected take-profit price in metadata")
	}
	if !tp.(decimal.Decimal).Equal(decimal.NewFromInt(110)) {
		t.Errorf("take profit = %v, want 110", tp)
	}
}

func TestExitOnOppositeSignalInjectsSyntheticExit(t *testing.T) {
	t.Parallel()
	exit := domain.ExitConfig{ExitOnOppositeSignal: true}
	e := New(exit)
	sym := domain.NewSymbol("TEST", domain.MarketKR)

	existing := domain.NewPosition(domain.PositionKey{Symbol: sym, PositionID: "p1"}, domain.SideSell, "")
	existing.AddLot(decimal.NewFromInt(10), decimal.NewFromInt(100), time.Now())

	lookup := fakeLookup{byPositionSymbol: map[domain.Symbol][]domain.Position{sym: {*existing}}}

	signals := []domain.Signal{{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy}}
	out := e.Enrich(signals, lookup, decimal.Zero, false)

	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2 (synthetic exit + entry)", len(out))
	}
	if out[0].Kind != domain.SignalExit {
		t.Errorf("first signal kind = %v, want EXIT", out[0].Kind)
	}
	if synthetic, ok := out[0].MetaGet(domain.MetaSyntheticExit); !ok || synthetic != true {
		t.Error("expected synthetic exit flag set")
	}
	if out[1].Kind != domain.SignalEntry {
		t.Errorf("second signal kind = %v, want ENTRY", out[1].Kind)
	}
}

func TestATRStopLossFallsBackToRuleWhenATRMissing(t *testing.T) {
	t.Parallel()
	exit := domain.ExitConfig{
		StopLoss: domain.StopLossRule{Enabled: true, Kind: domain.StopLossATR, ATRMult: decimal.NewFromInt(2)},
	}
	e := New(exit)
	sym := domain.NewSymbol("TEST", domain.MarketKR)
	signals := []domain.Signal{{Ticker: sym, Kind: domain.SignalEntry, Side: domain.SideBuy, Price: decimal.NewFromInt(100), HasPrice: true}}

	out := e.Enrich(signals, fakeLookup{}, decimal.Zero, false)
	if _, ok := out[0].MetaGet(domain.MetaStopLossPrice); ok {
		t.Error("did not expect a resolved stop-loss price without ATR")
	}
	if _, ok := out[0].MetaGet(domain.MetaStopLossRule); !ok {
		t.Error("expected rule params recorded verbatim when ATR is missing")
	}
}

func TestAttachesDailyLossLimitMetadataToAddSignal(t *testing.T) {
	t.Parallel()
	exit := domain.ExitConfig{
		DailyLossLimit: domain.DailyLossLimitRule{Enabled: true, MaxLossPct: decimal.NewFromFloat(0.03)},
	}
	e := New(exit)
	sym := domain.NewSymbol("TEST", domain.MarketKR)

	signals := []domain.Signal{{Ticker: sym, Kind: domain.SignalAddToPosition, Side: domain.SideBuy, Quantity: decimal.NewFromInt(1)}}
	out := e.Enrich(signals, fakeLookup{}, decimal.Zero, false)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	rule, ok := out[0].MetaGet(domain.MetaDailyLossLimit)
	if !ok {
		t.Fatal("expected ADD_TO_POSITION signal to carry MetaDailyLossLimit after enrichment")
	}
	if r, ok := rule.(domain.DailyLossLimitRule); !ok || !r.Enabled {
		t.Errorf("daily loss limit rule = %+v, want enabled", rule)
	}
}

package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

func candleAt(sym domain.Symbol, tf domain.Timeframe, openTime time.Time, close int64) domain.Candle {
	c := decimal.NewFromInt(close)
	return domain.Candle{Symbol: sym, TF: tf, OpenTime: openTime, Open: c, High: c, Low: c, Close: c}
}

func TestResolveTimeframePrefersPrimary(t *testing.T) {
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src := StaticCandleSource{
		sym: {
			domain.TF1m: {candleAt(sym, domain.TF1m, start, 100)},
			domain.TF5m: {candleAt(sym, domain.TF5m, start, 200)},
		},
	}

	resolved, ok := resolveTimeframe(src, sym, domain.TF1m, []domain.Timeframe{domain.TF5m})
	if !ok {
		t.Fatal("expected resolution to succeed")
	}
	if resolved.timeframe != domain.TF1m || resolved.fellBack {
		t.Fatalf("expected primary TF1m with no fallback, got %+v", resolved)
	}
}

func TestResolveTimeframeFallsBackToSecondaryThenCascade(t *testing.T) {
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Strategy declares TF1m primary and TF15m secondary, but only TF15m
	// data exists: resolution should land on TF15m via the secondary list,
	// not fall all the way through to the default cascade.
	src := StaticCandleSource{
		sym: {domain.TF15m: {candleAt(sym, domain.TF15m, start, 100)}},
	}
	resolved, ok := resolveTimeframe(src, sym, domain.TF1m, []domain.Timeframe{domain.TF15m})
	if !ok {
		t.Fatal("expected resolution to succeed via secondary list")
	}
	if resolved.timeframe != domain.TF15m || !resolved.fellBack {
		t.Fatalf("expected fallback to TF15m, got %+v", resolved)
	}
}

func TestResolveTimeframeFallsThroughToDefaultCascade(t *testing.T) {
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Neither the primary (TF1m) nor any declared secondary has data; only
	// TF1h (part of domain.DefaultCascade) does.
	src := StaticCandleSource{
		sym: {domain.TF1h: {candleAt(sym, domain.TF1h, start, 100)}},
	}
	resolved, ok := resolveTimeframe(src, sym, domain.TF1m, []domain.Timeframe{domain.TF3m})
	if !ok {
		t.Fatal("expected resolution to succeed via default cascade")
	}
	if resolved.timeframe != domain.TF1h || !resolved.fellBack {
		t.Fatalf("expected fallback to TF1h, got %+v", resolved)
	}
}

func TestResolveTimeframeFailsWhenNoTimeframeHasData(t *testing.T) {
	sym := domain.NewSymbol("BTC", domain.MarketCrypto)
	src := StaticCandleSource{}
	if _, ok := resolveTimeframe(src, sym, domain.TF1m, nil); ok {
		t.Fatal("expected resolution to fail for a symbol with no candle data at all")
	}
}

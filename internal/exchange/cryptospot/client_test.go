package cryptospot

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/exchange"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAccountInfoDecodesUSDT(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"cash_usdt": "5000", "total_equity_usdt": "5400.25"})
	}))
	defer srv.Close()

	c := New(srv.URL, exchange.Credentials{APIKey: "k", Secret: "c2VjcmV0"}, false, testLogger())
	info, err := c.AccountInfo(context.Background())
	if err != nil {
		t.Fatalf("AccountInfo: %v", err)
	}
	if info.Currency != "USDT" {
		t.Errorf("currency = %q, want USDT", info.Currency)
	}
	if !info.TotalEquity.Equal(decimal.RequireFromString("5400.25")) {
		t.Errorf("total equity = %s, want 5400.25", info.TotalEquity)
	}
}

func TestExchangeConstraintsFetchesPerSymbolFilters(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"lot_step": "0.0001", "min_quantity": "0.0001", "min_notional": "10",
			"tick_size": "0.01", "taker_fee_rate": "0.001",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, exchange.Credentials{APIKey: "k", Secret: "c2VjcmV0"}, false, testLogger())
	constraints, err := c.ExchangeConstraints(context.Background(), domain.NewSymbol("BTC-USDT", domain.MarketCrypto))
	if err != nil {
		t.Fatalf("ExchangeConstraints: %v", err)
	}
	rounded := constraints.RoundToLot(decimal.RequireFromString("1.23456"))
	if !rounded.Equal(decimal.RequireFromString("1.2345")) {
		t.Errorf("RoundToLot(1.23456) = %s, want 1.2345", rounded)
	}
}

func TestSubmitOrderReturnsOrderID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "ord-9"})
	}))
	defer srv.Close()

	c := New(srv.URL, exchange.Credentials{APIKey: "k", Secret: "c2VjcmV0"}, false, testLogger())
	id, err := c.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol:   domain.NewSymbol("BTC-USDT", domain.MarketCrypto),
		Side:     domain.SideBuy,
		Type:     domain.OrderMarket,
		Quantity: decimal.RequireFromString("0.01"),
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if id != "ord-9" {
		t.Errorf("order id = %q, want ord-9", id)
	}
}

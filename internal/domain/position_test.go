package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPositionFIFOLaw(t *testing.T) {
	// FIFO law (spec §8.6): for buys B1..Bn at p1..pn fully sold by a
	// single market sell, realized_pnl == Σ (sell_price - pi) * qi.
	pos := NewPosition(PositionKey{Symbol: NewSymbol("TEST", MarketCrypto), PositionID: "p1"}, SideBuy, "")
	now := time.Now()
	pos.AddLot(d("1"), d("100"), now)
	pos.AddLot(d("1"), d("110"), now)
	pos.AddLot(d("1"), d("90"), now)

	realized, consumed := pos.ConsumeFIFO(d("3"), d("120"))

	want := d("120").Sub(d("100")).Mul(d("1")).
		Add(d("120").Sub(d("110")).Mul(d("1"))).
		Add(d("120").Sub(d("90")).Mul(d("1")))

	if !realized.Equal(want) {
		t.Fatalf("realized pnl = %s, want %s", realized, want)
	}
	if !consumed.Equal(d("3")) {
		t.Fatalf("consumed = %s, want 3", consumed)
	}
	if !pos.IsEmpty() {
		t.Fatalf("position should be empty after full liquidation, got qty=%s lots=%d", pos.Quantity, len(pos.Lots))
	}
}

func TestPositionPartialFIFOConsumption(t *testing.T) {
	pos := NewPosition(PositionKey{Symbol: NewSymbol("TEST", MarketCrypto), PositionID: "p1"}, SideBuy, "")
	now := time.Now()
	pos.AddLot(d("2"), d("100"), now)
	pos.AddLot(d("2"), d("200"), now)

	_, consumed := pos.ConsumeFIFO(d("3"), d("150"))
	if !consumed.Equal(d("3")) {
		t.Fatalf("consumed = %s, want 3", consumed)
	}
	// One full lot of qty 2 @ 100 consumed, then 1 of the 2 @ 200 lot.
	if len(pos.Lots) != 1 {
		t.Fatalf("expected 1 remaining lot, got %d", len(pos.Lots))
	}
	if !pos.Lots[0].Quantity.Equal(d("1")) {
		t.Fatalf("remaining lot qty = %s, want 1", pos.Lots[0].Quantity)
	}
	if !pos.LotQuantitySum().Equal(pos.Quantity) {
		t.Fatalf("lot sum %s != position qty %s", pos.LotQuantitySum(), pos.Quantity)
	}
}

func TestWeightedAverageEntryInvariant(t *testing.T) {
	pos := NewPosition(PositionKey{Symbol: NewSymbol("TEST", MarketCrypto), PositionID: "p1"}, SideBuy, "")
	now := time.Now()
	pos.AddLot(d("1"), d("100"), now)
	pos.AddLot(d("3"), d("120"), now)

	want := d("100").Mul(d("1")).Add(d("120").Mul(d("3"))).Div(d("4"))
	if !pos.WeightedAvgEntry.Equal(want) {
		t.Fatalf("weighted avg entry = %s, want %s", pos.WeightedAvgEntry, want)
	}
}

package mockexchange

import (
	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// depthLevels is the market-specific convention for how many synthetic book
// levels to generate per side.
func depthLevels(market domain.Market) int {
	switch market {
	case domain.MarketKR:
		return 10
	case domain.MarketUS:
		return 5
	case domain.MarketCrypto:
		return 20
	default:
		return 10
	}
}

// geometricDecay is the per-level size decay factor: each level deeper than
// the top of book carries 0.7x the size of the level above it.
const geometricDecay = 0.7

// GenerateOrderBook synthesises a two-sided order book around mid, spaced
// one tick apart, with size decaying geometrically away from the top of
// book. baseVolume is the configured top-of-book size
// (orderbook_base_volume).
func GenerateOrderBook(sym domain.Symbol, mid decimal.Decimal, constraints domain.ExchangeConstraints, baseVolume decimal.Decimal) domain.OrderBook {
	levels := depthLevels(sym.Market)
	tick := constraints.TickSizeFor(mid)
	decay := decimal.NewFromFloat(geometricDecay)

	bids := make([]domain.OrderBookLevel, 0, levels)
	asks := make([]domain.OrderBookLevel, 0, levels)

	size := baseVolume
	bidPrice := mid.Sub(tick.Div(decimal.NewFromInt(2)))
	askPrice := mid.Add(tick.Div(decimal.NewFromInt(2)))

	for i := 0; i < levels; i++ {
		bids = append(bids, domain.OrderBookLevel{Price: constraints.RoundToTick(bidPrice), Size: size})
		asks = append(asks, domain.OrderBookLevel{Price: constraints.RoundToTick(askPrice), Size: size})
		bidPrice = bidPrice.Sub(tick)
		askPrice = askPrice.Add(tick)
		size = size.Mul(decay)
	}

	return domain.OrderBook{Symbol: sym, Bids: bids, Asks: asks}
}

// walkBook consumes levels on one side of the book, oldest (best) first,
// up to qty, returning the volume-weighted average fill price, the
// quantity actually filled, and the levels left unconsumed. With hasLimit
// set, the walk stops at the first level worse than limitPrice; without it
// (market order) the walk is unrestricted.
func walkBook(levels []domain.OrderBookLevel, qty decimal.Decimal, side domain.Side, limitPrice decimal.Decimal, hasLimit bool) (vwap, filled decimal.Decimal, remaining []domain.OrderBookLevel) {
	remaining = make([]domain.OrderBookLevel, 0, len(levels))
	need := qty
	notional := decimal.Zero
	filled = decimal.Zero

	for i, lvl := range levels {
		if need.LessThanOrEqual(decimal.Zero) {
			remaining = append(remaining, levels[i:]...)
			break
		}
		if hasLimit && worseThanLimit(lvl.Price, limitPrice, side) {
			remaining = append(remaining, levels[i:]...)
			break
		}

		take := decimal.Min(lvl.Size, need)
		notional = notional.Add(lvl.Price.Mul(take))
		filled = filled.Add(take)
		need = need.Sub(take)

		leftover := lvl.Size.Sub(take)
		if leftover.IsPositive() {
			remaining = append(remaining, domain.OrderBookLevel{Price: lvl.Price, Size: leftover})
		}
	}

	if filled.IsPositive() {
		vwap = notional.Div(filled)
	}
	return vwap, filled, remaining
}

// worseThanLimit reports whether a book level's price is worse than a
// buyer's or seller's limit: a buyer walking asks wants price ≤ limit, a
// seller walking bids wants price ≥ limit.
func worseThanLimit(levelPrice, limitPrice decimal.Decimal, side domain.Side) bool {
	if side == domain.SideBuy {
		return levelPrice.GreaterThan(limitPrice)
	}
	return levelPrice.LessThan(limitPrice)
}

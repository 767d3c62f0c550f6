package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is one historical acquisition entry used for FIFO realised-P&L
// computation. Lots are consumed oldest-first on a reducing fill.
type Lot struct {
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	AcquiredAt time.Time
}

// PositionKey uniquely identifies a currently held lot set.
type PositionKey struct {
	Symbol     Symbol
	PositionID string
}

// Position is a currently held lot set keyed by PositionKey. Quantity and
// WeightedAvgEntry are derived from Lots and kept in sync by Processor
// accounting; Lots is the source of truth for FIFO consumption.
type Position struct {
	Key              PositionKey
	GroupID          string
	Side             Side
	Quantity         decimal.Decimal
	WeightedAvgEntry decimal.Decimal
	RealizedPnL      decimal.Decimal
	Lots             []Lot
	Metadata         map[string]any // carries trailing-stop high-water mark, profit-lock armed state, etc.
}

func NewPosition(key PositionKey, side Side, groupID string) *Position {
	return &Position{
		Key:      key,
		GroupID:  groupID,
		Side:     side,
		Lots:     make([]Lot, 0, 4),
		Metadata: make(map[string]any),
	}
}

// AddLot appends a new acquisition and recomputes the weighted-average
// entry price. Invariant maintained: WeightedAvgEntry == Σ(qty×price)/qty.
func (p *Position) AddLot(qty, price decimal.Decimal, at time.Time) {
	totalCost := p.WeightedAvgEntry.Mul(p.Quantity).Add(price.Mul(qty))
	p.Lots = append(p.Lots, Lot{Quantity: qty, Price: price, AcquiredAt: at})
	p.Quantity = p.Quantity.Add(qty)
	if p.Quantity.IsPositive() {
		p.WeightedAvgEntry = totalCost.Div(p.Quantity)
	}
}

// ConsumeFIFO reduces the lot queue by qty oldest-first, returning the
// realised P&L at fillPrice (before fees) and the quantity actually
// consumed (may be less than qty if the position holds fewer shares).
func (p *Position) ConsumeFIFO(qty, fillPrice decimal.Decimal) (realizedPnL, consumed decimal.Decimal) {
	remaining := qty
	realizedPnL = decimal.Zero
	consumed = decimal.Zero

	newLots := p.Lots[:0:0]
	for _, lot := range p.Lots {
		if remaining.LessThanOrEqual(decimal.Zero) {
			newLots = append(newLots, lot)
			continue
		}
		take := decimal.Min(lot.Quantity, remaining)
		realizedPnL = realizedPnL.Add(fillPrice.Sub(lot.Price).Mul(take))
		consumed = consumed.Add(take)
		remaining = remaining.Sub(take)

		leftover := lot.Quantity.Sub(take)
		if leftover.IsPositive() {
			newLots = append(newLots, Lot{Quantity: leftover, Price: lot.Price, AcquiredAt: lot.AcquiredAt})
		}
	}
	p.Lots = newLots
	p.Quantity = p.Quantity.Sub(consumed)
	p.RealizedPnL = p.RealizedPnL.Add(realizedPnL)

	if p.Quantity.LessThanOrEqual(decimal.Zero) {
		p.Quantity = decimal.Zero
		p.WeightedAvgEntry = decimal.Zero
	}
	return realizedPnL, consumed
}

// LotQuantitySum returns Σ lot.qty, used by the invariant checker to assert
// it equals p.Quantity.
func (p *Position) LotQuantitySum() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range p.Lots {
		sum = sum.Add(l.Quantity)
	}
	return sum
}

func (p *Position) IsEmpty() bool {
	return p.Quantity.LessThanOrEqual(decimal.Zero) && len(p.Lots) == 0
}

// UnrealizedPnL marks the position to the given price.
func (p *Position) UnrealizedPnL(markPrice decimal.Decimal) decimal.Decimal {
	if p.Side == SideSell {
		return p.WeightedAvgEntry.Sub(markPrice).Mul(p.Quantity)
	}
	return markPrice.Sub(p.WeightedAvgEntry).Mul(p.Quantity)
}

// PositionInfo is the read-only view of a position as reported by an
// exchange provider's positions() call (account-side, not processor-side).
type PositionInfo struct {
	Symbol           Symbol
	Side             Side
	Quantity         decimal.Decimal
	WeightedAvgEntry decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedPnL    decimal.Decimal
}

package maker

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// Position is one instrument's net inventory as the maker strategy sees
// it, independent of the processor's own position bookkeeping — the
// strategy keeps its own running ledger fed by OnOrderFilled so the
// Avellaneda-Stoikov reservation price can react to a fill the same tick
// it lands, without waiting on the next context refresh.
type Position struct {
	Quantity      decimal.Decimal `msgpack:"quantity"` // signed: positive long, negative short
	AvgEntry      decimal.Decimal `msgpack:"avg_entry"`
	RealizedPnL   decimal.Decimal `msgpack:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `msgpack:"-"`
	LastUpdated   time.Time       `msgpack:"last_updated"`
}

// Fill is one execution the strategy has been told about via
// OnOrderFilled, narrowed to the fields Inventory/FlowTracker need.
type Fill struct {
	Timestamp time.Time
	Side      domain.Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
}

// Inventory tracks signed net position and realized P&L for one
// instrument, and derives the inventory skew ("q") the Avellaneda-Stoikov
// reservation price is adjusted by. Thread-safe: the runtime host never
// calls a Strategy's handlers concurrently for the same instance, but
// OnMarketData and OnOrderFilled can race across goroutines in the live
// daemon's account-report path, so state here is still guarded.
type Inventory struct {
	mu  sync.RWMutex
	pos Position
}

func NewInventory() *Inventory {
	return &Inventory{}
}

// OnFill applies a fill. A fill on the same side as the current position
// extends it and re-averages entry price; a fill on the opposite side
// reduces it and realizes P&L on the reduced quantity, same FIFO-free
// weighted-average approach the teacher's Inventory used per leg.
func (inv *Inventory) OnFill(fill Fill) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	signed := fill.Quantity
	if fill.Side == domain.SideSell {
		signed = signed.Neg()
	}

	switch {
	case inv.pos.Quantity.IsZero() || sameSign(inv.pos.Quantity, signed):
		totalCost := inv.pos.AvgEntry.Mul(inv.pos.Quantity).Add(fill.Price.Mul(signed))
		inv.pos.Quantity = inv.pos.Quantity.Add(signed)
		if !inv.pos.Quantity.IsZero() {
			inv.pos.AvgEntry = totalCost.Div(inv.pos.Quantity)
		}
	default:
		closing := decimal.Min(fill.Quantity, inv.pos.Quantity.Abs())
		direction := decimal.NewFromInt(1)
		if inv.pos.Quantity.IsNegative() {
			direction = decimal.NewFromInt(-1)
		}
		inv.pos.RealizedPnL = inv.pos.RealizedPnL.Add(fill.Price.Sub(inv.pos.AvgEntry).Mul(closing).Mul(direction))
		inv.pos.Quantity = inv.pos.Quantity.Add(signed)
		if inv.pos.Quantity.IsZero() {
			inv.pos.AvgEntry = decimal.Zero
		} else if sameSign(inv.pos.Quantity, signed) {
			// the fill flipped the position through flat; the remainder opens
			// a fresh position at the fill price.
			inv.pos.AvgEntry = fill.Price
		}
	}

	inv.pos.LastUpdated = fill.Timestamp
}

func sameSign(a, b decimal.Decimal) bool {
	return (a.IsPositive() && b.IsPositive()) || (a.IsNegative() && b.IsNegative())
}

// Snapshot returns a copy of the current position.
func (inv *Inventory) Snapshot() Position {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.pos
}

// NetDelta normalizes the current signed position against maxInventory,
// giving the "q" term in the Avellaneda-Stoikov reservation price: +1 at
// the long cap, -1 at the short cap, 0 when flat.
func (inv *Inventory) NetDelta(maxInventory decimal.Decimal) float64 {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	if maxInventory.IsZero() {
		return 0
	}
	q := inv.pos.Quantity.Div(maxInventory).InexactFloat64()
	if q > 1 {
		q = 1
	}
	if q < -1 {
		q = -1
	}
	return q
}

// UpdateMarkToMarket recomputes unrealized P&L against the current mid.
func (inv *Inventory) UpdateMarkToMarket(mid decimal.Decimal) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.pos.UnrealizedPnL = mid.Sub(inv.pos.AvgEntry).Mul(inv.pos.Quantity)
}

// Restore replaces the tracked position, used when SaveState/LoadState
// restores a persisted instance across a restart.
func (inv *Inventory) Restore(pos Position) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.pos = pos
}

package domain

import "github.com/shopspring/decimal"

type OrderType string

const (
	OrderMarket     OrderType = "MARKET"
	OrderLimit      OrderType = "LIMIT"
	OrderStop       OrderType = "STOP"
	OrderStopLimit  OrderType = "STOP_LIMIT"
)

type OrderStatusKind string

const (
	OrderStatusOpen      OrderStatusKind = "OPEN"
	OrderStatusFilled    OrderStatusKind = "FILLED"
	OrderStatusPartial   OrderStatusKind = "PARTIALLY_FILLED"
	OrderStatusCancelled OrderStatusKind = "CANCELLED"
)

// PendingOrder is an unfilled limit or stop order, tracked by the mock
// exchange (and paper/backtest, which are built on it). Invariant: the sum
// of ReservedCash across pending buys plus the processor's free balance
// equals total available cash.
type PendingOrder struct {
	OrderID           string
	Symbol            Symbol
	PositionKey       PositionKey
	GroupID           string
	Side              Side
	Type              OrderType
	Quantity          decimal.Decimal
	RemainingQuantity decimal.Decimal
	Price             decimal.Decimal
	StopPrice         decimal.Decimal
	ReservedCash      decimal.Decimal
	Status            OrderStatusKind
	OriginSignal       Signal
}

type OrderRequest struct {
	Symbol      Symbol
	PositionKey PositionKey
	GroupID     string
	Side        Side
	Type        OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	StopPrice   decimal.Decimal
}

type OrderStatus struct {
	OrderID          string
	Status           OrderStatusKind
	FilledQuantity   decimal.Decimal
	RemainingQuantity decimal.Decimal
	AvgFillPrice     decimal.Decimal
}

// AccountInfo is the exchange-provider view of account() (§4.2).
type AccountInfo struct {
	Cash        decimal.Decimal
	TotalEquity decimal.Decimal
	Currency    string
	AccountType string
}

// ExchangeConstraints carries the per-exchange rounding and fee schedule
// the processor must honour before every submission.
type ExchangeConstraints struct {
	LotSize          decimal.Decimal
	MinQuantity      decimal.Decimal
	MinNotional      decimal.Decimal
	TickSizeBands    []TickSizeBand
	CommissionRate   decimal.Decimal // fraction of notional
}

type TickSizeBand struct {
	UpTo     decimal.Decimal // price band upper bound; last band has a zero UpTo meaning "no upper bound"
	NoUpper  bool
	TickSize decimal.Decimal
}

// TickSizeFor returns the applicable tick size for a price, walking bands
// in order and falling back to the last (no-upper-bound) band.
func (c ExchangeConstraints) TickSizeFor(price decimal.Decimal) decimal.Decimal {
	for _, b := range c.TickSizeBands {
		if b.NoUpper || price.LessThanOrEqual(b.UpTo) {
			return b.TickSize
		}
	}
	if len(c.TickSizeBands) > 0 {
		return c.TickSizeBands[len(c.TickSizeBands)-1].TickSize
	}
	return decimal.NewFromFloat(0.01)
}

// RoundToLot rounds qty down to the nearest multiple of LotSize.
func (c ExchangeConstraints) RoundToLot(qty decimal.Decimal) decimal.Decimal {
	if c.LotSize.IsZero() {
		return qty
	}
	units := qty.Div(c.LotSize).Floor()
	return units.Mul(c.LotSize)
}

// RoundToTick rounds price to the nearest tick size for its own band.
func (c ExchangeConstraints) RoundToTick(price decimal.Decimal) decimal.Decimal {
	tick := c.TickSizeFor(price)
	if tick.IsZero() {
		return price
	}
	units := price.Div(tick).Round(0)
	return units.Mul(tick)
}

// Quote is a top-of-book snapshot.
type Quote struct {
	Symbol    Symbol
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
}

type OrderBookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

type OrderBook struct {
	Symbol Symbol
	Bids   []OrderBookLevel // best first
	Asks   []OrderBookLevel // best first
}

func (ob OrderBook) MidPrice() decimal.Decimal {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return decimal.Zero
	}
	return ob.Bids[0].Price.Add(ob.Asks[0].Price).Div(decimal.NewFromInt(2))
}

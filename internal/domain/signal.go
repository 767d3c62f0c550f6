package domain

import "github.com/shopspring/decimal"

// SignalKind enumerates what a strategy is asking the signal processor to
// do. Only a signal processor can turn a Signal into an order.
type SignalKind string

const (
	SignalEntry           SignalKind = "ENTRY"
	SignalExit            SignalKind = "EXIT"
	SignalAddToPosition    SignalKind = "ADD_TO_POSITION"
	SignalReducePosition   SignalKind = "REDUCE_POSITION"
	SignalAlert            SignalKind = "ALERT"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signal is emitted by a strategy from on_market_data. It carries either an
// absolute Quantity or a QuantityFraction (resolved by the processor's
// sizing rules), and an optional limit Price (absent means market order).
// Metadata carries enrichment-produced SL/TP/trailing rules plus any
// strategy-specific extensions; backward-compatible extensions always go
// into Metadata, never new top-level fields, per the persisted wire shape.
type Signal struct {
	Ticker           Symbol
	PositionID       string
	GroupID          string
	Kind             SignalKind
	Side             Side
	Quantity         decimal.Decimal
	QuantityFraction decimal.Decimal
	Price            decimal.Decimal
	HasPrice         bool
	Strength         decimal.Decimal
	Reason           string
	Metadata         map[string]any
}

func (s Signal) HasQuantityFraction() bool {
	return s.QuantityFraction.IsPositive()
}

// MetaGet/MetaSet are convenience helpers over the Metadata map, which is
// lazily allocated to avoid forcing every strategy to initialise it.
func (s *Signal) MetaSet(key string, value any) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	s.Metadata[key] = value
}

func (s Signal) MetaGet(key string) (any, bool) {
	if s.Metadata == nil {
		return nil, false
	}
	v, ok := s.Metadata[key]
	return v, ok
}

// Well-known metadata keys populated by the enrichment layer and consumed
// by the signal processor's trailing-stop/profit-lock re-evaluation.
const (
	MetaStopLossPrice        = "stop_loss_price"
	MetaTakeProfitPrice      = "take_profit_price"
	MetaStopLossRule         = "stop_loss_rule" // verbatim rule params when unresolved (e.g. ATR missing)
	MetaTrailingStop         = "trailing_stop"
	MetaProfitLock           = "profit_lock"
	MetaDailyLossLimit       = "daily_loss_limit"
	MetaSyntheticExit        = "synthetic_exit" // true on EXIT signals injected by enrichment/processor
	MetaHighWaterMark        = "high_water_mark"
	MetaProfitLockArmed      = "profit_lock_armed"
)

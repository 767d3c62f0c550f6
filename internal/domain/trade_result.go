package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeResult records one executed fill. RealizedPnL is non-null (tracked
// via HasRealizedPnL) only when the fill reduced a position.
type TradeResult struct {
	OrderID         string // set when this fill resolves a previously pending order; empty for an immediate fill
	Symbol          Symbol
	PositionKey     PositionKey
	GroupID         string
	Side            Side
	Quantity        decimal.Decimal
	FillPrice       decimal.Decimal
	Commission      decimal.Decimal
	SlippageApplied decimal.Decimal
	RealizedPnL     decimal.Decimal
	HasRealizedPnL  bool
	Partial         bool
	SignalKind      SignalKind
	RouteStateAtFill RouteState
	Timestamp       time.Time
}

// SignalLogEntry records every emitted signal with its dispatch outcome,
// for the backtest/paper signal log. Trade is set only when Outcome is
// OutcomeFilled, letting a caller (internal/runtime's live host) forward
// the actual fill to Strategy.OnOrderFilled without a second lookup.
type SignalLogEntry struct {
	Signal    Signal
	Outcome   DispatchOutcome
	Detail    string
	Trade     *TradeResult
	Timestamp time.Time
}

type DispatchOutcome string

const (
	OutcomeFilled          DispatchOutcome = "FILLED"
	OutcomeRejectedOverheat DispatchOutcome = "REJECTED_ROUTE_OVERHEAT"
	OutcomeRejectedDailyLoss DispatchOutcome = "REJECTED_DAILY_LOSS_LIMIT"
	OutcomeRejectedFunds    DispatchOutcome = "REJECTED_INSUFFICIENT_FUNDS"
	OutcomeRejectedMinimum  DispatchOutcome = "REJECTED_BELOW_MINIMUM"
	OutcomeFailedProvider   DispatchOutcome = "FAILED_PROVIDER"
	OutcomePending          DispatchOutcome = "PENDING"
)

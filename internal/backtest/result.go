package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// EquityPoint is one mark-to-market sample of the equity curve, taken once
// per primary-timeframe close across the whole universe.
type EquityPoint struct {
	Time   time.Time
	Equity decimal.Decimal
}

// Result is everything spec §4.7 names as backtest output, plus the
// fallback record it requires ("fallback is recorded in the run
// metadata").
type Result struct {
	EquityCurve []EquityPoint
	TradeLog    []domain.TradeResult
	SignalLog   []domain.SignalLogEntry
	Summary     Summary

	// Fallbacks maps a symbol to the timeframe actually used when its
	// strategy-declared primary timeframe had no data.
	Fallbacks map[domain.Symbol]domain.Timeframe

	StartTime time.Time
	EndTime   time.Time
}

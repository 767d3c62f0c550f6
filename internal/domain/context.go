package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StructuralFeatures carries the per-symbol trend/volatility descriptors
// that feed enrichment and several strategies' entry logic.
type StructuralFeatures struct {
	Trend          string
	Volatility     decimal.Decimal
	TTMSqueeze     bool
	TTMSqueezeBars int
	ATR            decimal.Decimal
}

// Analytics is the per-symbol read-mostly row produced by the out-of-scope
// collector. Any field may be the zero value if the collector has not
// produced a row yet; the core must never panic on a missing analytics
// row — callers branch on Present.
type Analytics struct {
	Present     bool
	GlobalScore decimal.Decimal // 0-100, seven-factor composite
	RouteState  RouteState
	Regime      Regime
	Structural  StructuralFeatures
	AsOf        time.Time
}

// MarketBreadth and MacroEnvironment are coarse, process-wide (not
// per-symbol) snapshots folded into every StrategyContext.
type MarketBreadth struct {
	AdvanceDeclineRatio decimal.Decimal
	NewHighsNewLows     decimal.Decimal
}

type MacroEnvironment struct {
	RiskOnOff string
	FxRate    decimal.Decimal
}

// AccountState is the account-side half of a StrategyContext: cash,
// positions, pending orders and exchange constraints as of the last
// account refresh (cadence 1-5s per spec).
type AccountState struct {
	Cash          decimal.Decimal
	TotalEquity   decimal.Decimal
	Currency      string
	Positions     []PositionInfo
	PendingOrders []PendingOrder
	Constraints   ExchangeConstraints
	AsOf          time.Time
}

// StrategyContext is the read-only snapshot handed to a strategy on each
// invocation. It is conceptually immutable for the duration of one
// invocation: refreshes publish an entirely new *StrategyContext by
// pointer swap, never mutate fields of one in flight. Concurrent
// strategies may share the same underlying value.
type StrategyContext struct {
	Account    AccountState
	Analytics  map[Symbol]Analytics
	Breadth    MarketBreadth
	Macro      MacroEnvironment
	MarketData map[Symbol]*MarketData
	GeneratedAt time.Time
}

// AnalyticsFor returns the analytics row for a symbol, or the zero value
// with Present=false if the collector has not produced one. Never panics.
func (c *StrategyContext) AnalyticsFor(sym Symbol) Analytics {
	if c == nil || c.Analytics == nil {
		return Analytics{}
	}
	a, ok := c.Analytics[sym]
	if !ok {
		return Analytics{}
	}
	return a
}

func (c *StrategyContext) MarketDataFor(sym Symbol) (*MarketData, bool) {
	if c == nil || c.MarketData == nil {
		return nil, false
	}
	md, ok := c.MarketData[sym]
	return md, ok
}

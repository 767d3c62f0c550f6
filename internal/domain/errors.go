// Package domain defines the entities, value types, and error taxonomy
// shared by every other package in the trading core. Nothing in this
// package talks to a network, a clock, or a database; it is pure data plus
// invariants.
package domain

import "errors"

// Sentinel errors forming the error taxonomy of the trading core. Callers
// use errors.Is against these to branch on policy; wrapping with fmt.Errorf
// and %w is expected at every layer that adds context.
var (
	// ErrConfigInvalid: strategy initialise or backtest load rejected the
	// supplied configuration. Fatal to the run.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrContextStale: the analytics cache could not satisfy the staleness
	// bound for a required row. Per-tick skip, not fatal.
	ErrContextStale = errors.New("context stale")

	// ErrRouteOverheat: dispatch gate rejected an ENTRY/ADD_TO_POSITION
	// signal because route_state for the symbol is OVERHEAT.
	ErrRouteOverheat = errors.New("route overheat")

	// ErrDailyLossLimitHit: dispatch gate rejected an ENTRY/ADD_TO_POSITION
	// signal because daily realised P&L breached the configured limit.
	ErrDailyLossLimitHit = errors.New("daily loss limit hit")

	// ErrInsufficientFunds: the processor could not fund the resolved
	// quantity even after fractional-sizing fallback.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBelowMinimum: the resolved quantity, after lot-size rounding, fell
	// below the exchange's minimum quantity or notional.
	ErrBelowMinimum = errors.New("below minimum")

	// ErrPartialFill: the matching engine could not fill the full
	// quantity; recorded on the TradeResult, not treated as failure.
	ErrPartialFill = errors.New("partial fill")

	// ErrProviderRetriable: the exchange provider hit a transient failure
	// (network, rate limit, timeout) and should be retried with backoff.
	ErrProviderRetriable = errors.New("provider retriable error")

	// ErrProviderFatal: the exchange provider failed in a way that cannot
	// be retried; the signal is failed and position state is untouched.
	ErrProviderFatal = errors.New("provider fatal error")

	// ErrStreamLagged: a broadcast consumer fell behind and was dropped;
	// it must re-subscribe.
	ErrStreamLagged = errors.New("stream consumer lagged")

	// ErrCircuitBreakerOpen: the provider wrapper's circuit breaker is
	// open; submissions are rejected for the cool-down window.
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrInvalidOrder: the exchange rejected the order shape itself
	// (unsupported type, bad tick/lot alignment it refuses to coerce).
	ErrInvalidOrder = errors.New("invalid order")

	// ErrMarketClosed: the target market is not currently accepting orders.
	ErrMarketClosed = errors.New("market closed")

	// ErrUnauthorized: credentials were rejected by the exchange.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknown: catch-all for exchange failures that do not map to a
	// more specific kind.
	ErrUnknown = errors.New("unknown exchange error")

	// ErrPositionNotFound: a lookup by position_key found no open position.
	ErrPositionNotFound = errors.New("position not found")

	// ErrOrderNotFound: a lookup by order_id found no pending order.
	ErrOrderNotFound = errors.New("order not found")

	// ErrSymbolUnknown: a symbol has no entry in the symbol registry.
	ErrSymbolUnknown = errors.New("symbol unknown")
)

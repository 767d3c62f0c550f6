package processor

import (
	"log/slog"

	"github.com/shopspring/decimal"
)

// NewSimulated constructs a Processor whose Executor matches synchronously
// against a simulated matching engine (internal/mockexchange.Exchange)
// instead of a real provider. Kept as a thin, separate constructor from
// NewLive so call sites read their intent (paper trading / backtest vs.
// live trading) rather than all funnelling through the unexported
// newProcessor with easily-transposed arguments.
func NewSimulated(exec Executor, constraints ConstraintsLookup, routes RouteStateLookup, sizing SizingRule, startingBalance decimal.Decimal, logger *slog.Logger) *Processor {
	return newProcessor(exec, constraints, routes, sizing, startingBalance, logger)
}

package backtest

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/mockexchange"
	"github.com/zeroquant/zeroquant/internal/processor"
	"github.com/zeroquant/zeroquant/internal/strategy"
)

// Config configures one backtest run. Strategy must already be constructed
// and Initialise'd by the caller (cmd/zeroquant's `backtest` subcommand
// unmarshals the TOML config's strategy block and calls Initialise before
// handing the instance here), mirroring how internal/runtime hosts an
// already-initialised strategy for live trading.
type Config struct {
	Universe        []domain.Symbol
	Strategy        strategy.Strategy
	Candles         CandleSource
	Constraints     processor.ConstraintsLookup
	StartingBalance decimal.Decimal

	// CredentialID tags the simulated exchange instance and any persisted
	// fills/pending orders, the same role a real credential id plays for
	// the live exchange.
	CredentialID string
	Slippage     mockexchange.SlippageModel
	BaseVolume   decimal.Decimal
	Persistence  mockexchange.Persistence

	Routes processor.RouteStateLookup // nil disables the OVERHEAT gate, matching Dispatch's own nil handling
	Sizing processor.SizingRule       // defaults to FixedFractionSizing{} if nil

	// ATRPeriod is the lookback the engine computes ATR over (for
	// ATR-based stop-loss/trailing-stop rules and VolatilityBasedSlippage)
	// from each symbol's primary-timeframe window. Defaults to 14.
	ATRPeriod int

	Logger *slog.Logger
}

func (c Config) sizing() processor.SizingRule {
	if c.Sizing != nil {
		return c.Sizing
	}
	return processor.FixedFractionSizing{}
}

func (c Config) atrPeriod() int {
	if c.ATRPeriod > 0 {
		return c.ATRPeriod
	}
	return 14
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

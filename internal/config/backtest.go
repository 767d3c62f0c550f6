package config

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// BacktestConfig is the TOML-loaded description of one backtest run. It
// carries only scalar/declarative data; cmd/zeroquant's `backtest`
// subcommand resolves Strategy.Name through its strategy registry,
// CandleDir through a concrete backtest.CandleSource loader, and builds
// the runnable backtest.Config from this plus those resolved pieces —
// mirroring how backtest.Config itself documents that its Strategy field
// must already be constructed and Initialise'd by the caller.
type BacktestConfig struct {
	Universe        []string                `mapstructure:"universe"`
	Strategy        StrategyConfig          `mapstructure:"strategy"`
	StartingBalance decimal.Decimal         `mapstructure:"starting_balance"`
	CredentialID    string                  `mapstructure:"credential_id"`
	CandleDir       string                  `mapstructure:"candle_dir"`
	BaseVolume      decimal.Decimal         `mapstructure:"base_volume"`
	SlippageFraction decimal.Decimal        `mapstructure:"slippage_fraction"`
	ATRPeriod       int                     `mapstructure:"atr_period"`
	Constraints     map[string]ConstraintsConfig `mapstructure:"constraints"`
}

// ConstraintsConfig is the TOML shape of domain.ExchangeConstraints, keyed
// by "TICKER:MARKET" in BacktestConfig.Constraints.
type ConstraintsConfig struct {
	LotSize        decimal.Decimal `mapstructure:"lot_size"`
	MinQuantity    decimal.Decimal `mapstructure:"min_quantity"`
	MinNotional    decimal.Decimal `mapstructure:"min_notional"`
	TickSize       decimal.Decimal `mapstructure:"tick_size"`
	CommissionRate decimal.Decimal `mapstructure:"commission_rate"`
}

func (c ConstraintsConfig) toDomain() domain.ExchangeConstraints {
	return domain.ExchangeConstraints{
		LotSize:        c.LotSize,
		MinQuantity:    c.MinQuantity,
		MinNotional:    c.MinNotional,
		CommissionRate: c.CommissionRate,
		TickSizeBands:  []domain.TickSizeBand{{NoUpper: true, TickSize: c.TickSize}},
	}
}

// Symbols parses Universe the same way Config.Symbols does.
func (b *BacktestConfig) Symbols() ([]domain.Symbol, error) {
	out := make([]domain.Symbol, 0, len(b.Universe))
	for _, entry := range b.Universe {
		sym, err := parseSymbol(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// StaticConstraints satisfies both processor.ConstraintsLookup and
// mockexchange.ConstraintsLookup — the two interfaces are structurally
// identical (single ExchangeConstraints(ctx, sym) method), so one map type
// serves both call sites a backtest run needs.
type StaticConstraints map[domain.Symbol]domain.ExchangeConstraints

func (s StaticConstraints) ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error) {
	c, ok := s[sym]
	if !ok {
		return domain.ExchangeConstraints{}, fmt.Errorf("%w: no exchange constraints configured for %s", domain.ErrConfigInvalid, sym)
	}
	return c, nil
}

// Constraints resolves BacktestConfig.Constraints into a StaticConstraints
// lookup keyed by parsed domain.Symbol.
func (b *BacktestConfig) Constraints() (StaticConstraints, error) {
	out := make(StaticConstraints, len(b.Constraints))
	for entry, cc := range b.Constraints {
		sym, err := parseSymbol(entry)
		if err != nil {
			return nil, err
		}
		out[sym] = cc.toDomain()
	}
	return out, nil
}

// LoadBacktestConfig reads a backtest run's configuration from a TOML file.
func LoadBacktestConfig(path string) (*BacktestConfig, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read backtest config: %w", err)
	}

	var cfg BacktestConfig
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal backtest config: %w", err)
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	return &cfg, nil
}

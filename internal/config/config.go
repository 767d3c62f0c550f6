// Package config loads the daemon (live/paper trading) configuration from
// a YAML file, and the backtest configuration from TOML, both through
// viper — generalized from the teacher's own Load/Validate, which did the
// same for a single Polymarket-specific YAML file. Sensitive fields are
// overridable via ZQ_* environment variables (renamed from the teacher's
// POLY_* prefix).
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/risk"
)

// Config is the top-level daemon configuration. Maps directly onto the YAML
// file structure; one strategy instance, one exchange credential, traded
// across Universe.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Universe  []string        `mapstructure:"universe"` // "TICKER:MARKET" pairs, e.g. "BTC:CRYPTO"
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      risk.Config     `mapstructure:"risk"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// ExchangeConfig names which concrete internal/exchange.Provider to build
// and the credentials it authenticates with. Provider selects between the
// krbroker and cryptospot dialects. Validate also accepts "mock" without
// credentials, but the run subcommand builds no provider for "mock" and
// rejects it. The API-key/HMAC-secret shape covers both real providers,
// per internal/exchange/auth.go's Credentials.
type ExchangeConfig struct {
	Provider     string `mapstructure:"provider"`
	CredentialID string `mapstructure:"credential_id"`
	BaseURL      string `mapstructure:"base_url"`
	WSURL        string `mapstructure:"ws_url"`
	APIKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// StrategyConfig names a strategy registered in cmd/zeroquant's registry
// and carries its strategy-specific parameter block, which the runtime
// host passes verbatim to strategy.Strategy.Initialise.
type StrategyConfig struct {
	Name    string         `mapstructure:"name"`
	Params  map[string]any `mapstructure:"params"`
}

// StoreConfig points at the SQLite database file internal/store opens.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server, unchanged in shape
// from the teacher's own DashboardConfig.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Symbols parses Universe's "TICKER:MARKET" pairs into domain.Symbol
// values, defaulting a bare ticker with no colon to domain.MarketGlobal.
func (c *Config) Symbols() ([]domain.Symbol, error) {
	out := make([]domain.Symbol, 0, len(c.Universe))
	for _, entry := range c.Universe {
		sym, err := parseSymbol(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

func parseSymbol(entry string) (domain.Symbol, error) {
	parts := strings.SplitN(entry, ":", 2)
	if len(parts) == 1 {
		return domain.NewSymbol(parts[0], domain.MarketGlobal), nil
	}
	ticker, market := parts[0], parts[1]
	if ticker == "" || market == "" {
		return domain.Symbol{}, fmt.Errorf("%w: universe entry %q must be TICKER:MARKET", domain.ErrConfigInvalid, entry)
	}
	return domain.NewSymbol(ticker, domain.Market(market)), nil
}

// decodeHook lets viper populate decimal.Decimal fields (risk.Config's
// limits) and time.Duration fields straight from their YAML string forms.
func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
	))
}

// newViper builds a viper instance pointed at path with ZQ_* env overrides
// wired in; the config format (YAML for the daemon, TOML for backtests) is
// inferred from the file extension.
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ZQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the daemon config from a YAML file with env var overrides.
// Sensitive fields use env vars: ZQ_API_KEY, ZQ_API_SECRET, ZQ_PASSPHRASE,
// ZQ_DRY_RUN.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ZQ_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("ZQ_API_SECRET"); secret != "" {
		cfg.Exchange.Secret = secret
	}
	if pass := os.Getenv("ZQ_PASSPHRASE"); pass != "" {
		cfg.Exchange.Passphrase = pass
	}
	if dryRun := os.Getenv("ZQ_DRY_RUN"); dryRun == "true" || dryRun == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.Provider == "" {
		return fmt.Errorf("exchange.provider is required")
	}
	if c.Exchange.Provider != "mock" && !c.DryRun {
		if c.Exchange.APIKey == "" || c.Exchange.Secret == "" {
			return fmt.Errorf("exchange.api_key and exchange.secret are required unless dry_run is set (or set ZQ_API_KEY/ZQ_API_SECRET)")
		}
	}
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe must name at least one symbol")
	}
	if c.Strategy.Name == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if c.Risk.MaxPositionPerSymbol.IsZero() {
		return fmt.Errorf("risk.max_position_per_symbol must be > 0")
	}
	if c.Risk.MaxGlobalExposure.IsZero() {
		return fmt.Errorf("risk.max_global_exposure must be > 0")
	}
	if c.Risk.MaxMarketsActive <= 0 {
		return fmt.Errorf("risk.max_markets_active must be > 0")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}

// Package strategy defines the Strategy capability trait (spec §4.4) and
// the process-wide registry strategies are constructed from. Grounded on
// the argo-trading corpus's runtime.StrategyRuntime shape (Initialize,
// ProcessData, Name) rather than the teacher, which hardcodes a single
// Avellaneda-Stoikov maker instead of a polymorphic strategy set; the
// teacher's NewMaker constructor-and-config-struct pattern is kept for how
// a concrete strategy is built from typed config.
package strategy

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// Strategy is polymorphic over the capability set defined by spec §4.4.
// Event handling is single-threaded per instance: the runtime host never
// calls OnMarketData concurrently with itself or with OnOrderFilled /
// OnPositionUpdate for the same instance.
type Strategy interface {
	Name() string
	Version() string

	// Initialise fixes immutable configuration, including ExitConfig, for
	// the lifetime of the instance.
	Initialise(config any) error

	OnMarketData(ctx context.Context, sc *domain.StrategyContext, md *domain.MarketData) ([]domain.Signal, error)
	OnOrderFilled(ctx context.Context, fill domain.TradeResult) error
	OnPositionUpdate(ctx context.Context, pos domain.Position) error
	Shutdown(ctx context.Context) error

	SaveState() ([]byte, error)
	LoadState(data []byte) error

	ExitConfig() domain.ExitConfig
	MultiTimeframeConfig() MultiTimeframeConfig
}

// MultiTimeframeConfig declares which timeframes a strategy needs on every
// OnMarketData call: Primary drives the call cadence (one call per primary
// candle close in backtest), Secondary are aligned but never drive the
// cadence themselves (spec §4.7 look-ahead prevention).
type MultiTimeframeConfig struct {
	Primary   domain.Timeframe
	Secondary []domain.Timeframe
}

// Factory constructs a fresh, unconfigured Strategy instance; it takes no
// config. The caller decodes config into the strategy's type (see
// Registration.Decode) and passes it to Initialise.
type Factory func() Strategy

// Registration bundles a strategy's factory with metadata the runtime and
// CLI surfaces need before constructing an instance: a stable ID, and a
// JSON-schema fragment describing its config, generated at registration
// time the same way argo-trading's engine exposes GetConfigSchema() for
// its own top-level config.
type Registration struct {
	ID          string
	DisplayName string
	NewInstance Factory
	ConfigSchema string // JSON-schema document, produced by Register via reflection

	// sampleType is configSample's concrete type, retained so Decode can
	// mapstructure a params map into the shape Initialise expects without
	// the CLI layer needing a type switch over every registered strategy.
	sampleType reflect.Type
}

// Decode mapstructure-decodes params (as loaded from a YAML/TOML config
// file's strategy.params block) into a fresh value of this registration's
// config type, using the same decimal/duration text-unmarshalling hooks
// internal/config applies to the rest of the daemon configuration.
func (r Registration) Decode(params map[string]any) (any, error) {
	out := reflect.New(r.sampleType)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
		Result:  out.Interface(),
		TagName: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(params); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigInvalid, err)
	}
	return out.Elem().Interface(), nil
}

// Registry is the process-wide catalogue of known strategies, populated at
// process start (spec §8: "global state... initialised at process start
// and torn down at shutdown; no dynamic registration at runtime beyond
// that").
type Registry struct {
	entries map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a strategy under id, reflecting configSample into a JSON
// schema fragment for config validation and CLI help text.
func (r *Registry) Register(id, displayName string, configSample any, newInstance Factory) {
	r.entries[id] = Registration{
		ID:           id,
		DisplayName:  displayName,
		NewInstance:  newInstance,
		ConfigSchema: reflectSchema(configSample),
		sampleType:   reflect.TypeOf(configSample),
	}
}

func (r *Registry) Lookup(id string) (Registration, bool) {
	reg, ok := r.entries[id]
	return reg, ok
}

func (r *Registry) All() []Registration {
	out := make([]Registration, 0, len(r.entries))
	for _, reg := range r.entries {
		out = append(out, reg)
	}
	return out
}

// Package grid implements a static buy-the-dip grid: a fixed ladder of
// limit buy levels placed once at startup, each sized by a fixed notional
// amount. Grounded on the same typed-config-at-construction shape as
// internal/strategy/rsi; the grid itself has no teacher precedent (the
// teacher quotes a two-sided spread around a reservation price, not a
// static ladder) so the placement logic is new, built directly from spec
// §8 scenario S2.
package grid

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/strategy"
)

// Level is one rung of the ladder: a limit price and the notional amount
// to commit at that price.
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

type Config struct {
	Levels    []Level           `json:"levels" jsonschema:"description=Buy-side ladder, one entry per level"`
	Timeframe domain.Timeframe  `json:"timeframe" jsonschema:"description=Primary candle timeframe,default=1m"`
	Exit      domain.ExitConfig `json:"exit"`
}

type state struct {
	Placed bool `msgpack:"placed"`
}

// Strategy implements strategy.Strategy for the static grid ladder.
type Strategy struct {
	cfg Config
	st  state
}

func New() strategy.Strategy {
	return &Strategy{}
}

func (s *Strategy) Name() string    { return "grid" }
func (s *Strategy) Version() string { return "1.0.0" }

func (s *Strategy) Initialise(config any) error {
	cfg, ok := config.(Config)
	if !ok {
		return fmt.Errorf("grid: unexpected config type %T", config)
	}
	if len(cfg.Levels) == 0 {
		return fmt.Errorf("%w: grid requires at least one level", domain.ErrConfigInvalid)
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domain.TF1m
	}
	s.cfg = cfg
	return nil
}

// OnMarketData places the entire ladder exactly once, on the first call;
// every subsequent call is a no-op since the ladder is static. Fills and
// re-placement of consumed levels are out of scope for this strategy (spec
// §8 S2 only exercises the initial reservation and a single matching tick).
func (s *Strategy) OnMarketData(ctx context.Context, sc *domain.StrategyContext, md *domain.MarketData) ([]domain.Signal, error) {
	if s.st.Placed {
		return nil, nil
	}
	s.st.Placed = true

	signals := make([]domain.Signal, 0, len(s.cfg.Levels))
	for i, lvl := range s.cfg.Levels {
		qty := lvl.Amount.Div(lvl.Price)
		signals = append(signals, domain.Signal{
			Ticker:     md.Symbol,
			PositionID: fmt.Sprintf("%s-grid-%d", md.Symbol.Ticker, i),
			Kind:       domain.SignalEntry,
			Side:       domain.SideBuy,
			Quantity:   qty,
			Price:      lvl.Price,
			HasPrice:   true,
			Reason:     fmt.Sprintf("grid level %d at %s", i, lvl.Price),
		})
	}
	return signals, nil
}

func (s *Strategy) OnOrderFilled(ctx context.Context, fill domain.TradeResult) error { return nil }
func (s *Strategy) OnPositionUpdate(ctx context.Context, pos domain.Position) error  { return nil }
func (s *Strategy) Shutdown(ctx context.Context) error                              { return nil }

func (s *Strategy) SaveState() ([]byte, error) {
	return msgpack.Marshal(s.st)
}

func (s *Strategy) LoadState(data []byte) error {
	return msgpack.Unmarshal(data, &s.st)
}

func (s *Strategy) ExitConfig() domain.ExitConfig { return s.cfg.Exit }

func (s *Strategy) MultiTimeframeConfig() strategy.MultiTimeframeConfig {
	return strategy.MultiTimeframeConfig{Primary: s.cfg.Timeframe}
}

var _ strategy.Strategy = (*Strategy)(nil)

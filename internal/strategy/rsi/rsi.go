// Package rsi implements an RSI mean-reversion strategy: enter long when
// RSI drops below an oversold threshold, exit when RSI climbs above an
// overbought threshold. Grounded on the indicator math in
// internal/indicator (itself grounded on
// aristath-sentinel/trader-go/pkg/formulas/rsi.go) and the teacher's
// pattern of a typed config struct fixed at construction (NewMaker).
package rsi

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/indicator"
	"github.com/zeroquant/zeroquant/internal/strategy"
)

// Config is the typed configuration for one RSI strategy instance; its
// JSON schema is generated from these struct tags at registration.
type Config struct {
	Period       int             `json:"period" jsonschema:"description=RSI lookback period,default=14"`
	Oversold     decimal.Decimal `json:"oversold" jsonschema:"description=RSI level below which ENTRY is emitted,default=30"`
	Overbought   decimal.Decimal `json:"overbought" jsonschema:"description=RSI level above which EXIT is emitted,default=70"`
	Timeframe    domain.Timeframe `json:"timeframe" jsonschema:"description=Primary candle timeframe,default=1m"`
	QuantityFraction decimal.Decimal `json:"quantity_fraction" jsonschema:"description=Fraction of equity per entry,default=0.1"`
	Exit domain.ExitConfig `json:"exit"`
}

// state is the per-instance position tracking snapshotted by SaveState.
type state struct {
	InPosition bool   `msgpack:"in_position"`
	PositionID string `msgpack:"position_id"`
}

// Strategy implements strategy.Strategy for the RSI round-trip algorithm
// described by spec scenario S1.
type Strategy struct {
	cfg Config
	st  state
}

func New() strategy.Strategy {
	return &Strategy{}
}

func (s *Strategy) Name() string    { return "rsi" }
func (s *Strategy) Version() string { return "1.0.0" }

func (s *Strategy) Initialise(config any) error {
	cfg, ok := config.(Config)
	if !ok {
		return fmt.Errorf("rsi: unexpected config type %T", config)
	}
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	if cfg.Oversold.IsZero() {
		cfg.Oversold = decimal.NewFromInt(30)
	}
	if cfg.Overbought.IsZero() {
		cfg.Overbought = decimal.NewFromInt(70)
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domain.TF1m
	}
	if cfg.QuantityFraction.IsZero() {
		cfg.QuantityFraction = decimal.NewFromFloat(0.1)
	}
	s.cfg = cfg
	return nil
}

func (s *Strategy) OnMarketData(ctx context.Context, sc *domain.StrategyContext, md *domain.MarketData) ([]domain.Signal, error) {
	window := md.WindowFor(s.cfg.Timeframe)
	candles := window.Slice()
	if len(candles) <= s.cfg.Period {
		return nil, nil
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	rsiValue, ok := indicator.RSI(closes, s.cfg.Period)
	if !ok {
		return nil, nil
	}

	last := candles[len(candles)-1]

	if !s.st.InPosition && rsiValue.LessThan(s.cfg.Oversold) {
		s.st.InPosition = true
		s.st.PositionID = fmt.Sprintf("%s-%d", md.Symbol.Ticker, last.OpenTime.Unix())
		return []domain.Signal{{
			Ticker:           md.Symbol,
			PositionID:       s.st.PositionID,
			Kind:             domain.SignalEntry,
			Side:             domain.SideBuy,
			QuantityFraction: s.cfg.QuantityFraction,
			Reason:           fmt.Sprintf("RSI %s below oversold %s", rsiValue, s.cfg.Oversold),
		}}, nil
	}

	if s.st.InPosition && rsiValue.GreaterThan(s.cfg.Overbought) {
		positionID := s.st.PositionID
		s.st.InPosition = false
		s.st.PositionID = ""
		return []domain.Signal{{
			Ticker:     md.Symbol,
			PositionID: positionID,
			Kind:       domain.SignalExit,
			Side:       domain.SideSell,
			Reason:     fmt.Sprintf("RSI %s above overbought %s", rsiValue, s.cfg.Overbought),
		}}, nil
	}

	return nil, nil
}

func (s *Strategy) OnOrderFilled(ctx context.Context, fill domain.TradeResult) error    { return nil }
func (s *Strategy) OnPositionUpdate(ctx context.Context, pos domain.Position) error     { return nil }
func (s *Strategy) Shutdown(ctx context.Context) error                                 { return nil }

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

// Package maker implements a two-sided Avellaneda-Stoikov market maker:
// each tick it posts a bid below and an ask above a reservation price
// skewed by current inventory, replacing whichever side last filled.
// Grounded on the teacher's internal/strategy Maker/Inventory/FlowTracker
// (the Avellaneda-Stoikov formulas, inventory-skew reservation price, and
// fill-driven toxicity spread widening are kept verbatim in spirit),
// generalized from a single binary-outcome market's paired YES/NO legs to
// one signed net position per tradeable symbol, and from the teacher's
// own batch cancel/place REST calls to the Signal/Strategy contract: a
// side is only ever re-quoted once its previous order has resolved
// (filled or otherwise left internal/processor's pending set), since a
// Strategy has no cancel-in-flight primitive of its own — only the
// runtime host's kill switch can cancel a resting order directly.
package maker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/strategy"
)

// Config is the typed configuration for one maker instance, shared across
// every symbol it quotes.
type Config struct {
	Gamma                   decimal.Decimal  `json:"gamma" jsonschema:"description=Risk aversion coefficient,default=0.1"`
	Sigma                   decimal.Decimal  `json:"sigma" jsonschema:"description=Assumed volatility over the horizon,default=0.02"`
	K                       decimal.Decimal  `json:"k" jsonschema:"description=Order arrival intensity,default=1.5"`
	HorizonSeconds          decimal.Decimal  `json:"horizon_seconds" jsonschema:"description=Avellaneda-Stoikov time horizon T in seconds,default=60"`
	DefaultSpreadBps        decimal.Decimal  `json:"default_spread_bps" jsonschema:"description=Minimum quoted spread in basis points,default=10"`
	OrderNotional           decimal.Decimal  `json:"order_notional" jsonschema:"description=Notional quoted per side before inventory skew,default=100"`
	MaxInventory            decimal.Decimal  `json:"max_inventory" jsonschema:"description=Position size that normalises inventory skew to +-1,default=1000"`
	FlowWindow              time.Duration    `json:"flow_window" jsonschema:"description=Rolling fill window for toxicity detection,default=60s"`
	FlowToxicityThreshold   decimal.Decimal  `json:"flow_toxicity_threshold" jsonschema:"default=0.6"`
	FlowCooldown            time.Duration    `json:"flow_cooldown" jsonschema:"default=30s"`
	FlowMaxSpreadMultiplier decimal.Decimal  `json:"flow_max_spread_multiplier" jsonschema:"default=3"`
	Timeframe               domain.Timeframe `json:"timeframe" jsonschema:"description=Primary candle timeframe,default=1m"`
	Exit                    domain.ExitConfig `json:"exit"`
}

// instrument is the live, per-symbol state backing one quoted side pair.
type instrument struct {
	seq           uint64
	bidPositionID string
	askPositionID string
	inventory     *Inventory
	flow          *FlowTracker
}

type persistedInstrument struct {
	Seq           uint64   `msgpack:"seq"`
	BidPositionID string   `msgpack:"bid_position_id"`
	AskPositionID string   `msgpack:"ask_position_id"`
	Position      Position `msgpack:"position"`
}

type persistedState struct {
	Instruments map[string]persistedInstrument `msgpack:"instruments"`
}

// Strategy implements strategy.Strategy for the Avellaneda-Stoikov maker.
type Strategy struct {
	cfg Config

	mu    sync.Mutex
	byKey map[domain.Symbol]*instrument
}

func New() strategy.Strategy {
	return &Strategy{byKey: make(map[domain.Symbol]*instrument)}
}

func (s *Strategy) Name() string    { return "maker" }
func (s *Strategy) Version() string { return "1.0.0" }

func (s *Strategy) Initialise(config any) error {
	cfg, ok := config.(Config)
	if !ok {
		return fmt.Errorf("maker: unexpected config type %T", config)
	}
	if cfg.Gamma.IsZero() {
		cfg.Gamma = decimal.NewFromFloat(0.1)
	}
	if cfg.Sigma.IsZero() {
		cfg.Sigma = decimal.NewFromFloat(0.02)
	}
	if cfg.K.IsZero() {
		cfg.K = decimal.NewFromFloat(1.5)
	}
	if cfg.HorizonSeconds.IsZero() {
		cfg.HorizonSeconds = decimal.NewFromInt(60)
	}
	if cfg.DefaultSpreadBps.IsZero() {
		cfg.DefaultSpreadBps = decimal.NewFromInt(10)
	}
	if cfg.OrderNotional.IsZero() {
		cfg.OrderNotional = decimal.NewFromInt(100)
	}
	if cfg.MaxInventory.IsZero() {
		cfg.MaxInventory = decimal.NewFromInt(1000)
	}
	if cfg.FlowWindow == 0 {
		cfg.FlowWindow = 60 * time.Second
	}
	if cfg.FlowToxicityThreshold.IsZero() {
		cfg.FlowToxicityThreshold = decimal.NewFromFloat(0.6)
	}
	if cfg.FlowCooldown == 0 {
		cfg.FlowCooldown = 30 * time.Second
	}
	if cfg.FlowMaxSpreadMultiplier.IsZero() {
		cfg.FlowMaxSpreadMultiplier = decimal.NewFromInt(3)
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = domain.TF1m
	}
	s.cfg = cfg
	return nil
}

func (s *Strategy) instrumentFor(sym domain.Symbol) *instrument {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.byKey[sym]
	if !ok {
		inst = &instrument{
			inventory: NewInventory(),
			flow: NewFlowTracker(
				s.cfg.FlowWindow,
				s.cfg.FlowToxicityThreshold.InexactFloat64(),
				s.cfg.FlowCooldown,
				s.cfg.FlowMaxSpreadMultiplier.InexactFloat64(),
			),
		}
		s.byKey[sym] = inst
	}
	return inst
}

// OnMarketData posts whichever side (bid, ask, or both) currently has no
// order resting under this instance's last-issued position ID. A side
// with an order still pending is left alone; once it resolves (filled,
// or the account refresh shows it gone) the next tick re-quotes it fresh
// off the then-current reservation price.
func (s *Strategy) OnMarketData(ctx context.Context, sc *domain.StrategyContext, md *domain.MarketData) ([]domain.Signal, error) {
	mid := md.Latest.Price
	if !mid.IsPositive() {
		return nil, nil
	}

	inst := s.instrumentFor(md.Symbol)
	inst.inventory.UpdateMarkToMarket(mid)

	bidPending := isPending(sc, inst.bidPositionID)
	askPending := isPending(sc, inst.askPositionID)
	if bidPending && askPending {
		return nil, nil
	}

	bidPrice, askPrice, bidQty, askQty := s.computeQuotes(mid, inst)

	signals := make([]domain.Signal, 0, 2)
	if !bidPending && bidQty.IsPositive() {
		inst.seq++
		inst.bidPositionID = fmt.Sprintf("%s-mm-bid-%d", md.Symbol.Ticker, inst.seq)
		signals = append(signals, domain.Signal{
			Ticker:     md.Symbol,
			PositionID: inst.bidPositionID,
			Kind:       domain.SignalEntry,
			Side:       domain.SideBuy,
			Quantity:   bidQty,
			Price:      bidPrice,
			HasPrice:   true,
			Reason:     "avellaneda-stoikov bid",
		})
	}
	if !askPending && askQty.IsPositive() {
		inst.seq++
		inst.askPositionID = fmt.Sprintf("%s-mm-ask-%d", md.Symbol.Ticker, inst.seq)
		signals = append(signals, domain.Signal{
			Ticker:     md.Symbol,
			PositionID: inst.askPositionID,
			Kind:       domain.SignalEntry,
			Side:       domain.SideSell,
			Quantity:   askQty,
			Price:      askPrice,
			HasPrice:   true,
			Reason:     "avellaneda-stoikov ask",
		})
	}
	return signals, nil
}

// computeQuotes implements the Avellaneda-Stoikov model:
//
//	reservation_price = mid - q * gamma * sigma^2 * T
//	optimal_spread    = gamma * sigma^2 * T + (2/gamma) * ln(1 + gamma/k)
//	bid = reservation_price - optimal_spread/2
//	ask = reservation_price + optimal_spread/2
//
// q is inventory skew in [-1, 1] (Inventory.NetDelta); the optimal spread
// is widened by the current flow-toxicity multiplier, and the side that
// would increase an already-capped position is suppressed entirely.
func (s *Strategy) computeQuotes(mid decimal.Decimal, inst *instrument) (bidPrice, askPrice, bidQty, askQty decimal.Decimal) {
	midF := mid.InexactFloat64()
	gamma := s.cfg.Gamma.InexactFloat64()
	sigma := s.cfg.Sigma.InexactFloat64()
	k := s.cfg.K.InexactFloat64()
	T := s.cfg.HorizonSeconds.InexactFloat64()

	q := inst.inventory.NetDelta(s.cfg.MaxInventory)
	flowMultiplier := inst.flow.GetSpreadMultiplier()

	minSpread := midF * s.cfg.DefaultSpreadBps.InexactFloat64() / 10000.0 * flowMultiplier

	reservation := midF - q*gamma*sigma*sigma*T
	optSpread := (gamma*sigma*sigma*T + (2.0/gamma)*math.Log(1+gamma/k)) * flowMultiplier

	bidRaw := reservation - optSpread/2
	askRaw := reservation + optSpread/2
	if (askRaw - bidRaw) < minSpread {
		bidRaw = reservation - minSpread/2
		askRaw = reservation + minSpread/2
	}
	if bidRaw <= 0 {
		bidRaw = midF * 0.0001
	}
	if bidRaw >= askRaw {
		askRaw = bidRaw + midF*0.0001
	}

	sizeFactor := 1.0 - 0.5*math.Abs(q)
	baseQty := (s.cfg.OrderNotional.InexactFloat64() * sizeFactor) / midF

	bidPrice = decimal.NewFromFloat(bidRaw)
	askPrice = decimal.NewFromFloat(askRaw)
	bidQty = decimal.NewFromFloat(baseQty)
	askQty = decimal.NewFromFloat(baseQty)

	pos := inst.inventory.Snapshot().Quantity
	if pos.GreaterThanOrEqual(s.cfg.MaxInventory) {
		bidQty = decimal.Zero
	}
	if pos.LessThanOrEqual(s.cfg.MaxInventory.Neg()) {
		askQty = decimal.Zero
	}
	return bidPrice, askPrice, bidQty, askQty
}

// isPending reports whether positionID still has a resting order tracked
// in the account snapshot's pending set.
func isPending(sc *domain.StrategyContext, positionID string) bool {
	if positionID == "" {
		return false
	}
	for _, po := range sc.Account.PendingOrders {
		if po.PositionKey.PositionID == positionID {
			return true
		}
	}
	return false
}

func (s *Strategy) OnOrderFilled(ctx context.Context, fill domain.TradeResult) error {
	inst := s.instrumentFor(fill.PositionKey.Symbol)
	f := Fill{Timestamp: fill.Timestamp, Side: fill.Side, Price: fill.FillPrice, Quantity: fill.Quantity}
	inst.inventory.OnFill(f)
	inst.flow.AddFill(f)
	return nil
}

func (s *Strategy) OnPositionUpdate(ctx context.Context, pos domain.Position) error { return nil }
func (s *Strategy) Shutdown(ctx context.Context) error                              { return nil }

func (s *Strategy) SaveState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := persistedState{Instruments: make(map[string]persistedInstrument, len(s.byKey))}
	for sym, inst := range s.byKey {
		out.Instruments[sym.String()] = persistedInstrument{
			Seq:           inst.seq,
			BidPositionID: inst.bidPositionID,
			AskPositionID: inst.askPositionID,
			Position:      inst.inventory.Snapshot(),
		}
	}
	return msgpack.Marshal(out)
}

func (s *Strategy) LoadState(data []byte) error {
	var in persistedState
	if err := msgpack.Unmarshal(data, &in); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey = make(map[domain.Symbol]*instrument, len(in.Instruments))
	for key, saved := range in.Instruments {
		sym, err := parseSymbolKey(key)
		if err != nil {
			return err
		}
		inst := &instrument{
			seq:           saved.Seq,
			bidPositionID: saved.BidPositionID,
			askPositionID: saved.AskPositionID,
			inventory:     NewInventory(),
			flow: NewFlowTracker(
				s.cfg.FlowWindow,
				s.cfg.FlowToxicityThreshold.InexactFloat64(),
				s.cfg.FlowCooldown,
				s.cfg.FlowMaxSpreadMultiplier.InexactFloat64(),
			),
		}
		inst.inventory.Restore(saved.Position)
		s.byKey[sym] = inst
	}
	return nil
}

func parseSymbolKey(key string) (domain.Symbol, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return domain.NewSymbol(key[i+1:], domain.Market(key[:i])), nil
		}
	}
	return domain.Symbol{}, fmt.Errorf("maker: malformed persisted symbol key %q", key)
}

func (s *Strategy) ExitConfig() domain.ExitConfig { return s.cfg.Exit }

func (s *Strategy) MultiTimeframeConfig() strategy.MultiTimeframeConfig {
	return strategy.MultiTimeframeConfig{Primary: s.cfg.Timeframe}
}

var _ strategy.Strategy = (*Strategy)(nil)

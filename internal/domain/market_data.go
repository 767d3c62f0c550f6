package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single latest-price update for a symbol, as delivered by the
// market stream.
type Tick struct {
	Symbol    Symbol
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
}

// MarketData bundles the latest tick and bounded rolling candle windows,
// keyed by timeframe, for one symbol. A Strategy receives one MarketData
// per symbol it is subscribed to on every stream event.
type MarketData struct {
	Symbol  Symbol
	Latest  Tick
	Windows map[Timeframe]*Window
}

func NewMarketData(sym Symbol) *MarketData {
	return &MarketData{
		Symbol:  sym,
		Windows: make(map[Timeframe]*Window),
	}
}

// WindowFor lazily creates the window for a timeframe with the default
// capacity, mirroring the §5 bounded candle window resource limit.
func (m *MarketData) WindowFor(tf Timeframe) *Window {
	w, ok := m.Windows[tf]
	if !ok {
		w = NewWindow(1440)
		m.Windows[tf] = w
	}
	return w
}

func (m *MarketData) ApplyTick(t Tick) {
	m.Latest = t
}

func (m *MarketData) ApplyCandle(tf Timeframe, c Candle) {
	m.WindowFor(tf).Push(c)
}

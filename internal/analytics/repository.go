// Package analytics caches and hands out StrategyContext snapshots.
// Analytics rows themselves are produced by the out-of-scope collector and
// stored in the shared persistence layer; this package's job is staleness
// enforcement and a short-path TTL cache, grounded on the RWMutex +
// updated-timestamp pattern in the teacher's internal/market/book.go.
package analytics

import (
	"context"
	"time"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// Row is one persisted analytics record as read from the repository,
// keyed by (symbol, date) in the real schema; this package only needs the
// latest row per symbol.
type Row struct {
	Symbol domain.Symbol
	domain.Analytics
}

// CandleRepository is the OHLCV hypertable collaborator (§6 persistence
// contract), keyed by (symbol, timeframe, open_time).
type CandleRepository interface {
	LatestCandles(ctx context.Context, sym domain.Symbol, tf domain.Timeframe, limit int) ([]domain.Candle, error)
}

// AnalyticsRepository is the read-mostly analytics-table collaborator.
type AnalyticsRepository interface {
	LatestAnalytics(ctx context.Context, symbols []domain.Symbol) ([]Row, error)
}

// AccountRepository supplies the account half of a StrategyContext; backed
// by an exchange.Provider in production wiring (see cmd/zeroquant's
// accountadapter.go).
type AccountRepository interface {
	FetchAccount(ctx context.Context) (domain.AccountState, error)
}

// StalenessBounds configures the maximum age tolerated per data class,
// defaulting to the values named in spec §4.1.
type StalenessBounds struct {
	RouteState time.Duration
	GlobalScore time.Duration
}

func DefaultStalenessBounds() StalenessBounds {
	return StalenessBounds{
		RouteState:  10 * time.Minute,
		GlobalScore: 6 * time.Hour,
	}
}

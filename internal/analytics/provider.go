package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// routeCacheEntry is a single in-memory TTL cache slot for route_state_for,
// mirroring the teacher Book's updated-timestamp staleness check.
type routeCacheEntry struct {
	state    domain.RouteState
	cachedAt time.Time
}

// Provider supplies read-only StrategyContext snapshots. It owns no
// upstream connection; it reads through to the repository collaborators
// and applies the staleness policy of spec §4.1.
type Provider struct {
	candles   CandleRepository
	analytics AnalyticsRepository
	account   AccountRepository
	bounds    StalenessBounds
	logger    *slog.Logger

	mu         sync.RWMutex
	routeCache map[domain.Symbol]routeCacheEntry
	routeTTL   time.Duration
}

func NewProvider(candles CandleRepository, analyticsRepo AnalyticsRepository, account AccountRepository, bounds StalenessBounds, logger *slog.Logger) *Provider {
	return &Provider{
		candles:    candles,
		analytics:  analyticsRepo,
		account:    account,
		bounds:     bounds,
		logger:     logger.With("component", "analytics_provider"),
		routeCache: make(map[domain.Symbol]routeCacheEntry),
		routeTTL:   30 * time.Second,
	}
}

// FetchContext returns a StrategyContext snapshot for the given
// symbols/timeframes. If a required symbol lacks analytics rows its
// Analytics entry is Present=false rather than causing a panic. A row
// older than the RouteState bound is kept with RouteState cleared; a row
// older than the GlobalScore bound is kept with Present=false. Candles are
// not checked for age. FetchContext never returns ErrContextStale: it
// fails only when the account or analytics repository returns an error,
// and account data is used whatever its AsOf.
func (p *Provider) FetchContext(ctx context.Context, symbols []domain.Symbol, timeframes []domain.Timeframe) (*domain.StrategyContext, error) {
	account, err := p.account.FetchAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	rows, err := p.analytics.LatestAnalytics(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("fetch analytics: %w", err)
	}

	now := time.Now().UTC()
	analyticsBySymbol := make(map[domain.Symbol]domain.Analytics, len(symbols))
	for _, row := range rows {
		a := row.Analytics
		if now.Sub(a.AsOf) > p.bounds.RouteState {
			// Route state too old to trust; clear it but keep the row,
			// whose score is checked against its own bound below.
			a.RouteState = ""
		}
		if now.Sub(a.AsOf) > p.bounds.GlobalScore {
			a.Present = false
		}
		analyticsBySymbol[row.Symbol] = a
	}

	marketData := make(map[domain.Symbol]*domain.MarketData, len(symbols))
	for _, sym := range symbols {
		md := domain.NewMarketData(sym)
		for _, tf := range timeframes {
			candles, err := p.candles.LatestCandles(ctx, sym, tf, 1440)
			if err != nil {
				p.logger.Warn("latest candles fetch failed", "symbol", sym, "timeframe", tf, "error", err)
				continue
			}
			for _, c := range candles {
				md.ApplyCandle(tf, c)
			}
		}
		marketData[sym] = md
	}

	p.refreshRouteCache(analyticsBySymbol, now)

	return &domain.StrategyContext{
		Account:     account,
		Analytics:   analyticsBySymbol,
		MarketData:  marketData,
		GeneratedAt: now,
	}, nil
}

func (p *Provider) refreshRouteCache(analyticsBySymbol map[domain.Symbol]domain.Analytics, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sym, a := range analyticsBySymbol {
		if a.RouteState == "" {
			continue
		}
		p.routeCache[sym] = routeCacheEntry{state: a.RouteState, cachedAt: now}
	}
}

// RouteStateFor is the short-path accessor with an in-memory TTL cache,
// avoiding a full FetchContext round trip for the common OVERHEAT-gate
// check on the dispatch hot path.
func (p *Provider) RouteStateFor(ctx context.Context, ticker domain.Symbol) (domain.RouteState, error) {
	p.mu.RLock()
	entry, ok := p.routeCache[ticker]
	p.mu.RUnlock()
	if ok && time.Since(entry.cachedAt) < p.routeTTL {
		return entry.state, nil
	}

	rows, err := p.analytics.LatestAnalytics(ctx, []domain.Symbol{ticker})
	if err != nil {
		return "", fmt.Errorf("route_state_for %s: %w", ticker, err)
	}
	if len(rows) == 0 || time.Since(rows[0].AsOf) > p.bounds.RouteState {
		return "", fmt.Errorf("%w: route_state for %s", domain.ErrContextStale, ticker)
	}

	now := time.Now()
	p.mu.Lock()
	p.routeCache[ticker] = routeCacheEntry{state: rows[0].RouteState, cachedAt: now}
	p.mu.Unlock()

	return rows[0].RouteState, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/analytics"
	"github.com/zeroquant/zeroquant/internal/domain"
)

// AnalyticsStore implements analytics.AnalyticsRepository, backed by one row
// per (symbol, as_of) — the out-of-scope collector is assumed to INSERT new
// rows as it produces them; this store only ever reads the latest per symbol.
type AnalyticsStore struct {
	db *sql.DB
}

func (s *Store) Analytics() *AnalyticsStore {
	return &AnalyticsStore{db: s.db}
}

// SaveAnalytics inserts one analytics snapshot for a symbol. Exposed so the
// collector (or a backfill/import tool) can seed the table; the live
// pipeline itself only reads through LatestAnalytics.
func (a *AnalyticsStore) SaveAnalytics(ctx context.Context, row analytics.Row) error {
	structural, err := json.Marshal(row.Structural)
	if err != nil {
		return fmt.Errorf("marshal structural features: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO analytics (symbol, market, as_of, present, global_score, route_state, regime, structural_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, market, as_of) DO UPDATE SET
			present = excluded.present, global_score = excluded.global_score,
			route_state = excluded.route_state, regime = excluded.regime,
			structural_json = excluded.structural_json
	`,
		row.Symbol.Ticker, string(row.Symbol.Market), row.AsOf.UnixNano(), row.Present,
		row.GlobalScore.String(), string(row.RouteState), string(row.Regime), string(structural),
	)
	if err != nil {
		return fmt.Errorf("save analytics %s: %w", row.Symbol, err)
	}
	return nil
}

// LatestAnalytics returns the most recent row per requested symbol. A symbol
// with no analytics row yet is simply omitted — callers branch on the
// missing entry the same way they'd branch on Present == false.
func (a *AnalyticsStore) LatestAnalytics(ctx context.Context, symbols []domain.Symbol) ([]analytics.Row, error) {
	out := make([]analytics.Row, 0, len(symbols))
	for _, sym := range symbols {
		var asOfNano int64
		var present bool
		var globalScore, routeState, regime, structuralJSON string

		row := a.db.QueryRowContext(ctx, `
			SELECT as_of, present, global_score, route_state, regime, structural_json
			FROM analytics
			WHERE symbol = ? AND market = ?
			ORDER BY as_of DESC
			LIMIT 1
		`, sym.Ticker, string(sym.Market))

		if err := row.Scan(&asOfNano, &present, &globalScore, &routeState, &regime, &structuralJSON); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("query latest analytics %s: %w", sym, err)
		}

		score, err := decimal.NewFromString(globalScore)
		if err != nil {
			return nil, fmt.Errorf("decode global_score for %s: %w", sym, err)
		}
		var structural domain.StructuralFeatures
		if err := json.Unmarshal([]byte(structuralJSON), &structural); err != nil {
			return nil, fmt.Errorf("decode structural_json for %s: %w", sym, err)
		}

		out = append(out, analytics.Row{
			Symbol: sym,
			Analytics: domain.Analytics{
				Present:     present,
				GlobalScore: score,
				RouteState:  domain.RouteState(routeState),
				Regime:      domain.Regime(regime),
				Structural:  structural,
				AsOf:        unixNanoUTC(asOfNano),
			},
		})
	}
	return out, nil
}

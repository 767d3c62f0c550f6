package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/zeroquant/zeroquant/internal/backtest"
	"github.com/zeroquant/zeroquant/internal/domain"
)

// BacktestStore archives the summary and fallback record of a completed
// backtest run, per spec §4.7 ("fallback is recorded in the run metadata").
// The full equity curve and trade/signal logs are not archived here; they
// are written to the run's output files by the CLI layer at the size this
// table is not meant to carry.
type BacktestStore struct {
	db *sql.DB
}

func (s *Store) Backtests() *BacktestStore {
	return &BacktestStore{db: s.db}
}

func (b *BacktestStore) SaveRun(ctx context.Context, runID, strategyName, strategyVersion string, result *backtest.Result) error {
	summaryJSON, err := json.Marshal(result.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	fallbacksJSON, err := json.Marshal(fallbackKeys(result.Fallbacks))
	if err != nil {
		return fmt.Errorf("marshal fallbacks: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (run_id, strategy_name, strategy_version, started_at, ended_at, summary_json, fallbacks_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			summary_json = excluded.summary_json, fallbacks_json = excluded.fallbacks_json,
			ended_at = excluded.ended_at
	`,
		runID, strategyName, strategyVersion, result.StartTime.UnixNano(), result.EndTime.UnixNano(),
		string(summaryJSON), string(fallbacksJSON),
	)
	if err != nil {
		return fmt.Errorf("save backtest run %s: %w", runID, err)
	}
	return nil
}

// fallbackKeys flattens the symbol-keyed fallback map into a JSON-friendly
// slice; domain.Symbol is not itself a valid encoding/json map key type.
func fallbackKeys(fallbacks map[domain.Symbol]domain.Timeframe) []fallbackEntry {
	out := make([]fallbackEntry, 0, len(fallbacks))
	for sym, tf := range fallbacks {
		out = append(out, fallbackEntry{Symbol: sym.Ticker, Market: string(sym.Market), Timeframe: string(tf)})
	}
	return out
}

type fallbackEntry struct {
	Symbol    string `json:"symbol"`
	Market    string `json:"market"`
	Timeframe string `json:"timeframe"`
}

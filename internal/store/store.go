// Package store is the SQLite persistence layer of spec §6: OHLCV candles,
// analytics rows, trade fills, pending orders and backtest run summaries,
// all in one file-backed database opened with the pure-Go modernc.org/sqlite
// driver (no cgo, the same choice the reference corpus's own bots make).
//
// Generalized from the teacher's original JSON-per-market file store, which
// used atomic write-to-.tmp-then-rename for crash safety; here the same
// property comes from SQLite's own transactional commit instead, since every
// write is a single INSERT/UPSERT rather than a whole-file rewrite.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store owns one SQLite connection and every repository built on top of it
// in this package (CandleStore, AnalyticsStore, ExchangeStore, BacktestStore).
type Store struct {
	db *sql.DB
}

// Open creates (or reopens) the SQLite database at path and ensures every
// table this package owns exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers internally; capping pooled connections to 1
	// avoids "database is locked" errors under modernc's driver.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			market TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			open_time INTEGER NOT NULL,
			open TEXT NOT NULL,
			high TEXT NOT NULL,
			low TEXT NOT NULL,
			close TEXT NOT NULL,
			volume TEXT NOT NULL,
			PRIMARY KEY (symbol, market, timeframe, open_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_candles_lookup ON candles(symbol, market, timeframe, open_time DESC)`,

		`CREATE TABLE IF NOT EXISTS analytics (
			symbol TEXT NOT NULL,
			market TEXT NOT NULL,
			as_of INTEGER NOT NULL,
			present BOOLEAN NOT NULL DEFAULT 0,
			global_score TEXT NOT NULL DEFAULT '0',
			route_state TEXT NOT NULL DEFAULT '',
			regime TEXT NOT NULL DEFAULT '',
			structural_json TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (symbol, market, as_of)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analytics_latest ON analytics(symbol, market, as_of DESC)`,

		`CREATE TABLE IF NOT EXISTS trade_fills (
			order_id TEXT NOT NULL DEFAULT '',
			credential_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			market TEXT NOT NULL,
			position_id TEXT NOT NULL,
			group_id TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			quantity TEXT NOT NULL,
			fill_price TEXT NOT NULL,
			commission TEXT NOT NULL DEFAULT '0',
			slippage_applied TEXT NOT NULL DEFAULT '0',
			realized_pnl TEXT NOT NULL DEFAULT '0',
			has_realized_pnl BOOLEAN NOT NULL DEFAULT 0,
			partial BOOLEAN NOT NULL DEFAULT 0,
			signal_kind TEXT NOT NULL DEFAULT '',
			route_state_at_fill TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_fills_credential ON trade_fills(credential_id, ts DESC)`,

		`CREATE TABLE IF NOT EXISTS pending_orders (
			order_id TEXT NOT NULL,
			credential_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			market TEXT NOT NULL,
			position_id TEXT NOT NULL,
			group_id TEXT NOT NULL DEFAULT '',
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			quantity TEXT NOT NULL,
			remaining_quantity TEXT NOT NULL,
			price TEXT NOT NULL DEFAULT '0',
			stop_price TEXT NOT NULL DEFAULT '0',
			reserved_cash TEXT NOT NULL DEFAULT '0',
			status TEXT NOT NULL,
			PRIMARY KEY (credential_id, order_id)
		)`,

		`CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id TEXT PRIMARY KEY,
			strategy_name TEXT NOT NULL,
			strategy_version TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			summary_json TEXT NOT NULL,
			fallbacks_json TEXT NOT NULL DEFAULT '{}'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

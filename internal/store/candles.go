package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// CandleStore implements analytics.CandleRepository plus the write path the
// ingestion side of the platform needs to seed the table in the first place.
type CandleStore struct {
	db *sql.DB
}

func (s *Store) Candles() *CandleStore {
	return &CandleStore{db: s.db}
}

// SaveCandle upserts one closed bar, keyed by (symbol, market, timeframe,
// open_time); a re-delivered bar for an already-closed period overwrites in
// place rather than erroring, matching exchanges that occasionally resend a
// corrected final print.
func (c *CandleStore) SaveCandle(ctx context.Context, candle domain.Candle) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO candles (symbol, market, timeframe, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, market, timeframe, open_time) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume
	`,
		candle.Symbol.Ticker, string(candle.Symbol.Market), string(candle.TF), candle.OpenTime.UnixNano(),
		candle.Open.String(), candle.High.String(), candle.Low.String(), candle.Close.String(), candle.Volume.String(),
	)
	if err != nil {
		return fmt.Errorf("save candle %s %s: %w", candle.Symbol, candle.TF, err)
	}
	return nil
}

// LatestCandles returns up to limit closed candles for (sym, tf), oldest
// first, satisfying analytics.CandleRepository.
func (c *CandleStore) LatestCandles(ctx context.Context, sym domain.Symbol, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND market = ? AND timeframe = ?
		ORDER BY open_time DESC
		LIMIT ?
	`, sym.Ticker, string(sym.Market), string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("query candles %s %s: %w", sym, tf, err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var openTimeNano int64
		var open, high, low, close, volume string
		if err := rows.Scan(&openTimeNano, &open, &high, &low, &close, &volume); err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c, err := decodeCandle(sym, tf, openTimeNano, open, high, low, close, volume)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse: query is newest-first, callers want chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func decodeCandle(sym domain.Symbol, tf domain.Timeframe, openTimeNano int64, open, high, low, close, volume string) (domain.Candle, error) {
	o, err := decimal.NewFromString(open)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("decode open: %w", err)
	}
	h, err := decimal.NewFromString(high)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("decode high: %w", err)
	}
	l, err := decimal.NewFromString(low)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("decode low: %w", err)
	}
	cl, err := decimal.NewFromString(close)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("decode close: %w", err)
	}
	v, err := decimal.NewFromString(volume)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("decode volume: %w", err)
	}
	return domain.Candle{
		Symbol:   sym,
		TF:       tf,
		OpenTime: unixNanoUTC(openTimeNano),
		Open:     o,
		High:     h,
		Low:      l,
		Close:    cl,
		Volume:   v,
	}, nil
}

package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/backtest"
	"github.com/zeroquant/zeroquant/internal/domain"
)

// fileCandleSource implements backtest.CandleSource over a directory of
// per-(symbol, timeframe) CSV files. cmd/zeroquant's backtest subcommand
// reads every run's history through it from the config's candle_dir;
// internal/store is not consulted. Columns:
// open_time (RFC3339), open, high, low, close, volume. Grounded on the
// encoding/csv usage in the reference corpus's dbn-go cache writer.
type fileCandleSource struct {
	dir string
}

func newFileCandleSource(dir string) backtest.CandleSource {
	return fileCandleSource{dir: dir}
}

func (f fileCandleSource) Candles(sym domain.Symbol, tf domain.Timeframe) ([]domain.Candle, bool) {
	path := filepath.Join(f.dir, fmt.Sprintf("%s_%s_%s.csv", sym.Ticker, sym.Market, tf))
	file, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer file.Close()

	r := csv.NewReader(file)
	rows, err := r.ReadAll()
	if err != nil || len(rows) == 0 {
		return nil, false
	}

	start := 0
	if len(rows[0]) > 0 && rows[0][0] == "open_time" {
		start = 1
	}

	candles := make([]domain.Candle, 0, len(rows)-start)
	for _, row := range rows[start:] {
		if len(row) < 6 {
			continue
		}
		openTime, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			continue
		}
		candles = append(candles, domain.Candle{
			Symbol:   sym,
			TF:       tf,
			OpenTime: openTime,
			Open:     mustDecimal(row[1]),
			High:     mustDecimal(row[2]),
			Low:      mustDecimal(row[3]),
			Close:    mustDecimal(row[4]),
			Volume:   mustDecimal(row[5]),
		})
	}
	if len(candles) == 0 {
		return nil, false
	}
	return candles, true
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

package backtest

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// Summary is the spec §4.7 "summary metrics" block: total return, CAGR,
// max drawdown, Sharpe, Sortino, Calmar, profit factor, win rate, largest
// win/loss.
type Summary struct {
	TotalReturnPct decimal.Decimal
	CAGRPct        float64
	MaxDrawdownPct float64
	SharpeRatio    float64
	SortinoRatio   float64
	CalmarRatio    float64
	ProfitFactor   float64
	WinRatePct     float64
	LargestWin     decimal.Decimal
	LargestLoss    decimal.Decimal
	TradeCount     int
}

// periodsPerYear annualises whatever sampling interval the equity curve
// was taken at (one point per primary-timeframe close), same role as the
// 252/12 constant in the teacher corpus's CalculateSharpeRatio but derived
// from the run's own candle spacing instead of assuming daily bars.
func periodsPerYear(points []EquityPoint) float64 {
	if len(points) < 2 {
		return 252
	}
	span := points[len(points)-1].Time.Sub(points[0].Time)
	if span <= 0 {
		return 252
	}
	avgStep := span / time.Duration(len(points)-1)
	if avgStep <= 0 {
		return 252
	}
	return (365.25 * 24 * time.Hour).Seconds() / avgStep.Seconds()
}

// computeSummary derives every spec §4.7 metric from the equity curve and
// trade log. Grounded on aristath-sentinel's pkg/formulas (CalculateSharpeRatio,
// CalculateSortinoRatio, CalculateMaxDrawdown) and its
// portfolio/service.go calculateMetrics nil-guard-then-zero pattern,
// adapted from a returns-and-riskParams shape to equity-curve-and-trades
// since the engine already has the equity series directly rather than
// needing to reconstruct prices from returns.
func computeSummary(points []EquityPoint, trades []domain.TradeResult) Summary {
	var summary Summary
	summary.TradeCount = len(trades)

	if len(points) == 0 {
		return summary
	}

	first := points[0].Equity
	last := points[len(points)-1].Equity
	if !first.IsZero() {
		summary.TotalReturnPct = last.Sub(first).Div(first).Mul(decimal.NewFromInt(100))
	}

	days := points[len(points)-1].Time.Sub(points[0].Time).Hours() / 24
	if days > 0 && first.IsPositive() {
		firstF, _ := first.Float64()
		lastF, _ := last.Float64()
		if firstF > 0 && lastF > 0 {
			summary.CAGRPct = (math.Pow(lastF/firstF, 365/days) - 1) * 100
		}
	}

	returns := equityReturns(points)
	ppy := periodsPerYear(points)

	if sharpe := sharpeRatio(returns, ppy); sharpe != nil {
		summary.SharpeRatio = guardFinite(*sharpe)
	}
	if sortino := sortinoRatio(returns, ppy); sortino != nil {
		summary.SortinoRatio = guardFinite(*sortino)
	}

	maxDD := maxDrawdownPct(points)
	summary.MaxDrawdownPct = guardFinite(maxDD)
	if summary.MaxDrawdownPct != 0 {
		summary.CalmarRatio = guardFinite(summary.CAGRPct / math.Abs(summary.MaxDrawdownPct))
	}

	summary.ProfitFactor, summary.WinRatePct, summary.LargestWin, summary.LargestLoss = tradeStats(trades)

	return summary
}

// equityReturns converts an equity curve into period-over-period percentage
// returns, mirroring formulas.CalculateReturns.
func equityReturns(points []EquityPoint) []float64 {
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev, _ := points[i-1].Equity.Float64()
		cur, _ := points[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

// sharpeRatio is CalculateSharpeRatio with riskFreeRate fixed at zero: the
// backtest has no configured benchmark rate, and a zero risk-free rate is
// the standard simplification when none is supplied.
func sharpeRatio(returns []float64, periodsPerYear float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	mean := stat.Mean(returns, nil)
	sd := stat.StdDev(returns, nil)
	if sd == 0 {
		return nil
	}
	sharpe := (mean / sd) * math.Sqrt(periodsPerYear)
	return &sharpe
}

// sortinoRatio is CalculateSortinoRatio with riskFreeRate and the minimum
// acceptable return both fixed at zero.
func sortinoRatio(returns []float64, periodsPerYear float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	mean := stat.Mean(returns, nil)
	var downsideSq float64
	var downsideCount int
	for _, r := range returns {
		if r < 0 {
			downsideSq += r * r
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return nil
	}
	downsideDev := math.Sqrt(downsideSq / float64(downsideCount))
	if downsideDev == 0 {
		return nil
	}
	sortino := (mean / downsideDev) * math.Sqrt(periodsPerYear)
	return &sortino
}

// maxDrawdownPct is CalculateMaxDrawdown, expressed as a percentage and
// operating directly on the equity curve rather than a reconstructed price
// series.
func maxDrawdownPct(points []EquityPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	peak, _ := points[0].Equity.Float64()
	maxDD := 0.0
	for _, p := range points {
		v, _ := p.Equity.Float64()
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD * 100
}

// tradeStats computes profit factor, win rate and largest win/loss from
// every trade that closed a position (HasRealizedPnL); fills that opened
// or added to a position carry no realised P&L and are excluded, the same
// filter applied by a trade-by-trade P&L attribution report.
func tradeStats(trades []domain.TradeResult) (profitFactor, winRatePct float64, largestWin, largestLoss decimal.Decimal) {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	wins := 0
	closedCount := 0

	for _, t := range trades {
		if !t.HasRealizedPnL {
			continue
		}
		closedCount++
		if t.RealizedPnL.IsPositive() {
			grossProfit = grossProfit.Add(t.RealizedPnL)
			wins++
			if t.RealizedPnL.GreaterThan(largestWin) {
				largestWin = t.RealizedPnL
			}
		} else if t.RealizedPnL.IsNegative() {
			grossLoss = grossLoss.Add(t.RealizedPnL.Abs())
			if largestLoss.IsZero() || t.RealizedPnL.LessThan(largestLoss) {
				largestLoss = t.RealizedPnL
			}
		}
	}

	if closedCount > 0 {
		winRatePct = float64(wins) / float64(closedCount) * 100
	}
	if grossLoss.IsPositive() {
		pf, _ := grossProfit.Div(grossLoss).Float64()
		profitFactor = pf
	} else if grossProfit.IsPositive() {
		profitFactor = math.Inf(1)
	}
	return profitFactor, winRatePct, largestWin, largestLoss
}

func guardFinite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Package risk enforces portfolio-level risk limits across every symbol a
// strategy runtime host trades concurrently.
//
// The manager runs as a standalone goroutine that receives PositionReports
// from the runtime host every account-refresh cycle and checks them against
// configured limits:
//
//   - Per-symbol exposure: caps notional exposure in any single symbol
//   - Global exposure:     caps total notional exposure across all symbols
//   - Daily loss:          triggers the kill switch if realized+unrealized
//     PnL, summed over the latest report for each symbol, falls below
//     -MaxDailyLoss; the manager keeps no session boundary and never resets
//     this total
//   - Rapid price movement: triggers the kill switch if mark price moves
//     more than KillSwitchDropPct within KillSwitchWindow
//
// When a limit is breached, the manager emits a KillSignal on KillCh(). The
// runtime host reads this signal and cancels all orders (globally or for one
// symbol). After a kill, the kill switch stays active for CooldownAfterKill,
// during which the runtime host skips new ENTRY and ADD signals.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// Config is the portion of the strategy runtime's configuration this
// package owns; internal/config assembles it from the daemon YAML.
type Config struct {
	MaxPositionPerSymbol decimal.Decimal `mapstructure:"max_position_per_symbol"`
	MaxGlobalExposure    decimal.Decimal `mapstructure:"max_global_exposure"`
	MaxMarketsActive     int             `mapstructure:"max_markets_active"`
	KillSwitchDropPct    decimal.Decimal `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindow     time.Duration   `mapstructure:"kill_switch_window"`
	MaxDailyLoss         decimal.Decimal `mapstructure:"max_daily_loss"`
	CooldownAfterKill    time.Duration   `mapstructure:"cooldown_after_kill"`
}

// PositionReport is sent by the runtime host every account-refresh cycle. It
// contains the current inventory state and PnL for one symbol.
type PositionReport struct {
	Symbol        domain.Symbol
	Quantity      decimal.Decimal
	MarkPrice     decimal.Decimal
	ExposureNotional decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	Timestamp     time.Time
}

// KillSignal tells the runtime host to cancel all orders. A nil Symbol
// means cancel across every symbol (global kill).
type KillSignal struct {
	Symbol *domain.Symbol
	Reason string
}

// priceAnchor stores a reference price at a point in time for detecting
// rapid price movements within a rolling window.
type priceAnchor struct {
	price     decimal.Decimal
	timestamp time.Time
}

// Manager enforces risk limits across all active symbols. It aggregates
// position reports, checks limits, and emits kill signals when breached.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu               sync.RWMutex
	positions        map[domain.Symbol]PositionReport
	totalExposure    decimal.Decimal
	totalRealizedPnL decimal.Decimal
	killSwitchActive bool
	killSwitchUntil  time.Time
	killSwitchSymbol *domain.Symbol
	priceAnchors     map[domain.Symbol]priceAnchor

	reportCh chan PositionReport
	killCh   chan KillSignal
}

// NewManager creates a risk manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		positions:    make(map[domain.Symbol]PositionReport),
		priceAnchors: make(map[domain.Symbol]priceAnchor),
		reportCh:     make(chan PositionReport, 100),
		killCh:       make(chan KillSignal, 10),
	}
}

// Run starts the risk monitoring loop. Blocks until ctx is cancelled.
func (rm *Manager) Run(ctx context.Context) {
	// Periodic check clears the kill switch even when no reports arrive.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report", "symbol", report.Symbol)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveSymbol cleans up state for a symbol the runtime host has stopped
// trading.
func (rm *Manager) RemoveSymbol(sym domain.Symbol) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.positions, sym)
	delete(rm.priceAnchors, sym)

	rm.totalExposure = decimal.Zero
	rm.totalRealizedPnL = decimal.Zero
	for _, pos := range rm.positions {
		rm.totalExposure = rm.totalExposure.Add(pos.ExposureNotional)
		rm.totalRealizedPnL = rm.totalRealizedPnL.Add(pos.RealizedPnL)
	}
}

// IsKillSwitchActive returns whether the kill switch is engaged, clearing it
// in place if the cooldown has already elapsed.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// RemainingBudget returns how much additional notional exposure is allowed
// for the given symbol: the minimum of per-symbol headroom and global
// headroom. Returns zero if either limit is already exceeded.
func (rm *Manager) RemainingBudget(sym domain.Symbol) decimal.Decimal {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	currentExposure := decimal.Zero
	if pos, ok := rm.positions[sym]; ok {
		currentExposure = pos.ExposureNotional
	}

	perSymbol := rm.cfg.MaxPositionPerSymbol.Sub(currentExposure)
	global := rm.cfg.MaxGlobalExposure.Sub(rm.totalExposure)

	remaining := perSymbol
	if global.LessThan(remaining) {
		remaining = global
	}
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Snapshot is the aggregate risk state rendered by the API/dashboard layer.
type Snapshot struct {
	GlobalExposure       decimal.Decimal
	MaxGlobalExposure    decimal.Decimal
	ExposurePct          decimal.Decimal
	KillSwitchActive     bool
	KillSwitchUntil      time.Time
	KillSwitchReason     string
	TotalRealizedPnL     decimal.Decimal
	TotalUnrealizedPnL   decimal.Decimal
	MaxPositionPerSymbol decimal.Decimal
	MaxDailyLoss         decimal.Decimal
	MaxMarketsActive     int
	CurrentSymbolsActive int
}

// GetSnapshot returns current aggregate risk metrics for the dashboard.
func (rm *Manager) GetSnapshot() Snapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	totalUnrealizedPnL := decimal.Zero
	for _, pos := range rm.positions {
		totalUnrealizedPnL = totalUnrealizedPnL.Add(pos.UnrealizedPnL)
	}

	exposurePct := decimal.Zero
	if rm.cfg.MaxGlobalExposure.IsPositive() {
		exposurePct = rm.totalExposure.Div(rm.cfg.MaxGlobalExposure).Mul(decimal.NewFromInt(100))
	}

	var killReason string
	if rm.killSwitchActive {
		killReason = "cooldown"
	}

	return Snapshot{
		GlobalExposure:       rm.totalExposure,
		MaxGlobalExposure:    rm.cfg.MaxGlobalExposure,
		ExposurePct:          exposurePct,
		KillSwitchActive:     rm.killSwitchActive,
		KillSwitchUntil:      rm.killSwitchUntil,
		KillSwitchReason:     killReason,
		TotalRealizedPnL:     rm.totalRealizedPnL,
		TotalUnrealizedPnL:   totalUnrealizedPnL,
		MaxPositionPerSymbol: rm.cfg.MaxPositionPerSymbol,
		MaxDailyLoss:         rm.cfg.MaxDailyLoss,
		MaxMarketsActive:     rm.cfg.MaxMarketsActive,
		CurrentSymbolsActive: len(rm.positions),
	}
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.positions[report.Symbol] = report

	rm.totalExposure = decimal.Zero
	rm.totalRealizedPnL = decimal.Zero
	totalUnrealizedPnL := decimal.Zero
	for _, pos := range rm.positions {
		rm.totalExposure = rm.totalExposure.Add(pos.ExposureNotional)
		rm.totalRealizedPnL = rm.totalRealizedPnL.Add(pos.RealizedPnL)
		totalUnrealizedPnL = totalUnrealizedPnL.Add(pos.UnrealizedPnL)
	}

	if report.ExposureNotional.GreaterThan(rm.cfg.MaxPositionPerSymbol) {
		rm.emitKill(&report.Symbol, "per-symbol position limit breached")
	}

	if rm.totalExposure.GreaterThan(rm.cfg.MaxGlobalExposure) {
		rm.emitKill(nil, "global exposure limit breached")
	}

	totalPnL := rm.totalRealizedPnL.Add(totalUnrealizedPnL)
	if totalPnL.LessThan(rm.cfg.MaxDailyLoss.Neg()) {
		rm.emitKill(nil, "max daily loss breached")
	}

	rm.checkPriceMovement(report)
}

// checkPriceMovement detects rapid price swings using a rolling anchor. On
// each report, it compares the mark price to the anchor set at the start of
// the window. If the anchor is older than KillSwitchWindow, it resets. If
// the price moved more than KillSwitchDropPct from the anchor, the kill
// switch fires.
func (rm *Manager) checkPriceMovement(report PositionReport) {
	anchor, ok := rm.priceAnchors[report.Symbol]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > rm.cfg.KillSwitchWindow {
		rm.priceAnchors[report.Symbol] = priceAnchor{price: report.MarkPrice, timestamp: report.Timestamp}
		return
	}

	if anchor.price.IsZero() {
		return
	}

	pctChange := report.MarkPrice.Sub(anchor.price).Div(anchor.price).Abs()
	if pctChange.GreaterThan(rm.cfg.KillSwitchDropPct) {
		rm.emitKill(&report.Symbol, fmt.Sprintf(
			"rapid price movement: %s%% in %s",
			pctChange.Mul(decimal.NewFromInt(100)).StringFixed(1), rm.cfg.KillSwitchWindow,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal to the runtime host. If the kill channel is full, it drains
// the stale signal first to ensure the latest kill reason is always
// delivered.
func (rm *Manager) emitKill(sym *domain.Symbol, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)
	rm.killSwitchSymbol = sym

	rm.logger.Error("KILL SWITCH", "symbol", symbolOrAll(sym), "reason", reason, "cooldown_until", rm.killSwitchUntil)

	sig := KillSignal{Symbol: sym, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}

func symbolOrAll(sym *domain.Symbol) string {
	if sym == nil {
		return "ALL"
	}
	return sym.String()
}

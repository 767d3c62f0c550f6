package api

import (
	"time"

	"github.com/zeroquant/zeroquant/internal/config"
)

// DashboardSnapshot represents the complete dashboard state: every open
// position across the universe, aggregate risk posture, and the
// configuration the running process was started with.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Positions []PositionStatus `json:"positions"`

	TotalRealized   float64 `json:"total_realized"`
	TotalUnrealized float64 `json:"total_unrealized"`
	TotalPnL        float64 `json:"total_pnl"`

	Risk   RiskSnapshot  `json:"risk"`
	Config ConfigSummary `json:"config"`
}

// PositionStatus represents one open position, marked to the latest tick.
type PositionStatus struct {
	Symbol        string  `json:"symbol"`
	GroupID       string  `json:"group_id,omitempty"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	AvgEntry      float64 `json:"avg_entry"`
	MarkPrice     float64 `json:"mark_price"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// RiskSnapshot mirrors risk.Snapshot in JSON-friendly types.
type RiskSnapshot struct {
	GlobalExposure       float64   `json:"global_exposure"`
	MaxGlobalExposure    float64   `json:"max_global_exposure"`
	ExposurePct          float64   `json:"exposure_pct"`
	KillSwitchActive     bool      `json:"kill_switch_active"`
	KillSwitchUntil      time.Time `json:"kill_switch_until,omitempty"`
	KillSwitchReason     string    `json:"kill_switch_reason,omitempty"`
	TotalRealizedPnL     float64   `json:"total_realized_pnl"`
	TotalUnrealizedPnL   float64   `json:"total_unrealized_pnl"`
	MaxPositionPerSymbol float64   `json:"max_position_per_symbol"`
	MaxDailyLoss         float64   `json:"max_daily_loss"`
	MaxMarketsActive     int       `json:"max_markets_active"`
	CurrentSymbolsActive int       `json:"current_symbols_active"`
}

// ConfigSummary surfaces the read-only parts of config.Config worth
// showing on a dashboard: what's running, not every credential field.
type ConfigSummary struct {
	DryRun           bool     `json:"dry_run"`
	ExchangeProvider string   `json:"exchange_provider"`
	Strategy         string   `json:"strategy"`
	Universe         []string `json:"universe"`
}

// NewConfigSummary creates a config summary from config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		DryRun:           cfg.DryRun,
		ExchangeProvider: cfg.Exchange.Provider,
		Strategy:         cfg.Strategy.Name,
		Universe:         cfg.Universe,
	}
}

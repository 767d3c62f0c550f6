package domain

import "github.com/shopspring/decimal"

// StopLossKind selects how a StopLoss rule's trigger distance is computed.
type StopLossKind string

const (
	StopLossFixedPct StopLossKind = "FIXED_PCT"
	StopLossATR      StopLossKind = "ATR_MULTIPLE"
)

type StopLossRule struct {
	Enabled bool
	Kind    StopLossKind
	Pct     decimal.Decimal // used when Kind == FixedPct
	ATRMult decimal.Decimal // used when Kind == ATRMultiple
}

type TakeProfitRule struct {
	Enabled bool
	Pct     decimal.Decimal
}

// TrailingStopKind selects the trailing-stop algorithm.
type TrailingStopKind string

const (
	TrailingFixedPct     TrailingStopKind = "FIXED_PCT"
	TrailingATRBased     TrailingStopKind = "ATR_BASED"
	TrailingStepLadder   TrailingStopKind = "STEP_LADDER"
	TrailingParabolicSAR TrailingStopKind = "PARABOLIC_SAR"
)

type TrailingStopRule struct {
	Enabled     bool
	Kind        TrailingStopKind
	TriggerPct  decimal.Decimal // price must move this % in favour before the trail arms
	StopPct     decimal.Decimal // retracement from high-water mark that fires the exit
	ATRMult     decimal.Decimal // used when Kind == ATRBased
	StepPct     decimal.Decimal // ladder step size, used when Kind == StepLadder
	SARAccel    decimal.Decimal // acceleration factor, used when Kind == ParabolicSAR
	SARMaxAccel decimal.Decimal
}

type ProfitLockRule struct {
	Enabled        bool
	ThresholdPct   decimal.Decimal // unrealized gain % that arms the lock
	LockPct        decimal.Decimal // minimum gain % protected once armed
}

type DailyLossLimitRule struct {
	Enabled    bool
	MaxLossPct decimal.Decimal // fraction of starting equity, e.g. 0.03 for 3%
}

// ExitConfig is a per-strategy configuration of exit/risk rules, fixed at
// strategy initialisation and immutable thereafter.
type ExitConfig struct {
	StopLoss             StopLossRule
	TakeProfit           TakeProfitRule
	TrailingStop         TrailingStopRule
	ProfitLock           ProfitLockRule
	DailyLossLimit       DailyLossLimitRule
	ExitOnOppositeSignal bool
}

package maker

import (
	"math"
	"sync"
	"time"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// ToxicityMetrics carries the calculated adverse-selection indicators a
// market maker widens its spread in response to.
type ToxicityMetrics struct {
	DirectionalImbalance float64 // [0, 1]: fraction of fills in the dominant direction
	FillVelocity         float64 // fills per minute
	ToxicityScore        float64 // [0, 1]: composite toxicity score
	IsAverse             bool    // true if flow looks adversely selected
}

// FlowTracker watches recent fills in a rolling time window to detect
// toxic flow: a run of fills consistently on one side suggests an
// informed counterparty picking off stale quotes just ahead of a move,
// and the response is to widen quoted spread rather than keep quoting
// tight into it.
type FlowTracker struct {
	mu sync.RWMutex

	windowDuration time.Duration
	fills          []Fill

	toxicityThreshold float64
	cooldownPeriod    time.Duration
	maxSpreadMultiple float64

	lastToxicTime time.Time
}

func NewFlowTracker(windowDuration time.Duration, toxicityThreshold float64, cooldownPeriod time.Duration, maxSpreadMultiple float64) *FlowTracker {
	return &FlowTracker{
		windowDuration:    windowDuration,
		fills:             make([]Fill, 0, 64),
		toxicityThreshold: toxicityThreshold,
		cooldownPeriod:    cooldownPeriod,
		maxSpreadMultiple: maxSpreadMultiple,
	}
}

// AddFill records a new fill and evicts entries that have aged out of the
// window.
func (ft *FlowTracker) AddFill(fill Fill) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.fills = append(ft.fills, fill)
	ft.evictStaleLocked()
}

func (ft *FlowTracker) evictStaleLocked() {
	if len(ft.fills) == 0 {
		return
	}

	cutoff := time.Now().Add(-ft.windowDuration)
	validIdx := -1
	for i, fill := range ft.fills {
		if fill.Timestamp.After(cutoff) {
			validIdx = i
			break
		}
	}

	if validIdx == -1 {
		ft.fills = ft.fills[:0]
		return
	}
	if validIdx > 0 {
		ft.fills = ft.fills[validIdx:]
	}
}

// CalculateToxicity computes adverse-selection metrics from the fills
// currently inside the window.
func (ft *FlowTracker) CalculateToxicity() ToxicityMetrics {
	ft.mu.Lock()
	ft.evictStaleLocked()
	ft.mu.Unlock()

	ft.mu.RLock()
	defer ft.mu.RUnlock()

	if len(ft.fills) == 0 {
		return ToxicityMetrics{}
	}

	var buyCount, sellCount int
	for _, fill := range ft.fills {
		if fill.Side == domain.SideBuy {
			buyCount++
		} else {
			sellCount++
		}
	}

	totalFills := len(ft.fills)
	dominant := math.Max(float64(buyCount), float64(sellCount))
	directionalImbalance := dominant / float64(totalFills)

	if len(ft.fills) < 2 {
		return ToxicityMetrics{
			DirectionalImbalance: directionalImbalance,
			ToxicityScore:        directionalImbalance * 0.6,
			IsAverse:             directionalImbalance > ft.toxicityThreshold,
		}
	}

	windowMinutes := ft.windowDuration.Minutes()
	fillVelocity := float64(totalFills) / windowMinutes
	velocityFactor := math.Min(fillVelocity/3.0, 1.0)

	toxicityScore := 0.6*directionalImbalance + 0.4*velocityFactor

	return ToxicityMetrics{
		DirectionalImbalance: directionalImbalance,
		FillVelocity:         fillVelocity,
		ToxicityScore:        toxicityScore,
		IsAverse:             toxicityScore > ft.toxicityThreshold,
	}
}

// GetSpreadMultiplier returns the multiplier the current toxicity state
// calls for: 1.0 under normal flow, ramping toward maxSpreadMultiple while
// toxic and decaying back to 1.0 over the cooldown period afterward.
func (ft *FlowTracker) GetSpreadMultiplier() float64 {
	metrics := ft.CalculateToxicity()

	if metrics.IsAverse {
		ft.mu.Lock()
		ft.lastToxicTime = time.Now()
		ft.mu.Unlock()
	}

	ft.mu.RLock()
	inCooldown := time.Since(ft.lastToxicTime) < ft.cooldownPeriod
	ft.mu.RUnlock()

	if !metrics.IsAverse && !inCooldown {
		return 1.0
	}

	if metrics.ToxicityScore < ft.toxicityThreshold {
		timeSinceToxic := time.Since(ft.lastToxicTime).Seconds()
		cooldownSeconds := ft.cooldownPeriod.Seconds()
		cooldownProgress := math.Min(timeSinceToxic/cooldownSeconds, 1.0)
		return 1.0 + (ft.maxSpreadMultiple-1.0)*(1.0-cooldownProgress)
	}

	normalizedScore := (metrics.ToxicityScore - ft.toxicityThreshold) / (1.0 - ft.toxicityThreshold)
	return 1.0 + (ft.maxSpreadMultiple-1.0)*math.Min(normalizedScore*2.0, 1.0)
}

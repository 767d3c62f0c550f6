package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/config"
	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/processor"
	"github.com/zeroquant/zeroquant/internal/risk"
)

// MarketSnapshotProvider supplies the live state BuildSnapshot renders.
// runtime.Host satisfies this directly: Processor, Risk and Marks are all
// dashboard/API read-access accessors it already exposes.
type MarketSnapshotProvider interface {
	Processor() *processor.Processor
	Risk() *risk.Manager
	Marks() map[domain.Symbol]decimal.Decimal
}

// BuildSnapshot aggregates state from the processor and risk manager into
// a dashboard snapshot.
func BuildSnapshot(provider MarketSnapshotProvider, cfg config.Config) DashboardSnapshot {
	proc := provider.Processor()
	marks := provider.Marks()

	positions := proc.AllPositions()
	statuses := make([]PositionStatus, 0, len(positions))

	var totalRealized, totalUnrealized float64
	for _, pos := range positions {
		mark := pos.WeightedAvgEntry
		if m, ok := marks[pos.Key.Symbol]; ok {
			mark = m
		}
		unrealized := pos.UnrealizedPnL(mark)

		statuses = append(statuses, PositionStatus{
			Symbol:        pos.Key.Symbol.String(),
			GroupID:       pos.GroupID,
			Side:          string(pos.Side),
			Quantity:      pos.Quantity.InexactFloat64(),
			AvgEntry:      pos.WeightedAvgEntry.InexactFloat64(),
			MarkPrice:     mark.InexactFloat64(),
			RealizedPnL:   pos.RealizedPnL.InexactFloat64(),
			UnrealizedPnL: unrealized.InexactFloat64(),
		})

		totalRealized += pos.RealizedPnL.InexactFloat64()
		totalUnrealized += unrealized.InexactFloat64()
	}

	return DashboardSnapshot{
		Timestamp:       time.Now(),
		Positions:       statuses,
		TotalRealized:   totalRealized,
		TotalUnrealized: totalUnrealized,
		TotalPnL:        totalRealized + totalUnrealized,
		Risk:            convertRiskSnapshot(provider.Risk().GetSnapshot()),
		Config:          NewConfigSummary(cfg),
	}
}

func convertRiskSnapshot(snap risk.Snapshot) RiskSnapshot {
	return RiskSnapshot{
		GlobalExposure:       snap.GlobalExposure.InexactFloat64(),
		MaxGlobalExposure:    snap.MaxGlobalExposure.InexactFloat64(),
		ExposurePct:          snap.ExposurePct.InexactFloat64(),
		KillSwitchActive:     snap.KillSwitchActive,
		KillSwitchUntil:      snap.KillSwitchUntil,
		KillSwitchReason:     snap.KillSwitchReason,
		TotalRealizedPnL:     snap.TotalRealizedPnL.InexactFloat64(),
		TotalUnrealizedPnL:   snap.TotalUnrealizedPnL.InexactFloat64(),
		MaxPositionPerSymbol: snap.MaxPositionPerSymbol.InexactFloat64(),
		MaxDailyLoss:         snap.MaxDailyLoss.InexactFloat64(),
		MaxMarketsActive:     snap.MaxMarketsActive,
		CurrentSymbolsActive: snap.CurrentSymbolsActive,
	}
}

package main

import (
	"github.com/zeroquant/zeroquant/internal/strategy"
	"github.com/zeroquant/zeroquant/internal/strategy/grid"
	"github.com/zeroquant/zeroquant/internal/strategy/maker"
	"github.com/zeroquant/zeroquant/internal/strategy/rsi"
)

// buildRegistry populates the process-wide strategy catalogue. New
// strategies are added here and nowhere else (spec §8: no dynamic
// registration at runtime).
func buildRegistry() *strategy.Registry {
	reg := strategy.NewRegistry()
	reg.Register("rsi", "RSI mean reversion", rsi.Config{}, rsi.New)
	reg.Register("grid", "Static buy-the-dip grid", grid.Config{}, grid.New)
	reg.Register("maker", "Avellaneda-Stoikov market maker", maker.Config{}, maker.New)
	return reg
}

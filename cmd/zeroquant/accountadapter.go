package main

import (
	"context"
	"fmt"
	"time"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/exchange"
)

// providerAccountRepository satisfies analytics.AccountRepository by
// composing exchange.Provider's separate AccountInfo/Positions/PendingOrders
// calls into one AccountState snapshot, the live-mode counterpart to
// internal/backtest.Engine's own buildContext assembling the same shape
// from the simulated processor.
//
// Constraints carries a single representative ExchangeConstraints value
// (the first configured universe symbol's), matching the one-constraints-
// field shape AccountState already has for the backtest engine; a strategy
// needing a different symbol's constraints calls
// exchange.Provider.ExchangeConstraints directly through the processor.
type providerAccountRepository struct {
	provider   exchange.Provider
	primarySym domain.Symbol
}

func newAccountRepository(provider exchange.Provider, primarySym domain.Symbol) *providerAccountRepository {
	return &providerAccountRepository{provider: provider, primarySym: primarySym}
}

func (a *providerAccountRepository) FetchAccount(ctx context.Context) (domain.AccountState, error) {
	info, err := a.provider.AccountInfo(ctx)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("account info: %w", err)
	}
	positions, err := a.provider.Positions(ctx)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("positions: %w", err)
	}
	pending, err := a.provider.PendingOrders(ctx)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("pending orders: %w", err)
	}
	constraints, err := a.provider.ExchangeConstraints(ctx, a.primarySym)
	if err != nil {
		return domain.AccountState{}, fmt.Errorf("exchange constraints: %w", err)
	}

	return domain.AccountState{
		Cash:          info.Cash,
		TotalEquity:   info.TotalEquity,
		Currency:      info.Currency,
		Positions:     positions,
		PendingOrders: pending,
		Constraints:   constraints,
		AsOf:          time.Now().UTC(),
	}, nil
}

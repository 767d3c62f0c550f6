// Package exchange defines the Provider capability trait (spec §4.2) and
// its production implementations: krbroker (KR equities brokerage) and
// cryptospot (crypto spot exchange). There is no mock Provider:
// internal/mockexchange implements processor.Executor instead. Both
// implementations share this package's RestClient and its circuit breaker;
// the WithRetry backoff wrapper is applied by callers. Generalized from the
// teacher's resty-based REST client and rate limiter.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/zeroquant/zeroquant/internal/domain"
)

// Provider is the uniform capability set every exchange implementation
// satisfies. It is clonable and reference-counted in spirit: implementations
// hold no hidden global state, and credentials are injected at construction.
type Provider interface {
	AccountInfo(ctx context.Context) (domain.AccountInfo, error)
	Positions(ctx context.Context) ([]domain.PositionInfo, error)
	PendingOrders(ctx context.Context) ([]domain.PendingOrder, error)
	ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error)

	SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error)
	FilledQuantity(ctx context.Context, orderID string) (decimal.Decimal, error)

	Ticker(ctx context.Context, sym domain.Symbol) (domain.Quote, error)
	OrderBook(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error)
}

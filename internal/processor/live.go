package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/exchange"
)

// NewLive constructs a Processor whose Executor submits to a real
// exchange.Provider and waits for fill confirmation before the caller's
// local state mutates, per spec §4.5: "state and exchange state must never
// diverge due to optimistic local updates."
func NewLive(provider exchange.Provider, routes RouteStateLookup, sizing SizingRule, startingBalance decimal.Decimal, logger *slog.Logger) *Processor {
	exec := &LiveExecutor{provider: provider, logger: logger}
	return newProcessor(exec, exec, routes, sizing, startingBalance, logger)
}

// LiveExecutor wraps an exchange.Provider as a processor.Executor. It also
// implements ConstraintsLookup by delegating straight through, since the
// provider is already the authority on its own tick/lot rules.
type LiveExecutor struct {
	provider exchange.Provider
	logger   *slog.Logger

	// pollInterval/maxPolls bound how long Execute waits for a submitted
	// order to reach a terminal status before returning it as Pending for
	// the processor to track like any other resting order.
	pollInterval time.Duration
	maxPolls     int
}

func (e *LiveExecutor) ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error) {
	return e.provider.ExchangeConstraints(ctx, sym)
}

func (e *LiveExecutor) pollWait() time.Duration {
	if e.pollInterval > 0 {
		return e.pollInterval
	}
	return 250 * time.Millisecond
}

func (e *LiveExecutor) pollBudget() int {
	if e.maxPolls > 0 {
		return e.maxPolls
	}
	return 20
}

// Execute submits the order, then polls OrderStatus until the order reports
// Filled (returned as a Trade of FilledQuantity at the average fill price)
// or Cancelled (returned as an ErrInvalidOrder error). If the poll budget
// is exhausted first, including for a partially filled order that is
// still open, it is returned as a Pending order for the caller to track
// and re-poll later.
func (e *LiveExecutor) Execute(ctx context.Context, req domain.OrderRequest) (ExecutionResult, error) {
	var orderID string
	err := exchange.WithRetry(ctx, e.logger, 3, func(ctx context.Context) error {
		id, err := e.provider.SubmitOrder(ctx, req)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("submit order: %w", err)
	}

	for attempt := 0; attempt < e.pollBudget(); attempt++ {
		status, err := e.provider.OrderStatus(ctx, orderID)
		if err != nil {
			return ExecutionResult{}, fmt.Errorf("order status: %w", err)
		}
		if status.Status == domain.OrderStatusFilled {
			filled, err := e.provider.FilledQuantity(ctx, orderID)
			if err != nil {
				return ExecutionResult{}, fmt.Errorf("filled quantity: %w", err)
			}
			trade := &domain.TradeResult{
				Symbol:      req.Symbol,
				PositionKey: req.PositionKey,
				GroupID:     req.GroupID,
				Side:        req.Side,
				Quantity:    filled,
				FillPrice:   status.AvgFillPrice,
				Timestamp:   time.Now(),
			}
			return ExecutionResult{Trade: trade}, nil
		}
		if status.Status == domain.OrderStatusCancelled {
			return ExecutionResult{}, fmt.Errorf("%w: order %s was cancelled before filling", domain.ErrInvalidOrder, orderID)
		}

		select {
		case <-ctx.Done():
			return ExecutionResult{}, ctx.Err()
		case <-time.After(e.pollWait()):
		}
	}

	// Still open after the poll budget: hand it back as a pending order so
	// the caller tracks reservation and re-checks status on a later cycle
	// instead of blocking the strategy loop indefinitely.
	status, err := e.provider.OrderStatus(ctx, orderID)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("order status: %w", err)
	}
	pending := &domain.PendingOrder{
		OrderID:           orderID,
		Symbol:            req.Symbol,
		PositionKey:       req.PositionKey,
		GroupID:           req.GroupID,
		Side:              req.Side,
		Type:              req.Type,
		Quantity:          req.Quantity,
		RemainingQuantity: status.RemainingQuantity,
		Price:             req.Price,
		StopPrice:         req.StopPrice,
		Status:            status.Status,
	}
	return ExecutionResult{Pending: pending}, nil
}

func (e *LiveExecutor) CancelOrder(ctx context.Context, orderID string) error {
	return e.provider.CancelOrder(ctx, orderID)
}

var _ Executor = (*LiveExecutor)(nil)
var _ ConstraintsLookup = (*LiveExecutor)(nil)

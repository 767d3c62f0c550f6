package mockexchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/processor"
)

// ConstraintsLookup resolves the tick/lot/commission schedule for a symbol,
// used both to round synthetic book levels and to price commission.
type ConstraintsLookup interface {
	ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error)
}

// Persistence is the event-sourced write sink the mock exchange calls on
// every fill and every pending-order mutation, per spec §4.6 ("mock
// exchange state is persisted at every fill"). internal/store supplies the
// SQLite-backed implementation; nil is accepted for tests and short-lived
// strategy-test runs that do not need crash recovery.
type Persistence interface {
	RecordFill(ctx context.Context, credentialID string, trade domain.TradeResult) error
	RecordPendingOrder(ctx context.Context, credentialID string, order domain.PendingOrder) error
	RemovePendingOrder(ctx context.Context, credentialID, orderID string) error
}

// Exchange is a simulated matching engine: an internal/processor.Executor
// implementation that matches orders against a synthetic order book
// regenerated around the latest mark price on every tick, instead of
// talking to a real venue. One Exchange instance serves one credential.
type Exchange struct {
	credentialID string
	constraints  ConstraintsLookup
	slippage     SlippageModel
	baseVolume   decimal.Decimal
	persistence  Persistence
	logger       *slog.Logger

	mu      sync.Mutex
	marks   map[domain.Symbol]decimal.Decimal
	pending map[string]*domain.PendingOrder
}

func NewExchange(credentialID string, constraints ConstraintsLookup, slippage SlippageModel, baseVolume decimal.Decimal, persistence Persistence, logger *slog.Logger) *Exchange {
	return &Exchange{
		credentialID: credentialID,
		constraints:  constraints,
		slippage:     slippage,
		baseVolume:   baseVolume,
		persistence:  persistence,
		logger:       logger,
		marks:        make(map[domain.Symbol]decimal.Decimal),
		pending:      make(map[string]*domain.PendingOrder),
	}
}

// SetMark updates the current reference price a symbol's synthetic book is
// generated around. Called by the driving loop (paper trading poll or
// backtest candle step) after every simulated tick, before ProcessTick
// evaluates resting orders against it.
func (e *Exchange) SetMark(sym domain.Symbol, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marks[sym] = price
}

func (e *Exchange) markFor(sym domain.Symbol) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.marks[sym]
	return m, ok
}

// Execute implements processor.Executor. Market orders match immediately
// against the synthetic book; marketable limit orders match immediately at
// the better of (limit price, prevailing top); everything else is enqueued
// as a pending order with cash reserved against it.
func (e *Exchange) Execute(ctx context.Context, req domain.OrderRequest) (processor.ExecutionResult, error) {
	mid, ok := e.markFor(req.Symbol)
	if !ok {
		return processor.ExecutionResult{}, fmt.Errorf("%w: no mark price set for %s", domain.ErrMarketClosed, req.Symbol)
	}
	constraints, err := e.constraints.ExchangeConstraints(ctx, req.Symbol)
	if err != nil {
		return processor.ExecutionResult{}, fmt.Errorf("constraints lookup: %w", err)
	}
	book := GenerateOrderBook(req.Symbol, mid, constraints, e.baseVolume)

	switch req.Type {
	case domain.OrderMarket:
		return e.matchImmediately(ctx, req, book, constraints, decimal.Zero, false)
	case domain.OrderLimit:
		if marketable(req, book) {
			return e.matchImmediately(ctx, req, book, constraints, req.Price, true)
		}
		return e.enqueuePending(ctx, req, constraints)
	case domain.OrderStop, domain.OrderStopLimit:
		return e.enqueuePending(ctx, req, constraints)
	default:
		return processor.ExecutionResult{}, fmt.Errorf("%w: unsupported order type %s", domain.ErrInvalidOrder, req.Type)
	}
}

// marketable reports whether a limit order would cross the book
// immediately: a buy at or above the best ask, a sell at or below the best
// bid.
func marketable(req domain.OrderRequest, book domain.OrderBook) bool {
	if req.Side == domain.SideBuy {
		return len(book.Asks) > 0 && req.Price.GreaterThanOrEqual(book.Asks[0].Price)
	}
	return len(book.Bids) > 0 && req.Price.LessThanOrEqual(book.Bids[0].Price)
}

func (e *Exchange) matchImmediately(ctx context.Context, req domain.OrderRequest, book domain.OrderBook, constraints domain.ExchangeConstraints, limitPrice decimal.Decimal, hasLimit bool) (processor.ExecutionResult, error) {
	levels := book.Asks
	if req.Side == domain.SideSell {
		levels = book.Bids
	}

	vwap, filled, _ := walkBook(levels, req.Quantity, req.Side, limitPrice, hasLimit)
	if filled.IsZero() {
		return processor.ExecutionResult{}, fmt.Errorf("%w: no liquidity available for %s", domain.ErrInvalidOrder, req.Symbol)
	}

	adjusted, slipApplied := applySlippage(e.slippage, vwap, filled, req.Side)
	commission := adjusted.Mul(filled).Mul(constraints.CommissionRate)

	trade := domain.TradeResult{
		Symbol:          req.Symbol,
		PositionKey:     req.PositionKey,
		GroupID:         req.GroupID,
		Side:            req.Side,
		Quantity:        filled,
		FillPrice:       adjusted,
		Commission:      commission,
		SlippageApplied: slipApplied,
		Partial:         filled.LessThan(req.Quantity),
		Timestamp:       time.Now(),
	}

	if e.persistence != nil {
		if err := e.persistence.RecordFill(ctx, e.credentialID, trade); err != nil {
			e.logger.Warn("mock exchange: failed to persist fill", "error", err, "symbol", req.Symbol)
		}
	}

	return processor.ExecutionResult{Trade: &trade}, nil
}

// enqueuePending reserves cash per spec §4.6's reservation formula —
// max_buy_cost = price x quantity x (1 + fee_rate + max_slippage) — and
// tracks the order for later matching by ProcessTick or explicit
// cancellation.
func (e *Exchange) enqueuePending(ctx context.Context, req domain.OrderRequest, constraints domain.ExchangeConstraints) (processor.ExecutionResult, error) {
	reserved := decimal.Zero
	if req.Side == domain.SideBuy {
		maxSlippage := maxSlippageFraction(e.slippage)
		reserved = req.Price.Mul(req.Quantity).Mul(decimal.NewFromInt(1).Add(constraints.CommissionRate).Add(maxSlippage))
	}

	order := domain.PendingOrder{
		OrderID:           uuid.NewString(),
		Symbol:            req.Symbol,
		PositionKey:       req.PositionKey,
		GroupID:           req.GroupID,
		Side:              req.Side,
		Type:              req.Type,
		Quantity:          req.Quantity,
		RemainingQuantity: req.Quantity,
		Price:             req.Price,
		StopPrice:         req.StopPrice,
		ReservedCash:      reserved,
		Status:            domain.OrderStatusOpen,
	}

	e.mu.Lock()
	e.pending[order.OrderID] = &order
	e.mu.Unlock()

	if e.persistence != nil {
		if err := e.persistence.RecordPendingOrder(ctx, e.credentialID, order); err != nil {
			e.logger.Warn("mock exchange: failed to persist pending order", "error", err, "order_id", order.OrderID)
		}
	}

	return processor.ExecutionResult{Pending: &order}, nil
}

// CancelOrder implements processor.Executor.
func (e *Exchange) CancelOrder(ctx context.Context, orderID string) error {
	e.mu.Lock()
	order, ok := e.pending[orderID]
	if ok {
		delete(e.pending, orderID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if e.persistence != nil {
		if err := e.persistence.RemovePendingOrder(ctx, e.credentialID, order.OrderID); err != nil {
			e.logger.Warn("mock exchange: failed to persist cancellation", "error", err, "order_id", orderID)
		}
	}
	return nil
}

// PendingReservedTotal sums ReservedCash across all resting orders, used by
// the §8 invariant-5 checker (Σ pending_order.reserved_cash == reserved).
func (e *Exchange) PendingReservedTotal() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := decimal.Zero
	for _, o := range e.pending {
		total = total.Add(o.ReservedCash)
	}
	return total
}

// ProcessTick re-evaluates every resting limit/stop order for sym against
// the latest mark, converting triggered stops to market orders and filling
// any limit order the new mark crosses. Returns the fills produced; each
// filled order is removed from the pending set here, which releases its
// reservation.
func (e *Exchange) ProcessTick(ctx context.Context, sym domain.Symbol, mark decimal.Decimal, constraints domain.ExchangeConstraints) []domain.TradeResult {
	e.SetMark(sym, mark)

	e.mu.Lock()
	var candidates []*domain.PendingOrder
	for _, o := range e.pending {
		if o.Symbol == sym {
			candidates = append(candidates, o)
		}
	}
	e.mu.Unlock()

	var fills []domain.TradeResult
	for _, o := range candidates {
		trade, filled := e.tryFillResting(ctx, o, mark, constraints)
		if !filled {
			continue
		}
		fills = append(fills, trade)
		e.mu.Lock()
		delete(e.pending, o.OrderID)
		e.mu.Unlock()
		if e.persistence != nil {
			if err := e.persistence.RecordFill(ctx, e.credentialID, trade); err != nil {
				e.logger.Warn("mock exchange: failed to persist resting fill", "error", err, "order_id", o.OrderID)
			}
			if err := e.persistence.RemovePendingOrder(ctx, e.credentialID, o.OrderID); err != nil {
				e.logger.Warn("mock exchange: failed to persist pending-order removal", "error", err, "order_id", o.OrderID)
			}
		}
	}
	return fills
}

// tryFillResting fills a resting order at the better of (its own price, the
// prevailing opposite-side top), per spec §4.6's limit-order matching rule.
// Stop orders breach into a market fill at the current mark.
func (e *Exchange) tryFillResting(ctx context.Context, o *domain.PendingOrder, mark decimal.Decimal, constraints domain.ExchangeConstraints) (domain.TradeResult, bool) {
	var fillPrice decimal.Decimal
	switch o.Type {
	case domain.OrderLimit:
		if o.Side == domain.SideBuy {
			if mark.GreaterThan(o.Price) {
				return domain.TradeResult{}, false
			}
			fillPrice = decimal.Min(o.Price, mark)
		} else {
			if mark.LessThan(o.Price) {
				return domain.TradeResult{}, false
			}
			fillPrice = decimal.Max(o.Price, mark)
		}
	case domain.OrderStop, domain.OrderStopLimit:
		breached := (o.Side == domain.SideBuy && mark.GreaterThanOrEqual(o.StopPrice)) ||
			(o.Side == domain.SideSell && mark.LessThanOrEqual(o.StopPrice))
		if !breached {
			return domain.TradeResult{}, false
		}
		fillPrice = mark
	default:
		return domain.TradeResult{}, false
	}

	adjusted, slipApplied := applySlippage(e.slippage, fillPrice, o.RemainingQuantity, o.Side)
	commission := adjusted.Mul(o.RemainingQuantity).Mul(constraints.CommissionRate)

	trade := domain.TradeResult{
		OrderID:         o.OrderID,
		Symbol:          o.Symbol,
		PositionKey:     o.PositionKey,
		GroupID:         o.GroupID,
		Side:            o.Side,
		Quantity:        o.RemainingQuantity,
		FillPrice:       adjusted,
		Commission:      commission,
		SlippageApplied: slipApplied,
		Timestamp:       time.Now(),
	}
	return trade, true
}

// maxSlippageFraction reports the worst-case slippage fraction a model can
// apply, used to size the reservation conservatively. Only FixedFraction
// and TieredSlippage expose a fraction directly; the other models are
// bounded by their own inputs (ATR, configured impact) rather than a flat
// fraction, so a small fixed buffer stands in for them.
func maxSlippageFraction(model SlippageModel) decimal.Decimal {
	switch m := model.(type) {
	case FixedFractionSlippage:
		return m.Fraction
	case TieredSlippage:
		max := decimal.Zero
		for _, b := range m.Brackets {
			if b.Fraction.GreaterThan(max) {
				max = b.Fraction
			}
		}
		return max
	default:
		return decimal.NewFromFloat(0.01)
	}
}

var _ processor.Executor = (*Exchange)(nil)

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
)

// ExchangeStore implements mockexchange.Persistence: every fill and every
// pending-order mutation lands here so a crashed paper or live session can
// reconstruct its open orders on restart.
type ExchangeStore struct {
	db *sql.DB
}

func (s *Store) Exchange() *ExchangeStore {
	return &ExchangeStore{db: s.db}
}

// RecordFill appends one completed trade to the fill log. The log is
// append-only; nothing here ever updates or deletes a fill row.
func (e *ExchangeStore) RecordFill(ctx context.Context, credentialID string, trade domain.TradeResult) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO trade_fills (
			order_id, credential_id, symbol, market, position_id, group_id, side,
			quantity, fill_price, commission, slippage_applied, realized_pnl,
			has_realized_pnl, partial, signal_kind, route_state_at_fill, ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		trade.OrderID, credentialID, trade.Symbol.Ticker, string(trade.Symbol.Market),
		trade.PositionKey.PositionID, trade.GroupID, string(trade.Side),
		trade.Quantity.String(), trade.FillPrice.String(), trade.Commission.String(),
		trade.SlippageApplied.String(), trade.RealizedPnL.String(),
		trade.HasRealizedPnL, trade.Partial, string(trade.SignalKind), string(trade.RouteStateAtFill),
		trade.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record fill %s: %w", trade.OrderID, err)
	}
	return nil
}

// RecordPendingOrder upserts the current state of an open or partially
// filled order, keyed by (credential, order id).
func (e *ExchangeStore) RecordPendingOrder(ctx context.Context, credentialID string, order domain.PendingOrder) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO pending_orders (
			order_id, credential_id, symbol, market, position_id, group_id, side,
			order_type, quantity, remaining_quantity, price, stop_price, reserved_cash, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(credential_id, order_id) DO UPDATE SET
			remaining_quantity = excluded.remaining_quantity,
			status = excluded.status,
			reserved_cash = excluded.reserved_cash
	`,
		order.OrderID, credentialID, order.Symbol.Ticker, string(order.Symbol.Market),
		order.PositionKey.PositionID, order.GroupID, string(order.Side),
		string(order.Type), order.Quantity.String(), order.RemainingQuantity.String(),
		order.Price.String(), order.StopPrice.String(), order.ReservedCash.String(), string(order.Status),
	)
	if err != nil {
		return fmt.Errorf("record pending order %s: %w", order.OrderID, err)
	}
	return nil
}

// RemovePendingOrder deletes a resolved (filled or cancelled) order from the
// open-orders table; its terminal fill, if any, already lives in trade_fills.
func (e *ExchangeStore) RemovePendingOrder(ctx context.Context, credentialID, orderID string) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM pending_orders WHERE credential_id = ? AND order_id = ?`, credentialID, orderID)
	if err != nil {
		return fmt.Errorf("remove pending order %s: %w", orderID, err)
	}
	return nil
}

// LoadPendingOrders reconstructs every open order for a credential on
// startup, the recovery path RecordPendingOrder/RemovePendingOrder exist for.
func (e *ExchangeStore) LoadPendingOrders(ctx context.Context, credentialID string) ([]domain.PendingOrder, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT order_id, symbol, market, position_id, group_id, side, order_type,
			quantity, remaining_quantity, price, stop_price, reserved_cash, status
		FROM pending_orders WHERE credential_id = ?
	`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("load pending orders: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingOrder
	for rows.Next() {
		var o domain.PendingOrder
		var ticker, market, side, orderType, status string
		var quantity, remaining, price, stopPrice, reserved string
		if err := rows.Scan(&o.OrderID, &ticker, &market, &o.PositionKey.PositionID, &o.GroupID,
			&side, &orderType, &quantity, &remaining, &price, &stopPrice, &reserved, &status); err != nil {
			return nil, fmt.Errorf("scan pending order row: %w", err)
		}
		o.Symbol = domain.Symbol{Ticker: ticker, Market: domain.Market(market)}
		o.PositionKey.Symbol = o.Symbol
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(orderType)
		o.Status = domain.OrderStatusKind(status)
		if o.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("decode quantity: %w", err)
		}
		if o.RemainingQuantity, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("decode remaining quantity: %w", err)
		}
		if o.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("decode price: %w", err)
		}
		if o.StopPrice, err = decimal.NewFromString(stopPrice); err != nil {
			return nil, fmt.Errorf("decode stop price: %w", err)
		}
		if o.ReservedCash, err = decimal.NewFromString(reserved); err != nil {
			return nil, fmt.Errorf("decode reserved cash: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecentFills returns the most recent fills for a credential, newest first;
// used by the API surface to render a trade history without replaying the
// whole event log.
func (e *ExchangeStore) RecentFills(ctx context.Context, credentialID string, limit int) ([]domain.TradeResult, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT order_id, symbol, market, position_id, group_id, side, quantity,
			fill_price, commission, slippage_applied, realized_pnl, has_realized_pnl,
			partial, signal_kind, route_state_at_fill, ts
		FROM trade_fills WHERE credential_id = ? ORDER BY ts DESC LIMIT ?
	`, credentialID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent fills: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeResult
	for rows.Next() {
		var t domain.TradeResult
		var ticker, market, side, signalKind, routeState string
		var quantity, fillPrice, commission, slippage, realizedPnL string
		var tsNano int64
		if err := rows.Scan(&t.OrderID, &ticker, &market, &t.PositionKey.PositionID, &t.GroupID,
			&side, &quantity, &fillPrice, &commission, &slippage, &realizedPnL,
			&t.HasRealizedPnL, &t.Partial, &signalKind, &routeState, &tsNano); err != nil {
			return nil, fmt.Errorf("scan trade fill row: %w", err)
		}
		t.Symbol = domain.Symbol{Ticker: ticker, Market: domain.Market(market)}
		t.PositionKey.Symbol = t.Symbol
		t.Side = domain.Side(side)
		t.SignalKind = domain.SignalKind(signalKind)
		t.RouteStateAtFill = domain.RouteState(routeState)
		t.Timestamp = unixNanoUTC(tsNano)
		if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("decode quantity: %w", err)
		}
		if t.FillPrice, err = decimal.NewFromString(fillPrice); err != nil {
			return nil, fmt.Errorf("decode fill price: %w", err)
		}
		if t.Commission, err = decimal.NewFromString(commission); err != nil {
			return nil, fmt.Errorf("decode commission: %w", err)
		}
		if t.SlippageApplied, err = decimal.NewFromString(slippage); err != nil {
			return nil, fmt.Errorf("decode slippage: %w", err)
		}
		if t.RealizedPnL, err = decimal.NewFromString(realizedPnL); err != nil {
			return nil, fmt.Errorf("decode realized pnl: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

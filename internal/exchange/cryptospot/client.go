// Package cryptospot implements exchange.Provider against a crypto spot
// exchange REST API: fractional base-asset lot sizes, USDT-quoted tick
// bands, and 24/7 market hours (no MarketClosed gate). Structured the same
// way as krbroker: private wire payloads, domain types at every exported
// boundary.
package cryptospot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/exchange"
)

// Client implements exchange.Provider for a crypto spot exchange.
type Client struct {
	rest *exchange.RestClient
}

func New(baseURL string, creds exchange.Credentials, dryRun bool, logger *slog.Logger) *Client {
	return &Client{rest: exchange.NewRestClient(baseURL, creds, dryRun, logger)}
}

type accountPayload struct {
	CashUSDT    decimal.Decimal `json:"cash_usdt"`
	TotalEquity decimal.Decimal `json:"total_equity_usdt"`
}

func (c *Client) AccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	var resp accountPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/api/v3/account", nil, &resp); err != nil {
		return domain.AccountInfo{}, err
	}
	return domain.AccountInfo{
		Cash:        resp.CashUSDT,
		TotalEquity: resp.TotalEquity,
		Currency:    "USDT",
		AccountType: "CRYPTO_SPOT",
	}, nil
}

type positionPayload struct {
	BaseAsset string          `json:"base_asset"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	MarkPrice decimal.Decimal `json:"mark_price"`
}

func (c *Client) Positions(ctx context.Context) ([]domain.PositionInfo, error) {
	var resp []positionPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/api/v3/positions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.PositionInfo, 0, len(resp))
	for _, p := range resp {
		sym := domain.NewSymbol(p.BaseAsset, domain.MarketCrypto)
		side := domain.SideBuy
		if p.Side == "SELL" {
			side = domain.SideSell
		}
		out = append(out, domain.PositionInfo{
			Symbol:           sym,
			Side:             side,
			Quantity:         p.Quantity,
			WeightedAvgEntry: p.AvgPrice,
			MarkPrice:        p.MarkPrice,
			UnrealizedPnL:    p.MarkPrice.Sub(p.AvgPrice).Mul(p.Quantity),
		})
	}
	return out, nil
}

type pendingOrderPayload struct {
	OrderID   string          `json:"order_id"`
	BaseAsset string          `json:"base_asset"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining_quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
}

func (c *Client) PendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	var resp []pendingOrderPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/api/v3/openOrders", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.PendingOrder, 0, len(resp))
	for _, o := range resp {
		sym := domain.NewSymbol(o.BaseAsset, domain.MarketCrypto)
		out = append(out, domain.PendingOrder{
			OrderID:           o.OrderID,
			Symbol:            sym,
			Side:              domain.Side(o.Side),
			Type:              domain.OrderType(o.Type),
			Quantity:          o.Quantity,
			RemainingQuantity: o.Remaining,
			Price:             o.Price,
			Status:            domain.OrderStatusKind(o.Status),
		})
	}
	return out, nil
}

type exchangeInfoPayload struct {
	LotStep       decimal.Decimal `json:"lot_step"`
	MinQuantity   decimal.Decimal `json:"min_quantity"`
	MinNotional   decimal.Decimal `json:"min_notional"`
	TickSize      decimal.Decimal `json:"tick_size"`
	TakerFeeRate  decimal.Decimal `json:"taker_fee_rate"`
}

// ExchangeConstraints fetches the per-symbol filters a crypto spot exchange
// publishes (lot step, min notional, tick size) rather than hardcoding a
// schedule — unlike KR brokerage tick bands, crypto tick sizes vary per
// trading pair and are authoritative only from the exchange itself.
func (c *Client) ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error) {
	var resp exchangeInfoPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/api/v3/exchangeInfo/"+sym.Ticker, nil, &resp); err != nil {
		return domain.ExchangeConstraints{}, err
	}
	return domain.ExchangeConstraints{
		LotSize:        resp.LotStep,
		MinQuantity:    resp.MinQuantity,
		MinNotional:    resp.MinNotional,
		CommissionRate: resp.TakerFeeRate,
		TickSizeBands:  []domain.TickSizeBand{{NoUpper: true, TickSize: resp.TickSize}},
	}, nil
}

type submitOrderPayload struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price,omitempty"`
	StopPrice decimal.Decimal `json:"stop_price,omitempty"`
}

type submitOrderResult struct {
	OrderID string `json:"order_id"`
}

func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	body := submitOrderPayload{
		Symbol:    req.Symbol.Ticker,
		Side:      string(req.Side),
		Type:      string(req.Type),
		Quantity:  req.Quantity,
		Price:     req.Price,
		StopPrice: req.StopPrice,
	}
	var resp submitOrderResult
	if err := c.rest.Do(ctx, c.rest.RL.Order, "service", http.MethodPost, "/api/v3/order", body, &resp); err != nil {
		return "", fmt.Errorf("submit order %s %s: %w", req.Symbol, req.Side, err)
	}
	return resp.OrderID, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.rest.Do(ctx, c.rest.RL.Cancel, "service", http.MethodDelete, "/api/v3/order/"+orderID, nil, nil)
}

type orderStatusPayload struct {
	OrderID           string          `json:"order_id"`
	Status            string          `json:"status"`
	FilledQuantity    decimal.Decimal `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	AvgFillPrice      decimal.Decimal `json:"avg_fill_price"`
}

func (c *Client) OrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	var resp orderStatusPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/api/v3/order/"+orderID, nil, &resp); err != nil {
		return domain.OrderStatus{}, err
	}
	return domain.OrderStatus{
		OrderID:           resp.OrderID,
		Status:            domain.OrderStatusKind(resp.Status),
		FilledQuantity:    resp.FilledQuantity,
		RemainingQuantity: resp.RemainingQuantity,
		AvgFillPrice:      resp.AvgFillPrice,
	}, nil
}

func (c *Client) FilledQuantity(ctx context.Context, orderID string) (decimal.Decimal, error) {
	status, err := c.OrderStatus(ctx, orderID)
	if err != nil {
		return decimal.Zero, err
	}
	return status.FilledQuantity, nil
}

type quotePayload struct {
	Bid  decimal.Decimal `json:"bid"`
	Ask  decimal.Decimal `json:"ask"`
	Last decimal.Decimal `json:"last"`
}

func (c *Client) Ticker(ctx context.Context, sym domain.Symbol) (domain.Quote, error) {
	var resp quotePayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/api/v3/ticker/"+sym.Ticker, nil, &resp); err != nil {
		return domain.Quote{}, err
	}
	return domain.Quote{Symbol: sym, Bid: resp.Bid, Ask: resp.Ask, Last: resp.Last}, nil
}

type bookLevelPayload struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type bookPayload struct {
	Bids []bookLevelPayload `json:"bids"`
	Asks []bookLevelPayload `json:"asks"`
}

func (c *Client) OrderBook(ctx context.Context, sym domain.Symbol) (domain.OrderBook, error) {
	var resp bookPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/api/v3/depth/"+sym.Ticker, nil, &resp); err != nil {
		return domain.OrderBook{}, err
	}
	ob := domain.OrderBook{Symbol: sym}
	for _, l := range resp.Bids {
		ob.Bids = append(ob.Bids, domain.OrderBookLevel{Price: l.Price, Size: l.Size})
	}
	for _, l := range resp.Asks {
		ob.Asks = append(ob.Asks, domain.OrderBookLevel{Price: l.Price, Size: l.Size})
	}
	return ob, nil
}

var _ exchange.Provider = (*Client)(nil)

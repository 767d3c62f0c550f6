// Package krbroker implements exchange.Provider against a Korean equities
// brokerage REST API: whole-share lot sizes, won-denominated tick bands, and
// KRW cash accounting. Wire shapes are this package's private concern; every
// exported surface speaks in domain types, following the teacher's pattern
// of keeping exchange-specific payload structs unexported beside the client
// that builds them.
package krbroker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/zeroquant/zeroquant/internal/domain"
	"github.com/zeroquant/zeroquant/internal/exchange"
)

// Client implements exchange.Provider for a KR brokerage.
type Client struct {
	rest *exchange.RestClient
}

func New(baseURL string, creds exchange.Credentials, dryRun bool, logger *slog.Logger) *Client {
	return &Client{rest: exchange.NewRestClient(baseURL, creds, dryRun, logger)}
}

type accountPayload struct {
	CashKRW     decimal.Decimal `json:"cash_krw"`
	TotalEquity decimal.Decimal `json:"total_equity_krw"`
}

func (c *Client) AccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	var resp accountPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/v1/account", nil, &resp); err != nil {
		return domain.AccountInfo{}, err
	}
	return domain.AccountInfo{
		Cash:        resp.CashKRW,
		TotalEquity: resp.TotalEquity,
		Currency:    "KRW",
		AccountType: "KR_BROKERAGE",
	}, nil
}

type positionPayload struct {
	Ticker    string          `json:"ticker"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	MarkPrice decimal.Decimal `json:"mark_price"`
}

func (c *Client) Positions(ctx context.Context) ([]domain.PositionInfo, error) {
	var resp []positionPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/v1/positions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.PositionInfo, 0, len(resp))
	for _, p := range resp {
		sym := domain.NewSymbol(p.Ticker, domain.MarketKR)
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
	Ticker    string          `json:"ticker"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Quantity  decimal.Decimal `json:"quantity"`
	Remaining decimal.Decimal `json:"remaining_quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
}

func (c *Client) PendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	var resp []pendingOrderPayload
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/v1/orders/open", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.PendingOrder, 0, len(resp))
	for _, o := range resp {
		sym := domain.NewSymbol(o.Ticker, domain.MarketKR)
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

// ExchangeConstraints returns the KR market's standard board-lot (1 share)
// and won tick-size bands, grounded on KRX's published tick schedule: the
// tick size widens as price climbs.
func (c *Client) ExchangeConstraints(ctx context.Context, sym domain.Symbol) (domain.ExchangeConstraints, error) {
	return domain.ExchangeConstraints{
		LotSize:        decimal.NewFromInt(1),
		MinQuantity:    decimal.NewFromInt(1),
		MinNotional:    decimal.NewFromInt(1000),
		CommissionRate: decimal.NewFromFloat(0.00015),
		TickSizeBands: []domain.TickSizeBand{
			{UpTo: decimal.NewFromInt(2000), TickSize: decimal.NewFromInt(1)},
			{UpTo: decimal.NewFromInt(5000), TickSize: decimal.NewFromInt(5)},
			{UpTo: decimal.NewFromInt(20000), TickSize: decimal.NewFromInt(10)},
			{UpTo: decimal.NewFromInt(50000), TickSize: decimal.NewFromInt(50)},
			{UpTo: decimal.NewFromInt(200000), TickSize: decimal.NewFromInt(100)},
			{UpTo: decimal.NewFromInt(500000), TickSize: decimal.NewFromInt(500)},
			{NoUpper: true, TickSize: decimal.NewFromInt(1000)},
		},
	}, nil
}

type submitOrderPayload struct {
	Ticker    string          `json:"ticker"`
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
		Ticker:    req.Symbol.Ticker,
		Side:      string(req.Side),
		Type:      string(req.Type),
		Quantity:  req.Quantity,
		Price:     req.Price,
		StopPrice: req.StopPrice,
	}
	var resp submitOrderResult
	if err := c.rest.Do(ctx, c.rest.RL.Order, "service", http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return "", fmt.Errorf("submit order %s %s: %w", req.Symbol, req.Side, err)
	}
	return resp.OrderID, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.rest.Do(ctx, c.rest.RL.Cancel, "service", http.MethodDelete, "/v1/orders/"+orderID, nil, nil)
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
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/v1/orders/"+orderID, nil, &resp); err != nil {
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
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/v1/quote/"+sym.Ticker, nil, &resp); err != nil {
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
	if err := c.rest.Do(ctx, c.rest.RL.Quote, "service", http.MethodGet, "/v1/book/"+sym.Ticker, nil, &resp); err != nil {
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

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"tradecore/pkg/types"
)

// OrderRequest is the wire shape submitted to the live broker.
type OrderRequest struct {
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	OrderType  string  `json:"order_type"`
	LimitPrice float64 `json:"limit_price,omitempty"`
}

// Client is the live broker REST client: rate-limited, HMAC-authenticated,
// retried on 5xx, matching the teacher's resty client construction.
type Client struct {
	http *resty.Client
	auth *Auth
	rl   *TokenBucket
}

// NewClient creates a live broker REST client against baseURL.
func NewClient(baseURL string, auth *Auth) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &Client{
		http: http,
		auth: auth,
		rl:   NewTokenBucket(50, 10),
	}
}

// SubmitOrder places an order with the live broker.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("broker: marshal order: %w", err)
	}

	headers, err := c.auth.Headers(http.MethodPost, "/orders", string(body))
	if err != nil {
		return fmt.Errorf("broker: sign request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(req).
		Post("/orders")
	if err != nil {
		return fmt.Errorf("broker: submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return fmt.Errorf("broker: submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Submit builds the wire request for a pending order and submits it,
// satisfying the execution engine's Broker seam.
func (c *Client) Submit(ctx context.Context, orderID, symbol string, side types.Side, quantity float64, orderType types.OrderType, limitPrice float64) error {
	return c.SubmitOrder(ctx, ToOrderRequest(orderID, symbol, side, quantity, orderType, limitPrice))
}

// ToOrderRequest converts an engine-side pending order into the broker wire
// shape.
func ToOrderRequest(orderID, symbol string, side types.Side, quantity float64, orderType types.OrderType, limitPrice float64) OrderRequest {
	return OrderRequest{
		OrderID:    orderID,
		Symbol:     symbol,
		Side:       string(side),
		Quantity:   quantity,
		OrderType:  string(orderType),
		LimitPrice: limitPrice,
	}
}

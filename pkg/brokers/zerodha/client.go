// Package zerodha implements the backend client for Zerodha's Kite
// Connect v3 REST API.
package zerodha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"broker-core/pkg/brokers/common"
)

const defaultBaseURL = "https://api.kite.trade"

// Config holds Kite Connect credentials.
type Config struct {
	APIKey      string
	AccessToken string
	BaseURL     string // override for tests

	// Limiter, when set, meters the extra status poll SubmitOrder makes
	// beyond the placement request the caller already paid for.
	Limiter *common.RateLimiter
}

// Client talks to Kite Connect. Orders fill asynchronously; SubmitOrder
// polls the order once for its terminal state.
type Client struct {
	cfg        Config
	baseURL    string
	limiter    *common.RateLimiter
	httpClient *http.Client
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		limiter:    cfg.Limiter,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Name() string { return "zerodha" }

func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("tradingsymbol", req.Symbol)
	params.Set("exchange", req.Venue)
	params.Set("transaction_type", string(req.Side))
	params.Set("order_type", kiteOrderType(req.Kind))
	params.Set("quantity", strconv.Itoa(req.Quantity))
	params.Set("product", string(req.Product))
	params.Set("validity", "DAY")
	if req.Kind == common.KindLimit {
		params.Set("price", formatPrice(req.Price))
	}
	if req.Kind == common.KindStop {
		params.Set("trigger_price", formatPrice(req.TriggerPrice))
	}
	if req.ClientID != "" {
		params.Set("tag", req.ClientID)
	}

	body, err := c.do(ctx, http.MethodPost, "/orders/regular", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}

	status, price, reason := c.pollOrder(ctx, resp.Data.OrderID)
	return common.OrderResult{OrderID: resp.Data.OrderID, Status: status, Price: price, Reason: reason}, nil
}

// pollOrder reads the order book once for the fill state. Market orders
// usually complete by the time the placement call returns. The poll is a
// second request, so it takes its own limiter token.
func (c *Client) pollOrder(ctx context.Context, orderID string) (common.OrderStatus, float64, string) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, "order"); err != nil {
			return common.StatusOpen, 0, ""
		}
	}
	body, err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		return common.StatusOpen, 0, ""
	}
	var resp struct {
		Data []struct {
			Status        string  `json:"status"`
			StatusMessage string  `json:"status_message"`
			AveragePrice  float64 `json:"average_price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
		return common.StatusOpen, 0, ""
	}
	last := resp.Data[len(resp.Data)-1]
	return kiteStatus(last.Status), last.AveragePrice, last.StatusMessage
}

func (c *Client) CancelOrder(ctx context.Context, symbol, venue, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders/regular/"+orderID, nil)
	return err
}

// ClosePosition is not part of the Kite API; exits go through an
// opposite order instead.
func (c *Client) ClosePosition(ctx context.Context, symbol, venue string, product common.ProductType) (common.OrderResult, error) {
	return common.OrderResult{}, common.ErrUnsupported
}

func (c *Client) ListPositions(ctx context.Context) ([]common.BrokerPosition, error) {
	body, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Net []struct {
				TradingSymbol string  `json:"tradingsymbol"`
				Exchange      string  `json:"exchange"`
				Quantity      int     `json:"quantity"`
				AveragePrice  float64 `json:"average_price"`
				LastPrice     float64 `json:"last_price"`
				Product       string  `json:"product"`
			} `json:"net"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]common.BrokerPosition, 0, len(resp.Data.Net))
	for _, p := range resp.Data.Net {
		positions = append(positions, common.BrokerPosition{
			Symbol:    p.TradingSymbol,
			Venue:     p.Exchange,
			Quantity:  p.Quantity,
			AvgPrice:  p.AveragePrice,
			LastPrice: p.LastPrice,
			Product:   common.ProductType(p.Product),
		})
	}
	return positions, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol, venue string) (float64, error) {
	key := venue + ":" + symbol
	body, err := c.do(ctx, http.MethodGet, "/quote/ltp?i="+url.QueryEscape(key), nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Data map[string]struct {
			LastPrice float64 `json:"last_price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode ltp: %w", err)
	}
	quote, ok := resp.Data[key]
	if !ok {
		return 0, fmt.Errorf("no quote for %s", key)
	}
	return quote.LastPrice, nil
}

// do issues one authenticated request and normalizes failures into the
// transient/permanent error split.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", "token "+c.cfg.APIKey+":"+c.cfg.AccessToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.TransientError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &common.TransientError{Op: method + " " + path, Err: err}
	}
	if resp.StatusCode == http.StatusOK {
		return body, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &common.TransientError{Op: method + " " + path, Err: fmt.Errorf("http %d: %s", resp.StatusCode, body)}
	}

	// Kite error payloads carry message and error_type.
	var kerr struct {
		Message string `json:"message"`
	}
	reason := string(body)
	if json.Unmarshal(body, &kerr) == nil && kerr.Message != "" {
		reason = kerr.Message
	}
	return nil, &common.PermanentError{Op: method + " " + path, Reason: reason}
}

func kiteOrderType(kind common.OrderKind) string {
	switch kind {
	case common.KindLimit:
		return "LIMIT"
	case common.KindStop:
		return "SL-M"
	default:
		return "MARKET"
	}
}

func kiteStatus(s string) common.OrderStatus {
	switch s {
	case "COMPLETE":
		return common.StatusFilled
	case "CANCELLED":
		return common.StatusCancelled
	case "REJECTED":
		return common.StatusRejected
	default:
		return common.StatusOpen
	}
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

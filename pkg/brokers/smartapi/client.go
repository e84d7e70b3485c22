// Package smartapi implements the backend client for Angel One's
// SmartAPI JSON REST interface.
package smartapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"broker-core/pkg/brokers/common"
)

const defaultBaseURL = "https://apiconnect.angelbroking.com"

// Config holds SmartAPI session credentials. JWT comes from the login
// flow and is refreshed outside this client.
type Config struct {
	APIKey     string
	ClientCode string
	JWT        string
	LocalIP    string
	PublicIP   string
	MACAddress string
	BaseURL    string // override for tests
}

// Client talks to SmartAPI. Symbol tokens are mandatory on most calls,
// so requests carry the token resolved by the symbol mapper.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	if cfg.LocalIP == "" {
		cfg.LocalIP = "127.0.0.1"
	}
	if cfg.PublicIP == "" {
		cfg.PublicIP = "127.0.0.1"
	}
	if cfg.MACAddress == "" {
		cfg.MACAddress = "00:00:00:00:00:00"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Name() string { return "smartapi" }

func (c *Client) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	payload := map[string]string{
		"variety":         "NORMAL",
		"tradingsymbol":   req.Symbol,
		"symboltoken":     req.Token,
		"transactiontype": string(req.Side),
		"exchange":        req.Venue,
		"ordertype":       angelOrderType(req.Kind),
		"producttype":     angelProduct(req.Product),
		"duration":        "DAY",
		"quantity":        strconv.Itoa(req.Quantity),
		"price":           "0",
		"triggerprice":    "0",
	}
	if req.Kind == common.KindLimit {
		payload["price"] = formatPrice(req.Price)
	}
	if req.Kind == common.KindStop {
		payload["triggerprice"] = formatPrice(req.TriggerPrice)
	}

	body, err := c.do(ctx, "/rest/secure/angelbroking/order/v1/placeOrder", payload)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp struct {
		Data struct {
			OrderID string `json:"orderid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order response: %w", err)
	}
	// SmartAPI acknowledges placement only; fills surface later through
	// the order book and positions.
	return common.OrderResult{OrderID: resp.Data.OrderID, Status: common.StatusOpen}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, venue, orderID string) error {
	_, err := c.do(ctx, "/rest/secure/angelbroking/order/v1/cancelOrder", map[string]string{
		"variety": "NORMAL",
		"orderid": orderID,
	})
	return err
}

// ClosePosition has no SmartAPI endpoint; exits go through an opposite
// order instead.
func (c *Client) ClosePosition(ctx context.Context, symbol, venue string, product common.ProductType) (common.OrderResult, error) {
	return common.OrderResult{}, common.ErrUnsupported
}

func (c *Client) ListPositions(ctx context.Context) ([]common.BrokerPosition, error) {
	body, err := c.do(ctx, "/rest/secure/angelbroking/order/v1/getPosition", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			TradingSymbol string `json:"tradingsymbol"`
			Exchange      string `json:"exchange"`
			NetQty        string `json:"netqty"`
			AvgNetPrice   string `json:"avgnetprice"`
			LTP           string `json:"ltp"`
			ProductType   string `json:"producttype"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]common.BrokerPosition, 0, len(resp.Data))
	for _, p := range resp.Data {
		qty, _ := strconv.Atoi(p.NetQty)
		avg, _ := strconv.ParseFloat(p.AvgNetPrice, 64)
		ltp, _ := strconv.ParseFloat(p.LTP, 64)
		positions = append(positions, common.BrokerPosition{
			Symbol:    p.TradingSymbol,
			Venue:     p.Exchange,
			Quantity:  qty,
			AvgPrice:  avg,
			LastPrice: ltp,
			Product:   fromAngelProduct(p.ProductType),
		})
	}
	return positions, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol, venue string) (float64, error) {
	body, err := c.do(ctx, "/rest/secure/angelbroking/order/v1/getLtpData", map[string]string{
		"exchange":      venue,
		"tradingsymbol": symbol,
	})
	if err != nil {
		return 0, err
	}
	var resp struct {
		Data struct {
			LTP float64 `json:"ltp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode ltp: %w", err)
	}
	return resp.Data.LTP, nil
}

// do issues one authenticated JSON request. SmartAPI signals failure with
// status=false even on HTTP 200.
func (c *Client) do(ctx context.Context, path string, payload map[string]string) ([]byte, error) {
	method := http.MethodGet
	var reqBody io.Reader
	if payload != nil {
		method = http.MethodPost
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.JWT)
	req.Header.Set("X-PrivateKey", c.cfg.APIKey)
	req.Header.Set("X-SourceID", "WEB")
	req.Header.Set("X-UserType", "USER")
	req.Header.Set("X-ClientLocalIP", c.cfg.LocalIP)
	req.Header.Set("X-ClientPublicIP", c.cfg.PublicIP)
	req.Header.Set("X-MACAddress", c.cfg.MACAddress)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.TransientError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &common.TransientError{Op: path, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &common.TransientError{Op: path, Err: fmt.Errorf("http %d: %s", resp.StatusCode, body)}
	}

	var envelope struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Status {
		return nil, &common.PermanentError{Op: path, Reason: envelope.Message}
	}
	return body, nil
}

func angelOrderType(kind common.OrderKind) string {
	switch kind {
	case common.KindLimit:
		return "LIMIT"
	case common.KindStop:
		return "STOPLOSS_MARKET"
	default:
		return "MARKET"
	}
}

func angelProduct(p common.ProductType) string {
	switch p {
	case common.ProductDelivery:
		return "DELIVERY"
	case common.ProductCarryForward:
		return "CARRYFORWARD"
	default:
		return "INTRADAY"
	}
}

func fromAngelProduct(p string) common.ProductType {
	switch p {
	case "DELIVERY":
		return common.ProductDelivery
	case "CARRYFORWARD":
		return common.ProductCarryForward
	default:
		return common.ProductIntraday
	}
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}

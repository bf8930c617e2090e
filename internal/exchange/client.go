package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/quantari/tradecore/internal/crypto"
	"github.com/quantari/tradecore/internal/domain"
)

const (
	// restLimitKey is the shared rate-limit bucket for all REST calls.
	restLimitKey = "exchange:rest"

	// limiterPollInterval is how often a throttled request re-checks the
	// limiter for a free slot.
	limiterPollInterval = 50 * time.Millisecond
)

// Client is the REST client for the exchange trading API. Private
// endpoints are HMAC-signed; all calls share one rate-limit bucket when a
// limiter is configured.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.RequestSigner
	recvWindow time.Duration

	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

// NewClient creates a REST client for the given API root, e.g.
// "https://api.exchange.example.com". signer may be nil for clients that
// only hit public endpoints.
func NewClient(baseURL string, signer *crypto.RequestSigner) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:     signer,
		recvWindow: 5 * time.Second,
	}
}

// SetRecvWindow sets the validity window sent with signed requests. The
// exchange rejects signed requests whose timestamp is older than this.
func (c *Client) SetRecvWindow(d time.Duration) {
	if d > 0 {
		c.recvWindow = d
	}
}

// SetRateLimiter throttles all REST calls through the given limiter at
// limit requests per window.
func (c *Client) SetRateLimiter(rl domain.RateLimiter, limit int, window time.Duration) {
	c.limiter = rl
	c.limit = limit
	c.window = window
}

// ServerTime returns the exchange's clock, for skew checks before signed
// trading begins.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.doPublicRequest(ctx, http.MethodGet, "/api/v1/time")
	if err != nil {
		return time.Time{}, fmt.Errorf("exchange: server time: %w", err)
	}

	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("exchange: decode server time: %w", err)
	}

	return time.UnixMilli(resp.ServerTime).UTC(), nil
}

// GetDepth fetches a depth snapshot for the pair and converts it to a
// validated domain snapshot. limit caps the number of levels per side;
// limit <= 0 uses the exchange default.
func (c *Client) GetDepth(ctx context.Context, pair domain.TradingPair, limit int) (*domain.OrderBookSnapshot, error) {
	params := url.Values{}
	params.Set("pair", pair.Symbol())
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doPublicRequest(ctx, http.MethodGet, "/api/v1/depth?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("exchange: get depth %s: %w", pair.Symbol(), err)
	}

	var msg DepthMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("exchange: decode depth: %w", err)
	}

	snap, err := msg.ToSnapshot()
	if err != nil {
		return nil, fmt.Errorf("exchange: depth %s: %w", pair.Symbol(), err)
	}
	return snap, nil
}

// GetKlines fetches up to limit closed candles for the pair and timeframe,
// oldest first.
func (c *Client) GetKlines(ctx context.Context, pair domain.TradingPair, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("pair", pair.Symbol())
	params.Set("interval", tf.String())
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doPublicRequest(ctx, http.MethodGet, "/api/v1/klines?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("exchange: get klines %s %s: %w", pair.Symbol(), tf, err)
	}

	var msgs []KlineMessage
	if err := json.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("exchange: decode klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(msgs))
	for _, m := range msgs {
		candle, err := m.ToCandle()
		if err != nil {
			return nil, fmt.Errorf("exchange: kline %s %s: %w", pair.Symbol(), tf, err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// GetBalances returns the account's balances for every asset with a
// non-zero total.
func (c *Client) GetBalances(ctx context.Context) ([]domain.Balance, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v1/account", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: get balances: %w", err)
	}

	var resp struct {
		Balances []APIBalance `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("exchange: decode balances: %w", err)
	}

	balances := make([]domain.Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		bal, err := b.ToBalance()
		if err != nil {
			return nil, fmt.Errorf("exchange: balance %s: %w", b.Asset, err)
		}
		balances = append(balances, bal)
	}

	return balances, nil
}

// PlaceOrder submits the order and returns the exchange's ack. The ack
// carries the exchange order id the order should be submitted with.
func (c *Client) PlaceOrder(ctx context.Context, order *domain.Order) (OrderAck, error) {
	req := OrderRequestFrom(order)

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/api/v1/orders", nil, req)
	if err != nil {
		return OrderAck{}, fmt.Errorf("exchange: place order %s: %w", order.ID(), err)
	}

	var ack OrderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return OrderAck{}, fmt.Errorf("exchange: decode order ack: %w", err)
	}
	if ack.ExchangeOrderID == "" {
		return OrderAck{}, fmt.Errorf("exchange: place order %s: ack missing order id", order.ID())
	}

	return ack, nil
}

// CancelOrder cancels a resting order by its exchange order id.
func (c *Client) CancelOrder(ctx context.Context, pair domain.TradingPair, exchangeOrderID string) error {
	params := url.Values{}
	params.Set("pair", pair.Symbol())

	path := "/api/v1/orders/" + url.PathEscape(exchangeOrderID)
	if _, err := c.doSignedRequest(ctx, http.MethodDelete, path, params, nil); err != nil {
		return fmt.Errorf("exchange: cancel order %s: %w", exchangeOrderID, err)
	}

	return nil
}

// GetOrder returns the exchange's current view of an order.
func (c *Client) GetOrder(ctx context.Context, pair domain.TradingPair, exchangeOrderID string) (OrderAck, error) {
	params := url.Values{}
	params.Set("pair", pair.Symbol())

	path := "/api/v1/orders/" + url.PathEscape(exchangeOrderID)
	body, err := c.doSignedRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return OrderAck{}, fmt.Errorf("exchange: get order %s: %w", exchangeOrderID, err)
	}

	var ack OrderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return OrderAck{}, fmt.Errorf("exchange: decode order: %w", err)
	}

	return ack, nil
}

// ListTrades returns the account's executions for one order, oldest
// first, for fill reconciliation.
func (c *Client) ListTrades(ctx context.Context, pair domain.TradingPair, exchangeOrderID string) ([]TradeMessage, error) {
	params := url.Values{}
	params.Set("pair", pair.Symbol())
	params.Set("orderId", exchangeOrderID)

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/api/v1/myTrades", params, nil)
	if err != nil {
		return nil, fmt.Errorf("exchange: list trades %s: %w", exchangeOrderID, err)
	}

	var trades []TradeMessage
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("exchange: decode trades: %w", err)
	}

	return trades, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doPublicRequest sends an unsigned request. path carries any encoded
// query string.
func (c *Client) doPublicRequest(ctx context.Context, method, path string) ([]byte, error) {
	if err := c.waitForSlot(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.send(req)
}

// doSignedRequest builds, signs, and sends a request against a private
// endpoint. The signature covers the full path including the encoded
// query, so the query must be identical on the wire.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, query url.Values, reqBody any) ([]byte, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("request signer not configured")
	}
	if err := c.waitForSlot(ctx); err != nil {
		return nil, err
	}

	if query == nil {
		query = url.Values{}
	}
	if c.recvWindow > 0 {
		query.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	}
	fullPath := path + "?" + query.Encode()

	var bodyReader io.Reader
	var bodyStr string
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+fullPath, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for k, v := range c.signer.Headers(method, fullPath, bodyStr) {
		req.Header.Set(k, v)
	}

	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// waitForSlot blocks until the limiter grants a slot, polling at a fixed
// interval. A client without a limiter never waits.
func (c *Client) waitForSlot(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	for {
		allowed, err := c.limiter.Allow(ctx, restLimitKey, c.limit, c.window)
		if err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(limiterPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// checkStatus maps non-2xx status codes to domain errors so callers can
// branch with errors.Is.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, msg)
	}
}

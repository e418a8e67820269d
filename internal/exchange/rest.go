package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"fusion-trading-bot/config"
)

// Venue error codes surfaced in JSON error bodies.
const (
	codeInvalidSymbol = -1121
	codeOrderRejected = -2010
	codeUnknownOrder  = -2013
)

// RESTClient talks to a Binance-style spot REST API. Market data calls run
// behind a circuit breaker and every request passes the weight-based rate
// limiter first.
type RESTClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	quoteAsset string
	recvWindow int
	httpClient *http.Client
	limiter    *RateLimiter
	breaker    *gobreaker.CircuitBreaker
	logger     zerolog.Logger
}

// NewRESTClient builds the live client. Credentials come from the secrets
// layer, never from the config file.
func NewRESTClient(cfg config.ExchangeConfig, apiKey, secretKey, quoteAsset string, logger zerolog.Logger) *RESTClient {
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	recvWindow := cfg.RecvWindowMs
	if recvWindow <= 0 {
		recvWindow = 5000
	}
	clientLogger := logger.With().Str("component", "ExchangeClient").Logger()
	return &RESTClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    cfg.BaseURL,
		quoteAsset: quoteAsset,
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    NewRateLimiter(cfg.RequestsPerSec, cfg.Burst),
		breaker:    newFeedBreaker("market-data", clientLogger),
		logger:     clientLogger,
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// FetchRecentBars fetches the most recent closed candles, oldest first.
func (c *RESTClient) FetchRecentBars(ctx context.Context, symbol, interval string, limit int) ([]PriceBar, error) {
	if err := c.limiter.Wait(ctx, weightKlines); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.get(ctx, "/api/v3/klines", params)
		if err != nil {
			return nil, err
		}
		return parseKlines(body)
	})
	if err != nil {
		return nil, c.feedError("fetch bars", symbol, err)
	}
	return result.([]PriceBar), nil
}

// GetPrice fetches the current last price for a symbol.
func (c *RESTClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.limiter.Wait(ctx, weightTicker); err != nil {
		return 0, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.get(ctx, "/api/v3/ticker/price", params)
		if err != nil {
			return nil, err
		}
		var priceResp struct {
			Symbol string  `json:"symbol"`
			Price  float64 `json:"price,string"`
		}
		if err := json.Unmarshal(body, &priceResp); err != nil {
			return nil, fmt.Errorf("error parsing price: %w", err)
		}
		return priceResp.Price, nil
	})
	if err != nil {
		return 0, c.feedError("fetch price", symbol, err)
	}
	return result.(float64), nil
}

// GetQuoteBalance returns the free balance of the quote asset.
func (c *RESTClient) GetQuoteBalance(ctx context.Context) (float64, error) {
	return c.freeBalance(ctx, c.quoteAsset)
}

// GetBaseBalance returns the free balance of the symbol's base asset.
func (c *RESTClient) GetBaseBalance(ctx context.Context, symbol string) (float64, error) {
	return c.freeBalance(ctx, strings.TrimSuffix(symbol, c.quoteAsset))
}

func (c *RESTClient) freeBalance(ctx context.Context, asset string) (float64, error) {
	if err := c.limiter.Wait(ctx, weightAccount); err != nil {
		return 0, err
	}

	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return 0, fmt.Errorf("error fetching account: %w", err)
	}

	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return 0, fmt.Errorf("error parsing account: %w", err)
	}

	for _, bal := range account.Balances {
		if bal.Asset == asset {
			free, err := strconv.ParseFloat(bal.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("error parsing %s balance %q: %w", asset, bal.Free, err)
			}
			return free, nil
		}
	}
	return 0, nil
}

// PlaceOrder submits a new order. A venue rejection surfaces as
// *RejectedError; anything else is returned as-is for the caller to
// reconcile on the next tick.
func (c *RESTClient) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := c.limiter.Wait(ctx, weightOrder); err != nil {
		return nil, err
	}

	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.New().String()
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", req.Type)
	params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	params.Set("newClientOrderId", clientOrderID)
	params.Set("newOrderRespType", "FULL")

	body, err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var orderResp orderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	result := orderResp.toResult()
	c.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("status", string(result.Status)).
		Float64("fill_qty", result.FillQuantity).
		Float64("fill_price", result.FillPrice).
		Msg("order placed")
	return result, nil
}

// GetOrder fetches the current state of an order for fill confirmation.
func (c *RESTClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderResult, error) {
	if err := c.limiter.Wait(ctx, weightOrder); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.signedRequest(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching order %d: %w", orderID, err)
	}

	var orderResp orderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return orderResp.toResult(), nil
}

// CancelOrder cancels an open order. Canceling an already-closed order
// returns ErrOrderNotFound.
func (c *RESTClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := c.limiter.Wait(ctx, weightOrder); err != nil {
		return err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	if _, err := c.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params); err != nil {
		return fmt.Errorf("error canceling order %d: %w", orderID, err)
	}
	return nil
}

// orderResponse mirrors the venue's order payload.
type orderResponse struct {
	Symbol              string  `json:"symbol"`
	OrderID             int64   `json:"orderId"`
	ClientOrderID       string  `json:"clientOrderId"`
	TransactTime        int64   `json:"transactTime"`
	Price               float64 `json:"price,string"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	Type                string  `json:"type"`
	Side                string  `json:"side"`
}

func (r *orderResponse) toResult() *OrderResult {
	fillPrice := r.Price
	if r.ExecutedQty > 0 && r.CummulativeQuoteQty > 0 {
		// Market orders report price 0; derive the average from the quote total.
		fillPrice = r.CummulativeQuoteQty / r.ExecutedQty
	}
	return &OrderResult{
		OrderID:       r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          Side(r.Side),
		Status:        OrderStatus(r.Status),
		FillPrice:     fillPrice,
		FillQuantity:  r.ExecutedQty,
		TransactTime:  r.TransactTime,
	}
}

func (c *RESTClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// signedRequest attaches timestamp, recvWindow, and the HMAC-SHA256
// signature over the encoded query, then sends with the API key header.
func (c *RESTClient) signedRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(c.recvWindow))

	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	query += "&signature=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	return c.do(req)
}

func (c *RESTClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode == http.StatusOK {
		return body, nil
	}

	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
		switch apiErr.Code {
		case codeInvalidSymbol:
			return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, apiErr.Msg)
		case codeUnknownOrder:
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, apiErr.Msg)
		case codeOrderRejected:
			return nil, &RejectedError{Code: apiErr.Code, Reason: apiErr.Msg}
		}
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d: %s", ErrFeedUnavailable, resp.StatusCode, string(body))
	}
	return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
}

// feedError folds breaker and transport failures into the transient feed
// error the loop knows how to back off on, keeping fatal symbol errors
// distinct.
func (c *RESTClient) feedError(op, symbol string, err error) error {
	if errors.Is(err, ErrInvalidSymbol) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open for %s", ErrFeedUnavailable, symbol)
	}
	if errors.Is(err, ErrFeedUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", ErrFeedUnavailable, op, symbol, err)
}

// parseKlines decodes the venue's array-of-arrays kline payload.
func parseKlines(body []byte) ([]PriceBar, error) {
	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	bars := make([]PriceBar, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 7 {
			return nil, fmt.Errorf("kline %d has %d fields, want at least 7", i, len(raw))
		}
		bars[i] = PriceBar{
			OpenTime:  int64(asFloat(raw[0])),
			Open:      asFloat(raw[1]),
			High:      asFloat(raw[2]),
			Low:       asFloat(raw[3]),
			Close:     asFloat(raw[4]),
			Volume:    asFloat(raw[5]),
			CloseTime: int64(asFloat(raw[6])),
		}
	}
	return bars, nil
}

func asFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}

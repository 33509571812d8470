package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"tradeengine/internal/model"
)

// ---- Config & client ----

type Config struct {
	APIKey    string
	APISecret string

	BaseURL    string        // default: mainnet REST URL
	Category   string        // default: spot
	RecvWindow time.Duration // default: 5s
	Timeout    time.Duration // default: 10s

	HTTPClient *http.Client
	Now        func() time.Time
}

// Client talks to the Bybit v5 REST API.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	category   string
	recvWindow time.Duration
	httpClient *http.Client
	now        func() time.Time
	log        *slog.Logger
}

const (
	maxKlinesPerPage = 1000

	routeKline       = "/v5/market/kline"
	routeTickers     = "/v5/market/tickers"
	routeWallet      = "/v5/account/wallet-balance"
	routeOrderCreate = "/v5/order/create"
)

// APIError is a non-zero retCode returned by Bybit.
type APIError struct {
	Code    int64
	Message string
	Route   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit %s: retCode=%d retMsg=%s", e.Route, e.Code, e.Message)
}

// NewClient builds a REST client, filling defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = mainnetRESTURL
	}
	if cfg.Category == "" {
		cfg.Category = "spot"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    cfg.BaseURL,
		category:   cfg.Category,
		recvWindow: cfg.RecvWindow,
		httpClient: cfg.HTTPClient,
		now:        cfg.Now,
		log:        slog.Default().With("component", "bybit"),
	}
}

// Klines returns up to count closed klines, oldest first. The bar still
// forming at request time is dropped.
func (c *Client) Klines(ctx context.Context, symbol string, iv model.Interval, count int) ([]model.Kline, error) {
	code, err := IntervalCode(iv)
	if err != nil {
		return nil, err
	}
	now := c.now()

	var newestFirst []model.Kline
	var end int64
	for len(newestFirst) < count+1 {
		limit := count + 1 - len(newestFirst)
		if limit > maxKlinesPerPage {
			limit = maxKlinesPerPage
		}
		q := url.Values{}
		q.Set("category", c.category)
		q.Set("symbol", symbol)
		q.Set("interval", code)
		q.Set("limit", strconv.Itoa(limit))
		if end > 0 {
			q.Set("end", strconv.FormatInt(end, 10))
		}

		res, err := c.get(ctx, routeKline, q, false)
		if err != nil {
			return nil, err
		}
		rows := res.Get("list").Array()
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			k, err := klineFromRow(row, iv)
			if err != nil {
				return nil, err
			}
			newestFirst = append(newestFirst, k)
		}
		end = newestFirst[len(newestFirst)-1].Start.UnixMilli() - 1
		if len(rows) < limit {
			break
		}
	}

	out := make([]model.Kline, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		k := newestFirst[i]
		if k.Start.Add(iv.Duration()).After(now) {
			continue
		}
		out = append(out, k)
	}
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

func klineFromRow(row gjson.Result, iv model.Interval) (model.Kline, error) {
	cols := row.Array()
	if len(cols) < 6 {
		return model.Kline{}, fmt.Errorf("%w: kline row has %d columns", ErrDecode, len(cols))
	}
	startMs, err := strconv.ParseInt(cols[0].String(), 10, 64)
	if err != nil {
		return model.Kline{}, fmt.Errorf("%w: kline start: %v", ErrDecode, err)
	}
	var vals [5]float64
	for i := range vals {
		if vals[i], err = parseNumber(cols[i+1]); err != nil {
			return model.Kline{}, fmt.Errorf("%w: kline column %d: %v", ErrDecode, i+1, err)
		}
	}
	start := time.UnixMilli(startMs).UTC()
	return model.Kline{
		Start:   start,
		End:     start.Add(iv.Duration() - time.Millisecond),
		Open:    vals[0],
		High:    vals[1],
		Low:     vals[2],
		Close:   vals[3],
		Volume:  vals[4],
		Confirm: true,
	}, nil
}

// LastPrice returns the last traded price for symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", c.category)
	q.Set("symbol", symbol)
	res, err := c.get(ctx, routeTickers, q, false)
	if err != nil {
		return 0, err
	}
	v := res.Get("list.0.lastPrice")
	if !v.Exists() {
		return 0, fmt.Errorf("%w: no ticker for %s", ErrDecode, symbol)
	}
	return parseNumber(v)
}

// WalletBalance reads the unified account's available balance.
func (c *Client) WalletBalance(ctx context.Context) (model.Wallet, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")
	res, err := c.get(ctx, routeWallet, q, true)
	if err != nil {
		return model.Wallet{}, err
	}
	v := res.Get("list.0.totalAvailableBalance")
	if !v.Exists() {
		return model.Wallet{}, fmt.Errorf("%w: wallet balance missing", ErrDecode)
	}
	bal, err := parseNumber(v)
	if err != nil {
		return model.Wallet{}, fmt.Errorf("%w: wallet balance: %v", ErrDecode, err)
	}
	return model.Wallet{TotalAvailableBalance: bal}, nil
}

// PlaceMarketOrder submits a market order. When quoteUnit is set, qty is a
// quote-currency amount (spend qty USDT); otherwise it is a base quantity.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side model.Side, qty decimal.Decimal, quoteUnit bool) (model.Order, error) {
	body := map[string]string{
		"category":  c.category,
		"symbol":    symbol,
		"side":      string(side),
		"orderType": "Market",
		"qty":       qty.String(),
	}
	if quoteUnit {
		body["marketUnit"] = "quoteCoin"
	} else {
		body["marketUnit"] = "baseCoin"
	}
	res, err := c.post(ctx, routeOrderCreate, body)
	if err != nil {
		return model.Order{}, err
	}
	f, _ := qty.Float64()
	return model.Order{
		OrderID:   res.Get("orderId").String(),
		Symbol:    symbol,
		Side:      side,
		Qty:       f,
		Status:    "PLACED",
		CreatedAt: c.now(),
	}, nil
}

// ---- request helpers ----

func (c *Client) get(ctx context.Context, route string, q url.Values, signed bool) (gjson.Result, error) {
	query := q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+route+"?"+query, nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("bybit %s: create request: %w", route, err)
	}
	if signed {
		c.sign(req, query)
	}
	return c.do(req, route)
}

func (c *Client) post(ctx context.Context, route string, body any) (gjson.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("bybit %s: marshal: %w", route, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("bybit %s: create request: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, string(payload))
	return c.do(req, route)
}

// sign adds the v5 HMAC headers. The signed string is
// timestamp + apiKey + recvWindow + (query string | json body).
func (c *Client) sign(req *http.Request, payload string) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	recv := strconv.FormatInt(c.recvWindow.Milliseconds(), 10)
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", recv)
	req.Header.Set("X-BAPI-SIGN-TYPE", "2")
	req.Header.Set("X-BAPI-SIGN", Sign(c.apiSecret, ts+c.apiKey+recv+payload))
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(req *http.Request, route string) (gjson.Result, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("bybit %s: send: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("bybit %s: read body: %w", route, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("bybit %s: unexpected status %d", route, resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s returned invalid json", ErrDecode, route)
	}

	res := gjson.ParseBytes(raw)
	if code := res.Get("retCode").Int(); code != 0 {
		return gjson.Result{}, &APIError{Code: code, Message: res.Get("retMsg").String(), Route: route}
	}
	c.log.Debug("request ok", "route", route)
	return res.Get("result"), nil
}

package bybit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc, now time.Time) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:    "key",
		APISecret: "secret",
		BaseURL:   srv.URL,
		Now:       func() time.Time { return now },
	})
}

func TestSign(t *testing.T) {
	// HMAC-SHA256("secret", "payload"), precomputed.
	assert.Equal(t, "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4", Sign("secret", "payload"))
}

func TestClient_KlinesDropsFormingBarAndReverses(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(3*time.Minute + 30*time.Second) // bar at 03:00 still forming

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, routeKline, r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("interval"))
		rows := make([]string, 0, 4)
		for i := 3; i >= 0; i-- {
			ts := base.Add(time.Duration(i) * time.Minute).UnixMilli()
			rows = append(rows, fmt.Sprintf(`["%d","%d","%d","%d","%d","1","1"]`, ts, i, i+1, i, i))
		}
		fmt.Fprintf(w, `{"retCode":0,"retMsg":"OK","result":{"list":[%s]}}`, strings.Join(rows, ","))
	}, now)

	klines, err := client.Klines(context.Background(), "BTCUSDT", model.Minute1, 3)
	require.NoError(t, err)
	require.Len(t, klines, 3)
	for i, k := range klines {
		assert.Equal(t, base.Add(time.Duration(i)*time.Minute), k.Start)
		assert.Equal(t, float64(i), k.Close)
	}
}

func TestClient_KlinesPaginates(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	total := 1500
	now := base.Add(time.Duration(total) * time.Minute)

	var mu sync.Mutex
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		newest := total - 1
		if end := r.URL.Query().Get("end"); end != "" {
			ms, _ := strconv.ParseInt(end, 10, 64)
			newest = int(time.UnixMilli(ms).Sub(base) / time.Minute)
		}
		rows := []string{}
		for i := newest; i >= 0 && len(rows) < limit; i-- {
			ts := base.Add(time.Duration(i) * time.Minute).UnixMilli()
			rows = append(rows, fmt.Sprintf(`["%d","1","1","1","%d","1","1"]`, ts, i))
		}
		fmt.Fprintf(w, `{"retCode":0,"result":{"list":[%s]}}`, strings.Join(rows, ","))
	}, now)

	klines, err := client.Klines(context.Background(), "BTCUSDT", model.Minute1, 1200)
	require.NoError(t, err)
	require.Len(t, klines, 1200)
	assert.Equal(t, float64(total-1200), klines[0].Close)
	assert.Equal(t, float64(total-1), klines[len(klines)-1].Close)
	assert.Equal(t, 2, calls)
}

func TestClient_LastPrice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","lastPrice":"43250.5"}]}}`)
	}, time.Now())

	p, err := client.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 43250.5, p)
}

func TestClient_WalletBalanceIsSigned(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-BAPI-API-KEY"))
		assert.Equal(t, "1700000000000", r.Header.Get("X-BAPI-TIMESTAMP"))
		assert.Equal(t, "5000", r.Header.Get("X-BAPI-RECV-WINDOW"))
		want := Sign("secret", "1700000000000key5000"+r.URL.RawQuery)
		assert.Equal(t, want, r.Header.Get("X-BAPI-SIGN"))
		io.WriteString(w, `{"retCode":0,"result":{"list":[{"totalAvailableBalance":"1000.25"}]}}`)
	}, now)

	wallet, err := client.WalletBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.25, wallet.TotalAvailableBalance)
}

func TestClient_PlaceMarketOrder(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"category":"spot","symbol":"BTCUSDT","side":"Buy","orderType":"Market","qty":"500","marketUnit":"quoteCoin"}`, string(body))
		io.WriteString(w, `{"retCode":0,"result":{"orderId":"o-1"}}`)
	}, time.Now())

	order, err := client.PlaceMarketOrder(context.Background(), "BTCUSDT", model.Buy, decimal.NewFromInt(500), true)
	require.NoError(t, err)
	assert.Equal(t, "o-1", order.OrderID)
	assert.Equal(t, 500.0, order.Qty)
}

func TestClient_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":10001,"retMsg":"params error","result":{}}`)
	}, time.Now())

	_, err := client.LastPrice(context.Background(), "NOPE")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int64(10001), apiErr.Code)
	assert.Equal(t, "params error", apiErr.Message)
}

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
)

func testSetup() model.Setup {
	return model.Setup{
		Symbol:      "BTCUSDT",
		Interval:    model.Minute1,
		Orientation: model.Long,
		Candle:      model.Candle{TS: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), Close: 64000.5},
	}
}

func TestSetupAlert(t *testing.T) {
	a := SetupAlert(testSetup(), "TrueOnce")
	assert.Equal(t, AlertInfo, a.Level)
	assert.Equal(t, "TrueOnce setup on BTCUSDT 1m", a.Title)
	assert.Equal(t, "long entry at 2024-05-01T09:00:00Z, close 64000.5", a.Message)
	assert.Equal(t, "long", a.Fields["orientation"])
}

func TestTradeClosedAlert_ShortPnL(t *testing.T) {
	rec := model.TradeRecord{ID: "t1", Symbol: "BTCUSDT", Orientation: "short", EntryPrice: 100}
	a := TradeClosedAlert(rec, model.TradeFinish{ID: "t1", ExitPrice: 90, BarsInTrade: 3})
	assert.Equal(t, AlertInfo, a.Level)
	assert.Equal(t, "exit 90 after 3 bars (+10.00%)", a.Message)

	rec.Orientation = "long"
	a = TradeClosedAlert(rec, model.TradeFinish{ID: "t1", ExitPrice: 90, BarsInTrade: 3})
	assert.Equal(t, AlertWarning, a.Level)
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), SetupAlert(testSetup(), "TrueOnce"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", got["level"])
	assert.Equal(t, "TrueOnce setup on BTCUSDT 1m", got["title"])
	fields, ok := got["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", fields["symbol"])
}

func TestWebhookNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestTelegramNotifier_Send(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42").WithAPIBase(srv.URL)
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "a.b", Message: "1-2"}))
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "MarkdownV2", body["parse_mode"])
	assert.True(t, strings.Contains(body["text"], `a\.b`))
	assert.True(t, strings.Contains(body["text"], `1\-2`))
}

type failing struct{ err error }

func (f failing) Send(context.Context, Alert) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	m := Multi{NewLogNotifier(), failing{boom}, failing{nil}}
	err := m.Send(context.Background(), Alert{Title: "x"})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, Multi{NewLogNotifier()}.Send(context.Background(), Alert{}))
}

package bybit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/internal/model"
)

func TestIntervalCode(t *testing.T) {
	want := map[model.Interval]string{
		model.Minute1: "1", model.Minute5: "5", model.Minute15: "15", model.Minute30: "30",
		model.Hour1: "60", model.Day1: "D", model.Week1: "W",
	}
	for iv, code := range want {
		got, err := IntervalCode(iv)
		require.NoError(t, err, iv.String())
		assert.Equal(t, code, got, iv.String())
	}

	for _, iv := range []model.Interval{model.Hour4, model.Hour12, model.Day5} {
		_, err := IntervalCode(iv)
		assert.True(t, errors.Is(err, model.ErrUnsupportedInterval), iv.String())
	}
}

func TestOutgoingMessages(t *testing.T) {
	topic, err := KlineTopic(model.Minute1, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "kline.1.BTCUSDT", topic)

	assert.JSONEq(t, `{"op":"subscribe","args":["kline.1.BTCUSDT"]}`, string(SubscribeMessage(topic).JSON()))
	assert.JSONEq(t, `{"op":"ping"}`, string(PingMessage("").JSON()))
	assert.JSONEq(t, `{"op":"ping","req_id":"42"}`, string(PingMessage("42").JSON()))
}

func TestDecodeFrame_Pong(t *testing.T) {
	for _, raw := range []string{
		`{"success":true,"ret_msg":"pong","conn_id":"abc","op":"ping"}`,
		`{"op":"pong","args":["1672741013949"],"conn_id":"abc"}`,
	} {
		f, err := DecodeFrame([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, FramePong, f.Kind, raw)
	}
}

func TestDecodeFrame_SubscribeAck(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"success":true,"ret_msg":"subscribe","conn_id":"c1","req_id":"","op":"subscribe"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameSubscribe, f.Kind)
	assert.True(t, f.Success)
	assert.Equal(t, "c1", f.ConnID)
}

func TestDecodeFrame_Kline(t *testing.T) {
	raw := `{"topic":"kline.5.BTCUSDT","data":[{"start":1672324800000,"end":1672325099999,"interval":"5",
		"open":"16649.5","close":"16677","high":"16677","low":"16608","volume":"2.081","turnover":"34666.4005",
		"confirm":false,"timestamp":1672324988882}],"ts":1672324988882,"type":"snapshot"}`

	f, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, FrameKline, f.Kind)
	require.Len(t, f.Klines, 1)

	k := f.Klines[0]
	assert.Equal(t, time.UnixMilli(1672324800000).UTC(), k.Start)
	assert.Equal(t, 16649.5, k.Open)
	assert.Equal(t, 16677.0, k.High)
	assert.Equal(t, 16608.0, k.Low)
	assert.Equal(t, 16677.0, k.Close)
	assert.Equal(t, 2.081, k.Volume)
	assert.False(t, k.Confirm)
}

func TestDecodeFrame_Errors(t *testing.T) {
	cases := map[string]string{
		"invalid json":  `{"topic":`,
		"missing start": `{"topic":"kline.1.BTCUSDT","data":[{"open":"1"}]}`,
		"bad number":    `{"topic":"kline.1.BTCUSDT","data":[{"start":1,"open":"x","high":"1","low":"1","close":"1","volume":"1"}]}`,
		"empty data":    `{"topic":"kline.1.BTCUSDT","data":[]}`,
	}
	for name, raw := range cases {
		_, err := DecodeFrame([]byte(raw))
		assert.True(t, errors.Is(err, ErrDecode), name)
	}

	f, err := DecodeFrame([]byte(`{"topic":"orderbook.1.BTCUSDT","data":{}}`))
	require.NoError(t, err)
	assert.Equal(t, FrameUnknown, f.Kind)
}

// Package bybit is a small client for the Bybit v5 API: the public spot kline
// websocket wire format and the REST endpoints needed to seed history, quote
// prices, read the wallet and place market orders.
package bybit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"tradeengine/internal/model"
)

// Net selects the Bybit environment.
type Net string

const (
	Testnet Net = "testnet"
	Mainnet Net = "mainnet"
)

const (
	testnetStreamURL = "wss://stream-testnet.bybit.com/v5/public/spot"
	mainnetStreamURL = "wss://stream.bybit.com/v5/public/spot"
	testnetRESTURL   = "https://api-testnet.bybit.com"
	mainnetRESTURL   = "https://api.bybit.com"
)

// ParseNet accepts "testnet" or "mainnet".
func ParseNet(s string) (Net, error) {
	switch Net(strings.ToLower(strings.TrimSpace(s))) {
	case Testnet:
		return Testnet, nil
	case Mainnet:
		return Mainnet, nil
	}
	return "", fmt.Errorf("bybit: unknown net %q", s)
}

// StreamURL returns the public spot websocket endpoint.
func (n Net) StreamURL() string {
	if n == Testnet {
		return testnetStreamURL
	}
	return mainnetStreamURL
}

// RESTURL returns the REST base URL.
func (n Net) RESTURL() string {
	if n == Testnet {
		return testnetRESTURL
	}
	return mainnetRESTURL
}

// IntervalCode maps an interval to the Bybit kline code.
func IntervalCode(iv model.Interval) (string, error) {
	switch iv {
	case model.Minute1:
		return "1", nil
	case model.Minute5:
		return "5", nil
	case model.Minute15:
		return "15", nil
	case model.Minute30:
		return "30", nil
	case model.Hour1:
		return "60", nil
	case model.Day1:
		return "D", nil
	case model.Week1:
		return "W", nil
	}
	return "", fmt.Errorf("bybit does not support interval %s: %w", iv, model.ErrUnsupportedInterval)
}

// KlineTopic builds the subscription topic, e.g. "kline.1.BTCUSDT".
func KlineTopic(iv model.Interval, symbol string) (string, error) {
	code, err := IntervalCode(iv)
	if err != nil {
		return "", err
	}
	return "kline." + code + "." + symbol, nil
}

// OutgoingMessage is a request frame sent on the websocket.
type OutgoingMessage struct {
	ReqID string   `json:"req_id,omitempty"`
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
}

// SubscribeMessage builds a subscribe frame for the given topics.
func SubscribeMessage(topics ...string) OutgoingMessage {
	return OutgoingMessage{Op: "subscribe", Args: topics}
}

// PingMessage builds a heartbeat frame. reqID may be empty.
func PingMessage(reqID string) OutgoingMessage {
	return OutgoingMessage{Op: "ping", ReqID: reqID}
}

// JSON encodes the frame.
func (m OutgoingMessage) JSON() []byte {
	b, _ := json.Marshal(m)
	return b
}

// FrameKind classifies inbound websocket frames.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FramePong
	FrameSubscribe
	FrameKline
)

func (k FrameKind) String() string {
	switch k {
	case FramePong:
		return "pong"
	case FrameSubscribe:
		return "subscribe"
	case FrameKline:
		return "kline"
	default:
		return "unknown"
	}
}

// ErrDecode wraps malformed inbound frames.
var ErrDecode = errors.New("bybit: decode frame")

// Frame is a decoded inbound message.
type Frame struct {
	Kind    FrameKind
	Success bool   // subscribe ack
	RetMsg  string // subscribe ack / pong
	ConnID  string
	Topic   string
	Klines  []model.Kline
}

// DecodeFrame parses one inbound text frame. Pong replies come back either as
// op "pong" or as op "ping" with ret_msg "pong" depending on the product.
func DecodeFrame(raw []byte) (Frame, error) {
	if !gjson.ValidBytes(raw) {
		return Frame{}, fmt.Errorf("%w: invalid json", ErrDecode)
	}
	res := gjson.ParseBytes(raw)

	op := res.Get("op").String()
	retMsg := res.Get("ret_msg").String()
	switch {
	case op == "pong" || (op == "ping" && retMsg == "pong"):
		return Frame{Kind: FramePong, RetMsg: retMsg, ConnID: res.Get("conn_id").String()}, nil
	case op == "subscribe":
		return Frame{
			Kind:    FrameSubscribe,
			Success: res.Get("success").Bool(),
			RetMsg:  retMsg,
			ConnID:  res.Get("conn_id").String(),
		}, nil
	}

	topic := res.Get("topic").String()
	if !strings.HasPrefix(topic, "kline.") {
		return Frame{Kind: FrameUnknown, Topic: topic}, nil
	}

	data := res.Get("data")
	if !data.IsArray() {
		return Frame{}, fmt.Errorf("%w: kline data is not an array", ErrDecode)
	}
	f := Frame{Kind: FrameKline, Topic: topic}
	var decodeErr error
	data.ForEach(func(_, v gjson.Result) bool {
		k, err := decodeKline(v)
		if err != nil {
			decodeErr = err
			return false
		}
		f.Klines = append(f.Klines, k)
		return true
	})
	if decodeErr != nil {
		return Frame{}, decodeErr
	}
	if len(f.Klines) == 0 {
		return Frame{}, fmt.Errorf("%w: empty kline data", ErrDecode)
	}
	return f, nil
}

func decodeKline(v gjson.Result) (model.Kline, error) {
	start := v.Get("start")
	if !start.Exists() {
		return model.Kline{}, fmt.Errorf("%w: kline without start", ErrDecode)
	}
	var k model.Kline
	k.Start = time.UnixMilli(start.Int()).UTC()
	k.End = time.UnixMilli(v.Get("end").Int()).UTC()
	k.Confirm = v.Get("confirm").Bool()

	fields := []struct {
		name string
		dst  *float64
	}{
		{"open", &k.Open}, {"high", &k.High}, {"low", &k.Low}, {"close", &k.Close}, {"volume", &k.Volume},
	}
	for _, fld := range fields {
		f, err := parseNumber(v.Get(fld.name))
		if err != nil {
			return model.Kline{}, fmt.Errorf("%w: kline %s: %v", ErrDecode, fld.name, err)
		}
		*fld.dst = f
	}
	return k, nil
}

// parseNumber accepts Bybit's string-encoded decimals as well as bare numbers.
func parseNumber(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.String:
		return strconv.ParseFloat(v.Str, 64)
	case gjson.Number:
		return v.Num, nil
	}
	return 0, fmt.Errorf("missing or non-numeric value %q", v.Raw)
}

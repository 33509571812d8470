// cmd/klinesim serves a Bybit-shaped spot kline stream and the public REST
// routes the engine seeds from, so the engine can run without a venue.
//
// Config (env vars):
//
//	SIM_ADDR        listen address (default ":9002")
//	SIM_START_PRICE starting price for every symbol (default 64000)
//	SIM_TICK_MS     push interval in milliseconds (default 1000)
//
// Point the engine at it with BYBIT_WS_URL=ws://localhost:9002/v5/public/spot
// and BYBIT_REST_URL=http://localhost:9002.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"tradeengine/internal/logger"
	"tradeengine/internal/model"
	"tradeengine/pkg/bybit"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

var allIntervals = []model.Interval{
	model.Minute1, model.Minute5, model.Minute15, model.Minute30,
	model.Hour1, model.Day1, model.Week1,
}

// bar is the forming kline of one topic.
type bar struct {
	start                  time.Time
	open, high, low, close float64
	volume                 float64
}

type market struct {
	mu         sync.Mutex
	startPrice float64
	price      map[string]float64 // by symbol
	bars       map[string]*bar    // by topic
	rng        *rand.Rand
}

func newMarket(startPrice float64) *market {
	return &market{
		startPrice: startPrice,
		price:      make(map[string]float64),
		bars:       make(map[string]*bar),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// walk moves symbol by up to 0.1% and returns the new price.
func (m *market) walk(symbol string) float64 {
	p, ok := m.price[symbol]
	if !ok {
		p = m.startPrice
	}
	p *= 1 + (m.rng.Float64()*0.2-0.1)/100
	m.price[symbol] = p
	return p
}

func (m *market) lastPrice(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.price[symbol]; ok {
		return p
	}
	return m.startPrice
}

// tick advances the topic's forming bar to now and returns its frame.
func (m *market) tick(topic string, iv model.Interval, symbol string, now time.Time) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.walk(symbol)
	start := now.Truncate(iv.Duration())
	b, ok := m.bars[topic]
	if !ok || !b.start.Equal(start) {
		b = &bar{start: start, open: p, high: p, low: p}
		m.bars[topic] = b
	}
	b.close = p
	b.high = max(b.high, p)
	b.low = min(b.low, p)
	b.volume += m.rng.Float64()

	code, _ := bybit.IntervalCode(iv)
	frame := map[string]any{
		"topic": topic,
		"type":  "snapshot",
		"ts":    now.UnixMilli(),
		"data": []map[string]any{{
			"start":    b.start.UnixMilli(),
			"end":      b.start.Add(iv.Duration()).UnixMilli() - 1,
			"interval": code,
			"open":     format(b.open),
			"close":    format(b.close),
			"high":     format(b.high),
			"low":      format(b.low),
			"volume":   format(b.volume),
			"confirm":  false,
		}},
	}
	raw, _ := json.Marshal(frame)
	return raw
}

func format(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

// parseTopic splits "kline.1.BTCUSDT".
func parseTopic(topic string) (model.Interval, string, error) {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 || parts[0] != "kline" {
		return 0, "", fmt.Errorf("unknown topic %q", topic)
	}
	iv, err := intervalFromCode(parts[1])
	if err != nil {
		return 0, "", err
	}
	return iv, parts[2], nil
}

func intervalFromCode(code string) (model.Interval, error) {
	for _, iv := range allIntervals {
		if c, _ := bybit.IntervalCode(iv); c == code {
			return iv, nil
		}
	}
	return 0, fmt.Errorf("unknown interval code %q", code)
}

func wsHandler(m *market, tick time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		slog.Info("client connected", "remote", r.RemoteAddr)
		defer slog.Info("client disconnected", "remote", r.RemoteAddr)

		var (
			writeMu sync.Mutex
			topicMu sync.Mutex
			topics  = make(map[string]struct{})
			done    = make(chan struct{})
		)
		write := func(raw []byte) error {
			writeMu.Lock()
			defer writeMu.Unlock()
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			return conn.WriteMessage(websocket.TextMessage, raw)
		}

		go func() {
			ticker := time.NewTicker(tick)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case now := <-ticker.C:
					topicMu.Lock()
					names := make([]string, 0, len(topics))
					for t := range topics {
						names = append(names, t)
					}
					topicMu.Unlock()
					for _, t := range names {
						iv, symbol, _ := parseTopic(t)
						if err := write(m.tick(t, iv, symbol, now.UTC())); err != nil {
							return
						}
					}
				}
			}
		}()
		defer close(done)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			op := gjson.GetBytes(raw, "op").String()
			reqID := gjson.GetBytes(raw, "req_id").String()
			switch op {
			case "ping":
				write(reply(op, reqID, true, "pong"))
			case "subscribe":
				ok := true
				for _, a := range gjson.GetBytes(raw, "args").Array() {
					if _, _, err := parseTopic(a.String()); err != nil {
						ok = false
						continue
					}
					topicMu.Lock()
					topics[a.String()] = struct{}{}
					topicMu.Unlock()
				}
				msg := "subscribe"
				if !ok {
					msg = "error:handler not found"
				}
				write(reply(op, reqID, ok, msg))
			default:
				write(reply(op, reqID, false, "unsupported op"))
			}
		}
	}
}

func reply(op, reqID string, success bool, msg string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"success": success,
		"ret_msg": msg,
		"conn_id": "klinesim",
		"req_id":  reqID,
		"op":      op,
	})
	return raw
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"retCode": 0, "retMsg": "OK", "result": result})
}

func writeRetError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"retCode": code, "retMsg": msg, "result": map[string]any{}})
}

// klineHandler returns a flat synthetic history, newest first, ending with
// the bar forming now.
func klineHandler(m *market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		iv, err := intervalFromCode(q.Get("interval"))
		if err != nil {
			writeRetError(w, 10001, err.Error())
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		if limit <= 0 || limit > 1000 {
			limit = 200
		}
		newest := time.Now().UTC().Truncate(iv.Duration())
		if end := q.Get("end"); end != "" {
			ms, err := strconv.ParseInt(end, 10, 64)
			if err != nil {
				writeRetError(w, 10001, "bad end")
				return
			}
			newest = time.UnixMilli(ms).UTC().Truncate(iv.Duration())
		}
		p := format(m.lastPrice(q.Get("symbol")))
		rows := make([][]string, 0, limit)
		for i := 0; i < limit; i++ {
			start := newest.Add(-time.Duration(i) * iv.Duration())
			rows = append(rows, []string{strconv.FormatInt(start.UnixMilli(), 10), p, p, p, p, "1", p})
		}
		writeResult(w, map[string]any{"category": "spot", "symbol": q.Get("symbol"), "list": rows})
	}
}

func tickerHandler(m *market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		writeResult(w, map[string]any{
			"category": "spot",
			"list":     []map[string]string{{"symbol": symbol, "lastPrice": format(m.lastPrice(symbol))}},
		})
	}
}

func main() {
	logger.Init("klinesim", logger.ParseLevel(envOrDefault("LOG_LEVEL", "info")))

	addr := envOrDefault("SIM_ADDR", ":9002")
	startPrice, err := strconv.ParseFloat(envOrDefault("SIM_START_PRICE", "64000"), 64)
	if err != nil || startPrice <= 0 {
		slog.Error("SIM_START_PRICE must be a positive number")
		os.Exit(1)
	}
	tickMs, err := strconv.Atoi(envOrDefault("SIM_TICK_MS", "1000"))
	if err != nil || tickMs <= 0 {
		slog.Error("SIM_TICK_MS must be a positive integer")
		os.Exit(1)
	}

	m := newMarket(startPrice)
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/public/spot", wsHandler(m, time.Duration(tickMs)*time.Millisecond))
	mux.HandleFunc("/v5/market/kline", klineHandler(m))
	mux.HandleFunc("/v5/market/tickers", tickerHandler(m))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"klinesim"}`)
	})

	slog.Info("klinesim listening", "addr", addr, "tick_ms", tickMs, "start_price", startPrice)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

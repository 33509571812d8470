// Package api serves the engine's read-only HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"tradeengine/internal/engine"
	"tradeengine/internal/model"
	"tradeengine/internal/timeseries"
)

const (
	defaultTradeLimit  = 50
	maxTradeLimit      = 1000
	defaultCandleCount = 100
	writeWait          = 10 * time.Second
	pingPeriod         = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// TradeLister reads persisted trades, newest first.
type TradeLister interface {
	ListTrades(ctx context.Context, limit int) ([]model.TradeRecord, error)
}

// Engine is the running engine as seen by the API.
type Engine interface {
	Symbol() string
	Intervals() []model.Interval
	Hub(iv model.Interval) (*timeseries.Hub, bool)
	Strategies(ctx context.Context) []engine.StrategyStatus
}

// Deps are the handlers' collaborators. Trades and Health are optional.
type Deps struct {
	Engine Engine
	Trades TradeLister
	Health http.Handler
}

type server struct {
	deps Deps
	log  *slog.Logger
}

// NewRouter registers every route under /api/v1.
func NewRouter(deps Deps) *mux.Router {
	s := &server{deps: deps, log: slog.Default().With(slog.String("component", "api"))}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(cors)
	v1.HandleFunc("/health", s.health).Methods(http.MethodGet)
	v1.HandleFunc("/trades", s.trades).Methods(http.MethodGet)
	v1.HandleFunc("/strategies", s.strategies).Methods(http.MethodGet)
	v1.HandleFunc("/candles", s.intervals).Methods(http.MethodGet)
	v1.HandleFunc("/candles/{interval}", s.candles).Methods(http.MethodGet)
	v1.HandleFunc("/stream/{interval}", s.stream)
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		s.deps.Health.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) trades(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		writeError(w, http.StatusServiceUnavailable, "no trade store configured")
		return
	}
	limit, err := intParam(r, "limit", defaultTradeLimit)
	if err != nil || limit <= 0 || limit > maxTradeLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	out, err := s.deps.Trades.ListTrades(r.Context(), limit)
	if err != nil {
		s.log.Error("list trades failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list trades failed")
		return
	}
	if out == nil {
		out = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) strategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Engine.Strategies(r.Context()))
}

func (s *server) intervals(w http.ResponseWriter, r *http.Request) {
	ivs := s.deps.Engine.Intervals()
	names := make([]string, len(ivs))
	for i, iv := range ivs {
		names[i] = iv.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    s.deps.Engine.Symbol(),
		"intervals": names,
	})
}

type candlesResponse struct {
	Symbol   string         `json:"symbol"`
	Interval string         `json:"interval"`
	Candles  []model.Candle `json:"candles"`
}

func (s *server) candles(w http.ResponseWriter, r *http.Request) {
	hub, ok := s.hub(w, r)
	if !ok {
		return
	}
	n, err := intParam(r, "n", defaultCandleCount)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "n must be a positive integer")
		return
	}
	win, err := hub.RequestLatest(r.Context(), n)
	switch {
	case errors.Is(err, timeseries.ErrInsufficientHistory):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, candlesResponse{
		Symbol:   win.Symbol,
		Interval: win.Interval.String(),
		Candles:  win.Candles,
	})
}

// stream pushes every appended candle of one interval as a JSON text frame
// until the client disconnects or the hub stops.
func (s *server) stream(w http.ResponseWriter, r *http.Request) {
	hub, ok := s.hub(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub, err := hub.Subscribe(ctx)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		return
	}
	defer sub.Close()

	// Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub stopped"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(streamEvent{
				Symbol:   ev.Symbol,
				Interval: ev.Interval.String(),
				Candle:   ev.Candle,
			}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type streamEvent struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Candle   model.Candle `json:"candle"`
}

func (s *server) hub(w http.ResponseWriter, r *http.Request) (*timeseries.Hub, bool) {
	iv, err := model.ParseInterval(mux.Vars(r)["interval"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	hub, ok := s.deps.Engine.Hub(iv)
	if !ok {
		writeError(w, http.StatusNotFound, "interval "+iv.String()+" is not running")
		return nil, false
	}
	return hub, true
}

func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

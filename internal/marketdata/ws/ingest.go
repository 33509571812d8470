// Package ws ingests the Bybit public kline websocket for one symbol and
// interval and emits a candle each time a bar closes.
//
// A session sends one subscribe frame, then interleaves two event sources on
// a single goroutine: a heartbeat ticker and inbound frames. Whichever is
// ready first is handled, so heavy inbound traffic cannot starve the ping.
// The session ends on the first read or decode error; reconnecting is left to
// the caller.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"tradeengine/internal/marketdata/closedetector"
	"tradeengine/internal/model"
	"tradeengine/pkg/bybit"
)

const (
	defaultHeartbeat    = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// IngestConfig holds configuration for one kline stream.
type IngestConfig struct {
	// URL of the venue stream, e.g. bybit.Mainnet.StreamURL().
	URL      string
	Symbol   string
	Interval model.Interval

	// HeartbeatInterval defaults to 20 seconds.
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	Dialer            *websocket.Dialer
}

// ErrSubscribeRejected is returned when the venue refuses the subscription.
var ErrSubscribeRejected = errors.New("ws ingest: subscription rejected")

// Ingest owns one streaming session at a time.
type Ingest struct {
	cfg   IngestConfig
	topic string
	log   *slog.Logger

	// Optional metrics hooks
	OnKline     func()
	OnCandle    func(model.Candle)
	OnHeartbeat func()
	OnConnect   func()
}

// New validates cfg and builds an Ingest. Intervals without a venue code fail
// with model.ErrUnsupportedInterval.
func New(cfg IngestConfig) (*Ingest, error) {
	if _, err := url.Parse(cfg.URL); err != nil || cfg.URL == "" {
		return nil, fmt.Errorf("ws ingest: bad url %q", cfg.URL)
	}
	if cfg.Symbol == "" {
		return nil, &model.BuildError{Field: "symbol", Target: "Ingest"}
	}
	topic, err := bybit.KlineTopic(cfg.Interval, cfg.Symbol)
	if err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Ingest{
		cfg:   cfg,
		topic: topic,
		log: slog.Default().With(
			slog.String("component", "feed"),
			slog.String("topic", topic),
		),
	}, nil
}

// Topic returns the subscription topic, e.g. "kline.1.BTCUSDT".
func (ing *Ingest) Topic() string { return ing.topic }

type inbound struct {
	raw []byte
	err error
}

// Start runs one session and sends every closed candle to candleCh.
// Returns nil when ctx is cancelled, otherwise the error that ended the session.
func (ing *Ingest) Start(ctx context.Context, candleCh chan<- model.Candle) error {
	conn, _, err := ing.cfg.Dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("ws ingest: dial: %w", err)
	}
	defer conn.Close()

	ing.log.Info("connected", "url", ing.cfg.URL)
	if ing.OnConnect != nil {
		ing.OnConnect()
	}

	if err := ing.write(conn, bybit.SubscribeMessage(ing.topic)); err != nil {
		return fmt.Errorf("ws ingest: subscribe: %w", err)
	}
	var reqSeq int
	if err := ing.ping(conn, &reqSeq); err != nil {
		return fmt.Errorf("ws ingest: initial ping: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	frames := make(chan inbound)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			select {
			case frames <- inbound{raw: raw, err: err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(ing.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	detector := closedetector.New()
	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			return nil

		case <-heartbeat.C:
			// Heartbeat failures are not fatal; a dead socket surfaces on read.
			if err := ing.ping(conn, &reqSeq); err != nil {
				ing.log.Warn("heartbeat failed", "error", err)
			}

		case in := <-frames:
			if in.err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ing.log.Error("read failed", "error", in.err)
				return fmt.Errorf("ws ingest: read: %w", in.err)
			}
			if err := ing.handle(ctx, in.raw, detector, candleCh); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ing.log.Error("frame rejected", "error", err, "raw", string(in.raw))
				return err
			}
		}
	}
}

func (ing *Ingest) handle(ctx context.Context, raw []byte, d *closedetector.Detector, candleCh chan<- model.Candle) error {
	frame, err := bybit.DecodeFrame(raw)
	if err != nil {
		return err
	}

	switch frame.Kind {
	case bybit.FramePong:
		return nil
	case bybit.FrameSubscribe:
		if !frame.Success {
			return fmt.Errorf("%w: %s", ErrSubscribeRejected, frame.RetMsg)
		}
		ing.log.Info("subscribed", "conn_id", frame.ConnID)
		return nil
	case bybit.FrameUnknown:
		ing.log.Debug("ignoring frame", "topic", frame.Topic)
		return nil
	}

	for _, k := range frame.Klines {
		if ing.OnKline != nil {
			ing.OnKline()
		}
		candle, closed := d.Observe(k)
		if !closed {
			continue
		}
		if ing.OnCandle != nil {
			ing.OnCandle(candle)
		}
		select {
		case candleCh <- candle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (ing *Ingest) ping(conn *websocket.Conn, seq *int) error {
	*seq++
	if err := ing.write(conn, bybit.PingMessage(strconv.Itoa(*seq))); err != nil {
		return err
	}
	if ing.OnHeartbeat != nil {
		ing.OnHeartbeat()
	}
	return nil
}

func (ing *Ingest) write(conn *websocket.Conn, msg bybit.OutgoingMessage) error {
	conn.SetWriteDeadline(time.Now().Add(ing.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg.JSON())
}

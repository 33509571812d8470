// Package notification delivers trading alerts to external channels
// (Telegram, webhooks, the log).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"tradeengine/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// SetupAlert describes a setup found by a strategy.
func SetupAlert(s model.Setup, strategy string) Alert {
	c := s.Candle
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s setup on %s %s", strategy, s.Symbol, s.Interval),
		Message: fmt.Sprintf("%s entry at %s, close %s",
			s.Orientation, c.TS.UTC().Format(time.RFC3339), formatPrice(c.Close)),
		Fields: map[string]string{
			"strategy":    strategy,
			"symbol":      s.Symbol,
			"interval":    s.Interval.String(),
			"orientation": s.Orientation.String(),
			"close":       formatPrice(c.Close),
			"ts":          c.TS.UTC().Format(time.RFC3339),
		},
	}
}

// TradeClosedAlert describes a finished trade.
func TradeClosedAlert(rec model.TradeRecord, f model.TradeFinish) Alert {
	pnl := 0.0
	if rec.EntryPrice != 0 {
		pnl = (f.ExitPrice - rec.EntryPrice) / rec.EntryPrice * 100
		if rec.Orientation == model.Short.String() {
			pnl = -pnl
		}
	}
	level := AlertInfo
	if pnl < 0 {
		level = AlertWarning
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s trade closed", rec.Symbol, rec.Orientation),
		Message: fmt.Sprintf("exit %s after %d bars (%+.2f%%)",
			formatPrice(f.ExitPrice), f.BarsInTrade, pnl),
		Fields: map[string]string{
			"trade_id":    rec.ID,
			"strategy":    rec.TradingStrategy,
			"entry_price": formatPrice(rec.EntryPrice),
			"exit_price":  formatPrice(f.ExitPrice),
			"bars":        strconv.Itoa(f.BarsInTrade),
		},
	}
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// LogNotifier writes alerts to the default logger (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	slog.InfoContext(ctx, alert.Message,
		"component", "notify", "level", string(alert.Level), "title", alert.Title)
	return nil
}

// Multi sends every alert to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

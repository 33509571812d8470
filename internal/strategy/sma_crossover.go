package strategy

import (
	"fmt"
	"log/slog"

	"tradeengine/internal/indicator"
	"tradeengine/internal/markethours"
	"tradeengine/internal/model"
)

// SMACrossover signals when the fast SMA crosses the slow SMA.
//
// Long: fast crosses above slow (golden cross).
// Short: fast crosses below slow (death cross).
//
// An optional RSI filter skips long entries when overbought (>70) and short
// entries when oversold (<30). Indicator values come from the hub, so the
// strategy itself keeps no price buffers.
type SMACrossover struct {
	fast, slow  model.IndicatorKind
	rsi         model.IndicatorKind // empty when the filter is off
	fastPeriod  int
	slowPeriod  int
	orientation model.Orientation
	takeProfit  float64
	stopLoss    float64
	interval    model.Interval
	calendar    markethours.Calendar
}

// SMACrossoverParams configures NewSMACrossover.
type SMACrossoverParams struct {
	FastPeriod  int
	SlowPeriod  int
	RSIPeriod   int // 0 disables the filter
	Orientation model.Orientation
	TakeProfit  float64
	StopLoss    float64
}

// NewSMACrossover requires 0 < FastPeriod < SlowPeriod.
func NewSMACrossover(p SMACrossoverParams, opts Options) (*SMACrossover, error) {
	if p.FastPeriod <= 0 || p.SlowPeriod <= p.FastPeriod {
		return nil, fmt.Errorf("sma crossover: need 0 < fast < slow, got %d/%d", p.FastPeriod, p.SlowPeriod)
	}
	if p.Orientation == 0 {
		p.Orientation = model.Long
	}
	if p.TakeProfit == 0 {
		p.TakeProfit = 0.02
	}
	if p.StopLoss == 0 {
		p.StopLoss = 0.01
	}
	if _, err := NewFixedPercent(p.TakeProfit, p.StopLoss); err != nil {
		return nil, err
	}
	s := &SMACrossover{
		fast:        indicator.SMAKind(p.FastPeriod),
		slow:        indicator.SMAKind(p.SlowPeriod),
		fastPeriod:  p.FastPeriod,
		slowPeriod:  p.SlowPeriod,
		orientation: p.Orientation,
		takeProfit:  p.TakeProfit,
		stopLoss:    p.StopLoss,
		interval:    opts.interval(model.Minute5),
		calendar:    opts.calendar(),
	}
	if p.RSIPeriod > 0 {
		s.rsi = indicator.RSIKind(p.RSIPeriod)
	}
	return s, nil
}

func (s *SMACrossover) Name() string {
	return fmt.Sprintf("SMACrossover(%d,%d)", s.fastPeriod, s.slowPeriod)
}

func (s *SMACrossover) CheckSetup(candles []model.Candle) (*model.SetupBuilder, bool) {
	if len(candles) < 2 {
		return nil, false
	}
	prev, cur := candles[len(candles)-2], candles[len(candles)-1]

	prevFast, ok1 := prev.Indicator(s.fast)
	prevSlow, ok2 := prev.Indicator(s.slow)
	fast, ok3 := cur.Indicator(s.fast)
	slow, ok4 := cur.Indicator(s.slow)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, false
	}

	var crossed bool
	switch s.orientation {
	case model.Long:
		crossed = prevFast <= prevSlow && fast > slow
	case model.Short:
		crossed = prevFast >= prevSlow && fast < slow
	}
	if !crossed {
		return nil, false
	}

	if s.rsi != "" {
		rsi, ok := cur.Indicator(s.rsi)
		if !ok {
			return nil, false
		}
		if s.orientation == model.Long && rsi > 70 {
			slog.Debug("golden cross filtered", "strategy", s.Name(), "rsi", rsi)
			return nil, false
		}
		if s.orientation == model.Short && rsi < 30 {
			slog.Debug("death cross filtered", "strategy", s.Name(), "rsi", rsi)
			return nil, false
		}
	}

	return model.NewSetupBuilder().Candle(cur).Orientation(s.orientation), true
}

func (s *SMACrossover) RequiredIndicators() []model.IndicatorKind {
	kinds := []model.IndicatorKind{s.fast, s.slow}
	if s.rsi != "" {
		kinds = append(kinds, s.rsi)
	}
	return kinds
}

// MinLength leaves room for the slow SMA plus one prior bar to compare against.
func (s *SMACrossover) MinLength() int { return s.slowPeriod + 1 }

func (s *SMACrossover) CandlesNeeded() int                { return 2 }
func (s *SMACrossover) Orientation() model.Orientation    { return s.orientation }
func (s *SMACrossover) Interval() model.Interval          { return s.interval }
func (s *SMACrossover) TradingDays() markethours.Calendar { return s.calendar }

func (s *SMACrossover) DefaultResolution() Resolution {
	return &FixedPercent{TakeProfit: s.takeProfit, StopLoss: s.stopLoss}
}

func (s *SMACrossover) Clone() Strategy {
	cp := *s
	return &cp
}

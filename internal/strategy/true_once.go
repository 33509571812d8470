package strategy

import (
	"tradeengine/internal/markethours"
	"tradeengine/internal/model"
)

// TrueOnce signals a long entry on the first candle it is asked about and
// never again. Used for smoke runs against a venue.
type TrueOnce struct {
	interval  model.Interval
	calendar  markethours.Calendar
	triggered bool
}

// NewTrueOnce defaults to the 1 minute interval.
func NewTrueOnce(opts Options) *TrueOnce {
	return &TrueOnce{interval: opts.interval(model.Minute1), calendar: opts.calendar()}
}

func (s *TrueOnce) Name() string { return "TrueOnce" }

func (s *TrueOnce) CheckSetup(candles []model.Candle) (*model.SetupBuilder, bool) {
	if s.triggered || len(candles) == 0 {
		return nil, false
	}
	s.triggered = true
	return model.NewSetupBuilder().Candle(candles[len(candles)-1]).Orientation(model.Long), true
}

func (s *TrueOnce) RequiredIndicators() []model.IndicatorKind { return nil }
func (s *TrueOnce) MinLength() int                            { return 1 }
func (s *TrueOnce) CandlesNeeded() int                        { return 1 }
func (s *TrueOnce) Orientation() model.Orientation            { return model.Long }
func (s *TrueOnce) Interval() model.Interval                  { return s.interval }
func (s *TrueOnce) DefaultResolution() Resolution             { return &Instant{} }
func (s *TrueOnce) TradingDays() markethours.Calendar         { return s.calendar }

func (s *TrueOnce) Clone() Strategy {
	cp := *s
	return &cp
}

// TrueTwice declines the first ask, signals on the second and is silent
// afterwards.
type TrueTwice struct {
	interval  model.Interval
	calendar  markethours.Calendar
	asked     int
	triggered bool
}

func NewTrueTwice(opts Options) *TrueTwice {
	return &TrueTwice{interval: opts.interval(model.Minute1), calendar: opts.calendar()}
}

func (s *TrueTwice) Name() string { return "TrueTwice" }

func (s *TrueTwice) CheckSetup(candles []model.Candle) (*model.SetupBuilder, bool) {
	if s.triggered || len(candles) == 0 {
		return nil, false
	}
	if s.asked < 1 {
		s.asked++
		return nil, false
	}
	s.triggered = true
	return model.NewSetupBuilder().Candle(candles[len(candles)-1]).Orientation(model.Long), true
}

func (s *TrueTwice) RequiredIndicators() []model.IndicatorKind { return nil }
func (s *TrueTwice) MinLength() int                            { return 1 }
func (s *TrueTwice) CandlesNeeded() int                        { return 1 }
func (s *TrueTwice) Orientation() model.Orientation            { return model.Long }
func (s *TrueTwice) Interval() model.Interval                  { return s.interval }
func (s *TrueTwice) DefaultResolution() Resolution             { return &Instant{} }
func (s *TrueTwice) TradingDays() markethours.Calendar         { return s.calendar }

func (s *TrueTwice) Clone() Strategy {
	cp := *s
	return &cp
}

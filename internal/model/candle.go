package model

import (
	"encoding/json"
	"time"
)

// IndicatorKind identifies a derived series attached to candles, e.g. "sma_20".
// Parsing and math live in internal/indicator.
type IndicatorKind string

// Candle represents one closed OHLCV bar and the indicator values the hub
// computed for it. Prices are quote-currency floats as delivered by the venue.
type Candle struct {
	TS         time.Time                 `json:"ts"` // bucket start (UTC)
	Open       float64                   `json:"open"`
	High       float64                   `json:"high"`
	Low        float64                   `json:"low"`
	Close      float64                   `json:"close"`
	Volume     float64                   `json:"volume"`
	Indicators map[IndicatorKind]float64 `json:"indicators,omitempty"`
}

// Indicator returns the value stored for kind, if any.
func (c *Candle) Indicator(kind IndicatorKind) (float64, bool) {
	v, ok := c.Indicators[kind]
	return v, ok
}

// SetIndicator stores a value for kind, allocating the map on first use.
func (c *Candle) SetIndicator(kind IndicatorKind, v float64) {
	if c.Indicators == nil {
		c.Indicators = make(map[IndicatorKind]float64)
	}
	c.Indicators[kind] = v
}

// Copy returns a deep copy so callers never share the indicator map with the hub.
func (c Candle) Copy() Candle {
	if c.Indicators == nil {
		return c
	}
	m := make(map[IndicatorKind]float64, len(c.Indicators))
	for k, v := range c.Indicators {
		m[k] = v
	}
	c.Indicators = m
	return c
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Kline is a venue tick for a possibly still forming bar. It carries its own
// bucket start and is never persisted; the feed turns it into a Candle once
// a later bucket shows up.
type Kline struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  float64   `json:"volume"`
	Confirm bool      `json:"confirm"`
}

// Candle converts the kline into a closed candle without indicator values.
func (k Kline) Candle() Candle {
	return Candle{
		TS:     k.Start,
		Open:   k.Open,
		High:   k.High,
		Low:    k.Low,
		Close:  k.Close,
		Volume: k.Volume,
	}
}

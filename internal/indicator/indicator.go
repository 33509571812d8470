// Package indicator computes technical indicators incrementally, one closed
// candle at a time.
//
// The time-series hub owns the live instances and attaches their values to
// each candle before it is published; strategies only read those values.
package indicator

import "tradeengine/internal/model"

// Indicator consumes closed candles in order.
type Indicator interface {
	Name() string
	Update(candle model.Candle)

	// Value is 0 until Ready.
	Value() float64
	Ready() bool
}

// Package closedetector turns a stream of forming-bar klines into closed
// candles. A bucket is considered closed the moment a kline for a later
// bucket arrives; the last kline seen for the closed bucket becomes the candle.
package closedetector

import (
	"tradeengine/internal/model"
)

// Detector remembers the freshest kline of the bucket currently forming.
// Not safe for concurrent use; the feed owns one per connection.
type Detector struct {
	prev    model.Kline
	hasPrev bool

	// Emitted counts closed candles since creation.
	Emitted int
}

// New creates an empty Detector.
func New() *Detector {
	return &Detector{}
}

// Observe records k and returns the candle of the previous bucket when k
// starts a new one. The very first kline is only stored: the bar seen at
// startup is partial and never emitted.
func (d *Detector) Observe(k model.Kline) (model.Candle, bool) {
	if !d.hasPrev {
		d.prev = k
		d.hasPrev = true
		return model.Candle{}, false
	}

	if k.Start.Equal(d.prev.Start) {
		// Same bucket still forming: last write wins.
		d.prev = k
		return model.Candle{}, false
	}

	closed := d.prev.Candle()
	d.prev = k
	d.Emitted++
	return closed, true
}

// Forming returns the kline currently held for the open bucket.
func (d *Detector) Forming() (model.Kline, bool) {
	return d.prev, d.hasPrev
}

// Reset forgets the forming bar, e.g. after a reconnect.
func (d *Detector) Reset() {
	d.prev = model.Kline{}
	d.hasPrev = false
}

package indicator

import "tradeengine/internal/model"

// RSI is Wilder's relative strength index. Average gain and loss are SMMA
// smoothed over close-to-close changes, so it is ready after period+1 candles.
type RSI struct {
	gain, loss smoother
	prev       float64
	started    bool
}

func NewRSI(period int) *RSI {
	alpha := 1 / float64(period)
	return &RSI{
		gain: smoother{n: period, alpha: alpha},
		loss: smoother{n: period, alpha: alpha},
	}
}

func (r *RSI) Name() string { return "RSI" }

func (r *RSI) Update(candle model.Candle) {
	if !r.started {
		r.prev, r.started = candle.Close, true
		return
	}
	d := candle.Close - r.prev
	r.prev = candle.Close
	r.gain.add(max(d, 0))
	r.loss.add(max(-d, 0))
}

func (r *RSI) Ready() bool { return r.gain.ready() }

func (r *RSI) Value() float64 {
	if !r.Ready() {
		return 0
	}
	if r.loss.value == 0 {
		return 100
	}
	return 100 - 100/(1+r.gain.value/r.loss.value)
}

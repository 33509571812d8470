package indicator

import "tradeengine/internal/model"

// window is a rolling sum over the last n inputs.
type window struct {
	vals   []float64
	next   int
	filled int
	sum    float64
}

func newWindow(n int) window {
	return window{vals: make([]float64, n)}
}

func (w *window) push(v float64) {
	if w.filled == len(w.vals) {
		w.sum -= w.vals[w.next]
	} else {
		w.filled++
	}
	w.vals[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.vals)
}

func (w *window) full() bool { return w.filled == len(w.vals) }

func (w *window) mean() float64 { return w.sum / float64(len(w.vals)) }

// smoother is an exponential average seeded with the plain mean of its
// first n inputs.
type smoother struct {
	n     int
	alpha float64
	seen  int
	seed  float64
	value float64
}

func (s *smoother) add(x float64) {
	s.seen++
	if s.seen <= s.n {
		s.seed += x
		if s.seen == s.n {
			s.value = s.seed / float64(s.n)
		}
		return
	}
	s.value += s.alpha * (x - s.value)
}

func (s *smoother) ready() bool { return s.seen >= s.n }

// SMA is the mean close of the last period candles.
type SMA struct{ w window }

func NewSMA(period int) *SMA { return &SMA{w: newWindow(period)} }

func (s *SMA) Name() string              { return "SMA" }
func (s *SMA) Update(candle model.Candle) { s.w.push(candle.Close) }
func (s *SMA) Ready() bool               { return s.w.full() }

func (s *SMA) Value() float64 {
	if !s.w.full() {
		return 0
	}
	return s.w.mean()
}

// EMA weights each close by 2/(period+1), seeded with SMA(period).
type EMA struct{ s smoother }

func NewEMA(period int) *EMA {
	return &EMA{s: smoother{n: period, alpha: 2 / float64(period+1)}}
}

func (e *EMA) Name() string              { return "EMA" }
func (e *EMA) Update(candle model.Candle) { e.s.add(candle.Close) }
func (e *EMA) Value() float64            { return e.s.value }
func (e *EMA) Ready() bool               { return e.s.ready() }

// SMMA is Wilder's smoothed average: weight 1/period, seeded with SMA(period).
type SMMA struct{ s smoother }

func NewSMMA(period int) *SMMA {
	return &SMMA{s: smoother{n: period, alpha: 1 / float64(period)}}
}

func (m *SMMA) Name() string              { return "SMMA" }
func (m *SMMA) Update(candle model.Candle) { m.s.add(candle.Close) }
func (m *SMMA) Value() float64            { return m.s.value }
func (m *SMMA) Ready() bool               { return m.s.ready() }

// Package persistence is the one-way trade event sink.
//
// Create and Finish never block the caller and never report store errors.
// A single worker applies queued events to every store in submission order,
// so a finish is never written before the create of the same trade.
package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradeengine/internal/model"
)

// DefaultQueueSize bounds pending events when NewSink is given 0.
const DefaultQueueSize = 1024

// writeTimeout bounds one store call.
const writeTimeout = 5 * time.Second

type op int

const (
	opCreate op = iota
	opFinish
)

func (o op) String() string {
	if o == opCreate {
		return "create"
	}
	return "finish"
}

type event struct {
	op     op
	record model.TradeRecord
	finish model.TradeFinish
}

func (e event) tradeID() string {
	if e.op == opCreate {
		return e.record.ID
	}
	return e.finish.ID
}

// Sink fans trade events out to its stores.
type Sink struct {
	stores []model.TradeStore
	queue  chan event
	done   chan struct{}
	log    *slog.Logger

	mu     sync.RWMutex
	closed bool

	// OnWrite is called after every store call with its result.
	OnWrite func(store, op string, err error)
	// OnDrop is called when an event is discarded because the queue is full
	// or the sink is closed.
	OnDrop func(op string)
}

// NewSink starts the sink worker.
func NewSink(queueSize int, stores ...model.TradeStore) *Sink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Sink{
		stores: stores,
		queue:  make(chan event, queueSize),
		done:   make(chan struct{}),
		log:    slog.Default().With(slog.String("component", "sink")),
	}
	go s.run()
	return s
}

// Create queues a new trade row.
func (s *Sink) Create(rec model.TradeRecord) {
	s.enqueue(event{op: opCreate, record: rec})
}

// Finish queues the exit fields of a trade.
func (s *Sink) Finish(f model.TradeFinish) {
	s.enqueue(event{op: opFinish, finish: f})
}

// Stores returns the configured store names.
func (s *Sink) Stores() []string {
	names := make([]string, len(s.stores))
	for i, st := range s.stores {
		names[i] = st.Name()
	}
	return names
}

// Pending returns the number of queued events.
func (s *Sink) Pending() int { return len(s.queue) }

// Close stops accepting events and waits until the queue is drained or ctx
// expires.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) enqueue(e event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(e, "sink closed")
		return
	}
	select {
	case s.queue <- e:
	default:
		s.drop(e, "queue full")
	}
}

func (s *Sink) drop(e event, reason string) {
	s.log.Warn("trade event dropped", "op", e.op.String(), "trade_id", e.tradeID(), "reason", reason)
	if s.OnDrop != nil {
		s.OnDrop(e.op.String())
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.queue {
		for _, st := range s.stores {
			s.apply(st, e)
		}
	}
}

func (s *Sink) apply(st model.TradeStore, e event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch e.op {
	case opCreate:
		err = st.CreateTrade(ctx, e.record)
	case opFinish:
		err = st.FinishTrade(ctx, e.finish)
	}
	if err != nil {
		s.log.Error("trade write failed", "store", st.Name(), "op", e.op.String(), "trade_id", e.tradeID(), "error", err)
	} else {
		s.log.Debug("trade written", "store", st.Name(), "op", e.op.String(), "trade_id", e.tradeID())
	}
	if s.OnWrite != nil {
		s.OnWrite(st.Name(), e.op.String(), err)
	}
}

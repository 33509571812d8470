// Package bus provides an ordered publish/subscribe fan-out with one unbounded
// mailbox per subscriber. Publish never blocks on a slow subscriber and never
// drops: every subscriber observes every published value in publish order.
package bus

import (
	"sync"
)

// FanOut broadcasts values to a dynamic set of subscribers in registration
// order. Publish and Close are expected to be called from a single owner
// goroutine; Subscribe and Subscription.Close are safe from any goroutine.
type FanOut[T any] struct {
	mu      sync.RWMutex
	subs    []*Subscription[T]
	nextID  uint64
	closed  bool
	bufSize int

	// OnUnsubscribe is called after a subscriber is removed.
	OnUnsubscribe func(id uint64)
}

// New creates a FanOut whose subscriber output channels have the given buffer.
func New[T any](outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{bufSize: outputBufferSize}
}

// Subscribe registers a new subscriber. Subscribing to a closed FanOut returns
// a subscription whose channel is already closed.
func (f *FanOut[T]) Subscribe() *Subscription[T] {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	s := &Subscription[T]{
		id:     f.nextID,
		fanout: f,
		out:    make(chan T, f.bufSize),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if f.closed {
		s.shutdown()
		close(s.out)
		return s
	}
	f.subs = append(f.subs, s)
	go s.pump()
	return s
}

// Publish enqueues v on every current subscriber's mailbox and returns the
// number of subscribers it reached.
func (f *FanOut[T]) Publish(v T) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, s := range f.subs {
		if s.push(v) {
			n++
		}
	}
	return n
}

// Len returns the number of current subscribers.
func (f *FanOut[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close shuts every subscription down. Queued values that were not yet
// delivered are discarded and each output channel is closed.
func (f *FanOut[T]) Close() {
	f.mu.Lock()
	subs := f.subs
	f.subs = nil
	f.closed = true
	f.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

func (f *FanOut[T]) remove(id uint64) {
	f.mu.Lock()
	removed := false
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			removed = true
			break
		}
	}
	f.mu.Unlock()

	if removed && f.OnUnsubscribe != nil {
		f.OnUnsubscribe(id)
	}
}

// ChannelStat reports mailbox backlog for one subscriber.
// Used for reporting subscriber lag in metrics.
type ChannelStat struct {
	ID      uint64
	Pending int // values queued but not yet handed to the output channel
	Len     int
	Cap     int
}

func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		s.mu.Lock()
		pending := len(s.queue)
		s.mu.Unlock()
		stats[i] = ChannelStat{ID: s.id, Pending: pending, Len: len(s.out), Cap: cap(s.out)}
	}
	return stats
}

// Subscription is one subscriber's mailbox.
type Subscription[T any] struct {
	id     uint64
	fanout *FanOut[T]
	out    chan T

	mu     sync.Mutex
	queue  []T
	closed bool
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

// ID returns the registration id, increasing in subscription order.
func (s *Subscription[T]) ID() uint64 { return s.id }

// C returns the delivery channel. It is closed once the subscription ends.
func (s *Subscription[T]) C() <-chan T { return s.out }

// Done is closed when the subscription has been closed by either side.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Close deregisters the subscriber. Safe to call more than once.
func (s *Subscription[T]) Close() {
	if s.shutdown() {
		s.fanout.remove(s.id)
	}
}

func (s *Subscription[T]) shutdown() bool {
	first := false
	s.once.Do(func() {
		first = true
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
	return first
}

func (s *Subscription[T]) push(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// pump moves queued values to the output channel in order.
func (s *Subscription[T]) pump() {
	defer close(s.out)
	var zero T
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}

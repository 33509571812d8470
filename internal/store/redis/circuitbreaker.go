package redis

import (
	"errors"
	"sync"
	"time"
)

// State is the position of a CircuitBreaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen is returned instead of calling through while redis is
// considered down.
var ErrCircuitOpen = errors.New("redis: circuit open")

// CircuitBreaker guards redis writes. maxFailures consecutive errors open it;
// after cooldown a single trial call decides between closed and open again.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	reopenAt    time.Time
	inTrial     bool
	now         func() time.Time

	// OnStateChange runs under the breaker lock.
	OnStateChange func(from, to State)
}

func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute calls fn when the breaker admits it and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.reopenAt) {
		cb.setState(StateHalfOpen)
	}
	switch {
	case cb.state == StateOpen:
		return false
	case cb.state == StateHalfOpen && cb.inTrial:
		return false
	case cb.state == StateHalfOpen:
		cb.inTrial = true
	}
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.inTrial = false
	if err == nil {
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.reopenAt = cb.now().Add(cb.cooldown)
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

// CurrentState returns the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures is the current run of consecutive errors.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

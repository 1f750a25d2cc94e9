// Package circuit provides a consecutive-failure circuit breaker used to stop
// hammering an unavailable tracker.
package circuit

import (
	"sync"
	"time"
)

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 3
	defaultMaxBackoff       = time.Minute
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means flushes are attempted and failures retried.
	StateClosed State = iota
	// StateOpen means the downstream is considered unavailable.
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// StateChange reports a transition caused by a Record call.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker counts consecutive failures. After the failure threshold the
// circuit opens; after the success threshold of consecutive successes while
// open it closes again.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	maxBackoff       time.Duration
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets the consecutive failures that open the circuit.
// Default is 5.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.failureThreshold = n
		}
	}
}

// WithSuccessThreshold sets the consecutive successes that close an open
// circuit. Default is 3.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.successThreshold = n
		}
	}
}

// WithMaxBackoff caps the interval returned by Backoff. Default is one minute.
func WithMaxBackoff(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.maxBackoff = d
		}
	}
}

// New creates a closed breaker.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
		maxBackoff:       defaultMaxBackoff,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Name returns the breaker name for logs and metrics.
func (b *Breaker) Name() string {
	return b.name
}

// IsOpen reports whether the circuit has tripped.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecordFailure records a failed attempt. open is true when the circuit is
// open after this failure.
func (b *Breaker) RecordFailure() (open bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.successCount = 0

	if b.state == StateOpen {
		return true, StateChange{}
	}
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		return true, StateChange{Opened: true}
	}
	return false, StateChange{}
}

// RecordSuccess records a successful attempt. closed is true when the circuit
// is closed after this success.
func (b *Breaker) RecordSuccess() (closed bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		b.failureCount = 0
		return true, StateChange{}
	}

	b.successCount++
	if b.successCount < b.successThreshold {
		return false, StateChange{}
	}
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	return true, StateChange{Closed: true}
}

// Backoff returns the wait before the next attempt. While closed it is base;
// while open base doubles per failure past the threshold, up to the cap.
func (b *Breaker) Backoff(base time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed || base <= 0 {
		return base
	}
	d := base
	for i := b.failureThreshold; i < b.failureCount && d < b.maxBackoff; i++ {
		d *= 2
	}
	return min(d, max(b.maxBackoff, base))
}

// Reset closes the circuit and clears the counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}

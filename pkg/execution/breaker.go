package execution

import (
	"errors"
	"sync"
	"time"
)

// CircuitState is the breaker state machine position.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ErrCircuitOpen is the fast rejection for calls that arrive while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Breaker is a per-agent circuit breaker driven by consecutive failures.
//
// closed: failures are counted; at the threshold the breaker opens with
// open_until = now + coolDown. open: calls are rejected until the cool-down
// passes, then the next call is admitted as a half-open probe. half_open:
// probe success closes the breaker and resets counters; probe failure
// re-opens it with a fresh cool-down.
type Breaker struct {
	threshold int
	coolDown  time.Duration

	mu          sync.Mutex
	state       CircuitState
	consecutive int
	openUntil   time.Time
	probing     bool
	now         func() time.Time // injected in tests
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, coolDown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		threshold: threshold,
		coolDown:  coolDown,
		state:     CircuitClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrCircuitOpen until the cool-down passes, at which point it admits a
// single half-open probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if b.now().Before(b.openUntil) {
			return ErrCircuitOpen
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Record feeds a call outcome into the state machine.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.state = CircuitClosed
		b.consecutive = 0
		b.probing = false
		return
	}

	switch b.state {
	case CircuitHalfOpen:
		// Probe failed: re-open with a fresh cool-down.
		b.state = CircuitOpen
		b.openUntil = b.now().Add(b.coolDown)
		b.probing = false
	default:
		b.consecutive++
		if b.consecutive >= b.threshold {
			b.state = CircuitOpen
			b.openUntil = b.now().Add(b.coolDown)
		}
	}
}

// State returns the current state, folding an expired open cool-down into
// half_open so selection can re-admit the agent.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && !b.now().Before(b.openUntil) {
		return CircuitHalfOpen
	}
	return b.state
}

// OpenUntil returns the time at which an open breaker re-admits traffic.
// Zero when the breaker is not open.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitOpen {
		return time.Time{}
	}
	return b.openUntil
}

// Selectable reports whether selection may route to this agent: true
// unless the breaker is open and still cooling down.
func (b *Breaker) Selectable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != CircuitOpen || !b.now().Before(b.openUntil)
}

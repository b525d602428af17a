// Package resilience guards calls to the hosted simulation service: bounded
// retry with backoff for transient failures, and a circuit breaker that sheds
// requests after a run of consecutive failures so a down service doesn't eat
// the whole compute batch's retry budget.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState is the breaker's position.
type CircuitState int

const (
	// CircuitClosed is the normal state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen lets a single probe request through to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for requests rejected while the breaker is open.
var ErrCircuitOpen = eris.New("simulation service circuit open")

// Breaker trips after threshold consecutive failures and rejects calls until
// cooldown has passed since the last failure. The first call after the
// cooldown is a probe: success closes the breaker, failure reopens it.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    CircuitState
	failures int
	lastFail time.Time

	// now is swapped in tests.
	now func() time.Time
}

// NewBreaker creates a breaker. Non-positive arguments fall back to 5
// failures and a 30s cooldown.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		state:     CircuitClosed,
		now:       time.Now,
	}
}

// Guard runs fn through the breaker, rejecting immediately with
// ErrCircuitOpen while it is open.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	if err != nil {
		return zero, err
	}
	return val, nil
}

// State reports the breaker's current position, accounting for an elapsed
// cooldown.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.lastFail) >= b.cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != CircuitOpen {
		return nil
	}
	if b.now().Sub(b.lastFail) < b.cooldown {
		return ErrCircuitOpen
	}
	b.state = CircuitHalfOpen
	zap.L().Info("simulation circuit half-open, probing")
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != CircuitClosed {
			zap.L().Info("simulation circuit closed",
				zap.String("from", b.state.String()))
		}
		b.state = CircuitClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFail = b.now()
	if b.state == CircuitHalfOpen || b.failures >= b.threshold {
		if b.state != CircuitOpen {
			zap.L().Warn("simulation circuit opened",
				zap.Int("consecutive_failures", b.failures),
				zap.Duration("cooldown", b.cooldown),
			)
		}
		b.state = CircuitOpen
	}
}

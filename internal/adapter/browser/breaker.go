package browser

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit state of the bot-runner breaker.
type BreakerState int

const (
	// BreakerClosed allows calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown passes.
	BreakerOpen
	// BreakerHalfOpen lets trial calls through to probe recovery.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker sheds bot-runner calls while the sidecar is down so handlers fail
// fast instead of stacking timeouts. Consecutive failures open the circuit;
// after the cooldown a trial call may close it again.
type Breaker struct {
	mu sync.Mutex

	maxFailures int
	cooldown    time.Duration

	state       BreakerState
	failures    int
	lastFailure time.Time
}

// NewBreaker builds a closed breaker. maxFailures <= 0 defaults to 5,
// cooldown <= 0 to 30s.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, state: BreakerClosed}
}

// Allow reports whether a call may proceed, transitioning open -> half-open
// once the cooldown has passed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.failures = 0
		slog.Info("bot runner breaker half-open", slog.Duration("cooldown", b.cooldown))
		return true
	default:
		return false
	}
}

// RecordSuccess closes the circuit after a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != BreakerClosed {
		b.state = BreakerClosed
		slog.Info("bot runner breaker closed")
	}
}

// RecordFailure counts a failed call; reaching the threshold (or any failure
// while half-open) opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.maxFailures {
			b.state = BreakerOpen
			slog.Warn("bot runner breaker opened",
				slog.Int("failures", b.failures),
				slog.Int("max_failures", b.maxFailures))
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		slog.Warn("bot runner breaker reopened by trial failure")
	}
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

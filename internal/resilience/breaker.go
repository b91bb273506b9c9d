// ABOUTME: Circuit breaker guarding calls to optional backing services
// ABOUTME: Opens after consecutive failures so a dead dependency stops eating latency

package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Default breaker configuration values.
const (
	DefaultMaxFailures      = 5
	DefaultResetTimeout     = 10 * time.Second
	DefaultHalfOpenMaxCalls = 3
)

// State of the breaker.
type State int

const (
	// StateClosed allows calls through normally.
	StateClosed State = iota

	// StateOpen rejects all calls immediately.
	StateOpen

	// StateHalfOpen allows a limited number of probe calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when the breaker rejects a call without attempting it.
var ErrOpen = errors.New("circuit open")

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// MaxFailures is how many consecutive failures open the circuit.
	// Zero uses DefaultMaxFailures.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing the
	// dependency again. Zero uses DefaultResetTimeout.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls caps concurrent probe calls while half-open.
	// Zero uses DefaultHalfOpenMaxCalls.
	HalfOpenMaxCalls int

	// Name identifies the guarded dependency in logs and stats.
	Name string

	// OnStateChange is invoked after every transition. Optional. Called
	// without internal locks held, so it may inspect the breaker.
	OnStateChange func(from, to State)
}

// Stats is a snapshot of breaker counters, shaped for health endpoints.
type Stats struct {
	Name                string    `json:"name,omitempty"`
	State               string    `json:"state"`
	TotalCalls          int64     `json:"total_calls"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Rejections          int64     `json:"rejections"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
}

// Breaker wraps calls to a dependency the service can live without. After
// MaxFailures consecutive errors it rejects calls outright; once ResetTimeout
// passes it lets a few probes through and closes again on the first success.
type Breaker struct {
	mu     sync.RWMutex
	config BreakerConfig

	state               State
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenCalls       int

	totalCalls atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	rejections atomic.Int64
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.ResetTimeout == 0 {
		config.ResetTimeout = DefaultResetTimeout
	}
	if config.HalfOpenMaxCalls == 0 {
		config.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// Execute runs fn through the breaker. When the circuit is open the call is
// rejected with ErrOpen before fn runs; callers decide what rejection means,
// which for optional dependencies is usually proceeding without them.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.totalCalls.Add(1)

	if !b.allow() {
		b.rejections.Add(1)
		return ErrOpen
	}

	err := fn(ctx)
	b.record(err == nil)
	return err
}

// State returns the current state, transitioning open to half-open once the
// reset timeout has passed.
func (b *Breaker) State() State {
	b.mu.RLock()
	state := b.state
	lastFailure := b.lastFailure
	b.mu.RUnlock()

	if state == StateOpen && !lastFailure.IsZero() && time.Since(lastFailure) >= b.config.ResetTimeout {
		b.mu.Lock()
		prev := b.state
		if b.state == StateOpen {
			b.state = StateHalfOpen
			b.halfOpenCalls = 0
		}
		state = b.state
		b.mu.Unlock()

		b.notify(prev, state)
	}

	return state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		Name:                b.config.Name,
		State:               b.state.String(),
		TotalCalls:          b.totalCalls.Load(),
		Successes:           b.successes.Load(),
		Failures:            b.failures.Load(),
		Rejections:          b.rejections.Load(),
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailure:         b.lastFailure,
	}
}

// Reset closes the circuit and clears failure accounting.
func (b *Breaker) Reset() {
	b.mu.Lock()
	prev := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.lastFailure = time.Time{}
	b.halfOpenCalls = 0
	b.mu.Unlock()

	b.notify(prev, StateClosed)
}

// allow decides whether a call may proceed, counting half-open probes.
func (b *Breaker) allow() bool {
	switch b.State() {
	case StateClosed:
		return true

	case StateHalfOpen:
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.halfOpenCalls < b.config.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false

	default:
		return false
	}
}

// record folds a call outcome into the state machine. A success while
// half-open closes the circuit; any failure while half-open reopens it.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	prev := b.state

	if success {
		b.successes.Add(1)
		b.consecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.state = StateClosed
			b.halfOpenCalls = 0
		}
	} else {
		b.failures.Add(1)
		b.consecutiveFailures++
		b.lastFailure = time.Now()

		switch b.state {
		case StateClosed:
			if b.consecutiveFailures >= b.config.MaxFailures {
				b.state = StateOpen
			}
		case StateHalfOpen:
			b.state = StateOpen
			b.halfOpenCalls = 0
		}
	}

	next := b.state
	b.mu.Unlock()

	b.notify(prev, next)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.config.OnStateChange != nil {
		b.config.OnStateChange(from, to)
	}
}

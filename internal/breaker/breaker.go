// Package breaker provides a per-source circuit breaker used to isolate
// failing calendar feeds, plus a name-keyed registry of breakers.
package breaker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// State is the breaker's position in the closed/open/half-open cycle.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when a call is rejected without being attempted
// because the breaker is open. Callers can distinguish "we didn't try"
// from "we tried and failed" with errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second

	// maxStateChanges bounds the retained state-change history.
	maxStateChanges = 32
)

// Config controls breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive qualifying failures
	// that opens the breaker. Zero means DefaultFailureThreshold.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before allowing
	// a half-open trial call. Zero means DefaultRecoveryTimeout.
	RecoveryTimeout time.Duration
	// Classify reports whether an error counts toward the failure
	// threshold. Nil counts every error. Errors it rejects propagate to
	// the caller without touching breaker state.
	Classify func(error) bool
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return c
}

// StateChange records one transition for observability.
type StateChange struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name           string        `json:"name"`
	State          State         `json:"state"`
	Failures       int           `json:"failures"`
	TotalRequests  int64         `json:"totalRequests"`
	TotalSuccesses int64         `json:"totalSuccesses"`
	TotalFailures  int64         `json:"totalFailures"`
	SuccessRate    float64       `json:"successRate"`
	LastSuccess    *time.Time    `json:"lastSuccess,omitempty"`
	LastFailure    *time.Time    `json:"lastFailure,omitempty"`
	StateChanges   []StateChange `json:"stateChanges,omitempty"`
}

// Breaker wraps fallible operations for one source. Safe for concurrent
// use; in the half-open state exactly one trial call is admitted.
type Breaker struct {
	name string
	cfg  Config

	mu           sync.Mutex
	state        State
	failures     int
	trialActive  bool
	lastSuccess  time.Time
	lastFailure  time.Time
	totalReqs    int64
	totalOK      int64
	totalFail    int64
	stateChanges []StateChange
}

// New creates a closed breaker for the named source.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		state: StateClosed,
	}
}

// Execute runs op under the breaker. When the breaker is open (and the
// recovery timeout has not elapsed) it returns ErrOpen without calling
// op. Qualifying failures advance the state machine; other errors pass
// through untouched.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialActive = false

	if err == nil {
		b.onSuccess()
		return nil
	}
	if b.cfg.Classify != nil && !b.cfg.Classify(err) {
		// Not a qualifying failure: propagate without counting.
		return err
	}
	b.onFailure()
	return err
}

// admit decides whether a call may proceed, handling the open→half-open
// transition and the single-trial rule.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalReqs++

	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.RecoveryTimeout {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.trialActive = true
	case StateHalfOpen:
		if b.trialActive {
			return ErrOpen
		}
		b.trialActive = true
	}
	return nil
}

// onSuccess and onFailure require b.mu held.

func (b *Breaker) onSuccess() {
	b.totalOK++
	b.lastSuccess = time.Now()
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

func (b *Breaker) onFailure() {
	b.totalFail++
	b.lastFailure = time.Now()
	b.failures++

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.stateChanges = append(b.stateChanges, StateChange{From: from, To: to, At: time.Now()})
	if len(b.stateChanges) > maxStateChanges {
		b.stateChanges = b.stateChanges[len(b.stateChanges)-maxStateChanges:]
	}
	log.Printf("[breaker] %s: %s -> %s", b.name, from, to)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset returns the breaker to closed with a cleared failure count.
// Cumulative counters are preserved.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.trialActive = false
}

// Stats returns a snapshot of the breaker's counters and history.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Name:           b.name,
		State:          b.state,
		Failures:       b.failures,
		TotalRequests:  b.totalReqs,
		TotalSuccesses: b.totalOK,
		TotalFailures:  b.totalFail,
	}
	if b.totalReqs > 0 {
		s.SuccessRate = float64(b.totalOK) / float64(b.totalReqs)
	}
	if !b.lastSuccess.IsZero() {
		t := b.lastSuccess
		s.LastSuccess = &t
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	s.StateChanges = append(s.StateChanges, b.stateChanges...)
	return s
}

// lastActivity returns the most recent success or failure instant, or a
// zero time if the breaker has never completed a call.
func (b *Breaker) lastActivity() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastSuccess.After(b.lastFailure) {
		return b.lastSuccess
	}
	return b.lastFailure
}

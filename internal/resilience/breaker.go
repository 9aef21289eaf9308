// Package resilience holds the circuit breaker and retry policies wrapped
// around collaborator calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"listingopt/internal/domain"
)

// ErrOpen is returned when a breaker rejects a call. It wraps
// domain.ErrServiceUnavailable.
var ErrOpen = fmt.Errorf("circuit open: %w", domain.ErrServiceUnavailable)

// State is the breaker's tagged state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Event is an input to the transition function.
type Event int

const (
	// EventProbe is raised before a call to decide whether it may proceed.
	EventProbe Event = iota
	EventSuccess
	EventFailure
)

// Policy parameterizes one breaker instance.
type Policy struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
}

// Snapshot is the complete breaker state.
type Snapshot struct {
	State    State
	Failures int
	OpenedAt time.Time
	// Probing is set while a half-open trial call is in flight.
	Probing bool
}

// Transition is the pure state function. For EventProbe the returned bool
// reports whether the call is allowed; it is always true for other events.
func Transition(s Snapshot, ev Event, now time.Time, p Policy) (Snapshot, bool) {
	switch ev {
	case EventProbe:
		switch s.State {
		case StateOpen:
			if now.Sub(s.OpenedAt) < p.Cooldown {
				return s, false
			}
			return Snapshot{State: StateHalfOpen, Failures: s.Failures, OpenedAt: s.OpenedAt, Probing: true}, true
		case StateHalfOpen:
			if s.Probing {
				return s, false
			}
			s.Probing = true
			return s, true
		default:
			return s, true
		}
	case EventSuccess:
		return Snapshot{State: StateClosed}, true
	case EventFailure:
		if s.State == StateHalfOpen {
			return Snapshot{State: StateOpen, Failures: s.Failures + 1, OpenedAt: now}, true
		}
		s.Failures++
		if s.Failures >= p.FailureThreshold {
			return Snapshot{State: StateOpen, Failures: s.Failures, OpenedAt: now}, true
		}
		return s, true
	}
	return s, true
}

// Breaker guards calls to one collaborator.
type Breaker struct {
	policy Policy
	now    func() time.Time

	mu   sync.Mutex
	snap Snapshot
}

// NewBreaker constructs a closed breaker. A nil clock uses time.Now.
func NewBreaker(p Policy, now func() time.Time) *Breaker {
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{policy: p, now: now, snap: Snapshot{State: StateClosed}}
}

// Name returns the policy name.
func (b *Breaker) Name() string { return b.policy.Name }

// State returns the current snapshot.
func (b *Breaker) State() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap
}

// Execute runs fn unless the breaker is open. Context cancellation from the
// caller is not counted as a collaborator failure. A panic in fn is recorded
// as a failure and then re-raised.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) (err error) {
	b.mu.Lock()
	next, allowed := Transition(b.snap, EventProbe, b.now(), b.policy)
	b.snap = next
	b.mu.Unlock()
	if !allowed {
		return fmt.Errorf("%s: %w", b.policy.Name, ErrOpen)
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(EventFailure)
			panic(r)
		}
	}()

	err = fn(ctx)

	switch {
	case err == nil:
		b.record(EventSuccess)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.mu.Lock()
		b.snap.Probing = false
		b.mu.Unlock()
	default:
		b.record(EventFailure)
	}
	return err
}

func (b *Breaker) record(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap, _ = Transition(b.snap, ev, b.now(), b.policy)
}

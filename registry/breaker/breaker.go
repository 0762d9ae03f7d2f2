// Package breaker implements the three-state circuit breaker embedded in
// each source's Publish Engine (spec §4.5). It is volatile, per-source
// state: it is never persisted and always rebuilds as closed/0/0 on
// restart (spec §3).
package breaker

import "time"

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker protects the inline fanout path from a persistently failing
// set of downstreams. It is not safe for concurrent use; callers rely on
// the owning Subscriber Registry actor to serialize access (spec §5).
type Breaker struct {
	FailureThreshold int
	RecoveryPeriod   time.Duration

	state               State
	consecutiveFailures int
	lastFailureTime     time.Time

	// now is substitutable for deterministic tests.
	now func() time.Time
}

// New returns a Breaker starting in the closed state.
func New(failureThreshold int, recoveryPeriod time.Duration) *Breaker {
	return &Breaker{
		FailureThreshold: failureThreshold,
		RecoveryPeriod:   recoveryPeriod,
		state:            Closed,
		now:              time.Now,
	}
}

// SetClock overrides the time source; for tests only.
func (b *Breaker) SetClock(now func() time.Time) { b.now = now }

// State returns the breaker's current state, applying the open ->
// half-open transition if the recovery period has elapsed.
func (b *Breaker) State() State {
	if b.state == Open && b.now().Sub(b.lastFailureTime) >= b.RecoveryPeriod {
		b.state = HalfOpen
	}
	return b.state
}

// ShouldAttempt reports whether the inline dispatch path may be used
// (spec §4.5's shouldAttempt column). closed and half-open both permit an
// attempt; open does not, unless the recovery period has elapsed, in which
// case it transitions to half-open and permits one probe.
func (b *Breaker) ShouldAttempt() bool {
	return b.State() != Open
}

// Update feeds the outcome of an inline dispatch (successes, failures)
// back into the breaker, per spec §4.5's transition table.
func (b *Breaker) Update(successes, failures int) {
	switch b.State() {
	case Closed:
		if failures == 0 {
			return
		}
		b.consecutiveFailures++
		b.lastFailureTime = b.now()
		if b.consecutiveFailures >= b.FailureThreshold {
			b.state = Open
		}
	case HalfOpen:
		if failures == 0 || successes > 0 {
			// Any partial success in half-open is treated as recovery:
			// estuary failures are per-sink, not per-source, so one bad
			// sink should not keep the whole circuit open (spec §4.5).
			b.reset()
			return
		}
		// The probe failed outright: reopen immediately rather than
		// waiting for the cumulative threshold, since half-open grants
		// exactly one probe before a verdict is due.
		b.consecutiveFailures++
		b.lastFailureTime = b.now()
		b.state = Open
	case Open:
		// Unreachable during inline dispatch: Open means dispatch was not
		// attempted, so Update is never called with a real outcome.
	}
}

func (b *Breaker) reset() {
	b.state = Closed
	b.consecutiveFailures = 0
}

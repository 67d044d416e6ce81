package policy

import (
	"context"
	"errors"
	"time"
)

// BreakerState represents the current state of a Circuit Breaker.
type BreakerState int32

const (
	// BreakerClosed is the initial state: requests pass through and
	// failures are counted against maxFailures.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects every call immediately with ErrOpen.
	BreakerOpen

	// BreakerHalfOpen admits exactly one probe call; its outcome decides
	// whether the breaker closes or re-opens.
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

// ErrOpen is returned by Call when the breaker is Open.
var ErrOpen = errors.New("circuit breaker is open")

// BreakerCallError wraps the outcome of a rejected or failed Call. It is
// the Go rendering of the specification's CircuitBreakerCallError[E] sum
// type: either the breaker itself rejected the call (Open, wrapped is
// nil) or the wrapped operation failed (Open is false, wrapped holds the
// caller's error verbatim).
type BreakerCallError struct {
	// Open is true when the breaker rejected the call without invoking
	// the operation.
	Open bool

	// Wrapped is the caller's own error, set only when Open is false.
	Wrapped error
}

func (e *BreakerCallError) Error() string {
	if e.Open {
		return ErrOpen.Error()
	}
	return e.Wrapped.Error()
}

// Unwrap lets errors.Is/errors.As see through to the caller's error, and
// lets errors.Is(err, ErrOpen) succeed for rejected calls.
func (e *BreakerCallError) Unwrap() error {
	if e.Open {
		return ErrOpen
	}
	return e.Wrapped
}

// ResetPolicy produces the Circuit Breaker's reset-schedule cursor
// described in spec.md §4.1/§9: a stateful iterator of positive delays
// with an explicit Reset hook invoked on HalfOpen -> Closed recovery.
// Implementations must be safe to call from a single goroutine at a time;
// the breaker serializes access internally.
type ResetPolicy interface {
	// Next advances the cursor by one step and returns the delay to wait
	// before the next reset probe.
	Next() time.Duration

	// Reset returns the cursor to its initial value. Called when the
	// breaker recovers (HalfOpen -> Closed).
	Reset()
}

// ExponentialResetPolicy is the typical reset schedule: base, base*factor,
// base*factor^2, ..., optionally capped at max.
type ExponentialResetPolicy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration // zero means uncapped

	current time.Duration
}

// NewExponentialResetPolicy builds a policy starting at base and growing
// by factor on every Next call.
func NewExponentialResetPolicy(base time.Duration, factor float64) *ExponentialResetPolicy {
	if base <= 0 {
		panic("rezilience: reset policy base must be > 0")
	}
	if factor < 1 {
		panic("rezilience: reset policy factor must be >= 1")
	}
	return &ExponentialResetPolicy{Base: base, Factor: factor}
}

// Next implements ResetPolicy.
func (p *ExponentialResetPolicy) Next() time.Duration {
	if p.current == 0 {
		p.current = p.Base
	} else {
		next := time.Duration(float64(p.current) * p.Factor)
		if p.Max > 0 && next > p.Max {
			next = p.Max
		}
		p.current = next
	}
	return p.current
}

// Reset implements ResetPolicy.
func (p *ExponentialResetPolicy) Reset() {
	p.current = 0
}

// BreakerSettings configures a Circuit Breaker.
type BreakerSettings struct {
	// Name identifies the breaker for logging and metrics.
	Name string

	// MaxFailures is the number of consecutive failures in Closed that
	// trips the breaker to Open. Zero defaults to 1.
	MaxFailures uint32

	// NewResetPolicy constructs the reset schedule cursor used each time
	// the breaker opens. Defaults to NewExponentialResetPolicy(1s, 2.0)
	// when nil.
	NewResetPolicy func() ResetPolicy

	// IsFailure classifies an operation's error as a breaker failure.
	// Defaults to "every non-nil error is a failure". An optional seam
	// for the open question noted in spec.md §9: not every error should
	// necessarily count against the breaker.
	IsFailure func(err error) bool

	// OnStateChange is invoked exactly once per transition, synchronously
	// after the state mutation: a Call that causes a transition returns
	// only after the callback has run. Other goroutines can observe the
	// new state before the callback runs. Its own errors (panics) are
	// recovered and swallowed.
	OnStateChange func(name string, from, to BreakerState)

	// Clock is overridable for tests; defaults to RealClock.
	Clock Clock
}

func defaultIsFailure(err error) bool { return err != nil }

func (s *BreakerSettings) applyDefaults() {
	if s.MaxFailures == 0 {
		s.MaxFailures = 1
	}
	if s.NewResetPolicy == nil {
		s.NewResetPolicy = func() ResetPolicy {
			return NewExponentialResetPolicy(time.Second, 2.0)
		}
	}
	if s.IsFailure == nil {
		s.IsFailure = defaultIsFailure
	}
	if s.Clock == nil {
		s.Clock = RealClock{}
	}
}

// Operation is the deferred computation a caller submits to a policy: the
// spec's `op`, polymorphic over environment R and error E. Go renders R as
// whatever the caller closes over and E as the plain error return.
type Operation func(ctx context.Context) (any, error)

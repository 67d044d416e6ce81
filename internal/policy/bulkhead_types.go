package policy

import "errors"

// ErrBulkheadRejected is returned by Call when both the in-flight and
// queue capacity of a Bulkhead are saturated.
var ErrBulkheadRejected = errors.New("bulkhead: rejected, queue and in-flight capacity exhausted")

// BulkheadCallError wraps the outcome of a Call: either the bulkhead
// itself rejected the call (Rejected true) or the wrapped operation
// failed (Rejected false, Wrapped holds the caller's error verbatim). The
// Go rendering of spec.md's BulkheadError[E] sum type.
type BulkheadCallError struct {
	Rejected bool
	Wrapped  error
}

func (e *BulkheadCallError) Error() string {
	if e.Rejected {
		return ErrBulkheadRejected.Error()
	}
	return e.Wrapped.Error()
}

func (e *BulkheadCallError) Unwrap() error {
	if e.Rejected {
		return ErrBulkheadRejected
	}
	return e.Wrapped
}

// BulkheadSettings configures a Bulkhead.
type BulkheadSettings struct {
	// Name identifies the bulkhead for logging and metrics.
	Name string

	// MaxInFlight is the maximum number of concurrently executing calls.
	// Must be >= 1.
	MaxInFlight int

	// MaxQueueing is the maximum number of calls allowed to wait for an
	// in-flight slot once MaxInFlight is saturated. Must be >= 0.
	MaxQueueing int

	// Clock is overridable for tests; defaults to RealClock.
	Clock Clock
}

func (s *BulkheadSettings) applyDefaults() {
	if s.MaxInFlight <= 0 {
		panic("rezilience: Bulkhead MaxInFlight must be >= 1")
	}
	if s.MaxQueueing < 0 {
		panic("rezilience: Bulkhead MaxQueueing must be >= 0")
	}
	if s.Clock == nil {
		s.Clock = RealClock{}
	}
}

// BulkheadDiagnostics reports the bulkhead's current occupancy.
type BulkheadDiagnostics struct {
	InFlight    int
	Queued      int
	WouldReject bool
}

// errBulkheadMaxQueueingInvalid is returned by UpdateSettings for a
// negative MaxQueueing.
var errBulkheadMaxQueueingInvalid = errors.New("rezilience: Bulkhead MaxQueueing must be >= 0")

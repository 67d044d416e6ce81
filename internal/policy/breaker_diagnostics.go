package policy

import "time"

// BreakerDiagnostics reports predictive information about a breaker's
// current state, for dashboards and incident response.
type BreakerDiagnostics struct {
	Name         string
	State        BreakerState
	FailureCount uint32
	MaxFailures  uint32

	// WillTripNext is true when the breaker is Closed and one more failure
	// would trip it.
	WillTripNext bool

	// NextResetDelay is the remaining time before the breaker's background
	// task probes HalfOpen again. Zero unless State is Open and the reset
	// task is currently waiting.
	NextResetDelay time.Duration
}

// Diagnostics returns a snapshot of the breaker's predicted behavior. Like
// State and FailureCount, it is a point-in-time read: the breaker may have
// moved on by the time the caller inspects it.
func (cb *CircuitBreaker) Diagnostics() BreakerDiagnostics {
	state := cb.State()
	failureCount := cb.FailureCount()

	var remaining time.Duration
	if state == BreakerOpen {
		if deadline := cb.resetDeadline.Load(); deadline > 0 {
			remaining = time.Unix(0, deadline).Sub(cb.clock.Now())
			if remaining < 0 {
				remaining = 0
			}
		}
	}

	return BreakerDiagnostics{
		Name:           cb.name,
		State:          state,
		FailureCount:   failureCount,
		MaxFailures:    cb.maxFailures,
		WillTripNext:   state == BreakerClosed && failureCount+1 == cb.maxFailures,
		NextResetDelay: remaining,
	}
}

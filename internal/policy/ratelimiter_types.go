package policy

import (
	"errors"
	"time"
)

var (
	errRateLimiterMaxInvalid      = errors.New("rezilience: RateLimiter Max must be >= 1")
	errRateLimiterIntervalInvalid = errors.New("rezilience: RateLimiter Interval must be > 0")
)

// RateLimiterSettings configures a Rate Limiter.
type RateLimiterSettings struct {
	// Name identifies the limiter for logging and metrics.
	Name string

	// Max is the maximum number of permits issued in any rolling window
	// of width Interval. Must be >= 1.
	Max int

	// Interval is the width of the rolling permit window. Must be > 0.
	Interval time.Duration

	// Clock is overridable for tests; defaults to RealClock.
	Clock Clock
}

func (s *RateLimiterSettings) applyDefaults() {
	if s.Max <= 0 {
		panic("rezilience: RateLimiter Max must be >= 1")
	}
	if s.Interval <= 0 {
		panic("rezilience: RateLimiter Interval must be > 0")
	}
	if s.Clock == nil {
		s.Clock = RealClock{}
	}
}

// RateLimiterDiagnostics reports predictive information about a limiter's
// current admission state.
type RateLimiterDiagnostics struct {
	// Waiting is the number of callers currently queued for a permit.
	Waiting int

	// FreePermitsNow is the number of permits immediately issuable
	// without waiting, given the current ring state.
	FreePermitsNow int

	// NextPermitETA is how long a caller arriving right now would wait
	// for a permit, ignoring anyone already queued ahead of it. Zero
	// when FreePermitsNow > 0.
	NextPermitETA time.Duration
}

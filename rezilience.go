// Package rezilience provides three composable resilience policies for
// wrapping fallible, possibly slow operations: a Circuit Breaker that fails
// fast once a downstream dependency looks unhealthy, a Rate Limiter that
// paces calls against a fixed budget, and a Bulkhead that bounds how many
// calls run (and wait) concurrently. A MetricsDecorator instruments any of
// the three uniformly, and a MetricsAggregator turns raw counters into
// periodic, addable snapshots.
//
// # Quick Start
//
// Wrap a call with a circuit breaker:
//
//	ctx := context.Background()
//	breaker := rezilience.NewCircuitBreaker(ctx, rezilience.BreakerSettings{
//	    Name:        "payments-api",
//	    MaxFailures: 5,
//	})
//	defer breaker.Close()
//
//	result, err := breaker.Call(ctx, func(ctx context.Context) (any, error) {
//	    return paymentsClient.Charge(ctx, req)
//	})
//	if errors.Is(err, rezilience.ErrOpen) {
//	    // circuit is open, fail fast
//	}
//
// Rate Limiter and Bulkhead share the same Call(ctx, op) shape, so they
// compose directly: wrap a breaker-protected call in a bulkhead, wrap that
// in a rate limiter, and each layer only ever sees the layer beneath it as
// a plain Operation.
//
// # Policies
//
//   - CircuitBreaker: three states (Closed, Open, HalfOpen), tripped by a
//     configurable number of consecutive failures, recovered through a
//     background reset task driven by a ResetPolicy schedule.
//   - RateLimiter: FIFO-fair admission of at most Max calls per rolling
//     Interval; callers in excess of the budget wait, they are never
//     rejected.
//   - Bulkhead: bounds concurrent in-flight calls plus a bounded FIFO
//     queue; rejects outright only once both are saturated.
//
// # Metrics
//
// MetricsAggregator accumulates task counters and latency/occupancy
// histograms and flushes a MetricsSnapshot to an observer callback every
// configured interval, plus once more on teardown. MetricsSnapshot.Add
// implements a commutative monoid, so snapshots from different windows (or
// different instances behind a load balancer) can be combined by summing.
// An optional prometheus.Registerer exposes the same data for scraping.
//
// MetricsDecorator wraps any CircuitBreaker, RateLimiter, or Bulkhead (via
// the shared Caller interface) with a MetricsAggregator, without altering
// the wrapped policy's own decisions or its returned errors.
//
// # Error Handling
//
// Each policy defines its own call-error type (BreakerCallError,
// BulkheadCallError) that wraps the caller's own error when the operation
// ran, or carries a sentinel (ErrOpen, ErrBulkheadRejected) when the policy
// itself declined the call. errors.Is and errors.As see through to both.
// RateLimiter never rejects; it only ever returns ctx.Err() (if cancelled
// while queued), context.Canceled (if the limiter is closed while the
// caller is queued), or the operation's own error unchanged.
//
// # Thread Safety
//
// Every exported type's methods are safe for concurrent use. Background
// tasks (the breaker's reset task, a MetricsAggregator's flush task) are
// scoped to the context.Context passed to their constructor; calling
// Close stops them and waits for them to exit before returning.
package rezilience

import "github.com/vagroz/rezilience/internal/policy"

// Circuit Breaker

// CircuitBreaker fails fast once a protected operation looks unhealthy.
// See the internal/policy package for the implementation.
type CircuitBreaker = policy.CircuitBreaker

// BreakerState is one of BreakerClosed, BreakerOpen, or BreakerHalfOpen.
type BreakerState = policy.BreakerState

// BreakerSettings configures a CircuitBreaker. See internal/policy for
// detailed field documentation.
type BreakerSettings = policy.BreakerSettings

// BreakerCallError wraps the outcome of a rejected or failed Call.
type BreakerCallError = policy.BreakerCallError

// ResetPolicy produces the delay schedule a breaker waits through while
// Open, before probing HalfOpen again.
type ResetPolicy = policy.ResetPolicy

// ExponentialResetPolicy is the typical reset schedule: base, base*factor,
// base*factor^2, ..., optionally capped.
type ExponentialResetPolicy = policy.ExponentialResetPolicy

// BreakerDiagnostics reports predictive information about a breaker's
// current state.
type BreakerDiagnostics = policy.BreakerDiagnostics

const (
	// BreakerClosed is normal operation: calls run, failures are counted.
	BreakerClosed = policy.BreakerClosed
	// BreakerOpen rejects every call immediately with ErrOpen.
	BreakerOpen = policy.BreakerOpen
	// BreakerHalfOpen admits exactly one probe call to decide recovery.
	BreakerHalfOpen = policy.BreakerHalfOpen
)

// ErrOpen is returned by Call when the breaker is Open.
var ErrOpen = policy.ErrOpen

// NewCircuitBreaker constructs a CircuitBreaker scoped to ctx and starts
// its background reset task. Panics if settings are invalid.
var NewCircuitBreaker = policy.NewCircuitBreaker

// NewExponentialResetPolicy builds a ResetPolicy starting at base and
// growing by factor on every Next call.
var NewExponentialResetPolicy = policy.NewExponentialResetPolicy

// Rate Limiter

// RateLimiter paces calls to at most Max permits per rolling Interval.
type RateLimiter = policy.RateLimiter

// RateLimiterSettings configures a RateLimiter.
type RateLimiterSettings = policy.RateLimiterSettings

// RateLimiterDiagnostics reports a limiter's current admission state.
type RateLimiterDiagnostics = policy.RateLimiterDiagnostics

// NewRateLimiter constructs a RateLimiter scoped to ctx.
var NewRateLimiter = policy.NewRateLimiter

// Bulkhead

// Bulkhead bounds concurrency against a fallible resource.
type Bulkhead = policy.Bulkhead

// BulkheadSettings configures a Bulkhead.
type BulkheadSettings = policy.BulkheadSettings

// BulkheadDiagnostics reports a bulkhead's current occupancy.
type BulkheadDiagnostics = policy.BulkheadDiagnostics

// BulkheadCallError wraps the outcome of a rejected or failed Call.
type BulkheadCallError = policy.BulkheadCallError

// ErrBulkheadRejected is returned by Call when both the in-flight and
// queue capacity of a Bulkhead are saturated.
var ErrBulkheadRejected = policy.ErrBulkheadRejected

// NewBulkhead constructs a Bulkhead scoped to ctx.
var NewBulkhead = policy.NewBulkhead

// Metrics

// Operation is the deferred computation a caller submits to a policy.
type Operation = policy.Operation

// Caller is satisfied by CircuitBreaker, RateLimiter, and Bulkhead.
type Caller = policy.Caller

// Histogram is a bounded-bucket, addable histogram.
type Histogram = policy.Histogram

// HistogramSettings configures a Histogram's bucket edges.
type HistogramSettings = policy.HistogramSettings

// MetricsSnapshot is an immutable, addable record of a policy's metrics
// over a specific interval.
type MetricsSnapshot = policy.MetricsSnapshot

// MetricsSettings configures a MetricsAggregator.
type MetricsSettings = policy.MetricsSettings

// MetricsAggregator accumulates counters and histograms for one policy
// instance, flushing periodic snapshots to an observer callback.
type MetricsAggregator = policy.MetricsAggregator

// MetricsDecorator wraps a Caller, recording a MetricsAggregator's
// counters and queue-latency histogram around every call.
type MetricsDecorator = policy.MetricsDecorator

// NewHistogram builds a Histogram from settings.
var NewHistogram = policy.NewHistogram

// NewMetricsAggregator constructs an aggregator and starts its background
// flush task, scoped to ctx.
var NewMetricsAggregator = policy.NewMetricsAggregator

// NewMetricsDecorator wraps caller with metrics instrumentation.
var NewMetricsDecorator = policy.NewMetricsDecorator

// External capabilities

// Clock is the monotonic time capability consumed by every policy's
// background tasks. Override it in tests to substitute a virtual clock.
type Clock = policy.Clock

// RealClock is the default Clock backed by the standard library.
type RealClock = policy.RealClock

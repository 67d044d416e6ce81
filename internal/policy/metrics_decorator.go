package policy

import "context"

// Caller is satisfied by CircuitBreaker, RateLimiter, and Bulkhead: all
// three share the same Call signature, which is what lets a single
// decorator instrument any of them uniformly (spec.md §4.5).
type Caller interface {
	Call(ctx context.Context, op Operation) (any, error)
}

// MetricsDecorator wraps a Caller, recording a MetricsAggregator's counters
// and queue-latency histogram around every call without altering the
// wrapped policy's own semantics or its returned error (spec.md §4.5):
//
//  1. enqueue   - record TasksEnqueued and capture the enqueue timestamp.
//  2. guard     - hand an instrumented op to the inner Caller; the inner
//                 policy decides whether op runs at all.
//  3. admit     - the instrumented op records TasksStarted (with the
//                 queue latency since enqueue) before running the caller's
//                 op, and TasksCompleted after it returns.
//  4. classify  - if op never ran, the call was interrupted (ctx already
//                 done) or rejected (policy declined); record accordingly.
//
// The result and error returned to the caller are exactly what the inner
// Caller produced; MetricsDecorator never wraps or replaces them.
type MetricsDecorator struct {
	inner   Caller
	metrics *MetricsAggregator
	clock   Clock
}

// NewMetricsDecorator wraps caller with metrics instrumentation. clock must
// be the same Clock the wrapped policy and its MetricsAggregator use, so
// queue-latency measurements stay consistent under a virtual clock in
// tests.
func NewMetricsDecorator(caller Caller, metrics *MetricsAggregator, clock Clock) *MetricsDecorator {
	if clock == nil {
		clock = RealClock{}
	}
	return &MetricsDecorator{inner: caller, metrics: metrics, clock: clock}
}

// Call instruments one call through the wrapped policy.
func (d *MetricsDecorator) Call(ctx context.Context, op Operation) (any, error) {
	enqueuedAt := d.clock.Now()
	d.metrics.recordEnqueued()

	started := false
	instrumented := func(ctx context.Context) (any, error) {
		started = true
		d.metrics.recordStarted(d.clock.Now().Sub(enqueuedAt))
		// op may panic (Bulkhead and RateLimiter don't recover it); record
		// completion on the way out regardless so tasksStarted and
		// tasksCompleted stay in lockstep, then let the panic continue.
		defer d.metrics.recordCompleted()
		return op(ctx)
	}

	result, err := d.inner.Call(ctx, instrumented)

	if !started {
		if ctx.Err() != nil {
			d.metrics.recordInterrupted()
		} else {
			d.metrics.recordRejected()
		}
	}

	return result, err
}

// Package policy implements the core concurrency and state logic for the
// resilience policies: Circuit Breaker, Rate Limiter, and Bulkhead, plus
// the metrics aggregators and decorators that wrap them. See SPEC_FULL.md
// at the repository root for the full specification.
package policy

import (
	"context"
	"sync"
	"sync/atomic"
)

// CircuitBreaker implements the three-state failure detector described in
// spec.md §4.1. Unlike a timeout-deadline breaker, the Open -> HalfOpen
// transition is driven by a dedicated background task woken through a
// single-slot mailbox (resetRequests), not by a check inline in Call.
//
// State is held in atomic cells; the reset cursor is the one piece of
// compound state (advance-and-read together) and is guarded by a small
// mutex, per spec.md §5's "small transactional region" guidance.
type CircuitBreaker struct {
	name          string
	maxFailures   uint32
	isFailure     func(error) bool
	onStateChange func(name string, from, to BreakerState)
	clock         Clock
	scope         *scope

	state         atomic.Int32 // BreakerState
	failureCount  atomic.Uint32
	halfOpenGate  atomic.Bool
	resetDeadline atomic.Int64 // unix nanos; 0 while not waiting on a reset

	resetMu       sync.Mutex
	resetPolicy   ResetPolicy
	resetRequests chan struct{} // capacity 1: excess offers are dropped
}

// NewCircuitBreaker constructs a Circuit Breaker and starts its reset
// task, scoped to ctx: cancelling ctx (or calling the returned Close)
// stops the reset task and drops any pending reset request. Call never
// blocks on the reset task, so no caller is affected by the teardown.
//
// Panics if settings are invalid (MaxFailures left at its zero default is
// fine; a negative reset policy cannot be constructed at all since
// NewExponentialResetPolicy itself panics on bad input).
func NewCircuitBreaker(ctx context.Context, settings BreakerSettings) *CircuitBreaker {
	settings.applyDefaults()

	sc := newScope(ctx)
	cb := &CircuitBreaker{
		name:          settings.Name,
		maxFailures:   settings.MaxFailures,
		isFailure:     settings.IsFailure,
		onStateChange: settings.OnStateChange,
		clock:         settings.Clock,
		scope:         sc,
		resetPolicy:   settings.NewResetPolicy(),
		resetRequests: make(chan struct{}, 1),
	}
	cb.state.Store(int32(BreakerClosed))
	cb.halfOpenGate.Store(true)

	sc.Spawn(cb.runResetTask)

	return cb
}

// Close tears down the breaker's background reset task. Any pending
// reset request is dropped; the breaker stays wherever it last was
// (typically Open) and will never again transition to HalfOpen.
func (cb *CircuitBreaker) Close() { cb.scope.Close() }

// Name returns the breaker's identifier.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns a point-in-time snapshot of the current state.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// FailureCount returns the current consecutive-failure tally. Only
// meaningful while Closed; it is reset by a success in Closed and on the
// HalfOpen -> Closed transition, and keeps its value while Open/HalfOpen.
func (cb *CircuitBreaker) FailureCount() uint32 {
	return cb.failureCount.Load()
}

// Call executes op under the breaker's protection.
//
//   - Closed: op always runs; failures increment the count and may trip
//     the breaker to Open.
//   - Open: op never runs; Call fails immediately with a BreakerCallError
//     whose Open field is true.
//   - HalfOpen: at most one concurrent caller is admitted, decided by an
//     atomic test-and-clear of halfOpenGate; everyone else fails with Open
//     exactly as in the Open state.
//
// op's own error, if any, is always surfaced to the caller (wrapped in a
// BreakerCallError with Open=false); the breaker never retries op.
func (cb *CircuitBreaker) Call(ctx context.Context, op Operation) (any, error) {
	switch cb.State() {
	case BreakerOpen:
		return nil, &BreakerCallError{Open: true}
	case BreakerHalfOpen:
		if !cb.halfOpenGate.CompareAndSwap(true, false) {
			return nil, &BreakerCallError{Open: true}
		}
		return cb.runAdmitted(ctx, op, true)
	default:
		return cb.runAdmitted(ctx, op, false)
	}
}

func (cb *CircuitBreaker) runAdmitted(ctx context.Context, op Operation, halfOpen bool) (result any, callErr error) {
	defer func() {
		if r := recover(); r != nil {
			cb.onOutcome(false, halfOpen)
			panic(r)
		}
	}()

	var err error
	result, err = op(ctx)

	success := !cb.isFailure(err)
	cb.onOutcome(success, halfOpen)

	if err != nil {
		return result, &BreakerCallError{Wrapped: err}
	}
	return result, nil
}

func (cb *CircuitBreaker) onOutcome(success bool, halfOpen bool) {
	if halfOpen {
		if success {
			cb.halfOpenToClosed()
		} else {
			cb.halfOpenToOpen()
		}
		return
	}

	if success {
		cb.failureCount.Store(0)
		return
	}

	cb.tripIfThresholdReached()
}

// tripIfThresholdReached implements the Closed-state failure path of
// spec.md §4.1: the cap is a post-hoc threshold, not a reservation, so
// only the single call whose increment lands exactly on maxFailures (and
// observes state still Closed) performs the transition. Later failures
// from calls that were already in flight do not re-open an open breaker.
func (cb *CircuitBreaker) tripIfThresholdReached() {
	count := cb.failureCount.Add(1)
	if count != cb.maxFailures {
		return
	}
	if cb.State() != BreakerClosed {
		return
	}
	if !cb.state.CompareAndSwap(int32(BreakerClosed), int32(BreakerOpen)) {
		return
	}
	cb.requestReset()
	cb.notify(BreakerClosed, BreakerOpen)
}

func (cb *CircuitBreaker) halfOpenToClosed() {
	if !cb.state.CompareAndSwap(int32(BreakerHalfOpen), int32(BreakerClosed)) {
		return
	}
	cb.failureCount.Store(0)
	cb.halfOpenGate.Store(true)

	cb.resetMu.Lock()
	cb.resetPolicy.Reset()
	cb.resetMu.Unlock()

	cb.notify(BreakerHalfOpen, BreakerClosed)
}

func (cb *CircuitBreaker) halfOpenToOpen() {
	if !cb.state.CompareAndSwap(int32(BreakerHalfOpen), int32(BreakerOpen)) {
		return
	}
	cb.requestReset()
	cb.notify(BreakerHalfOpen, BreakerOpen)
}

// requestReset posts a single-slot wakeup to the reset task. A pending
// request that hasn't been picked up yet means one is already on its way;
// the offer is dropped rather than queued.
func (cb *CircuitBreaker) requestReset() {
	select {
	case cb.resetRequests <- struct{}{}:
	default:
	}
}

// runResetTask is the dedicated background task that advances the reset
// cursor, sleeps the resulting delay, and flips the breaker from Open to
// HalfOpen. It is cancellable on teardown (spec.md §4.1/§9).
func (cb *CircuitBreaker) runResetTask(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cb.resetRequests:
		}

		cb.resetMu.Lock()
		delay := cb.resetPolicy.Next()
		cb.resetMu.Unlock()

		cb.resetDeadline.Store(cb.clock.Now().Add(delay).UnixNano())
		err := cb.clock.Sleep(ctx, delay)
		cb.resetDeadline.Store(0)
		if err != nil {
			return
		}

		if !cb.state.CompareAndSwap(int32(BreakerOpen), int32(BreakerHalfOpen)) {
			continue
		}
		cb.halfOpenGate.Store(true)
		cb.notify(BreakerOpen, BreakerHalfOpen)
	}
}

// notify fires onStateChange without holding any of the breaker's atomic
// section: the callback may call back into the breaker (spec.md §9
// "Callback re-entrance"), and its own panics are swallowed so an
// observer's bug can never destabilize the breaker.
func (cb *CircuitBreaker) notify(from, to BreakerState) {
	if cb.onStateChange == nil {
		return
	}
	defer func() { _ = recover() }()
	cb.onStateChange(cb.name, from, to)
}

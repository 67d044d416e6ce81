package policy

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// RateLimiter paces calls to at most Max permits per sliding Interval
// (spec.md §4.2). Excess callers wait in FIFO order; they are never
// rejected, and the limiter never fabricates an error of its own — op's
// error type passes through Call unchanged.
//
// Correctness: the limiter tracks the timestamps of the most recent Max
// issuances in a fixed-size ring. A permit is issued immediately if the
// ring isn't yet full, or if its oldest entry is older than now-Interval;
// otherwise the caller sleeps until oldest+Interval and retries. FIFO
// fairness is enforced by an explicit waiter queue: only the queue head
// is allowed to attempt issuance.
type RateLimiter struct {
	name     string
	max      int
	interval time.Duration
	clock    Clock
	scope    *scope

	mu     sync.Mutex
	times  []time.Time // ring buffer, length max
	next   int         // index of the oldest entry / next overwrite slot
	filled int         // number of entries populated so far (< max until warmed up)
	queue  *list.List  // FIFO of *rlTicket
}

type rlTicket struct {
	wake chan struct{} // buffered 1
}

// NewRateLimiter constructs a Rate Limiter scoped to ctx. There is no
// background task: all work happens synchronously inside Call.
func NewRateLimiter(ctx context.Context, settings RateLimiterSettings) *RateLimiter {
	settings.applyDefaults()
	return &RateLimiter{
		name:     settings.Name,
		max:      settings.Max,
		interval: settings.Interval,
		clock:    settings.Clock,
		scope:    newScope(ctx),
		times:    make([]time.Time, settings.Max),
		queue:    list.New(),
	}
}

// Close releases the limiter's scope. Any caller currently queued in
// Call observes ctx cancellation and returns without a permit.
func (rl *RateLimiter) Close() { rl.scope.Close() }

// Name returns the limiter's identifier.
func (rl *RateLimiter) Name() string { return rl.name }

// Diagnostics reports the limiter's current admission state.
func (rl *RateLimiter) Diagnostics() RateLimiterDiagnostics {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	inWindow := 0
	for i := 0; i < rl.filled; i++ {
		if now.Before(rl.times[i].Add(rl.interval)) {
			inWindow++
		}
	}
	free := rl.max - inWindow

	var eta time.Duration
	if free == 0 {
		readyAt := rl.times[rl.next].Add(rl.interval)
		if d := readyAt.Sub(now); d > 0 {
			eta = d
		}
	}

	return RateLimiterDiagnostics{
		Waiting:        rl.queue.Len(),
		FreePermitsNow: free,
		NextPermitETA:  eta,
	}
}

// UpdateSettings adjusts the limiter's budget at runtime. Changing Max
// reshapes the ring buffer, discarding history: existing issuance
// timestamps are dropped and the limiter starts warming up again, trading
// a brief burst allowance for avoiding stale history after a shrink.
func (rl *RateLimiter) UpdateSettings(max int, interval time.Duration) error {
	if max <= 0 {
		return errRateLimiterMaxInvalid
	}
	if interval <= 0 {
		return errRateLimiterIntervalInvalid
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.max = max
	rl.interval = interval
	rl.times = make([]time.Time, max)
	rl.next = 0
	rl.filled = 0
	return nil
}

// Call waits for a permit (FIFO, cancellable) and then executes op. If
// ctx is cancelled while queued, Call returns ctx.Err() and no permit is
// spent. If ctx is cancelled after the permit was issued, the permit is
// considered spent even though op itself observes the cancellation.
// Closing the limiter while a caller is queued makes that Call return
// context.Canceled, also without spending a permit.
func (rl *RateLimiter) Call(ctx context.Context, op Operation) (any, error) {
	if err := rl.acquire(ctx); err != nil {
		return nil, err
	}
	return op(ctx)
}

func (rl *RateLimiter) acquire(ctx context.Context) error {
	// Tearing down the limiter's scope cancels the wait as well.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(rl.scope.ctx, cancel)
	defer stop()

	t := &rlTicket{wake: make(chan struct{}, 1)}

	rl.mu.Lock()
	elem := rl.queue.PushBack(t)
	if rl.queue.Front() == elem {
		t.wake <- struct{}{}
	}
	rl.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			rl.dequeue(elem)
			return ctx.Err()
		case <-t.wake:
		}

		rl.mu.Lock()
		if rl.queue.Front() != elem {
			// Someone else is at the head; go back to waiting for a wake.
			rl.mu.Unlock()
			continue
		}

		now := rl.clock.Now()
		if rl.filled < rl.max {
			rl.issueLocked(now)
			rl.queue.Remove(elem)
			rl.mu.Unlock()
			rl.wakeFront()
			return nil
		}

		oldest := rl.times[rl.next]
		readyAt := oldest.Add(rl.interval)
		if !now.Before(readyAt) {
			rl.issueLocked(now)
			rl.queue.Remove(elem)
			rl.mu.Unlock()
			rl.wakeFront()
			return nil
		}
		wait := readyAt.Sub(now)
		rl.mu.Unlock()

		if err := rl.clock.Sleep(ctx, wait); err != nil {
			rl.dequeue(elem)
			return err
		}
		// Re-check: we may still be head, and the oldest slot should now
		// qualify, but another ticket may have raced in if the queue
		// discipline were looser than it is; re-verify rather than assume.
		rl.mu.Lock()
		if rl.queue.Front() == elem {
			// A wake may already be pending (wakeFront after another
			// waiter left); never block on the full channel under rl.mu.
			select {
			case t.wake <- struct{}{}:
			default:
			}
		}
		rl.mu.Unlock()
	}
}

// issueLocked records a new issuance at now, overwriting the oldest ring
// slot. Caller must hold rl.mu.
func (rl *RateLimiter) issueLocked(now time.Time) {
	rl.times[rl.next] = now
	rl.next = (rl.next + 1) % rl.max
	if rl.filled < rl.max {
		rl.filled++
	}
}

// dequeue removes a cancelled waiter from the queue and wakes the new
// head, if any, so the queue keeps draining.
func (rl *RateLimiter) dequeue(elem *list.Element) {
	rl.mu.Lock()
	rl.queue.Remove(elem)
	rl.mu.Unlock()
	rl.wakeFront()
}

func (rl *RateLimiter) wakeFront() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if front := rl.queue.Front(); front != nil {
		t := front.Value.(*rlTicket)
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
}

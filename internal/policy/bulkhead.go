package policy

import (
	"container/list"
	"context"
	"sync"
)

// Bulkhead bounds concurrency against a fallible resource (spec.md §4.3):
// at most MaxInFlight calls execute at once; up to MaxQueueing more wait
// in FIFO order; beyond that, calls are rejected immediately.
type Bulkhead struct {
	name        string
	maxInFlight int
	maxQueueing int
	scope       *scope

	mu       sync.Mutex
	inFlight int
	queued   int
	queue    *list.List // FIFO of *bhTicket
}

type bhTicket struct {
	wake    chan struct{} // buffered 1
	removed bool          // guarded by Bulkhead.mu
}

// NewBulkhead constructs a Bulkhead scoped to ctx.
func NewBulkhead(ctx context.Context, settings BulkheadSettings) *Bulkhead {
	settings.applyDefaults()
	return &Bulkhead{
		name:        settings.Name,
		maxInFlight: settings.MaxInFlight,
		maxQueueing: settings.MaxQueueing,
		scope:       newScope(ctx),
		queue:       list.New(),
	}
}

// Close releases the bulkhead's scope. Queued callers observe ctx
// cancellation through their own contexts, not through Close; Close only
// exists for symmetry with the other policies and future background
// tasks (e.g. a queue-depth gauge sampler, see metrics.go).
func (b *Bulkhead) Close() { b.scope.Close() }

// Name returns the bulkhead's identifier.
func (b *Bulkhead) Name() string { return b.name }

// Diagnostics reports the bulkhead's current occupancy.
func (b *Bulkhead) Diagnostics() BulkheadDiagnostics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BulkheadDiagnostics{
		InFlight:    b.inFlight,
		Queued:      b.queued,
		WouldReject: b.inFlight+b.queued >= b.maxInFlight+b.maxQueueing,
	}
}

// Call admits op immediately if a slot is free, queues it (FIFO) if the
// bulkhead is at capacity but the queue has room, or rejects it outright
// if both are saturated. On any termination (success, op failure, or
// ctx cancellation of an admitted call) the in-flight slot is released
// and the next queued caller, if any, is admitted.
func (b *Bulkhead) Call(ctx context.Context, op Operation) (any, error) {
	t, elem, err := b.enqueueOrReject()
	if err != nil {
		return nil, err
	}
	b.maybeAdmit()

	if err := b.waitTurn(ctx, t, elem); err != nil {
		return nil, err
	}
	defer b.release()

	result, opErr := op(ctx)
	if opErr != nil {
		return result, &BulkheadCallError{Wrapped: opErr}
	}
	return result, nil
}

func (b *Bulkhead) enqueueOrReject() (*bhTicket, *list.Element, error) {
	b.mu.Lock()
	// Tickets queued but not yet promoted by maybeAdmit, and a queue left
	// over a lowered MaxQueueing, both count against the combined bound.
	if b.inFlight+b.queued >= b.maxInFlight+b.maxQueueing {
		b.mu.Unlock()
		return nil, nil, &BulkheadCallError{Rejected: true}
	}
	t := &bhTicket{wake: make(chan struct{}, 1)}
	elem := b.queue.PushBack(t)
	b.queued++
	b.mu.Unlock()
	return t, elem, nil
}

// waitTurn blocks until the ticket is admitted or ctx is cancelled. If
// cancellation wins the race against admission, the ticket is removed
// from the queue and no slot is ever consumed. If admission already
// happened by the time cancellation is observed, the in-flight slot has
// already been claimed; the caller proceeds to run op (which should
// itself observe ctx) and release() still fires on completion.
func (b *Bulkhead) waitTurn(ctx context.Context, t *bhTicket, elem *list.Element) error {
	select {
	case <-t.wake:
		return nil
	case <-ctx.Done():
		if b.tryRemoveQueued(t, elem) {
			return ctx.Err()
		}
		<-t.wake
		return nil
	}
}

func (b *Bulkhead) tryRemoveQueued(t *bhTicket, elem *list.Element) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.removed {
		return false
	}
	t.removed = true
	b.queue.Remove(elem)
	b.queued--
	return true
}

// maybeAdmit promotes queued tickets to in-flight while capacity allows.
func (b *Bulkhead) maybeAdmit() {
	b.mu.Lock()
	for b.inFlight < b.maxInFlight {
		front := b.queue.Front()
		if front == nil {
			break
		}
		t := front.Value.(*bhTicket)
		b.queue.Remove(front)
		t.removed = true
		b.queued--
		b.inFlight++
		b.mu.Unlock()
		t.wake <- struct{}{}
		b.mu.Lock()
	}
	b.mu.Unlock()
}

// release frees an in-flight slot on any termination and re-runs
// admission so the next queued caller, if any, proceeds.
func (b *Bulkhead) release() {
	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
	b.maybeAdmit()
}

// UpdateSettings adjusts the bulkhead's queue capacity at runtime.
// MaxInFlight is deliberately not adjustable here: shrinking it could
// orphan calls already running, and growing it would need to immediately
// admit queued callers outside of maybeAdmit's normal release-driven path.
func (b *Bulkhead) UpdateSettings(maxQueueing int) error {
	if maxQueueing < 0 {
		return errBulkheadMaxQueueingInvalid
	}
	b.mu.Lock()
	b.maxQueueing = maxQueueing
	b.mu.Unlock()
	return nil
}

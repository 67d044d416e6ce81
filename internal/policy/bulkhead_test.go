package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBulkheadAdmitsUpToMaxInFlight(t *testing.T) {
	ctx := context.Background()
	bh := NewBulkhead(ctx, BulkheadSettings{Name: "test", MaxInFlight: 2, MaxQueueing: 0})
	defer bh.Close()

	block := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bh.Call(ctx, func(ctx context.Context) (any, error) {
				started <- struct{}{}
				<-block
				return nil, nil
			})
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("not all admitted calls started")
		}
	}

	diag := bh.Diagnostics()
	if diag.InFlight != 2 {
		t.Errorf("InFlight = %v, want 2", diag.InFlight)
	}

	close(block)
	wg.Wait()
}

func TestBulkheadRejectsWhenQueueAndInFlightSaturated(t *testing.T) {
	ctx := context.Background()
	bh := NewBulkhead(ctx, BulkheadSettings{Name: "test", MaxInFlight: 1, MaxQueueing: 1})
	defer bh.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go bh.Call(ctx, func(ctx context.Context) (any, error) {
		close(started)
		<-block
		return nil, nil
	})
	<-started

	// Second call fills the queue.
	queuedDone := make(chan struct{})
	go func() {
		bh.Call(ctx, succeed)
		close(queuedDone)
	}()
	waitForQueued(t, bh, 1)

	// Third call must be rejected outright.
	_, err := bh.Call(ctx, succeed)
	var callErr *BulkheadCallError
	if !errors.As(err, &callErr) || !callErr.Rejected {
		t.Fatalf("third Call() error = %v, want BulkheadCallError{Rejected: true}", err)
	}
	if !errors.Is(err, ErrBulkheadRejected) {
		t.Errorf("errors.Is(err, ErrBulkheadRejected) = false, want true")
	}

	close(block)
	<-queuedDone
}

func TestBulkheadQueuedCallRunsAfterSlotFrees(t *testing.T) {
	ctx := context.Background()
	bh := NewBulkhead(ctx, BulkheadSettings{Name: "test", MaxInFlight: 1, MaxQueueing: 1})
	defer bh.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go bh.Call(ctx, func(ctx context.Context) (any, error) {
		close(started)
		<-block
		return nil, nil
	})
	<-started

	resultCh := make(chan string, 1)
	go func() {
		result, _ := bh.Call(ctx, func(ctx context.Context) (any, error) { return "second", nil })
		resultCh <- result.(string)
	}()
	waitForQueued(t, bh, 1)

	close(block)
	select {
	case result := <-resultCh:
		if result != "second" {
			t.Errorf("queued call result = %v, want second", result)
		}
	case <-time.After(time.Second):
		t.Fatalf("queued call never ran after slot freed")
	}
}

func TestBulkheadCancelWhileQueuedFreesSlotForNextWaiter(t *testing.T) {
	ctx := context.Background()
	bh := NewBulkhead(ctx, BulkheadSettings{Name: "test", MaxInFlight: 1, MaxQueueing: 2})
	defer bh.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go bh.Call(ctx, func(ctx context.Context) (any, error) {
		close(started)
		<-block
		return nil, nil
	})
	<-started

	cancelCtx, cancel := context.WithCancel(ctx)
	cancelledDone := make(chan error, 1)
	go func() {
		_, err := bh.Call(cancelCtx, succeed)
		cancelledDone <- err
	}()
	waitForQueued(t, bh, 1)

	survivorDone := make(chan string, 1)
	go func() {
		result, _ := bh.Call(ctx, func(ctx context.Context) (any, error) { return "survivor", nil })
		survivorDone <- result.(string)
	}()
	waitForQueued(t, bh, 2)

	cancel()
	if err := <-cancelledDone; err != context.Canceled {
		t.Errorf("cancelled call error = %v, want context.Canceled", err)
	}

	close(block)
	select {
	case result := <-survivorDone:
		if result != "survivor" {
			t.Errorf("survivor result = %v, want survivor", result)
		}
	case <-time.After(time.Second):
		t.Fatalf("survivor call never ran")
	}
}

func TestBulkheadUpdateSettingsChangesQueueCapacity(t *testing.T) {
	ctx := context.Background()
	bh := NewBulkhead(ctx, BulkheadSettings{Name: "test", MaxInFlight: 1, MaxQueueing: 0})
	defer bh.Close()

	if err := bh.UpdateSettings(-1); err == nil {
		t.Errorf("UpdateSettings(-1) error = nil, want error")
	}

	block := make(chan struct{})
	started := make(chan struct{})
	go bh.Call(ctx, func(ctx context.Context) (any, error) {
		close(started)
		<-block
		return nil, nil
	})
	<-started

	if err := bh.UpdateSettings(1); err != nil {
		t.Fatalf("UpdateSettings(1) error = %v, want nil", err)
	}

	queuedDone := make(chan struct{})
	go func() {
		bh.Call(ctx, succeed)
		close(queuedDone)
	}()
	waitForQueued(t, bh, 1)

	close(block)
	<-queuedDone
}

func waitForQueued(t *testing.T, bh *Bulkhead, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bh.Diagnostics().Queued == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Queued never reached %v, stuck at %v", want, bh.Diagnostics().Queued)
}

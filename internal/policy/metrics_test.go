package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMetricsAggregatorFlushesOnInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock(time.Unix(0, 0))

	var mu sync.Mutex
	var snapshots []MetricsSnapshot
	agg := NewMetricsAggregator(ctx, MetricsSettings{
		Name:            "test",
		MetricsInterval: time.Second,
		Clock:           clock,
		OnMetrics: func(s MetricsSnapshot) {
			mu.Lock()
			snapshots = append(snapshots, s)
			mu.Unlock()
		},
	})
	defer cancel()
	defer agg.Close()

	agg.recordEnqueued()
	agg.recordStarted(10 * time.Millisecond)
	agg.recordCompleted()

	clock.Advance(time.Second)
	waitForCondition(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) >= 1
	})

	mu.Lock()
	defer mu.Unlock()
	if snapshots[0].TasksEnqueued != 1 || snapshots[0].TasksStarted != 1 || snapshots[0].TasksCompleted != 1 {
		t.Errorf("first snapshot = %+v, want one of each counter", snapshots[0])
	}
}

func TestMetricsAggregatorResetsCountersBetweenFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newFakeClock(time.Unix(0, 0))

	var mu sync.Mutex
	var snapshots []MetricsSnapshot
	agg := NewMetricsAggregator(ctx, MetricsSettings{
		Name:            "test",
		MetricsInterval: time.Second,
		Clock:           clock,
		OnMetrics: func(s MetricsSnapshot) {
			mu.Lock()
			snapshots = append(snapshots, s)
			mu.Unlock()
		},
	})
	defer cancel()
	defer agg.Close()

	agg.recordEnqueued()
	clock.Advance(time.Second)
	waitForCondition(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(snapshots) >= 1 })

	clock.Advance(time.Second)
	waitForCondition(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(snapshots) >= 2 })

	mu.Lock()
	defer mu.Unlock()
	if snapshots[1].TasksEnqueued != 0 {
		t.Errorf("second snapshot TasksEnqueued = %v, want 0 (counters reset)", snapshots[1].TasksEnqueued)
	}
}

func TestMetricsAggregatorFinalFlushOnClose(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Unix(0, 0))

	var mu sync.Mutex
	var snapshots []MetricsSnapshot
	agg := NewMetricsAggregator(ctx, MetricsSettings{
		Name:            "test",
		MetricsInterval: time.Hour,
		Clock:           clock,
		OnMetrics: func(s MetricsSnapshot) {
			mu.Lock()
			snapshots = append(snapshots, s)
			mu.Unlock()
		},
	})

	agg.recordEnqueued()
	agg.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %v, want exactly 1 (final trailing flush)", len(snapshots))
	}
	if snapshots[0].TasksEnqueued != 1 {
		t.Errorf("final snapshot TasksEnqueued = %v, want 1", snapshots[0].TasksEnqueued)
	}
}

func TestMetricsDecoratorRecordsRejection(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Unix(0, 0))

	var mu sync.Mutex
	var snapshots []MetricsSnapshot
	agg := NewMetricsAggregator(ctx, MetricsSettings{
		Name:            "test",
		MetricsInterval: time.Hour,
		Clock:           clock,
		OnMetrics: func(s MetricsSnapshot) {
			mu.Lock()
			snapshots = append(snapshots, s)
			mu.Unlock()
		},
	})
	defer agg.Close()

	bh := NewBulkhead(ctx, BulkheadSettings{Name: "test", MaxInFlight: 1, MaxQueueing: 0})
	defer bh.Close()
	decorated := NewMetricsDecorator(bh, agg, clock)

	block := make(chan struct{})
	go decorated.Call(ctx, func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})
	time.Sleep(20 * time.Millisecond)

	_, err := decorated.Call(ctx, succeed)
	close(block)
	time.Sleep(20 * time.Millisecond)

	if !errors.Is(err, ErrBulkheadRejected) {
		t.Fatalf("rejected call error = %v, want ErrBulkheadRejected", err)
	}

	snap := agg.snapshotAndReset()
	if snap.TasksRejected != 1 {
		t.Errorf("TasksRejected = %v, want 1", snap.TasksRejected)
	}
	if snap.TasksStarted != 1 {
		t.Errorf("TasksStarted = %v, want 1 (the admitted call)", snap.TasksStarted)
	}
}

func TestMetricsDecoratorRecordsInterrupted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Unix(0, 0))
	agg := NewMetricsAggregator(ctx, MetricsSettings{
		Name:            "test",
		MetricsInterval: time.Hour,
		Clock:           clock,
	})
	defer agg.Close()

	rl := NewRateLimiter(ctx, RateLimiterSettings{Name: "test", Max: 1, Interval: time.Hour, Clock: clock})
	defer rl.Close()
	decorated := NewMetricsDecorator(rl, agg, clock)

	decorated.Call(ctx, succeed) // consume the only permit

	callCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := decorated.Call(callCtx, succeed)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Fatalf("Call() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Call() never returned")
	}

	snap := agg.snapshotAndReset()
	if snap.TasksInterrupted != 1 {
		t.Errorf("TasksInterrupted = %v, want 1", snap.TasksInterrupted)
	}
}

func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true")
}

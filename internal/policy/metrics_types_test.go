package policy

import "testing"

func TestHistogramObserveClamps(t *testing.T) {
	h := NewHistogram(HistogramSettings{Min: 1, Max: 100, BucketCount: 4})

	h.Observe(0.001) // below Min, clamps to first bucket
	h.Observe(1e9)   // above Max, clamps to last bucket

	counts := h.Counts()
	if counts[0] != 1 {
		t.Errorf("first bucket = %v, want 1", counts[0])
	}
	if counts[len(counts)-1] != 1 {
		t.Errorf("last bucket = %v, want 1", counts[len(counts)-1])
	}
}

func TestHistogramSnapshotIsIndependent(t *testing.T) {
	h := NewHistogram(HistogramSettings{Min: 1, Max: 100, BucketCount: 4})
	h.Observe(1)

	snap := h.Snapshot()
	h.Observe(1)

	if snap.Counts()[0] != 1 {
		t.Errorf("snapshot bucket = %v, want 1 (unaffected by later observes)", snap.Counts()[0])
	}
	if h.Counts()[0] != 2 {
		t.Errorf("live bucket = %v, want 2", h.Counts()[0])
	}
}

func TestHistogramAddIsBucketwise(t *testing.T) {
	a := NewHistogram(HistogramSettings{Min: 1, Max: 100, BucketCount: 4})
	b := NewHistogram(HistogramSettings{Min: 1, Max: 100, BucketCount: 4})
	a.Observe(1)
	b.Observe(1)
	b.Observe(1)

	sum := a.Add(b)
	if sum.Counts()[0] != 3 {
		t.Errorf("sum bucket = %v, want 3", sum.Counts()[0])
	}
}

func TestHistogramAddNilSafe(t *testing.T) {
	var nilHist *Histogram
	h := NewHistogram(HistogramSettings{Min: 1, Max: 100, BucketCount: 4})
	h.Observe(5)

	if got := nilHist.Add(h); got != h {
		t.Errorf("nil.Add(h) = %v, want h unchanged", got)
	}
	if got := h.Add(nilHist); got != h {
		t.Errorf("h.Add(nil) = %v, want h unchanged", got)
	}
}

func TestHistogramAddPanicsOnMismatch(t *testing.T) {
	a := NewHistogram(HistogramSettings{Min: 1, Max: 100, BucketCount: 4})
	b := NewHistogram(HistogramSettings{Min: 1, Max: 100, BucketCount: 8})

	defer func() {
		if recover() == nil {
			t.Errorf("Add() with mismatched bucket counts did not panic")
		}
	}()
	a.Add(b)
}

func TestMetricsSnapshotAddSumsCounters(t *testing.T) {
	a := MetricsSnapshot{TasksEnqueued: 1, TasksStarted: 1, TasksCompleted: 1}
	b := MetricsSnapshot{TasksEnqueued: 2, TasksRejected: 1}

	sum := a.Add(b)
	if sum.TasksEnqueued != 3 {
		t.Errorf("TasksEnqueued = %v, want 3", sum.TasksEnqueued)
	}
	if sum.TasksStarted != 1 {
		t.Errorf("TasksStarted = %v, want 1", sum.TasksStarted)
	}
	if sum.TasksRejected != 1 {
		t.Errorf("TasksRejected = %v, want 1", sum.TasksRejected)
	}
}

func TestMetricsSnapshotAddHistogramsNilSafe(t *testing.T) {
	a := MetricsSnapshot{}
	b := MetricsSnapshot{QueueLatency: NewHistogram(HistogramSettings{Min: 1, Max: 10, BucketCount: 2})}

	sum := a.Add(b)
	if sum.QueueLatency == nil {
		t.Errorf("QueueLatency = nil, want b's histogram to survive the sum")
	}
}

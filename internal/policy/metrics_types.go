package policy

import (
	"math"
	"sort"
	"sync"
	"time"
)

// HistogramSettings configures the log-spaced bucket edges derived once
// at construction for a latency or gauge histogram (spec.md §4.4/§9).
// Observations outside [Min, Max] clamp to the nearest edge bucket so
// histograms stay addable regardless of outliers.
type HistogramSettings struct {
	Min         float64
	Max         float64
	BucketCount int // defaults to 10 when <= 0
}

func (s HistogramSettings) applyDefaults() HistogramSettings {
	if s.BucketCount <= 0 {
		s.BucketCount = 10
	}
	if s.Min <= 0 {
		s.Min = 1
	}
	if s.Max <= s.Min {
		s.Max = s.Min * 10
	}
	return s
}

// edges computes BucketCount+1 log-spaced boundaries between Min and Max.
func (s HistogramSettings) edges() []float64 {
	n := s.BucketCount
	edges := make([]float64, n+1)
	logMin := math.Log(s.Min)
	logMax := math.Log(s.Max)
	for i := 0; i <= n; i++ {
		frac := float64(i) / float64(n)
		edges[i] = math.Exp(logMin + frac*(logMax-logMin))
	}
	return edges
}

// Histogram is a bounded-bucket histogram whose buckets add bucket-wise,
// satisfying the monoid law required by spec.md §4.4/§8.
type Histogram struct {
	mu     sync.Mutex
	edges  []float64 // len = bucketCount+1
	counts []uint64  // len = bucketCount
}

// NewHistogram builds a Histogram from settings, deriving bucket edges
// eagerly (spec.md §9 "Histogram bucketing").
func NewHistogram(settings HistogramSettings) *Histogram {
	settings = settings.applyDefaults()
	edges := settings.edges()
	return &Histogram{
		edges:  edges,
		counts: make([]uint64, len(edges)-1),
	}
}

// Observe records v, clamping to the edge buckets if v falls outside
// [Min, Max].
func (h *Histogram) Observe(v float64) {
	idx := sort.SearchFloat64s(h.edges, v) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(h.counts) {
		idx = len(h.counts) - 1
	}
	h.mu.Lock()
	h.counts[idx]++
	h.mu.Unlock()
}

// Snapshot returns an independent copy of the current bucket counts,
// addable to any other Histogram snapshot built from the same edges.
func (h *Histogram) Snapshot() *Histogram {
	h.mu.Lock()
	defer h.mu.Unlock()
	counts := make([]uint64, len(h.counts))
	copy(counts, h.counts)
	return &Histogram{edges: h.edges, counts: counts}
}

// Reset zeroes the live bucket counts in place, used by the flush task
// after taking a Snapshot.
func (h *Histogram) Reset() {
	h.mu.Lock()
	for i := range h.counts {
		h.counts[i] = 0
	}
	h.mu.Unlock()
}

// Add returns the bucket-wise sum of h and other. Both must share the
// same edges (true for any two snapshots of the same aggregator); it
// panics otherwise since summing mismatched histograms is a programmer
// error, not a runtime condition to recover from.
func (h *Histogram) Add(other *Histogram) *Histogram {
	if h == nil {
		return other
	}
	if other == nil {
		return h
	}
	if len(h.counts) != len(other.counts) {
		panic("rezilience: cannot add histograms with different bucket counts")
	}
	sum := make([]uint64, len(h.counts))
	for i := range sum {
		sum[i] = h.counts[i] + other.counts[i]
	}
	return &Histogram{edges: h.edges, counts: sum}
}

// Counts returns the bucket counts, in edge order, for inspection.
func (h *Histogram) Counts() []uint64 {
	out := make([]uint64, len(h.counts))
	copy(out, h.counts)
	return out
}

// MetricsSnapshot is an immutable, addable record of a policy's metrics
// over a specific interval (spec.md §3/§4.4 "Monoid law").
type MetricsSnapshot struct {
	Interval time.Duration

	TasksEnqueued    uint64
	TasksStarted     uint64
	TasksCompleted   uint64
	TasksInterrupted uint64
	TasksRejected    uint64

	QueueLatency  *Histogram // nil where not applicable
	InFlightGauge *Histogram // Bulkhead only
	QueuedGauge   *Histogram // Bulkhead only
}

// Add implements the commutative monoid law: interval sums, counters add,
// histograms add bucket-wise.
func (a MetricsSnapshot) Add(b MetricsSnapshot) MetricsSnapshot {
	return MetricsSnapshot{
		Interval:         a.Interval + b.Interval,
		TasksEnqueued:    a.TasksEnqueued + b.TasksEnqueued,
		TasksStarted:     a.TasksStarted + b.TasksStarted,
		TasksCompleted:   a.TasksCompleted + b.TasksCompleted,
		TasksInterrupted: a.TasksInterrupted + b.TasksInterrupted,
		TasksRejected:    a.TasksRejected + b.TasksRejected,
		QueueLatency:     a.QueueLatency.Add(b.QueueLatency),
		InFlightGauge:    a.InFlightGauge.Add(b.InFlightGauge),
		QueuedGauge:      a.QueuedGauge.Add(b.QueuedGauge),
	}
}

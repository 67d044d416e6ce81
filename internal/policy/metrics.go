package policy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSettings configures a MetricsAggregator. QueueLatency and the two
// gauge histograms are optional: a zero-value HistogramSettings{} disables
// the corresponding histogram (its snapshot field stays nil).
type MetricsSettings struct {
	Name string

	// MetricsInterval is how often the background flush task emits a
	// snapshot via OnMetrics. Must be > 0.
	MetricsInterval time.Duration

	// QueueLatency buckets admission-to-start delay (Bulkhead, Rate
	// Limiter per spec.md §4.4). Leave the zero value to disable.
	QueueLatency HistogramSettings

	// InFlightGauge and QueuedGauge bucket periodic occupancy samples
	// (Bulkhead only). Leave the zero value on either to disable.
	InFlightGauge HistogramSettings
	QueuedGauge   HistogramSettings

	// SampleInterval is how often Sampler is polled to append gauge
	// observations. Required when InFlightGauge/QueuedGauge are set.
	SampleInterval time.Duration

	// Sampler returns the current (inFlight, queued) occupancy. Required
	// when InFlightGauge/QueuedGauge are set.
	Sampler func() (inFlight, queued int)

	// OnMetrics receives each windowed snapshot, plus a final snapshot
	// covering the trailing partial interval on teardown. Its errors
	// (panics) are swallowed, matching spec.md §7's "observers are
	// informational" rule.
	OnMetrics func(MetricsSnapshot)

	// Registerer, if non-nil, registers Prometheus instruments for
	// scraping, grounded in the teacher's examples/prometheus collector:
	// started/completed/interrupted/rejected counters, a queue-latency
	// histogram with Prometheus's default buckets, and in-flight/queued
	// gauges holding the latest sample. TasksEnqueued is not exported.
	// Nil disables Prometheus entirely (the aggregator still works via
	// OnMetrics alone).
	Registerer prometheus.Registerer

	Clock Clock
}

// MetricsAggregator accumulates counters and histograms for one policy
// instance, flushing a MetricsSnapshot to OnMetrics every MetricsInterval
// and on teardown (spec.md §4.4).
type MetricsAggregator struct {
	name  string
	clock Clock
	scope *scope

	tasksEnqueued    atomic.Uint64
	tasksStarted     atomic.Uint64
	tasksCompleted   atomic.Uint64
	tasksInterrupted atomic.Uint64
	tasksRejected    atomic.Uint64

	queueLatency  *Histogram
	inFlightGauge *Histogram
	queuedGauge   *Histogram

	intervalStart atomic.Int64
	onMetrics     func(MetricsSnapshot)

	prom *promInstruments
}

// NewMetricsAggregator constructs an aggregator and starts its background
// flush task (and gauge sampler, if configured), scoped to ctx.
func NewMetricsAggregator(ctx context.Context, settings MetricsSettings) *MetricsAggregator {
	if settings.MetricsInterval <= 0 {
		panic("rezilience: MetricsInterval must be > 0")
	}
	if settings.Clock == nil {
		settings.Clock = RealClock{}
	}

	a := &MetricsAggregator{
		name:      settings.Name,
		clock:     settings.Clock,
		scope:     newScope(ctx),
		onMetrics: settings.OnMetrics,
	}
	a.intervalStart.Store(a.clock.Now().UnixNano())

	if settings.QueueLatency != (HistogramSettings{}) {
		a.queueLatency = NewHistogram(settings.QueueLatency)
	}
	if settings.InFlightGauge != (HistogramSettings{}) {
		a.inFlightGauge = NewHistogram(settings.InFlightGauge)
	}
	if settings.QueuedGauge != (HistogramSettings{}) {
		a.queuedGauge = NewHistogram(settings.QueuedGauge)
	}

	if settings.Registerer != nil {
		a.prom = newPromInstruments(settings.Registerer, settings.Name)
	}

	a.scope.Spawn(a.runFlushTask(settings.MetricsInterval))

	if settings.Sampler != nil && settings.SampleInterval > 0 {
		a.scope.Spawn(a.runGaugeSampler(settings.SampleInterval, settings.Sampler))
	}

	return a
}

// Close stops the aggregator's background tasks after emitting one final
// snapshot covering the trailing partial interval.
func (a *MetricsAggregator) Close() {
	a.scope.Close()
}

func (a *MetricsAggregator) recordEnqueued() { a.tasksEnqueued.Add(1) }

func (a *MetricsAggregator) recordStarted(queueLatency time.Duration) {
	a.tasksStarted.Add(1)
	if a.queueLatency != nil {
		a.queueLatency.Observe(queueLatency.Seconds())
	}
	if a.prom != nil {
		a.prom.started.Inc()
		a.prom.latency.Observe(queueLatency.Seconds())
	}
}

func (a *MetricsAggregator) recordCompleted() {
	a.tasksCompleted.Add(1)
	if a.prom != nil {
		a.prom.completed.Inc()
	}
}

func (a *MetricsAggregator) recordInterrupted() {
	a.tasksInterrupted.Add(1)
	if a.prom != nil {
		a.prom.interrupted.Inc()
	}
}

func (a *MetricsAggregator) recordRejected() {
	a.tasksRejected.Add(1)
	if a.prom != nil {
		a.prom.rejected.Inc()
	}
}

func (a *MetricsAggregator) observeGauges(inFlight, queued int) {
	if a.inFlightGauge != nil {
		a.inFlightGauge.Observe(float64(inFlight))
	}
	if a.queuedGauge != nil {
		a.queuedGauge.Observe(float64(queued))
	}
	if a.prom != nil {
		a.prom.inFlightGauge.Set(float64(inFlight))
		a.prom.queuedGauge.Set(float64(queued))
	}
}

// snapshotAndReset atomically swaps every counter back to zero, stamps
// the elapsed wall interval, and returns the resulting snapshot.
func (a *MetricsAggregator) snapshotAndReset() MetricsSnapshot {
	now := a.clock.Now()
	startNano := a.intervalStart.Swap(now.UnixNano())

	snap := MetricsSnapshot{
		Interval:         now.Sub(time.Unix(0, startNano)),
		TasksEnqueued:    a.tasksEnqueued.Swap(0),
		TasksStarted:     a.tasksStarted.Swap(0),
		TasksCompleted:   a.tasksCompleted.Swap(0),
		TasksInterrupted: a.tasksInterrupted.Swap(0),
		TasksRejected:    a.tasksRejected.Swap(0),
	}

	if a.queueLatency != nil {
		snap.QueueLatency = a.queueLatency.Snapshot()
		a.queueLatency.Reset()
	}
	if a.inFlightGauge != nil {
		snap.InFlightGauge = a.inFlightGauge.Snapshot()
		a.inFlightGauge.Reset()
	}
	if a.queuedGauge != nil {
		snap.QueuedGauge = a.queuedGauge.Snapshot()
		a.queuedGauge.Reset()
	}

	return snap
}

func (a *MetricsAggregator) flush() {
	snap := a.snapshotAndReset()
	a.notify(snap)
}

// notify invokes OnMetrics outside of any internal lock, and swallows the
// observer's own failures per spec.md §7.
func (a *MetricsAggregator) notify(snap MetricsSnapshot) {
	if a.onMetrics == nil {
		return
	}
	defer func() { _ = recover() }()
	a.onMetrics(snap)
}

func (a *MetricsAggregator) runFlushTask(interval time.Duration) func(ctx context.Context) {
	return func(ctx context.Context) {
		for {
			if err := a.clock.Sleep(ctx, interval); err != nil {
				a.flush() // final snapshot covering the trailing partial interval
				return
			}
			a.flush()
		}
	}
}

func (a *MetricsAggregator) runGaugeSampler(interval time.Duration, sampler func() (int, int)) func(ctx context.Context) {
	return func(ctx context.Context) {
		for {
			if err := a.clock.Sleep(ctx, interval); err != nil {
				return
			}
			inFlight, queued := sampler()
			a.observeGauges(inFlight, queued)
		}
	}
}

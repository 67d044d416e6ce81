package policy

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// promInstruments mirrors a MetricsAggregator's counters and histograms as
// Prometheus collectors, grounded in the teacher's examples/prometheus
// CircuitBreakerCollector but generalized to register plain metrics (rather
// than a custom Collector) against any policy's Registerer, labelled by
// name so one process can expose several breakers/limiters/bulkheads.
type promInstruments struct {
	started       prometheus.Counter
	completed     prometheus.Counter
	interrupted   prometheus.Counter
	rejected      prometheus.Counter
	latency       prometheus.Histogram
	inFlightGauge prometheus.Gauge
	queuedGauge   prometheus.Gauge
}

func newPromInstruments(reg prometheus.Registerer, name string) *promInstruments {
	labels := prometheus.Labels{"name": name}

	p := &promInstruments{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rezilience_tasks_started_total",
			Help:        "Total number of tasks that began executing.",
			ConstLabels: labels,
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rezilience_tasks_completed_total",
			Help:        "Total number of tasks that ran to completion.",
			ConstLabels: labels,
		}),
		interrupted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rezilience_tasks_interrupted_total",
			Help:        "Total number of tasks cancelled before or during execution.",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "rezilience_tasks_rejected_total",
			Help:        "Total number of tasks rejected by the policy without running.",
			ConstLabels: labels,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "rezilience_queue_latency_seconds",
			Help:        "Time spent waiting for admission before a task started.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		inFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rezilience_in_flight",
			Help:        "Current number of in-flight tasks.",
			ConstLabels: labels,
		}),
		queuedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rezilience_queued",
			Help:        "Current number of queued tasks.",
			ConstLabels: labels,
		}),
	}

	for _, c := range []prometheus.Collector{
		p.started, p.completed, p.interrupted, p.rejected, p.latency, p.inFlightGauge, p.queuedGauge,
	} {
		registerOrReuse(reg, c)
	}

	return p
}

// registerOrReuse tolerates re-registering the same collector twice (e.g. a
// test constructing two aggregators with the same name against the default
// registry), matching the teacher's examples which register once at
// startup and never expect duplicate registration to be fatal in tests.
func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			panic(err)
		}
	}
}

// Package metrics holds the Prometheus collectors shared by the delivery
// cache, the prefetch scheduler and the event recorder.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vitrine"

// Metrics is the set of collectors exported by the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	CacheRequests    *prometheus.CounterVec
	CacheFetches     *prometheus.CounterVec
	CacheFetchErrors *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	PrefetchPasses   prometheus.Counter
	PrefetchSkipped  *prometheus.CounterVec
	PrefetchInFlight prometheus.Gauge
	EventsRecorded   *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	InterestTopics   prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by outcome (hit, miss, stale).",
		}, []string{"outcome"}),
		CacheFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fetches_total",
			Help:      "Loader invocations by origin (user, revalidate, refresh, prefetch).",
		}, []string{"origin"}),
		CacheFetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fetch_errors_total",
			Help:      "Failed loader invocations by origin.",
		}, []string{"origin"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fetch_duration_seconds",
			Help:      "Loader latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"origin"}),
		PrefetchPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prefetch",
			Name:      "passes_total",
			Help:      "Scheduler passes run to completion.",
		}),
		PrefetchSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prefetch",
			Name:      "skipped_total",
			Help:      "Prefetch targets not started, by reason (warm, in_flight, deferred, unroutable).",
		}, []string{"reason"}),
		PrefetchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "prefetch",
			Name:      "in_flight",
			Help:      "Prefetches currently running.",
		}),
		EventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "events_total",
			Help:      "Behavior events accepted, by kind.",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "dropped_total",
			Help:      "Malformed behavior events discarded.",
		}),
		InterestTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "interest",
			Name:      "topics",
			Help:      "Topics currently tracked by the interest model.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CacheRequests, m.CacheFetches, m.CacheFetchErrors, m.FetchDuration,
			m.PrefetchPasses, m.PrefetchSkipped, m.PrefetchInFlight,
			m.EventsRecorded, m.EventsDropped, m.InterestTopics,
		)
	}
	return m
}

// Request counts a cache lookup outcome.
func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(outcome).Inc()
}

// Fetch records a finished loader call.
func (m *Metrics) Fetch(origin string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.CacheFetches.WithLabelValues(origin).Inc()
	m.FetchDuration.WithLabelValues(origin).Observe(seconds)
	if err != nil {
		m.CacheFetchErrors.WithLabelValues(origin).Inc()
	}
}

// Skip counts a prefetch target that was not started.
func (m *Metrics) Skip(reason string) {
	if m == nil {
		return
	}
	m.PrefetchSkipped.WithLabelValues(reason).Inc()
}

// Pass counts a scheduler pass once it has finished.
func (m *Metrics) Pass() {
	if m == nil {
		return
	}
	m.PrefetchPasses.Inc()
}

// InFlight adjusts the running-prefetch gauge.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.PrefetchInFlight.Add(delta)
}

// Event counts an accepted behavior event.
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(kind).Inc()
}

// Dropped counts a discarded behavior event.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// Topics sets the tracked-topics gauge.
func (m *Metrics) Topics(n int) {
	if m == nil {
		return
	}
	m.InterestTopics.Set(float64(n))
}

// Package metrics exposes Prometheus instrumentation for the coordination
// layer. All methods are safe on a nil receiver so components can run
// unmetered without guards at every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors of the coordination layer.
type Metrics struct {
	sessions        *prometheus.CounterVec
	storeOpDuration *prometheus.HistogramVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	eventsAppended  *prometheus.CounterVec
	breakerChanges  *prometheus.CounterVec
	wrapperOverhead prometheus.Histogram
}

// SessionStatus counts a session reaching the given status.
func (m *Metrics) SessionStatus(status string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(status).Inc()
}

// StoreOp records the latency and outcome of one storage operation.
func (m *Metrics) StoreOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.storeOpDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// CacheHit counts a read served from the local cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss counts a read that fell through to the store.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// EventAppended counts an event persisted to the given stream.
func (m *Metrics) EventAppended(stream string) {
	if m == nil {
		return
	}
	m.eventsAppended.WithLabelValues(stream).Inc()
}

// BreakerChange counts a circuit breaker state transition.
func (m *Metrics) BreakerChange(from, to string) {
	if m == nil {
		return
	}
	m.breakerChanges.WithLabelValues(from, to).Inc()
}

// WrapperOverhead records time spent in the transport wrapper outside the
// upstream handler.
func (m *Metrics) WrapperOverhead(d time.Duration) {
	if m == nil {
		return
	}
	m.wrapperOverhead.Observe(d.Seconds())
}

// New creates the collectors and registers them when registerer is non-nil.
func New(registerer prometheus.Registerer) *Metrics {
	ret := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpsession_sessions_total",
			Help: "Sessions observed reaching a lifecycle status.",
		}, []string{"status"}),
		storeOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcpsession_store_op_duration_seconds",
			Help:    "Storage operation latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"op", "outcome"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpsession_cache_hits_total",
			Help: "Session reads served from the local cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcpsession_cache_misses_total",
			Help: "Session reads that fell through to the store.",
		}),
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpsession_events_appended_total",
			Help: "Protocol events appended to session streams.",
		}, []string{"stream"}),
		breakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcpsession_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"from", "to"}),
		wrapperOverhead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcpsession_wrapper_overhead_seconds",
			Help:    "Transport wrapper processing overhead.",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02},
		}),
	}
	if registerer != nil {
		registerer.MustRegister(
			ret.sessions,
			ret.storeOpDuration,
			ret.cacheHits,
			ret.cacheMisses,
			ret.eventsAppended,
			ret.breakerChanges,
			ret.wrapperOverhead,
		)
	}
	return ret
}

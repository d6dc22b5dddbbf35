// Package telemetry holds the prometheus metrics and OpenTelemetry tracing
// setup shared by the engine, the connection manager and the REST client.
//
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hirechat"

// Metrics is the set of collectors the sync engine reports to.
type Metrics struct {
	registry *prometheus.Registry

	connState      prometheus.Gauge
	reconnects     prometheus.Counter
	invocations    *prometheus.CounterVec
	eventsReceived *prometheus.CounterVec
	eventsApplied  *prometheus.CounterVec
	cacheErrors    *prometheus.CounterVec
	intentDuration *prometheus.HistogramVec
	restRequests   *prometheus.CounterVec
	pagesLoaded    prometheus.Counter
}

// NewMetrics creates the collectors and registers them on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "state",
			Help:      "Connection state: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts made after an unexpected close.",
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "invocations_total",
			Help:      "Hub invocations by method and outcome.",
		}, []string{"method", "outcome"}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_received_total",
			Help:      "Server pushes received by event name.",
		}, []string{"event"}),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "events_applied_total",
			Help:      "Inbound events reconciled into the cache by kind.",
		}, []string{"kind"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Local cache failures by operation.",
		}, []string{"op"}),
		intentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "intent_duration_seconds",
			Help:      "Time to complete a user intent, remote round trips included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
		restRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rest",
			Name:      "requests_total",
			Help:      "REST requests by method and status code.",
		}, []string{"method", "code"}),
		pagesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "pages_loaded_total",
			Help:      "History pages fetched from the server.",
		}),
	}

	m.registry.MustRegister(
		m.connState, m.reconnects, m.invocations, m.eventsReceived,
		m.eventsApplied, m.cacheErrors, m.intentDuration, m.restRequests,
		m.pagesLoaded,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connState.Set(float64(state))
}

func (m *Metrics) ReconnectAttempt() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Invocation counts a hub call. outcome is "ok", "error" or "not_connected".
func (m *Metrics) Invocation(method, outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) EventApplied(kind string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveIntent(intent string, d time.Duration) {
	if m == nil {
		return
	}
	m.intentDuration.WithLabelValues(intent).Observe(d.Seconds())
}

func (m *Metrics) RESTRequest(method string, code int) {
	if m == nil {
		return
	}
	m.restRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) PageLoaded() {
	if m == nil {
		return
	}
	m.pagesLoaded.Inc()
}

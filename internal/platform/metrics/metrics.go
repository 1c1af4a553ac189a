package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters, gauges and histograms for the HLS engine
// hosts (the HTTP gateway and the native player).
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	sessionsCreatedTotal   prometheus.Counter
	sessionsDestroyedTotal prometheus.Counter
	activeSessions         prometheus.Gauge
	actionsTotal           *prometheus.CounterVec
	engineErrorsTotal      *prometheus.CounterVec
	outputsTotal           prometheus.Counter
	outputBytesTotal       prometheus.Counter
	fetchDuration          prometheus.Histogram
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	sessionsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_sessions_created_total",
		Help: "Total number of player sessions created",
	})
	sessionsDestroyedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_sessions_destroyed_total",
		Help: "Total number of player sessions destroyed",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_sessions",
		Help: "Number of live player sessions",
	})
	actionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_actions_dispatched_total",
		Help: "Total number of engine actions handed to a host, by type",
	}, []string{"type"})
	engineErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hls_engine_errors_total",
		Help: "Total number of errors returned by the engine, by kind",
	}, []string{"kind"})
	outputsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_outputs_delivered_total",
		Help: "Total number of fMP4 chunks delivered to consumers",
	})
	outputBytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_output_bytes_total",
		Help: "Total number of fMP4 bytes delivered to consumers",
	})
	fetchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hls_fetch_duration_seconds",
		Help:    "Duration of playlist and segment fetches performed by hosts",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		sessionsCreatedTotal,
		sessionsDestroyedTotal,
		activeSessions,
		actionsTotal,
		engineErrorsTotal,
		outputsTotal,
		outputBytesTotal,
		fetchDuration,
	)

	return &Metrics{
		registry:               registry,
		requestsTotal:          requestsTotal,
		errorsTotal:            errorsTotal,
		sessionsCreatedTotal:   sessionsCreatedTotal,
		sessionsDestroyedTotal: sessionsDestroyedTotal,
		activeSessions:         activeSessions,
		actionsTotal:           actionsTotal,
		engineErrorsTotal:      engineErrorsTotal,
		outputsTotal:           outputsTotal,
		outputBytesTotal:       outputBytesTotal,
		fetchDuration:          fetchDuration,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncSessionsCreated increments the sessions created counter.
func (m *Metrics) IncSessionsCreated() {
	m.sessionsCreatedTotal.Inc()
}

// IncSessionsDestroyed increments the sessions destroyed counter.
func (m *Metrics) IncSessionsDestroyed() {
	m.sessionsDestroyedTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// IncActions increments the dispatched actions counter for actionType.
func (m *Metrics) IncActions(actionType string) {
	m.actionsTotal.WithLabelValues(actionType).Inc()
}

// IncEngineErrors increments the engine errors counter for kind.
func (m *Metrics) IncEngineErrors(kind string) {
	m.engineErrorsTotal.WithLabelValues(kind).Inc()
}

// AddOutput records one delivered chunk of n bytes.
func (m *Metrics) AddOutput(n int) {
	m.outputsTotal.Inc()
	m.outputBytesTotal.Add(float64(n))
}

// ObserveFetch records the duration of one fetch.
func (m *Metrics) ObserveFetch(d time.Duration) {
	m.fetchDuration.Observe(d.Seconds())
}

// Registry returns the private registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

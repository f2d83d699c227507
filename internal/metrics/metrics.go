// Package metrics exposes Prometheus collectors for the progress relay.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reporting paths used as the "path" label on reported events.
const (
	PathLocal  = "local"
	PathRemote = "remote"
)

var (
	sessionsStartedTotal       prometheus.Counter
	sessionsEndedTotal         prometheus.Counter
	sessionActive              prometheus.Gauge
	teardownDurationSeconds    prometheus.Histogram
	eventsReportedTotal        *prometheus.CounterVec
	eventsDroppedTotal         *prometheus.CounterVec
	pickupForwardedTotal       prometheus.Counter
	pickupForwardFailuresTotal prometheus.Counter
	relayConnectionsTotal      prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "progressrelay_sessions_started_total",
			Help: "Total reporter sessions started.",
		})
		sessionsEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "progressrelay_sessions_ended_total",
			Help: "Total reporter sessions torn down.",
		})
		sessionActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "progressrelay_session_active",
			Help: "1 while a reporter session is live in this process.",
		})
		teardownDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "progressrelay_teardown_duration_seconds",
			Help:    "Time spent draining the pickup during teardown.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		})
		eventsReportedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "progressrelay_events_reported_total",
			Help: "Events accepted from producers, labeled by reporting path.",
		}, []string{"path"})
		eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "progressrelay_events_dropped_total",
			Help: "Events discarded before reaching the pickup, labeled by reason.",
		}, []string{"reason"})
		pickupForwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "progressrelay_pickup_events_forwarded_total",
			Help: "Events forwarded to the presentation.",
		})
		pickupForwardFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "progressrelay_pickup_forward_failures_total",
			Help: "Events the presentation failed to render.",
		})
		relayConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "progressrelay_relay_connections_total",
			Help: "Worker connections accepted by the relay.",
		})
		httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"})
		httpRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"})
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSessionStarted records a new session.
func ObserveSessionStarted() {
	Init()
	sessionsStartedTotal.Inc()
	sessionActive.Set(1)
}

// ObserveSessionEnded records a finished teardown and how long it waited.
func ObserveSessionEnded(wait time.Duration) {
	Init()
	sessionsEndedTotal.Inc()
	sessionActive.Set(0)
	teardownDurationSeconds.Observe(wait.Seconds())
}

// ObserveReported counts an event accepted on the given path.
func ObserveReported(path string) {
	Init()
	eventsReportedTotal.WithLabelValues(path).Inc()
}

// ObserveDropped counts an event discarded for reason.
func ObserveDropped(reason string) {
	Init()
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveForwarded counts one pickup delivery attempt.
func ObserveForwarded(ok bool) {
	Init()
	if ok {
		pickupForwardedTotal.Inc()
		return
	}
	pickupForwardFailuresTotal.Inc()
}

// ObserveRelayConnection counts an accepted worker connection.
func ObserveRelayConnection() {
	Init()
	relayConnectionsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

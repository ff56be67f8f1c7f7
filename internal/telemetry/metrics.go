// Package telemetry owns the Prometheus metrics of the server. The registry
// is constructed here and passed down through constructors; nothing reads the
// package-global default registry, and tests build their own instance.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the server records. All recorder methods
// are nil-safe so wiring stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	lockEvents     *prometheus.CounterVec
	storeReady     *prometheus.GaugeVec
	sessionsActive prometheus.Gauge
}

// New builds a fresh registry with all instruments registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bbmcp_http_requests_total",
			Help: "MCP endpoint requests by HTTP method and response status.",
		}, []string{"method", "status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bbmcp_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "ok"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bbmcp_tool_duration_seconds",
			Help:    "Tool invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		lockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bbmcp_lock_events_total",
			Help: "Project lock operations by event and outcome.",
		}, []string{"event", "outcome"}),
		storeReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bbmcp_store_ready",
			Help: "Persistence backend readiness, 1 ready / 0 not.",
		}, []string{"store"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bbmcp_sessions_active",
			Help: "Live MCP sessions.",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.toolCalls,
		m.toolDuration,
		m.lockEvents,
		m.storeReady,
		m.sessionsActive,
	)
	return m
}

// Registry exposes the underlying registry for exposition handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the text exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) RecordToolCall(tool string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, strconv.FormatBool(ok)).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordLockEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.lockEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) SetStoreReady(store string, ready bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ready {
		v = 1.0
	}
	m.storeReady.WithLabelValues(store).Set(v)
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Error kinds used as the "kind" label on ConnectionErrors.
const (
	KindProtocol     = "protocol"
	KindConnectivity = "connectivity"
	KindIO           = "io"
)

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectionsTotal    *prometheus.CounterVec
	ConnectionsActive   prometheus.Gauge
	ConnectionsRejected prometheus.Counter
	ConnectionErrors    *prometheus.CounterVec
	ForwardRequests     *prometheus.CounterVec
	BytesRelayed        *prometheus.CounterVec

	UpstreamDialDuration *prometheus.HistogramVec

	AdminRequestsTotal    *prometheus.CounterVec
	AdminRequestDuration  *prometheus.HistogramVec
	AdminRequestsInFlight prometheus.Gauge
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gloo_proxy_connections_total",
			Help: "Client connections that carried a request, by proxy mode.",
		}, []string{"mode"}),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gloo_proxy_connections_active",
			Help: "Client connections currently being handled.",
		}),

		ConnectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gloo_proxy_connections_rejected_total",
			Help: "Client connections closed on accept by the connection rate limiter.",
		}),

		ConnectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gloo_proxy_connection_errors_total",
			Help: "Client connections abandoned because of an error, by error kind.",
		}, []string{"kind"}),

		ForwardRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gloo_proxy_forward_requests_total",
			Help: "Requests forwarded to an origin in forward mode, by method.",
		}, []string{"method"}),

		BytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gloo_proxy_relayed_bytes_total",
			Help: "Bytes copied by relays, by direction.",
		}, []string{"direction"}),

		UpstreamDialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gloo_proxy_upstream_dial_duration_seconds",
			Help:    "Time spent opening origin connections, by result.",
			Buckets: defaultBuckets,
		}, []string{"result"}),

		AdminRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gloo_proxy_admin_http_requests_total",
			Help: "Total admin HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		AdminRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gloo_proxy_admin_http_request_duration_seconds",
			Help:    "Admin HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		AdminRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gloo_proxy_admin_http_requests_in_flight",
			Help: "Number of admin HTTP requests currently being processed.",
		}),
	}

	reg.MustRegister(
		m.ConnectionsTotal,
		m.ConnectionsActive,
		m.ConnectionsRejected,
		m.ConnectionErrors,
		m.ForwardRequests,
		m.BytesRelayed,
		m.UpstreamDialDuration,
		m.AdminRequestsTotal,
		m.AdminRequestDuration,
		m.AdminRequestsInFlight,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true, "TRACE": true, "CONNECT": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the fixed admin path label values (bounded cardinality).
var knownPrefixes = []string{"/healthz", "/proxy/status"}

// NormalizePath returns a bounded path label for Prometheus metrics.
// metricsPath is the configured scrape path; empty means metrics are not served.
func NormalizePath(path, metricsPath string) string {
	for _, prefix := range knownPrefixes {
		if matchesPrefix(path, prefix) {
			return prefix
		}
	}
	if metricsPath != "" && matchesPrefix(path, metricsPath) {
		return metricsPath
	}
	return "other"
}

func matchesPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsRegistry wraps a private Prometheus registry so gateway metrics
// never collide with global process-wide collectors.
type metricsRegistry struct {
	registry       *prometheus.Registry
	connections    prometheus.Gauge
	requestsTotal  prometheus.Counter
	failuresTotal  prometheus.Counter
	authFailures   prometheus.Counter
	handler        http.Handler
}

func newMetricsRegistry() *metricsRegistry {
	reg := prometheus.NewRegistry()
	m := &metricsRegistry{
		registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "active_connections",
			Help:      "Number of currently connected WebSocket clients.",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total requests forwarded to the daemon.",
		}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "request_failures_total",
			Help:      "Total requests that returned a daemon error.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "handshake_auth_failures_total",
			Help:      "Total WebSocket handshakes rejected for bad credentials.",
		}),
	}
	reg.MustRegister(m.connections, m.requestsTotal, m.failuresTotal, m.authFailures)
	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return m
}

func (m *metricsRegistry) incConnections() { m.connections.Inc() }
func (m *metricsRegistry) decConnections() { m.connections.Dec() }
func (m *metricsRegistry) incRequests()    { m.requestsTotal.Inc() }
func (m *metricsRegistry) incFailures()    { m.failuresTotal.Inc() }
func (m *metricsRegistry) incAuthFailure() { m.authFailures.Inc() }

func (m *metricsRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

package mcpserver

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the Prometheus collectors served at /metrics, grounded on
// the teacher's internal/observability.Metrics (one CounterVec per concern,
// incremented via WithLabelValues(...).Inc() at the call site). Unlike the
// teacher, which registers its metrics once against the process-wide
// default registerer via promauto, each Server here owns a private
// *prometheus.Registry — the teacher's own metrics_test.go uses the same
// private-registry pattern for isolation, which matters here because
// multiple Servers are constructed in the same test binary and a shared
// default registerer would panic on duplicate registration.
type metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	toolOutcomes *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookareq_mcp_requests_total",
				Help: "Total number of MCP HTTP requests by route and status code.",
			},
			[]string{"route", "status"},
		),
		toolOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookareq_mcp_tool_outcomes_total",
				Help: "Total number of MCP tool invocations by tool name and outcome.",
			},
			[]string{"tool_name", "outcome"},
		),
	}
	reg.MustRegister(m.requests, m.toolOutcomes)
	return m
}

// recordRequest increments the request counter for one completed HTTP
// request (spec.md §4.3's per-request log record, mirrored as a metric).
func (m *metrics) recordRequest(route string, status int) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// recordToolOutcome increments the tool-outcome counter for one completed
// POST /mcp dispatch (spec.md §4.3's per-call tool event record, mirrored
// as a metric).
func (m *metrics) recordToolOutcome(tool, outcome string) {
	m.toolOutcomes.WithLabelValues(tool, outcome).Inc()
}

// handler serves this Server's own metrics, not the process-wide default
// gatherer.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	RouteRequests      *prometheus.CounterVec
	RouteLatency       prometheus.Histogram
	ContextTurns       prometheus.Histogram
	MemoryDegradations *prometheus.CounterVec
	IndexInserts       *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions with recent activity.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		RouteRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_requests_total",
			Help:      "Route calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		RouteLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "route_latency_ms",
			Help:      "End-to-end route latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}),
		ContextTurns: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_turns",
			Help:      "Number of prior turns attached to each outgoing request.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		MemoryDegradations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_degradations_total",
			Help:      "Semantic retrieval fallbacks to recency-only context, by reason.",
		}, []string{"reason"}),
		IndexInserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_inserts_total",
			Help:      "Vector index insert attempts by outcome.",
		}, []string{"outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by backend and code.",
		}, []string{"backend", "code"}),
	}
}

func (m *Metrics) ObserveRouteLatency(d time.Duration) {
	m.RouteLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Provider metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderErrorsTotal     *prometheus.CounterVec
	TokensTotal             *prometheus.CounterVec
	CostUSDTotal            *prometheus.CounterVec

	// Tool metrics
	ToolExecutionsTotal      *prometheus.CounterVec
	ToolExecutionDuration    *prometheus.HistogramVec
	ToolExecutionErrorsTotal *prometheus.CounterVec
	ToolResultTruncations    *prometheus.CounterVec

	// Server metrics
	ServerRestartsTotal *prometheus.CounterVec
	ServersHealthy      prometheus.Gauge

	// Session metrics
	SessionsActive        prometheus.Gauge
	SessionsTotal         prometheus.Counter
	TranscriptTruncations prometheus.Counter
	ContextReductions     prometheus.Counter

	// Layer metrics
	LayerRunsTotal   *prometheus.CounterVec
	LayerRunDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Provider metrics
		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_requests_total",
				Help: "Total number of model provider requests",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_request_duration_seconds",
				Help:    "Duration of model provider requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model"},
		),
		ProviderErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_errors_total",
				Help: "Total number of model provider errors",
			},
			[]string{"provider", "error_kind"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokens_total",
				Help: "Total tokens consumed, by direction",
			},
			[]string{"provider", "model", "direction"},
		),
		CostUSDTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cost_usd_total",
				Help: "Total estimated spend in US dollars",
			},
			[]string{"provider", "model"},
		),

		// Tool metrics
		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_executions_total",
				Help: "Total number of tool executions",
			},
			[]string{"tool_name", "server", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool_name"},
		),
		ToolExecutionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_execution_errors_total",
				Help: "Total number of tool execution errors",
			},
			[]string{"tool_name", "error_type"},
		),
		ToolResultTruncations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_result_truncations_total",
				Help: "Total number of oversized tool results truncated or declined",
			},
			[]string{"tool_name", "action"},
		),

		// Server metrics
		ServerRestartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "server_restarts_total",
				Help: "Total number of tool server restarts",
			},
			[]string{"server"},
		),
		ServersHealthy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "servers_healthy",
				Help: "Number of tool servers currently healthy",
			},
		),

		// Session metrics
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of currently active sessions",
			},
		),
		SessionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_total",
				Help: "Total number of sessions created",
			},
		),
		TranscriptTruncations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "transcript_truncations_total",
				Help: "Total number of transcript truncation passes",
			},
		),
		ContextReductions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "context_reductions_total",
				Help: "Total number of context reductions",
			},
		),

		// Layer metrics
		LayerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "layer_runs_total",
				Help: "Total number of processing layer runs",
			},
			[]string{"layer", "status"},
		),
		LayerRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "layer_run_duration_seconds",
				Help:    "Duration of processing layer runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"layer"},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	// Provider metrics
	m.registry.MustRegister(m.ProviderRequestsTotal)
	m.registry.MustRegister(m.ProviderRequestDuration)
	m.registry.MustRegister(m.ProviderErrorsTotal)
	m.registry.MustRegister(m.TokensTotal)
	m.registry.MustRegister(m.CostUSDTotal)

	// Tool metrics
	m.registry.MustRegister(m.ToolExecutionsTotal)
	m.registry.MustRegister(m.ToolExecutionDuration)
	m.registry.MustRegister(m.ToolExecutionErrorsTotal)
	m.registry.MustRegister(m.ToolResultTruncations)

	// Server metrics
	m.registry.MustRegister(m.ServerRestartsTotal)
	m.registry.MustRegister(m.ServersHealthy)

	// Session metrics
	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsTotal)
	m.registry.MustRegister(m.TranscriptTruncations)
	m.registry.MustRegister(m.ContextReductions)

	// Layer metrics
	m.registry.MustRegister(m.LayerRunsTotal)
	m.registry.MustRegister(m.LayerRunDuration)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

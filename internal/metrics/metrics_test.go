package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("Registry is nil")
	}

	// Verify provider metrics
	if m.ProviderRequestsTotal == nil {
		t.Error("ProviderRequestsTotal is nil")
	}
	if m.ProviderRequestDuration == nil {
		t.Error("ProviderRequestDuration is nil")
	}
	if m.TokensTotal == nil {
		t.Error("TokensTotal is nil")
	}
	if m.CostUSDTotal == nil {
		t.Error("CostUSDTotal is nil")
	}

	// Verify tool metrics
	if m.ToolExecutionsTotal == nil {
		t.Error("ToolExecutionsTotal is nil")
	}
	if m.ToolResultTruncations == nil {
		t.Error("ToolResultTruncations is nil")
	}

	// Verify session metrics
	if m.SessionsActive == nil {
		t.Error("SessionsActive is nil")
	}
	if m.TranscriptTruncations == nil {
		t.Error("TranscriptTruncations is nil")
	}

	// Verify layer metrics
	if m.LayerRunsTotal == nil {
		t.Error("LayerRunsTotal is nil")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()

	// Record some sample metrics so they appear in output
	m.ProviderRequestsTotal.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "success").Inc()
	m.ProviderRequestDuration.WithLabelValues("anthropic", "claude-sonnet-4-20250514").Observe(1.2)
	m.TokensTotal.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "input").Add(512)
	m.CostUSDTotal.WithLabelValues("anthropic", "claude-sonnet-4-20250514").Add(0.0042)
	m.ToolExecutionsTotal.WithLabelValues("read_file", "filesystem", "success").Inc()
	m.ToolExecutionDuration.WithLabelValues("read_file").Observe(0.05)
	m.ToolResultTruncations.WithLabelValues("shell", "truncated").Inc()
	m.LayerRunsTotal.WithLabelValues("refine", "success").Inc()

	handler := m.Handler()
	if handler == nil {
		t.Fatal("Handler returned nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	// Verify metrics are exposed
	expectedMetrics := []string{
		"provider_requests_total",
		"provider_request_duration_seconds",
		"tokens_total",
		"cost_usd_total",
		"tool_executions_total",
		"tool_execution_duration_seconds",
		"tool_result_truncations_total",
		"sessions_active",
		"sessions_total",
		"transcript_truncations_total",
		"context_reductions_total",
		"layer_runs_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestMetricsIsolation(t *testing.T) {
	// Create two separate metrics instances
	m1 := NewMetrics()
	m2 := NewMetrics()

	m1.SessionsTotal.Inc()
	m1.SessionsTotal.Inc()
	m2.SessionsTotal.Inc()

	metricFamilies1, _ := m1.registry.Gather()
	for _, mf := range metricFamilies1 {
		if *mf.Name == "sessions_total" {
			if len(mf.Metric) > 0 && *mf.Metric[0].Counter.Value != 2 {
				t.Errorf("m1: Expected value 2, got %f", *mf.Metric[0].Counter.Value)
			}
		}
	}

	metricFamilies2, _ := m2.registry.Gather()
	for _, mf := range metricFamilies2 {
		if *mf.Name == "sessions_total" {
			if len(mf.Metric) > 0 && *mf.Metric[0].Counter.Value != 1 {
				t.Errorf("m2: Expected value 1, got %f", *mf.Metric[0].Counter.Value)
			}
		}
	}
}

func TestTokenAndCostAccumulation(t *testing.T) {
	m := NewMetrics()

	m.TokensTotal.WithLabelValues("openai", "gpt-4o", "input").Add(1000)
	m.TokensTotal.WithLabelValues("openai", "gpt-4o", "output").Add(250)
	m.CostUSDTotal.WithLabelValues("openai", "gpt-4o").Add(0.01)
	m.CostUSDTotal.WithLabelValues("openai", "gpt-4o").Add(0.02)

	metricFamilies, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	for _, mf := range metricFamilies {
		if *mf.Name == "cost_usd_total" {
			if len(mf.Metric) == 0 {
				t.Fatal("No cost metrics recorded")
			}
			got := *mf.Metric[0].Counter.Value
			if got < 0.029 || got > 0.031 {
				t.Errorf("Expected accumulated cost ~0.03, got %f", got)
			}
		}
	}
}

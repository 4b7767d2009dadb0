package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_Init(t *testing.T) {
	// Init should not panic when called multiple times.
	Init()
	Init()
}

func TestMetrics_Handler(t *testing.T) {
	Init()
	// Labeled vectors are only exposed once they have at least one child.
	ConnectErrorsTotal.WithLabelValues("socket")
	AuthFailuresTotal.WithLabelValues("md5")
	QueriesTotal.WithLabelValues("execute")
	QueryLatency.WithLabelValues("execute")

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	expected := []string{
		"pgclient_connects_total",
		"pgclient_connect_errors_total",
		"pgclient_auth_failures_total",
		"pgclient_queries_total",
		"pgclient_query_latency_seconds",
		"pgclient_notifications_received_total",
		"pgclient_notifications_dropped_total",
		"pgclient_statements_prepared_total",
		"pgclient_portals_opened_total",
	}
	for _, metric := range expected {
		if !strings.Contains(body, metric) {
			t.Errorf("expected metric %q not found in response", metric)
		}
	}
}

func TestMetrics_Increment(t *testing.T) {
	Init()

	ConnectsTotal.Inc()
	ConnectErrorsTotal.WithLabelValues("socket_error").Inc()
	AuthFailuresTotal.WithLabelValues("md5").Inc()
	QueriesTotal.WithLabelValues("execute").Inc()
	QueryLatency.WithLabelValues("execute").Observe(0.002)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `kind="execute"`) {
		t.Error("expected label kind=execute in output")
	}
}

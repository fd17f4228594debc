package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func TestPipelineMetricsTrackRuns(t *testing.T) {
	m := NewPipelineMetrics("test")
	m.RunStarted()
	m.RunStarted()
	m.RunFinished(domain.StatusComplete, time.Second)

	if got := testutil.ToFloat64(m.runsInFlight); got != 1 {
		t.Fatalf("expected 1 in-flight run, got %v", got)
	}
	if got := testutil.ToFloat64(m.runsTotal.WithLabelValues("test", "complete")); got != 1 {
		t.Fatalf("expected 1 complete run, got %v", got)
	}

	m.UploadRejected(domain.RejectUnsupportedType)
	m.RetryAttempted("nats.publish", 1, nil)
	m.BreakerStateChanged("nats.publish", "closed", "open")
	if got := testutil.ToFloat64(m.rejectedTotal.WithLabelValues("test", string(domain.RejectUnsupportedType))); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerChanges.WithLabelValues("test", "nats.publish", "open")); got != 1 {
		t.Fatalf("expected 1 breaker transition, got %v", got)
	}
}

func TestHTTPHandlerMergesPipelineRegistry(t *testing.T) {
	httpMetrics := NewHTTPServerMetrics("api")
	pipeline := NewPipelineMetrics("api")
	pipeline.StageObserved(domain.StageExtract, "success", 10*time.Millisecond)

	handler := httpMetrics.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/documents/abc/chunks", nil))

	rec := httptest.NewRecorder()
	httpMetrics.Handler(pipeline.Registry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`docpipe_http_requests_total{method="GET",path="/v1/documents/{document_id}/chunks",service="api",status="202"} 1`,
		`docpipe_pipeline_stage_duration_seconds_count{outcome="success",service="api",stage="EXTRACT"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output misses %q:\n%s", want, body)
		}
	}
}

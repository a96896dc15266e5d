// internal/monitoring/monitoring_test.go
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsManager_Record(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{Namespace: "test"})

	mm.RecordJobStart()
	mm.RecordJobStart()
	mm.RecordJobEnd("store", "SUCCESS", 3*time.Second)
	mm.RecordCandidates("store", 12)
	mm.RecordDuplicates("store", "exact", 2)
	mm.RecordDuplicates("store", "near", 0)
	mm.RecordRender("limit")
	mm.RecordFetch("shop.example.com", "ok", 100*time.Millisecond)

	if got := testutil.ToFloat64(mm.jobsActive); got != 1 {
		t.Errorf("jobs_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mm.jobsTotal.WithLabelValues("store", "SUCCESS")); got != 1 {
		t.Errorf("jobs_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(mm.candidates.WithLabelValues("store")); got != 12 {
		t.Errorf("candidates_total = %v, want 12", got)
	}
	if got := testutil.ToFloat64(mm.duplicatesRemoved.WithLabelValues("store", "exact")); got != 2 {
		t.Errorf("duplicates_removed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(mm.renderEscalation.WithLabelValues("limit")); got != 1 {
		t.Errorf("render_escalations_total = %v, want 1", got)
	}
}

func TestMetricsManager_NilSafe(t *testing.T) {
	var mm *MetricsManager
	mm.RecordJobStart()
	mm.RecordJobEnd("store", "FAILURE", time.Second)
	mm.RecordFetch("h", "error", time.Second)
	mm.RecordValidatorFallback("validate")
	mm.UpdateSystemMetrics()
}

func TestMetricsManager_Handler(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{})
	mm.RecordAccepted("community", 4)

	rec := httptest.NewRecorder()
	mm.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `reviewscrapexter_reviews_accepted_total{source="community"} 4`) {
		t.Errorf("metrics output missing accepted counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected go collector metrics")
	}
}

func TestHealthManager_Status(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		queued     int
		wantHealth HealthStatus
		wantReady  int
	}{
		{"all healthy", nil, 1, HealthStatusHealthy, http.StatusOK},
		{"queue nearly full", nil, 95, HealthStatusDegraded, http.StatusOK},
		{"store down", errors.New("connection refused"), 0, HealthStatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthManager(HealthConfig{DetailedResponse: true})
			hm.RegisterCheck(PingHealthCheck("job_store", true, func(ctx context.Context) error { return tt.storeErr }))
			hm.RegisterCheck(QueueHealthCheck(func() (int, int) { return tt.queued, 100 }))
			hm.RunChecks(context.Background())

			health := hm.GetHealth()
			if health.Status != tt.wantHealth {
				t.Errorf("health = %s, want %s", health.Status, tt.wantHealth)
			}
			if health.Summary.Total != 2 || health.Summary.Critical != 1 {
				t.Errorf("unexpected summary %+v", health.Summary)
			}

			rec := httptest.NewRecorder()
			hm.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tt.wantReady {
				t.Errorf("ready code = %d, want %d", rec.Code, tt.wantReady)
			}

			rec = httptest.NewRecorder()
			hm.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
			if rec.Code != http.StatusOK {
				t.Errorf("liveness should not depend on checks, got %d", rec.Code)
			}
		})
	}
}

func TestHealthManager_UncheckedIsDegraded(t *testing.T) {
	hm := NewHealthManager(HealthConfig{})
	hm.RegisterCheck(GoroutineHealthCheck(100000))

	if got := hm.GetHealth().Status; got != HealthStatusDegraded {
		t.Errorf("checks that never ran should report degraded, got %s", got)
	}

	hm.RunChecks(context.Background())
	rec := httptest.NewRecorder()
	hm.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var health SystemHealth
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != HealthStatusHealthy {
		t.Errorf("health = %s, want healthy", health.Status)
	}
}

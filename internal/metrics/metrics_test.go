package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecorderExposesExpectedMetrics(t *testing.T) {
	r := NewRecorder()
	r.RecordBuildStart()
	r.RecordBuildEnd("backend", "success", 1.5)
	r.RecordWatchEvent("backend")
	r.RecordLockContention("backend")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("metrics handler returned status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"poltergeist_build_duration_seconds",
		"poltergeist_build_outcomes_total",
		"poltergeist_active_builds",
		"poltergeist_watch_events_total",
		"poltergeist_lock_contention_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestTwoRecordersDoNotCollide(t *testing.T) {
	a := NewRecorder()
	b := NewRecorder()
	a.RecordBuildStart()
	b.RecordWatchEvent("x")
	// Registering both against independent registries must not panic.
	_ = a.Handler()
	_ = b.Handler()
}

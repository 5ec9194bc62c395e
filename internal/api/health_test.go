package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadinessReportsFailingDependency(t *testing.T) {
	h := NewHealthHandler("test", "v1").
		Register("postgres", func(context.Context) error { return nil }).
		Register("redis", func(context.Context) error { return errors.New("connection refused") }).
		Register("search", nil)

	rec := httptest.NewRecorder()
	h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{"postgres": "ok", "redis": "down", "search": "disabled"}
	for name, status := range want {
		if resp.Dependencies[name] != status {
			t.Errorf("%s: got %q, want %q", name, resp.Dependencies[name], status)
		}
	}
	if resp.Status != "error" || resp.Version != "v1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler("test", "v1").Liveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthCheckAllHealthy(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": fakePinger{},
		"redis":    fakePinger{},
	}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	deps := body["dependencies"].(map[string]any)
	if deps["postgres"] != "ok" || deps["redis"] != "ok" {
		t.Errorf("dependencies = %v", deps)
	}
}

func TestHealthCheckDegradedOnFailure(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"postgres": fakePinger{},
		"redis":    fakePinger{err: errors.New("connection refused")},
	}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["status"] != "degraded" {
		t.Errorf("status = %v", body["status"])
	}
	deps := body["dependencies"].(map[string]any)
	if deps["redis"] != "connection refused" {
		t.Errorf("redis = %v, want the failure text", deps["redis"])
	}
	if deps["postgres"] != "ok" {
		t.Errorf("postgres = %v, healthy deps must still report ok", deps["postgres"])
	}
}

func TestHealthCheckWithoutDependencies(t *testing.T) {
	h := NewHealthHandler(nil, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want liveness 200", rec.Code)
	}
}

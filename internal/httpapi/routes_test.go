package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthDegradedWithNoSessions(t *testing.T) {
	h, _, _ := newHarness(t, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body["status"] != "degraded" {
		t.Fatalf("expected degraded status with no sessions, got %v", body["status"])
	}
}

// TestHealthActiveConnectionsCountsAllSessions pins active_connections to
// the total attached session count (busy and idle alike), not just the
// busy subset.
func TestHealthActiveConnectionsCountsAllSessions(t *testing.T) {
	h, reg, _ := newHarness(t, time.Second)
	reg.Attach(silentSocket{})
	busy := reg.Attach(silentSocket{})
	if err := reg.MarkBusy(busy.ID, "req_1"); err != nil {
		t.Fatalf("MarkBusy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected healthy status, got %v", body["status"])
	}
	if active, ok := body["active_connections"].(float64); !ok || active != 2 {
		t.Fatalf("expected active_connections == total session count (2), got %v", body["active_connections"])
	}
	if idleCount, ok := body["idle_connections"].(float64); !ok || idleCount != 1 {
		t.Fatalf("expected idle_connections == 1, got %v", body["idle_connections"])
	}
}

package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type mockHealthProbe struct {
	name     string
	checkErr error
	delay    time.Duration
	panics   bool
}

func (m *mockHealthProbe) Name() string { return m.name }

func (m *mockHealthProbe) Check(ctx context.Context) error {
	if m.panics {
		panic("probe exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.checkErr
}

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec.Code, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := runHealth(t)
	if code != http.StatusOK || resp.Status != "healthy" {
		t.Errorf("expected healthy 200, got %d %q", code, resp.Status)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	code, resp := runHealth(t, &mockHealthProbe{name: "database"}, &mockHealthProbe{name: "redis"})

	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	for _, name := range []string{"database", "redis"} {
		if resp.Components[name].Status != "healthy" {
			t.Errorf("component %q: expected healthy, got %+v", name, resp.Components[name])
		}
	}
}

func TestHandleHealth_OneUnhealthy(t *testing.T) {
	code, resp := runHealth(t,
		&mockHealthProbe{name: "database"},
		&mockHealthProbe{name: "redis", checkErr: errors.New("connection refused")},
	)

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if resp.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %q", resp.Status)
	}
	if resp.Components["database"].Status != "healthy" {
		t.Errorf("database should stay healthy: %+v", resp.Components["database"])
	}
	if got := resp.Components["redis"]; got.Status != "unhealthy" || got.Message != "connection refused" {
		t.Errorf("unexpected redis component %+v", got)
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	code, resp := runHealth(t, &mockHealthProbe{name: "database", panics: true})

	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if resp.Components["database"].Status != "unhealthy" {
		t.Errorf("expected unhealthy database, got %+v", resp.Components["database"])
	}
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health deadline")
	}

	start := time.Now()
	code, resp := runHealth(t,
		&mockHealthProbe{name: "database"},
		&mockHealthProbe{name: "redis", delay: 10 * time.Second},
	)

	if elapsed := time.Since(start); elapsed > healthCheckTimeout+time.Second {
		t.Errorf("health check took %v", elapsed)
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if resp.Components["redis"].Status != "unhealthy" {
		t.Errorf("expected redis unhealthy, got %+v", resp.Components["redis"])
	}
}

func TestHandleHealth_ReportsVersion(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.Build.Version = "1.4.0"

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "1.4.0" {
		t.Errorf("expected version, got %q", resp.Version)
	}
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oculo-ai/oculo/pkg/realtime"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var res response
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()
	h := New(Probe{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if res := decodeBody(t, rec); res.Status != "ok" {
		t.Fatalf("body status = %q, want ok", res.Status)
	}
}

func TestReadyzAllPassing(t *testing.T) {
	t.Parallel()
	h := New(
		Probe{Name: "a", Check: func(context.Context) error { return nil }},
		Probe{Name: "b", Check: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	res := decodeBody(t, rec)
	if res.Status != "ok" || res.Checks["a"] != "ok" || res.Checks["b"] != "ok" {
		t.Fatalf("body = %+v", res)
	}
}

func TestReadyzFailingProbe(t *testing.T) {
	t.Parallel()
	h := New(
		Probe{Name: "good", Check: func(context.Context) error { return nil }},
		Probe{Name: "bad", Check: func(context.Context) error { return errors.New("no peer") }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	res := decodeBody(t, rec)
	if res.Status != "fail" {
		t.Fatalf("body status = %q, want fail", res.Status)
	}
	if res.Checks["good"] != "ok" || !strings.HasPrefix(res.Checks["bad"], "fail: ") {
		t.Fatalf("checks = %v", res.Checks)
	}
}

func TestConnectionProbe(t *testing.T) {
	t.Parallel()
	state := realtime.StateConnected
	p := ConnectionProbe(func() realtime.State { return state })

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("connected: %v", err)
	}

	state = realtime.StateReconnecting
	err := p.Check(context.Background())
	if err == nil || !strings.Contains(err.Error(), "reconnecting") {
		t.Fatalf("reconnecting err = %v, want state in message", err)
	}

	state = realtime.StateFailed
	if p.Check(context.Background()) == nil {
		t.Fatal("failed state passed readiness")
	}
}

func TestPipelineProbe(t *testing.T) {
	t.Parallel()
	state := "ready"
	p := PipelineProbe(func() string { return state }, "error")

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	state = "error"
	if p.Check(context.Background()) == nil {
		t.Fatal("error state passed readiness")
	}
}

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)

	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

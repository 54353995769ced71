// Package health provides the HTTP liveness and readiness probes.
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; 200 only while the voice connection is usable
//     and every other registered probe passes.
//
// Responses are JSON: a top-level "status" ("ok" or "fail") plus a "checks"
// map with one entry per probe.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oculo-ai/oculo/pkg/realtime"
)

// probeTimeout bounds a single readiness probe.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Check returns nil while the dependency
// is usable.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ConnectionProbe reports ready while the voice connection is established.
// Transient states (connecting, reconnecting) fail readiness but describe
// themselves, so a rollout can tell a reconnect from a dead peer.
func ConnectionProbe(state func() realtime.State) Probe {
	return Probe{
		Name: "connection",
		Check: func(context.Context) error {
			s := state()
			if s == realtime.StateConnected {
				return nil
			}
			return fmt.Errorf("connection %s", s)
		},
	}
}

// PipelineProbe reports ready unless the pipeline has entered its terminal
// error state. stateName returns the current pipeline state as a string.
func PipelineProbe(stateName func() string, errState string) Probe {
	return Probe{
		Name: "pipeline",
		Check: func(context.Context) error {
			if s := stateName(); s == errState {
				return errors.New("pipeline failed")
			}
			return nil
		},
	}
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The probe set is fixed at construction.
type Handler struct {
	probes []Probe
}

// New creates a Handler evaluating the given probes on each /readyz request.
func New(probes ...Probe) *Handler {
	return &Handler{probes: append([]Probe(nil), probes...)}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz returns 200 only when every probe passes. Probes run sequentially,
// each with its own deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.probes))
	ready := true

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()

		if err != nil {
			checks[p.Name] = "fail: " + err.Error()
			ready = false
			continue
		}
		checks[p.Name] = "ok"
	}

	res := response{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ready {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

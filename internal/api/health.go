package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency. A nil error means it is usable.
type Check func(ctx context.Context) error

// HealthHandler reports liveness and dependency readiness. Backends that
// are not configured are listed as disabled and never fail readiness.
type HealthHandler struct {
	checks   map[string]Check
	disabled []string
	env      string
	version  string
	timeout  time.Duration
}

func NewHealthHandler(env, version string) *HealthHandler {
	return &HealthHandler{
		checks:  make(map[string]Check),
		env:     env,
		version: version,
		timeout: time.Second,
	}
}

// Register adds a named check. A nil check marks the dependency disabled.
func (h *HealthHandler) Register(name string, check Check) *HealthHandler {
	if check == nil {
		h.disabled = append(h.disabled, name)
		return h
	}
	h.checks[name] = check
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "ok", Version: h.version, Env: h.env})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	deps := make(map[string]string, len(names)+len(h.disabled))
	status := "ok"
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			deps[name] = "down"
			status = "error"
			continue
		}
		deps[name] = "ok"
	}
	for _, name := range h.disabled {
		deps[name] = "disabled"
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}

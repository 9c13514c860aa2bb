// Package health exposes the engine's component health over HTTP
// (§4.16), grounded on the donor's chi-based JSON handler conventions.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Status is a single component's health verdict.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentStatus is one entry in the detailed health report.
type ComponentStatus struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker reports a single component's current health. Implementations
// must be safe to call concurrently and should not block.
type Checker interface {
	Check(ctx context.Context) ComponentStatus
}

// CheckerFunc adapts a plain function to the Checker interface.
type CheckerFunc func(ctx context.Context) ComponentStatus

func (f CheckerFunc) Check(ctx context.Context) ComponentStatus { return f(ctx) }

// Registry aggregates named component checkers behind the /healthz
// surface. Safe for concurrent use: Register takes the write lock,
// CheckAll and the HTTP handlers take the read lock.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewRegistry returns an empty health Registry.
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a named component checker. A later Register with the
// same name replaces the earlier one.
func (r *Registry) Register(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// CheckAll runs every registered checker and returns its report.
func (r *Registry) CheckAll(ctx context.Context) []ComponentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ComponentStatus, 0, len(r.checkers))
	for name, c := range r.checkers {
		status := c.Check(ctx)
		if status.Name == "" {
			status.Name = name
		}
		out = append(out, status)
	}
	return out
}

// Overall reduces a set of ComponentStatus into one overall verdict: any
// unhealthy component makes the whole engine unhealthy; any degraded
// component (with no unhealthy ones) makes it degraded.
func Overall(components []ComponentStatus) Status {
	overall := StatusOK
	for _, c := range components {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// Router mounts GET /healthz (overall) and GET /healthz/components
// (detail) onto a chi router.
func (r *Registry) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/healthz", r.handleOverall)
	mux.Get("/healthz/components", r.handleComponents)
	return mux
}

func (r *Registry) handleOverall(w http.ResponseWriter, req *http.Request) {
	components := r.CheckAll(req.Context())
	overall := Overall(components)

	status := http.StatusOK
	if overall == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": string(overall)})
}

func (r *Registry) handleComponents(w http.ResponseWriter, req *http.Request) {
	components := r.CheckAll(req.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     string(Overall(components)),
		"components": components,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write health response", "error", err)
	}
}

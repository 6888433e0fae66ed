package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks  map[string]Check
	version string
	timeout time.Duration
}

func NewHealthHandler(version string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks, version: version, timeout: 5 * time.Second}
}

type ServiceStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version"`
}

// Health runs every check concurrently. Any failing check marks the overall
// status degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu       sync.Mutex
		services = make(map[string]ServiceStatus, len(names))
		g        errgroup.Group
	)
	for _, name := range names {
		check := h.checks[name]
		g.Go(func() error {
			st := ServiceStatus{Status: "healthy"}
			if err := check(ctx); err != nil {
				st = ServiceStatus{Status: "unhealthy", Error: err.Error()}
			}
			mu.Lock()
			services[name] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC(), Services: services, Version: h.version}
	for _, st := range services {
		if st.Status != "healthy" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

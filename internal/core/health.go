package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the whole /health request.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency (database, redis).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently under a 2s deadline. It returns
// 200 when all succeed and 503 when any fails, panics or misses the deadline.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	type result struct {
		name string
		err  error
	}
	// Buffered so late probes never block after the handler returns.
	results := make(chan result, len(probes))
	for _, p := range probes {
		go func(p HealthProbe) {
			var err error
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("probe panicked: %v", rec)
				}
				results <- result{name: p.Name(), err: err}
			}()
			err = p.Check(ctx)
		}(p)
	}

	resp.Components = make(map[string]componentStatus, len(probes))
	for _, p := range probes {
		resp.Components[p.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
	}

	healthy := true
	for range probes {
		select {
		case res := <-results:
			if res.err != nil {
				healthy = false
				resp.Components[res.name] = componentStatus{Status: "unhealthy", Message: res.err.Error()}
				continue
			}
			resp.Components[res.name] = componentStatus{Status: "healthy"}
		case <-ctx.Done():
			healthy = false
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Anything still pending keeps its timed-out entry.
	for _, c := range resp.Components {
		if c.Status != "healthy" {
			healthy = false
		}
	}

	if !healthy {
		resp.Status = "unhealthy"
		JSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	JSON(w, r, http.StatusOK, resp)
}

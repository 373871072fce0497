// Package core is the HTTP chassis of the subscription API. It owns the chi
// router, the cross-cutting middleware (panic recovery, request ids,
// logging, CORS, metrics), the JSON/error response helpers and the health
// endpoint. Domain handlers attach themselves through RouteRegistrars so
// that core never imports them.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"guied/internal/config"
)

// MetricsCollector records per-request telemetry.
type MetricsCollector interface {
	// RecordRequest is called once per request with the matched route
	// pattern, never the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of handlers on the root router.
type RouteRegistrar func(r chi.Router)

// ShutdownHook releases a resource owned by the process (pool, cache
// client, metrics flusher).
type ShutdownHook func(ctx context.Context) error

// Server bundles the router with the dependencies the middleware needs.
type Server struct {
	Config          *config.Config
	Logger          *slog.Logger
	Validator       *Validator
	Metrics         MetricsCollector
	HealthProbes    []HealthProbe
	RouteRegistrars []RouteRegistrar

	router *chi.Mux
	hooks  []ShutdownHook
}

// NewServer builds a Server. Routes are not mounted until MountRoutes so
// callers can set Metrics, HealthProbes and RouteRegistrars first.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a hook run by Shutdown in reverse registration order.
func (s *Server) OnShutdown(hook ShutdownHook) {
	s.hooks = append(s.hooks, hook)
}

// Shutdown runs every registered hook, even when an earlier one fails, and
// returns the joined errors.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for i := len(s.hooks) - 1; i >= 0; i-- {
		if err := s.hooks[i](ctx); err != nil {
			s.Logger.ErrorContext(ctx, "shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}

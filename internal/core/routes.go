package core

import (
	"time"
)

// defaultRequestTimeout applies when the config leaves REQUEST_TIMEOUT unset.
const defaultRequestTimeout = 29 * time.Second

// defaultRedactedHeaders are masked in request logs. X-Signature carries the
// webhook HMAC.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Signature",
}

// MountRoutes installs the middleware chain, the health endpoint and every
// registered route group. Order:
//
//  1. Recoverer       outermost, so panics anywhere become a JSON 500
//  2. ContextTimeout  soft deadline for downstream calls
//  3. RequestID       correlation id in context and response header
//  4. SecurityHeaders
//  5. RequestLogger
//  6. CORS            answers preflight before any handler runs
//  7. Metrics
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)

	s.router.Get("/health", s.HandleHealth)

	for _, register := range s.RouteRegistrars {
		register(s.router)
	}
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Server.CorsAllowedOrigins) > 0 {
		return s.Config.Server.CorsAllowedOrigins
	}
	return []string{"*"}
}

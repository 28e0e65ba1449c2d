// Package core provides the HTTP chassis for emobridge. It builds a chi
// router, enforces the cross-cutting concerns (panic recovery, request IDs,
// logging, metrics, compression, intake auth) and leaves the actual routes to
// registrars supplied by cmd/api.
package core

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"emobridge/internal/config"
)

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest records latency and count for one request. endpoint is the
	// route pattern, not the raw path.
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// RouteRegistrar mounts a group of handlers on a router.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the HTTP surface.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator // nil disables intake authentication.
	HealthProbes  []HealthProbe

	// RootRouteRegistrars are mounted outside /v1. The unit's poll endpoint
	// lives here so its path never changes.
	RootRouteRegistrars []RouteRegistrar

	// V1RouteRegistrars are mounted under /v1 behind the intake auth check.
	V1RouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately via MountRoutes
// so tests can customize registration first.
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

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// HTTPServer wraps the router in an *http.Server configured from
// ServerConfig.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.Config.Server.Port,
		Handler:           s.router,
		ReadTimeout:       s.Config.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.Config.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
}

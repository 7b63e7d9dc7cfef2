// Package api exposes the HTTP surface: POST /v1/query (JSON and SSE),
// health, stats, and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/metrics"
	"github.com/maestroproj/maestro/pkg/orchestrator"
	"github.com/maestroproj/maestro/pkg/registry"
)

// Server is the HTTP front end. It owns no business logic; every request
// is delegated to the orchestrator.
type Server struct {
	settings *config.Settings
	orch     *orchestrator.Orchestrator
	agents   *registry.Registry
	metrics  *metrics.Metrics

	// reasoningAvailable feeds the health report's provider field.
	reasoningAvailable bool

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer builds the router and wires the handlers.
func NewServer(settings *config.Settings, orch *orchestrator.Orchestrator, agents *registry.Registry,
	m *metrics.Metrics, reasoningAvailable bool) *Server {

	s := &Server{
		settings:           settings,
		orch:               orch,
		agents:             agents,
		metrics:            m,
		reasoningAvailable: reasoningAvailable,
	}

	e := echo.New()
	e.Use(securityHeaders())

	e.POST("/v1/query", s.queryHandler, s.requireAuth)
	e.GET("/health", s.healthHandler)
	e.GET("/stats", s.statsHandler, s.requireAuth)
	e.GET("/metrics", s.metricsHandler)

	s.echo = e
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// metricsHandler serves the Prometheus exposition, refreshing the
// per-agent circuit gauges on every scrape.
func (s *Server) metricsHandler(c *echo.Context) error {
	for name, status := range s.agents.Health() {
		s.metrics.SetCircuitState(name, status.CircuitState)
	}
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/pscheid92/fanout/internal/platform/errors"
	"github.com/pscheid92/fanout/internal/platform/version"
)

const (
	startupCheckTimeout   = 2 * time.Second
	readinessCheckTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe, e.g. a Redis or Postgres ping.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type livenessResponse struct {
	Status    string   `json:"status"`
	Uptime    float64  `json:"uptime"`
	Transport string   `json:"transport"`
	Endpoints []string `json:"endpoints"`
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// handleStartup additionally fails while no broadcast endpoint is wired, so
// an instance that cannot fan out never receives traffic.
func (s *Server) handleStartup(c echo.Context) error {
	if len(s.configuredEndpoints()) == 0 {
		return apperrors.UnavailableError("no broadcast endpoint configured", nil)
	}
	return s.checkDependencies(c, startupCheckTimeout)
}

// handleLiveness never touches dependencies.
func (s *Server) handleLiveness(c echo.Context) error {
	resp := livenessResponse{
		Status:    "ok",
		Uptime:    time.Since(s.startTime).Seconds(),
		Transport: s.config.Transport,
		Endpoints: s.configuredEndpoints(),
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	return s.checkDependencies(c, readinessCheckTimeout)
}

// checkDependencies runs every health check concurrently under one timeout
// and reports each outcome. The first failing check in registration order is
// named in failed_check.
func (s *Server) checkDependencies(c echo.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	failures := make([]error, len(s.healthChecks))
	var g errgroup.Group
	for i, hc := range s.healthChecks {
		g.Go(func() error {
			failures[i] = hc.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]string, len(s.healthChecks))
	var firstFailure *apperrors.Error
	for i, hc := range s.healthChecks {
		if failures[i] == nil {
			checks[hc.Name] = "ok"
			continue
		}
		checks[hc.Name] = failures[i].Error()
		if firstFailure == nil {
			firstFailure = apperrors.UnavailableError("dependency check failed", failures[i]).
				WithField("failed_check", hc.Name)
		}
	}
	if firstFailure != nil {
		return firstFailure.WithField("checks", checks)
	}

	if err := c.JSON(http.StatusOK, readinessResponse{Status: "ready", Checks: checks}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// configuredEndpoints lists the wired broadcast endpoints in fan-out order.
func (s *Server) configuredEndpoints() []string {
	endpoints := make([]string, 0, len(s.broadcasters))
	for _, name := range endpointOrder {
		if _, ok := s.broadcasters[name]; ok {
			endpoints = append(endpoints, name)
		}
	}
	return endpoints
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}

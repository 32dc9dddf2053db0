package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/fanout/internal/app"
	"github.com/pscheid92/fanout/internal/broadcast"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/config"
)

// Broadcast endpoints selectable in a broadcast request.
const (
	EndpointLocal   = domain.EndpointLocal
	EndpointGateway = domain.EndpointGateway
)

// endpointOrder is the order a broadcast without an explicit endpoint walks
// the configured endpoints.
var endpointOrder = []string{EndpointLocal, EndpointGateway}

type connectionService interface {
	Connect(ctx context.Context, req app.ConnectRequest) (*domain.ConnectionRecord, error)
	Disconnect(ctx context.Context, key domain.ConnectionKey) error
	DisconnectID(ctx context.Context, connectionID string) (int, error)
	Lookup(ctx context.Context, key domain.ConnectionKey) (*domain.ConnectionRecord, error)
	Count(ctx context.Context) (int, error)
}

type broadcaster interface {
	Broadcast(ctx context.Context, req broadcast.Request) (broadcast.Result, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	connections  connectionService
	broadcasters map[string]broadcaster

	websocketHandler http.Handler

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the HTTP surface. connections is the gateway directory the
// /connections routes register into; when nil those routes are not mounted.
// broadcasters is keyed by endpoint name (EndpointLocal, EndpointGateway);
// websocketHandler may be nil.
func NewServer(cfg *config.Config, connections connectionService, broadcasters map[string]broadcaster, websocketHandler http.Handler, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		connections:      connections,
		broadcasters:     broadcasters,
		websocketHandler: websocketHandler,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Broadcasters builds the endpoint map for NewServer. Either may be nil.
func Broadcasters(local, gateway *broadcast.Broadcaster) map[string]broadcaster {
	m := make(map[string]broadcaster, 2)
	if local != nil {
		m[EndpointLocal] = local
	}
	if gateway != nil {
		m[EndpointGateway] = gateway
	}
	return m
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) websocketPath() string {
	if s.config.Transport == config.TransportCentrifuge {
		return "/connection/websocket"
	}
	return "/ws"
}

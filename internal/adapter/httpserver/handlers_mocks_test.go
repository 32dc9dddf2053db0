package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/fanout/internal/app"
	"github.com/pscheid92/fanout/internal/broadcast"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/config"
)

// --- Mock implementations ---

type mockConnectionService struct {
	connectFn    func(ctx context.Context, req app.ConnectRequest) (*domain.ConnectionRecord, error)
	disconnectFn func(ctx context.Context, key domain.ConnectionKey) error
	disconnectID func(ctx context.Context, connectionID string) (int, error)
	lookupFn     func(ctx context.Context, key domain.ConnectionKey) (*domain.ConnectionRecord, error)
	countFn      func(ctx context.Context) (int, error)
}

func (m *mockConnectionService) Connect(ctx context.Context, req app.ConnectRequest) (*domain.ConnectionRecord, error) {
	if m.connectFn != nil {
		return m.connectFn(ctx, req)
	}
	return &domain.ConnectionRecord{ConnectionID: req.ConnectionID}, nil
}

func (m *mockConnectionService) Disconnect(ctx context.Context, key domain.ConnectionKey) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, key)
	}
	return nil
}

func (m *mockConnectionService) DisconnectID(ctx context.Context, connectionID string) (int, error) {
	if m.disconnectID != nil {
		return m.disconnectID(ctx, connectionID)
	}
	return 0, nil
}

func (m *mockConnectionService) Lookup(ctx context.Context, key domain.ConnectionKey) (*domain.ConnectionRecord, error) {
	if m.lookupFn != nil {
		return m.lookupFn(ctx, key)
	}
	return nil, domain.ErrConnectionNotFound
}

func (m *mockConnectionService) Count(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

type mockBroadcaster struct {
	broadcastFn func(ctx context.Context, req broadcast.Request) (broadcast.Result, error)
	requests    []broadcast.Request
}

func (m *mockBroadcaster) Broadcast(ctx context.Context, req broadcast.Request) (broadcast.Result, error) {
	m.requests = append(m.requests, req)
	if m.broadcastFn != nil {
		return m.broadcastFn(ctx, req)
	}
	return broadcast.Result{}, nil
}

// --- Test helpers ---

func newTestServer(t *testing.T, connections connectionService, opts ...func(*Server)) *Server {
	t.Helper()

	srv := &Server{
		echo: echo.New(),
		config: &config.Config{
			Port:               "8080",
			Transport:          config.TransportWebSocket,
			BroadcastRateLimit: 1000,
			BroadcastRateBurst: 1000,
		},
		connections:  connections,
		broadcasters: map[string]broadcaster{EndpointLocal: &mockBroadcaster{}},
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withBroadcaster(endpoint string, b broadcaster) func(*Server) {
	return func(s *Server) {
		s.broadcasters[endpoint] = b
	}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withConfig(mutate func(cfg *config.Config)) func(*Server) {
	return func(s *Server) {
		mutate(s.config)
	}
}

func withWebsocketHandler(h http.Handler) func(*Server) {
	return func(s *Server) {
		s.websocketHandler = h
	}
}

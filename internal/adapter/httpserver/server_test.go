package httpserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/fanout/internal/adapter/memory"
	"github.com/pscheid92/fanout/internal/app"
	"github.com/pscheid92/fanout/internal/broadcast"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/platform/config"
)

type recordingSender struct {
	mu    sync.Mutex
	calls [][2]string
}

func (s *recordingSender) Deliver(_ context.Context, connectionID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, [2]string{connectionID, string(payload)})
	return nil
}

type staticLogin struct {
	admin, app, password string
}

func (l staticLogin) CheckLogin(_ context.Context, tenantKey, appName, password string) (bool, error) {
	return tenantKey == l.admin && appName == l.app && password == l.password, nil
}

type goneSender struct{}

func (goneSender) Deliver(_ context.Context, connectionID string, _ []byte) error {
	return domain.GoneError(connectionID, errors.New("no such socket"))
}

func TestServer_ConnectBroadcastDisconnect(t *testing.T) {
	store := memory.NewConnectionStore()
	sender := &recordingSender{}
	cfg := &config.Config{Port: "8080", Transport: config.TransportWebSocket, BroadcastRateLimit: 100, BroadcastRateBurst: 100}

	gateway := broadcast.NewBroadcaster(store, sender, clockwork.NewRealClock(), broadcast.Config{Transport: EndpointGateway, DeliveryTimeout: time.Second})
	srv := NewServer(cfg, app.NewLifecycle(store, nil), Broadcasters(nil, gateway), nil, nil)

	rec := serve(srv, http.MethodPost, "/connections/conn-1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postBroadcast(srv, `{"data":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Data sent.","recipients":1,"pruned":0}`, rec.Body.String())
	assert.Equal(t, [][2]string{{"conn-1", "hello"}}, sender.calls)

	rec = serve(srv, http.MethodDelete, "/connections/conn-1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(srv, http.MethodDelete, "/connections/conn-1")
	assert.Equal(t, http.StatusOK, rec.Code, "disconnect is idempotent")

	_, found, err := store.Get(context.Background(), domain.ConnectionKey{ID: "conn-1"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestServer_LocalBroadcastNeverTouchesGatewayRecords(t *testing.T) {
	clock := clockwork.NewRealClock()
	localStore := memory.NewConnectionStore()
	gatewayStore := memory.NewConnectionStore()
	sender := &recordingSender{}
	cfg := &config.Config{Port: "8080", Transport: config.TransportWebSocket, BroadcastRateLimit: 100, BroadcastRateBurst: 100}

	local := broadcast.NewBroadcaster(localStore, goneSender{}, clock, broadcast.Config{Transport: EndpointLocal, DeliveryTimeout: time.Second})
	gateway := broadcast.NewBroadcaster(gatewayStore, sender, clock, broadcast.Config{Transport: EndpointGateway, DeliveryTimeout: time.Second})
	srv := NewServer(cfg, app.NewLifecycle(gatewayStore, nil), Broadcasters(local, gateway), nil, nil)

	require.Equal(t, http.StatusOK, serve(srv, http.MethodPost, "/connections/conn-1").Code)

	rec := postBroadcast(srv, `{"data":"hello","endpoint":"local"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Data sent.","recipients":0,"pruned":0}`, rec.Body.String())

	rec = postBroadcast(srv, `{"data":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Data sent.","recipients":1,"pruned":0}`, rec.Body.String())
	assert.Equal(t, [][2]string{{"conn-1", "hello"}}, sender.calls)

	_, found, err := gatewayStore.Get(context.Background(), domain.ConnectionKey{ID: "conn-1"})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestServer_DisconnectWithoutAdminRemovesTenantRecord(t *testing.T) {
	store := memory.NewConnectionStore()
	cfg := &config.Config{Port: "8080", Transport: config.TransportWebSocket, BroadcastRateLimit: 100, BroadcastRateBurst: 100}
	logins := staticLogin{admin: "acme", app: "pickban", password: "pb"}
	srv := NewServer(cfg, app.NewLifecycle(store, logins), map[string]broadcaster{EndpointGateway: &mockBroadcaster{}}, nil, nil)

	rec := serve(srv, http.MethodPost, "/connections/conn-1?admin=acme&appname=pickban&password=pb")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(srv, http.MethodDelete, "/connections/conn-1")
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "tenant record removed by ID alone")

	rec = serve(srv, http.MethodDelete, "/connections/conn-1")
	assert.Equal(t, http.StatusOK, rec.Code, "unknown ID is still a successful disconnect")
}

func TestServer_ConnectionRoutesNeedDirectory(t *testing.T) {
	cfg := &config.Config{Port: "8080", Transport: config.TransportWebSocket, BroadcastRateLimit: 100, BroadcastRateBurst: 100}
	srv := NewServer(cfg, nil, map[string]broadcaster{EndpointLocal: &mockBroadcaster{}}, nil, nil)

	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodPost, "/connections/conn-1").Code)
	assert.Equal(t, http.StatusOK, postBroadcast(srv, `{"data":"hello"}`).Code)
}

func TestServer_WebsocketRouteFollowsTransport(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := newTestServer(t, &mockConnectionService{}, withWebsocketHandler(handler))
	assert.Equal(t, http.StatusTeapot, serve(srv, http.MethodGet, "/ws").Code)

	srv = newTestServer(t, &mockConnectionService{},
		withWebsocketHandler(handler),
		withConfig(func(cfg *config.Config) { cfg.Transport = config.TransportCentrifuge }),
	)
	assert.Equal(t, http.StatusTeapot, serve(srv, http.MethodGet, "/connection/websocket").Code)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/ws").Code)
}

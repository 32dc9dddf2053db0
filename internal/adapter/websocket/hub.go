package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/fanout/internal/app"
	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/metrics"
	"github.com/pscheid92/fanout/internal/platform/correlation"
)

const (
	lifecycleTimeout = 5 * time.Second
	maxMessageSize   = 4096
)

var errUnknownConnection = errors.New("no open websocket with this id")

// Lifecycle is the part of app.Lifecycle the hub drives.
type Lifecycle interface {
	Connect(ctx context.Context, req app.ConnectRequest) (*domain.ConnectionRecord, error)
	Disconnect(ctx context.Context, key domain.ConnectionKey) error
}

type hubClient struct {
	key    domain.ConnectionKey
	writer *clientWriter
}

// Hub is the process-local WebSocket transport. It upgrades requests,
// registers each socket through the lifecycle and delivers payloads to
// sockets by connection ID.
type Hub struct {
	lifecycle Lifecycle
	limits    *ConnectionLimits
	clock     clockwork.Clock
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*hubClient
	closed  bool
}

var _ domain.Sender = (*Hub)(nil)

func NewHub(lifecycle Lifecycle, limits *ConnectionLimits, checkOrigin func(*http.Request) bool, clock clockwork.Clock) *Hub {
	return &Hub{
		lifecycle: lifecycle,
		limits:    limits,
		clock:     clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*hubClient),
	}
}

// Deliver writes payload to the socket registered under connectionID.
func (h *Hub) Deliver(ctx context.Context, connectionID string, payload []byte) error {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return domain.GoneError(connectionID, errUnknownConnection)
	}

	err := client.writer.send(ctx, payload)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errConnectionClosed):
		return domain.GoneError(connectionID, err)
	default:
		return domain.OtherError(connectionID, err)
	}
}

// Count returns the number of sockets open on this instance.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the socket until the peer leaves.
// Tenant credentials are taken from the admin, appname and password query
// parameters.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if ok, reason := h.limits.Acquire(ip); !ok {
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		slog.WarnContext(r.Context(), "WebSocket connection rejected", "reason", reason, "remote_ip", ip)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer h.limits.Release(ip)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		slog.DebugContext(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	ctx := correlation.Detach(r.Context())
	req := app.ConnectRequest{ConnectionID: uuid.NewString(), Tenant: loginFromQuery(r)}

	client, ok := h.register(ctx, conn, req)
	if !ok {
		return
	}

	metrics.WebSocketConnectionsCurrent.Inc()
	defer metrics.WebSocketConnectionsCurrent.Dec()

	h.readLoop(conn, client)
	h.unregister(ctx, client)
}

func (h *Hub) register(ctx context.Context, conn *websocket.Conn, req app.ConnectRequest) (*hubClient, bool) {
	writer := newClientWriter(conn, h.clock)
	client := &hubClient{
		key:    domain.ConnectionKey{ID: req.ConnectionID},
		writer: writer,
	}

	// The socket is reachable before the record is stored, so a broadcast
	// that scans the new record always finds the writer.
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		writer.stopGraceful(websocket.CloseGoingAway, "server shutting down")
		return nil, false
	}
	h.clients[req.ConnectionID] = client
	h.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancel()

	record, err := h.lifecycle.Connect(connectCtx, req)
	if err != nil {
		h.remove(req.ConnectionID)
		code, reason := websocket.CloseInternalServerErr, "failed to connect"
		if app.IsAuthFailure(err) || errors.Is(err, domain.ErrInvalidConnection) {
			code, reason = websocket.ClosePolicyViolation, "authentication failed"
		}
		metrics.WebSocketConnectionsRejected.WithLabelValues("connect_failed").Inc()
		slog.WarnContext(ctx, "WebSocket connect rejected", "connection_id", req.ConnectionID, "error", err)
		writer.stopGraceful(code, reason)
		return nil, false
	}
	client.key = record.Key()

	hello, _ := json.Marshal(map[string]string{"type": "connected", "connectionId": record.ConnectionID})
	if err := writer.send(connectCtx, hello); err != nil {
		slog.DebugContext(ctx, "Failed to send connect acknowledgement", "connection_id", record.ConnectionID, "error", err)
	}

	slog.InfoContext(ctx, "WebSocket connected", "connection_id", record.ConnectionID, "tenant", record.TenantKey)
	return client, true
}

// readLoop drains inbound frames until the socket fails. Client messages are
// not interpreted; any frame counts as activity.
func (h *Hub) readLoop(conn *websocket.Conn, client *hubClient) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		client.writer.recordActivity()
		client.writer.updateReadDeadline()
	}
}

func (h *Hub) unregister(ctx context.Context, client *hubClient) {
	h.remove(client.key.ID)
	client.writer.stop()

	disconnectCtx, cancel := context.WithTimeout(ctx, lifecycleTimeout)
	defer cancel()

	if err := h.lifecycle.Disconnect(disconnectCtx, client.key); err != nil {
		// The next broadcast prunes the record once delivery reports it gone.
		slog.WarnContext(ctx, "Failed to remove connection record", "connection_id", client.key.ID, "error", err)
		return
	}
	slog.InfoContext(ctx, "WebSocket disconnected", "connection_id", client.key.ID)
}

func (h *Hub) remove(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connectionID)
}

// Close sends a close frame to every socket and refuses new ones. Read loops
// then exit and remove their records.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	writers := make([]*clientWriter, 0, len(h.clients))
	for _, c := range h.clients {
		writers = append(writers, c.writer)
	}
	h.mu.Unlock()

	for _, w := range writers {
		w.stopGraceful(websocket.CloseGoingAway, "server shutting down")
	}
}

func loginFromQuery(r *http.Request) *domain.TenantLogin {
	q := r.URL.Query()
	admin := q.Get("admin")
	if admin == "" {
		return nil
	}
	return &domain.TenantLogin{Admin: admin, AppName: q.Get("appname"), Password: q.Get("password")}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/metrics"
)

// LoginChecker verifies tenant credentials. *TenantDirectory implements it.
type LoginChecker interface {
	CheckLogin(ctx context.Context, tenantKey, appName, password string) (bool, error)
}

// ConnectRequest is what a transport knows about a freshly opened connection.
// Tenant is nil (or has an empty Admin) for connections without a tenant.
type ConnectRequest struct {
	ConnectionID string
	Tenant       *domain.TenantLogin
}

func (r ConnectRequest) tenantKey() string {
	if r.Tenant == nil {
		return ""
	}
	return r.Tenant.Admin
}

// Lifecycle registers connections on connect and removes them on disconnect.
type Lifecycle struct {
	store  domain.ConnectionStore
	logins LoginChecker
}

// NewLifecycle wires the handler. logins may be nil when no tenant directory
// is configured; tenant-scoped connects are then rejected.
func NewLifecycle(store domain.ConnectionStore, logins LoginChecker) *Lifecycle {
	return &Lifecycle{store: store, logins: logins}
}

// Connect registers the connection. A tenant-scoped connect is only recorded
// after its credentials check out; on any failure nothing is stored.
func (l *Lifecycle) Connect(ctx context.Context, req ConnectRequest) (*domain.ConnectionRecord, error) {
	record, err := l.Authorize(ctx, req)
	if err != nil {
		return nil, err
	}
	return l.Register(ctx, record)
}

// Authorize validates req and checks its tenant login without storing
// anything. The returned record is what Register later stores. Transports
// that cannot deliver until a later handshake step split Connect this way.
func (l *Lifecycle) Authorize(ctx context.Context, req ConnectRequest) (domain.ConnectionRecord, error) {
	if req.ConnectionID == "" {
		metrics.ConnectsTotal.WithLabelValues("invalid").Inc()
		return domain.ConnectionRecord{}, domain.ErrInvalidConnection
	}

	tenant := req.tenantKey()
	if tenant != "" {
		if err := l.authorize(ctx, req.Tenant); err != nil {
			return domain.ConnectionRecord{}, err
		}
	}
	return domain.ConnectionRecord{ConnectionID: req.ConnectionID, TenantKey: tenant}, nil
}

// Register stores an authorized record.
func (l *Lifecycle) Register(ctx context.Context, record domain.ConnectionRecord) (*domain.ConnectionRecord, error) {
	if record.ConnectionID == "" {
		metrics.ConnectsTotal.WithLabelValues("invalid").Inc()
		return nil, domain.ErrInvalidConnection
	}

	if err := l.store.Put(ctx, record); err != nil {
		metrics.ConnectsTotal.WithLabelValues("store_error").Inc()
		return nil, fmt.Errorf("register connection %s: %w", record.Key(), err)
	}

	metrics.ConnectsTotal.WithLabelValues("ok").Inc()
	slog.DebugContext(ctx, "Connection registered", "connection_id", record.ConnectionID, "tenant", record.TenantKey)
	return &record, nil
}

func (l *Lifecycle) authorize(ctx context.Context, login *domain.TenantLogin) error {
	if l.logins == nil {
		metrics.ConnectsTotal.WithLabelValues("auth_failed").Inc()
		return fmt.Errorf("tenant %q: no tenant directory configured: %w", login.Admin, domain.ErrAuthFailed)
	}

	ok, err := l.logins.CheckLogin(ctx, login.Admin, login.AppName, login.Password)
	if err != nil {
		metrics.ConnectsTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("check tenant login: %w", err)
	}
	if !ok {
		metrics.ConnectsTotal.WithLabelValues("auth_failed").Inc()
		slog.InfoContext(ctx, "Tenant login rejected", "tenant", login.Admin, "app", login.AppName)
		return fmt.Errorf("tenant %q app %q: %w", login.Admin, login.AppName, domain.ErrAuthFailed)
	}
	return nil
}

// Disconnect removes the record. Removing an unknown connection succeeds.
func (l *Lifecycle) Disconnect(ctx context.Context, key domain.ConnectionKey) error {
	if key.ID == "" {
		return domain.ErrInvalidConnection
	}

	if err := l.store.Delete(ctx, key); err != nil {
		metrics.DisconnectsTotal.WithLabelValues("store_error").Inc()
		return fmt.Errorf("remove connection %s: %w", key, err)
	}

	metrics.DisconnectsTotal.WithLabelValues("ok").Inc()
	slog.DebugContext(ctx, "Connection removed", "connection_id", key.ID, "tenant", key.Tenant)
	return nil
}

// DisconnectID removes connectionID under whichever tenant it was registered
// with, for callers that only know the ID. The untenanted key is checked
// first; otherwise the directory is scanned. It returns the number of records
// removed; an unknown ID removes nothing and succeeds.
func (l *Lifecycle) DisconnectID(ctx context.Context, connectionID string) (int, error) {
	if connectionID == "" {
		return 0, domain.ErrInvalidConnection
	}

	plain := domain.ConnectionKey{ID: connectionID}
	_, found, err := l.store.Get(ctx, plain)
	if err != nil {
		metrics.DisconnectsTotal.WithLabelValues("store_error").Inc()
		return 0, fmt.Errorf("lookup connection %s: %w", plain, err)
	}

	keys := []domain.ConnectionKey{plain}
	if !found {
		records, err := l.store.ScanID(ctx, connectionID)
		if err != nil {
			metrics.DisconnectsTotal.WithLabelValues("store_error").Inc()
			return 0, fmt.Errorf("find connection %s: %w", connectionID, err)
		}
		keys = keys[:0]
		for _, r := range records {
			keys = append(keys, r.Key())
		}
	}

	for i, key := range keys {
		if err := l.Disconnect(ctx, key); err != nil {
			return i, err
		}
	}
	return len(keys), nil
}

// Lookup returns the record for key or domain.ErrConnectionNotFound.
func (l *Lifecycle) Lookup(ctx context.Context, key domain.ConnectionKey) (*domain.ConnectionRecord, error) {
	record, found, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lookup connection %s: %w", key, err)
	}
	if !found {
		return nil, domain.ErrConnectionNotFound
	}
	return record, nil
}

// Count returns the number of registered connections.
func (l *Lifecycle) Count(ctx context.Context) (int, error) {
	n, err := l.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count connections: %w", err)
	}
	metrics.ConnectionsRegistered.Set(float64(n))
	return n, nil
}

// IsAuthFailure reports whether err came from a rejected tenant login.
func IsAuthFailure(err error) bool {
	return errors.Is(err, domain.ErrAuthFailed)
}

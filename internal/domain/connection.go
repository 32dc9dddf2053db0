package domain

import "context"

// ConnectionKey identifies a connection record. Tenant is empty for
// connections registered without a tenant.
type ConnectionKey struct {
	Tenant string
	ID     string
}

func (k ConnectionKey) String() string {
	if k.Tenant == "" {
		return k.ID
	}
	return k.Tenant + "/" + k.ID
}

// ConnectionRecord is the durable entry for one live transport connection.
type ConnectionRecord struct {
	ConnectionID string `json:"connectionId"`
	TenantKey    string `json:"tenantKey,omitempty"`
}

func (r ConnectionRecord) Key() ConnectionKey {
	return ConnectionKey{Tenant: r.TenantKey, ID: r.ConnectionID}
}

// ConnectionStore is the durable directory of live connections.
//
// Put overwrites an existing record with the same key. Get reports a missing
// key with found=false and a nil error. Delete of a missing key is a no-op.
// Scans return records in no particular order; records written or removed
// while a scan is running may or may not be included.
type ConnectionStore interface {
	Put(ctx context.Context, record ConnectionRecord) error
	Get(ctx context.Context, key ConnectionKey) (*ConnectionRecord, bool, error)
	Delete(ctx context.Context, key ConnectionKey) error
	ScanAll(ctx context.Context) ([]ConnectionRecord, error)
	ScanTenant(ctx context.Context, tenant string) ([]ConnectionRecord, error)
	// ScanID returns the records of connectionID under any tenant.
	ScanID(ctx context.Context, connectionID string) ([]ConnectionRecord, error)
	Count(ctx context.Context) (int, error)
}

// Endpoints name the directories a connection can be registered in. Records of
// one endpoint are only ever delivered to by that endpoint's sender.
const (
	// EndpointLocal holds sockets owned by this process (hub or centrifuge node).
	EndpointLocal = "local"
	// EndpointGateway holds connections owned by an external gateway and
	// registered through the HTTP connect endpoint.
	EndpointGateway = "gateway"
)

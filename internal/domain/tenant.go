package domain

import (
	"context"
	"time"
)

// TenantCredential is one (tenant, application) login. It is provisioned by an
// administrative tool and only read by the connect path.
type TenantCredential struct {
	TenantKey string
	AppName   string
	Password  string
	CreatedAt time.Time
}

// TenantLogin is what a connecting client presents.
type TenantLogin struct {
	Admin    string
	AppName  string
	Password string
}

// TenantRepository reads tenant credentials from durable storage.
type TenantRepository interface {
	GetCredential(ctx context.Context, tenantKey, appName string) (*TenantCredential, error)
}

// TenantAdmin provisions tenant credentials.
type TenantAdmin interface {
	TenantRepository
	UpsertCredential(ctx context.Context, cred TenantCredential) error
	DeleteCredential(ctx context.Context, tenantKey, appName string) error
	ListCredentials(ctx context.Context) ([]TenantCredential, error)
}

package app

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/pscheid92/fanout/internal/domain"
)

// --- Mock implementations ---

type mockTenantRepo struct {
	calls           atomic.Int32
	getCredentialFn func(ctx context.Context, tenantKey, appName string) (*domain.TenantCredential, error)
}

func (m *mockTenantRepo) GetCredential(ctx context.Context, tenantKey, appName string) (*domain.TenantCredential, error) {
	m.calls.Add(1)
	if m.getCredentialFn != nil {
		return m.getCredentialFn(ctx, tenantKey, appName)
	}
	return nil, domain.ErrTenantNotFound
}

// credentials returns a repo serving the given (tenant, app) -> password table.
func credentials(table map[[2]string]string) *mockTenantRepo {
	return &mockTenantRepo{
		getCredentialFn: func(_ context.Context, tenantKey, appName string) (*domain.TenantCredential, error) {
			pw, ok := table[[2]string{tenantKey, appName}]
			if !ok {
				return nil, domain.ErrTenantNotFound
			}
			return &domain.TenantCredential{TenantKey: tenantKey, AppName: appName, Password: pw}, nil
		},
	}
}

type mockLoginChecker struct {
	checkLoginFn func(ctx context.Context, tenantKey, appName, password string) (bool, error)
}

func (m *mockLoginChecker) CheckLogin(ctx context.Context, tenantKey, appName, password string) (bool, error) {
	if m.checkLoginFn != nil {
		return m.checkLoginFn(ctx, tenantKey, appName, password)
	}
	return false, nil
}

var errRedisDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

// failingStore fails every operation with a store-unavailable error.
type failingStore struct{}

func (failingStore) Put(context.Context, domain.ConnectionRecord) error {
	return errors.Join(domain.ErrStoreUnavailable, errRedisDown)
}

func (failingStore) Get(context.Context, domain.ConnectionKey) (*domain.ConnectionRecord, bool, error) {
	return nil, false, errors.Join(domain.ErrStoreUnavailable, errRedisDown)
}

func (failingStore) Delete(context.Context, domain.ConnectionKey) error {
	return errors.Join(domain.ErrStoreUnavailable, errRedisDown)
}

func (failingStore) ScanAll(context.Context) ([]domain.ConnectionRecord, error) {
	return nil, errors.Join(domain.ErrStoreUnavailable, errRedisDown)
}

func (failingStore) ScanTenant(context.Context, string) ([]domain.ConnectionRecord, error) {
	return nil, errors.Join(domain.ErrStoreUnavailable, errRedisDown)
}

func (failingStore) ScanID(context.Context, string) ([]domain.ConnectionRecord, error) {
	return nil, errors.Join(domain.ErrStoreUnavailable, errRedisDown)
}

func (failingStore) Count(context.Context) (int, error) {
	return 0, errors.Join(domain.ErrStoreUnavailable, errRedisDown)
}

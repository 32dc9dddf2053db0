package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/fanout/internal/domain"
)

const (
	getCredentialSQL = `
SELECT tenant_key, app_name, password, created_at
FROM tenant_credentials
WHERE tenant_key = $1 AND app_name = $2`

	upsertCredentialSQL = `
INSERT INTO tenant_credentials (tenant_key, app_name, password)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_key, app_name)
DO UPDATE SET password = EXCLUDED.password, updated_at = now()`

	deleteCredentialSQL = `
DELETE FROM tenant_credentials
WHERE tenant_key = $1 AND app_name = $2`

	listCredentialsSQL = `
SELECT tenant_key, app_name, password, created_at
FROM tenant_credentials
ORDER BY tenant_key, app_name`
)

type TenantRepo struct {
	pool *pgxpool.Pool
}

var _ domain.TenantAdmin = (*TenantRepo)(nil)

func NewTenantRepo(pool *pgxpool.Pool) *TenantRepo {
	return &TenantRepo{pool: pool}
}

type credentialRow struct {
	TenantKey string    `db:"tenant_key"`
	AppName   string    `db:"app_name"`
	Password  string    `db:"password"`
	CreatedAt time.Time `db:"created_at"`
}

func toDomainCredential(row credentialRow) domain.TenantCredential {
	return domain.TenantCredential{
		TenantKey: row.TenantKey,
		AppName:   row.AppName,
		Password:  row.Password,
		CreatedAt: row.CreatedAt,
	}
}

func (r *TenantRepo) GetCredential(ctx context.Context, tenantKey, appName string) (*domain.TenantCredential, error) {
	rows, err := r.pool.Query(ctx, getCredentialSQL, tenantKey, appName)
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant credential: %w: %w", domain.ErrStoreUnavailable, err)
	}

	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[credentialRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant credential: %w: %w", domain.ErrStoreUnavailable, err)
	}

	cred := toDomainCredential(row)
	return &cred, nil
}

func (r *TenantRepo) UpsertCredential(ctx context.Context, cred domain.TenantCredential) error {
	if cred.TenantKey == "" || cred.AppName == "" || cred.Password == "" {
		return errors.New("tenant key, app name and password are required")
	}
	if _, err := r.pool.Exec(ctx, upsertCredentialSQL, cred.TenantKey, cred.AppName, cred.Password); err != nil {
		return fmt.Errorf("failed to upsert tenant credential: %w", err)
	}
	return nil
}

func (r *TenantRepo) DeleteCredential(ctx context.Context, tenantKey, appName string) error {
	tag, err := r.pool.Exec(ctx, deleteCredentialSQL, tenantKey, appName)
	if err != nil {
		return fmt.Errorf("failed to delete tenant credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

func (r *TenantRepo) ListCredentials(ctx context.Context) ([]domain.TenantCredential, error) {
	rows, err := r.pool.Query(ctx, listCredentialsSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant credentials: %w", err)
	}

	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[credentialRow])
	if err != nil {
		return nil, fmt.Errorf("failed to list tenant credentials: %w", err)
	}

	creds := make([]domain.TenantCredential, 0, len(collected))
	for _, row := range collected {
		creds = append(creds, toDomainCredential(row))
	}
	return creds, nil
}

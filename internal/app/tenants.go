package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/pscheid92/fanout/internal/domain"
	"github.com/pscheid92/fanout/internal/metrics"
)

// TenantDirectory answers tenant credential lookups and login checks.
// Found credentials are cached for ttl; concurrent misses for the same
// (tenant, app) collapse into one repository read. Absent credentials are
// never cached so a newly provisioned tenant can log in immediately.
type TenantDirectory struct {
	repo  domain.TenantRepository
	clock clockwork.Clock
	ttl   time.Duration
	group singleflight.Group

	mu      sync.RWMutex
	entries map[credentialKey]cachedCredential
}

type credentialKey struct {
	tenant string
	app    string
}

type cachedCredential struct {
	cred      domain.TenantCredential
	expiresAt time.Time
}

// NewTenantDirectory creates a directory over repo. A ttl of zero disables caching.
func NewTenantDirectory(repo domain.TenantRepository, ttl time.Duration, clock clockwork.Clock) *TenantDirectory {
	return &TenantDirectory{
		repo:    repo,
		clock:   clock,
		ttl:     ttl,
		entries: make(map[credentialKey]cachedCredential),
	}
}

// Lookup returns the credential for (tenantKey, appName) or domain.ErrTenantNotFound.
func (d *TenantDirectory) Lookup(ctx context.Context, tenantKey, appName string) (*domain.TenantCredential, error) {
	key := credentialKey{tenant: tenantKey, app: appName}

	if cred, ok := d.cached(key); ok {
		metrics.TenantCacheHits.Inc()
		return &cred, nil
	}
	metrics.TenantCacheMisses.Inc()

	v, err, _ := d.group.Do(tenantKey+"\x00"+appName, func() (any, error) {
		cred, err := d.repo.GetCredential(ctx, tenantKey, appName)
		if err != nil {
			return nil, err
		}
		d.store(key, *cred)
		return cred, nil
	})
	if err != nil {
		return nil, err
	}

	cred := *v.(*domain.TenantCredential)
	return &cred, nil
}

// CheckLogin reports whether password matches the stored credential for the
// caller's (tenantKey, appName). A missing credential or empty tenant never
// authorizes. Directory failures are returned as errors.
func (d *TenantDirectory) CheckLogin(ctx context.Context, tenantKey, appName, password string) (bool, error) {
	if tenantKey == "" {
		return false, nil
	}

	cred, err := d.Lookup(ctx, tenantKey, appName)
	if errors.Is(err, domain.ErrTenantNotFound) {
		metrics.LoginChecksTotal.WithLabelValues("denied").Inc()
		return false, nil
	}
	if err != nil {
		metrics.LoginChecksTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("lookup tenant %q: %w", tenantKey, err)
	}

	if subtle.ConstantTimeCompare([]byte(cred.Password), []byte(password)) != 1 {
		metrics.LoginChecksTotal.WithLabelValues("denied").Inc()
		return false, nil
	}

	metrics.LoginChecksTotal.WithLabelValues("ok").Inc()
	return true, nil
}

// Invalidate drops a cached credential, e.g. after a password change.
func (d *TenantDirectory) Invalidate(tenantKey, appName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, credentialKey{tenant: tenantKey, app: appName})
}

func (d *TenantDirectory) cached(key credentialKey) (domain.TenantCredential, bool) {
	if d.ttl <= 0 {
		return domain.TenantCredential{}, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.entries[key]
	if !ok || d.clock.Now().After(entry.expiresAt) {
		return domain.TenantCredential{}, false
	}
	return entry.cred, true
}

func (d *TenantDirectory) store(key credentialKey, cred domain.TenantCredential) {
	if d.ttl <= 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key] = cachedCredential{cred: cred, expiresAt: d.clock.Now().Add(d.ttl)}
}

// EvictExpired removes expired entries and returns how many were removed.
func (d *TenantDirectory) EvictExpired() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	evicted := 0
	for key, entry := range d.entries {
		if now.After(entry.expiresAt) {
			delete(d.entries, key)
			evicted++
		}
	}
	metrics.TenantCacheEntries.Set(float64(len(d.entries)))
	return evicted
}

// StartEvictionTimer evicts expired entries every interval until the returned
// stop function is called.
func (d *TenantDirectory) StartEvictionTimer(interval time.Duration) func() {
	ticker := d.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := d.EvictExpired(); evicted > 0 {
					slog.Debug("Evicted expired tenant credentials", "count", evicted)
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

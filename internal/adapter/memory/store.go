// Package memory provides a process-local connection store for single-instance
// deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/pscheid92/fanout/internal/domain"
)

// ConnectionStore keeps connection records in a map guarded by a RWMutex.
// Scans copy a snapshot under the read lock.
type ConnectionStore struct {
	mu      sync.RWMutex
	records map[domain.ConnectionKey]domain.ConnectionRecord
}

var _ domain.ConnectionStore = (*ConnectionStore)(nil)

func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{records: make(map[domain.ConnectionKey]domain.ConnectionRecord)}
}

func (s *ConnectionStore) Put(_ context.Context, record domain.ConnectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key()] = record
	return nil
}

func (s *ConnectionStore) Get(_ context.Context, key domain.ConnectionKey) (*domain.ConnectionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	return &record, true, nil
}

func (s *ConnectionStore) Delete(_ context.Context, key domain.ConnectionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *ConnectionStore) ScanAll(ctx context.Context) ([]domain.ConnectionRecord, error) {
	return s.scan(ctx, func(domain.ConnectionRecord) bool { return true })
}

func (s *ConnectionStore) ScanTenant(ctx context.Context, tenant string) ([]domain.ConnectionRecord, error) {
	return s.scan(ctx, func(r domain.ConnectionRecord) bool { return r.TenantKey == tenant })
}

func (s *ConnectionStore) ScanID(ctx context.Context, connectionID string) ([]domain.ConnectionRecord, error) {
	return s.scan(ctx, func(r domain.ConnectionRecord) bool { return r.ConnectionID == connectionID })
}

func (s *ConnectionStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *ConnectionStore) scan(ctx context.Context, match func(domain.ConnectionRecord) bool) ([]domain.ConnectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ConnectionRecord, 0, len(s.records))
	for _, r := range s.records {
		if match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

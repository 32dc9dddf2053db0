package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/fanout/internal/domain"
)

const (
	connectionKeyPrefix = "connection:"
	scanCount           = 100
)

// ConnectionStore keeps one string key per connection record:
//
//	connection:<namespace>:<tenant>:<connectionID> -> {"connectionId":"...","tenantKey":"..."}
//
// The namespace separates directories that share a Redis (one per broadcast
// endpoint). Segments are percent-encoded so a key never contains a SCAN
// glob metacharacter or a stray separator, and a tenant pattern is the
// literal key prefix followed by '*'.
type ConnectionStore struct {
	rdb    *goredis.Client
	prefix string
}

var _ domain.ConnectionStore = (*ConnectionStore)(nil)

func NewConnectionStore(rdb *goredis.Client, namespace string) *ConnectionStore {
	return &ConnectionStore{rdb: rdb, prefix: connectionKeyPrefix + escapeSegment(namespace) + ":"}
}

func (s *ConnectionStore) connectionKey(key domain.ConnectionKey) string {
	return s.prefix + escapeSegment(key.Tenant) + ":" + escapeSegment(key.ID)
}

func (s *ConnectionStore) tenantPattern(tenant string) string {
	return s.prefix + escapeSegment(tenant) + ":*"
}

// idPattern relies on escaped segments: the only ':' after the prefix is the
// tenant/ID separator, so the suffix match is exact.
func (s *ConnectionStore) idPattern(connectionID string) string {
	return s.prefix + "*:" + escapeSegment(connectionID)
}

var segmentEscaper = strings.NewReplacer(
	`%`, `%25`,
	`:`, `%3A`,
	`*`, `%2A`,
	`?`, `%3F`,
	`[`, `%5B`,
	`]`, `%5D`,
	`\`, `%5C`,
)

func escapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func (s *ConnectionStore) Put(ctx context.Context, record domain.ConnectionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal connection record: %w", err)
	}

	if err := s.rdb.Set(ctx, s.connectionKey(record.Key()), data, 0).Err(); err != nil {
		return unavailable("put connection", err)
	}
	return nil
}

func (s *ConnectionStore) Get(ctx context.Context, key domain.ConnectionKey) (*domain.ConnectionRecord, bool, error) {
	data, err := s.rdb.Get(ctx, s.connectionKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get connection", err)
	}

	var record domain.ConnectionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false, fmt.Errorf("decode connection record %s: %w", key, err)
	}
	return &record, true, nil
}

func (s *ConnectionStore) Delete(ctx context.Context, key domain.ConnectionKey) error {
	if err := s.rdb.Del(ctx, s.connectionKey(key)).Err(); err != nil {
		return unavailable("delete connection", err)
	}
	return nil
}

func (s *ConnectionStore) ScanAll(ctx context.Context) ([]domain.ConnectionRecord, error) {
	return s.scan(ctx, s.prefix+"*")
}

func (s *ConnectionStore) ScanTenant(ctx context.Context, tenant string) ([]domain.ConnectionRecord, error) {
	return s.scan(ctx, s.tenantPattern(tenant))
}

func (s *ConnectionStore) ScanID(ctx context.Context, connectionID string) ([]domain.ConnectionRecord, error) {
	return s.scan(ctx, s.idPattern(connectionID))
}

func (s *ConnectionStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.eachPage(ctx, s.prefix+"*", func(keys []string) error {
		count += len(keys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// scan walks the keyspace page by page and resolves each page with one MGET.
// Keys removed between SCAN and MGET come back nil and are skipped.
func (s *ConnectionStore) scan(ctx context.Context, pattern string) ([]domain.ConnectionRecord, error) {
	var records []domain.ConnectionRecord

	err := s.eachPage(ctx, pattern, func(keys []string) error {
		values, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return unavailable("read connection page", err)
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var record domain.ConnectionRecord
			if err := json.Unmarshal([]byte(raw), &record); err != nil {
				slog.WarnContext(ctx, "Skipping malformed connection record", "key", keys[i], "error", err)
				continue
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// eachPage calls fn once per SCAN page. SCAN may return a key more than once,
// so keys already handed to fn are dropped from later pages.
func (s *ConnectionStore) eachPage(ctx context.Context, pattern string, fn func(keys []string) error) error {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		select {
		case <-ctx.Done():
			return unavailable("scan connections", ctx.Err())
		default:
		}

		keys, nextCursor, err := s.rdb.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return unavailable("scan connections", err)
		}

		fresh := keys[:0]
		for _, k := range keys {
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				fresh = append(fresh, k)
			}
		}

		if len(fresh) > 0 {
			if err := fn(fresh); err != nil {
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			return nil
		}
	}
}

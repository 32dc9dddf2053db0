package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/pscheid92/fanout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewConnectionStore()
	key := domain.ConnectionKey{ID: "conn-1"}

	require.NoError(t, store.Put(ctx, domain.ConnectionRecord{ConnectionID: "conn-1"}))

	rec, found, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "conn-1", rec.ConnectionID)

	require.NoError(t, store.Delete(ctx, key))
	_, found, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting again is a no-op
	require.NoError(t, store.Delete(ctx, key))
}

func TestPut_Overwrites(t *testing.T) {
	ctx := context.Background()
	store := NewConnectionStore()
	rec := domain.ConnectionRecord{ConnectionID: "conn-1", TenantKey: "acme"}

	require.NoError(t, store.Put(ctx, rec))
	require.NoError(t, store.Put(ctx, rec))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTenantIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	store := NewConnectionStore()

	require.NoError(t, store.Put(ctx, domain.ConnectionRecord{ConnectionID: "same", TenantKey: "acme"}))
	require.NoError(t, store.Put(ctx, domain.ConnectionRecord{ConnectionID: "same", TenantKey: "globex"}))
	require.NoError(t, store.Put(ctx, domain.ConnectionRecord{ConnectionID: "same"}))

	all, err := store.ScanAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	acme, err := store.ScanTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, []domain.ConnectionRecord{{ConnectionID: "same", TenantKey: "acme"}}, acme)

	_, found, err := store.Get(ctx, domain.ConnectionKey{Tenant: "initech", ID: "same"})
	require.NoError(t, err)
	assert.False(t, found)

	byID, err := store.ScanID(ctx, "same")
	require.NoError(t, err)
	assert.Len(t, byID, 3)

	none, err := store.ScanID(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScan_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewConnectionStore().ScanAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewConnectionStore()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", i)
			_ = store.Put(ctx, domain.ConnectionRecord{ConnectionID: id})
			_ = store.Delete(ctx, domain.ConnectionKey{ID: id})
		}()
		go func() {
			defer wg.Done()
			_, _ = store.ScanAll(ctx)
		}()
	}
	wg.Wait()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

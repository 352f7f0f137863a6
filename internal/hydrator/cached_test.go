package hydrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/rbac-core/internal/cache"
	"github.com/authz-engine/rbac-core/pkg/types"
)

func newCountingSource(t *testing.T) *countingHydrator {
	t.Helper()

	mem, err := NewMemoryHydrator(adminRole(), memberRole(), moderatorRole())
	require.NoError(t, err)
	return &countingHydrator{inner: mem}
}

func TestCached_HitsAfterFirstFetch(t *testing.T) {
	source := newCountingSource(t)
	c := NewCached(source, cache.NewLRU(10, time.Minute), nil, nil)
	ctx := context.Background()

	first, err := c.Hydrate(ctx, refs(2, 3), types.IncludeAll)
	require.NoError(t, err)
	second, err := c.Hydrate(ctx, refs(3, 2), types.IncludeAll)
	require.NoError(t, err)

	assert.Equal(t, 1, source.Calls())
	assert.Equal(t, first[0].ID, second[1].ID)
	assert.Equal(t, first[1].ID, second[0].ID)
}

func TestCached_FetchesOnlyMisses(t *testing.T) {
	source := newCountingSource(t)
	c := NewCached(source, cache.NewLRU(10, time.Minute), nil, nil)
	ctx := context.Background()

	_, err := c.Hydrate(ctx, refs(2), types.IncludePermissions)
	require.NoError(t, err)

	roles, err := c.Hydrate(ctx, refs(1, 2, 3), types.IncludeAll)
	require.NoError(t, err)
	require.Len(t, roles, 3)

	require.Equal(t, 2, source.Calls())
	assert.Equal(t, []int64{1, 3}, source.requests[1])

	// Cache always fetches full roles
	for _, include := range source.includes {
		assert.Equal(t, types.IncludeAll, include)
	}
}

func TestCached_Projection(t *testing.T) {
	c := NewCached(newCountingSource(t), cache.NewLRU(10, time.Minute), nil, nil)

	roles, err := c.Hydrate(context.Background(), refs(2), types.IncludePermissions)
	require.NoError(t, err)
	assert.NotNil(t, roles[0].Permissions)
	assert.Nil(t, roles[0].Policies)

	roles, err = c.Hydrate(context.Background(), refs(2), types.IncludePolicies)
	require.NoError(t, err)
	assert.Nil(t, roles[0].Permissions)
	assert.Len(t, roles[0].Policies, 1)
}

func TestCached_SourceError(t *testing.T) {
	source := newCountingSource(t)
	c := NewCached(source, cache.NewLRU(10, time.Minute), nil, nil)

	_, err := c.Hydrate(context.Background(), refs(2, 42), types.IncludeAll)
	assert.ErrorIs(t, err, ErrRoleNotFound)

	// Nothing from the failed batch is cached
	_, err = c.Hydrate(context.Background(), refs(2), types.IncludeAll)
	require.NoError(t, err)
	assert.Equal(t, 2, source.Calls())
}

// brokenCache fails every operation
type brokenCache struct{}

var errCacheDown = errors.New("cache down")

func (brokenCache) GetMany(context.Context, []int64) (map[int64]types.Role, error) {
	return nil, errCacheDown
}
func (brokenCache) SetMany(context.Context, []types.Role) error { return errCacheDown }
func (brokenCache) Delete(context.Context, ...int64) error      { return errCacheDown }
func (brokenCache) Clear(context.Context) error                 { return errCacheDown }
func (brokenCache) Stats() cache.Stats                          { return cache.Stats{} }

func TestCached_BrokenCacheFallsBack(t *testing.T) {
	source := newCountingSource(t)
	c := NewCached(source, brokenCache{}, nil, nil)

	roles, err := c.Hydrate(context.Background(), refs(2, 3), types.IncludeAll)
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.Equal(t, 1, source.Calls())

	assert.ErrorIs(t, c.Invalidate(context.Background(), 2), errCacheDown)
}

func TestCached_Invalidate(t *testing.T) {
	source := newCountingSource(t)
	c := NewCached(source, cache.NewLRU(10, time.Minute), nil, nil)
	ctx := context.Background()

	_, err := c.Hydrate(ctx, refs(2, 3), types.IncludeAll)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, 3))
	_, err = c.Hydrate(ctx, refs(2, 3), types.IncludeAll)
	require.NoError(t, err)
	require.Equal(t, 2, source.Calls())
	assert.Equal(t, []int64{3}, source.requests[1])

	require.NoError(t, c.InvalidateAll(ctx))
	_, err = c.Hydrate(ctx, refs(2, 3), types.IncludeAll)
	require.NoError(t, err)
	assert.Equal(t, 3, source.Calls())
}

func TestCached_CoalescesConcurrentMisses(t *testing.T) {
	mem, err := NewMemoryHydrator(memberRole())
	require.NoError(t, err)

	release := make(chan struct{})
	var calls int32
	var mu sync.Mutex
	slow := Func(func(ctx context.Context, rs []types.RoleRef, include types.Include) ([]types.Role, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return mem.Hydrate(ctx, rs, include)
	})

	c := NewCached(slow, cache.NewLRU(10, time.Minute), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			roles, err := c.Hydrate(context.Background(), refs(2), types.IncludeAll)
			assert.NoError(t, err)
			assert.Len(t, roles, 1)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), calls)
}

func TestCached_CallerCancelDuringFetch(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	blocked := Func(func(ctx context.Context, rs []types.RoleRef, include types.Include) ([]types.Role, error) {
		<-release
		return nil, nil
	})
	c := NewCached(blocked, cache.NewLRU(10, time.Minute), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Hydrate(ctx, refs(2), types.IncludeAll)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCached_AlreadyCanceled(t *testing.T) {
	source := newCountingSource(t)
	c := NewCached(source, cache.NewLRU(10, time.Minute), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Hydrate(ctx, refs(2), types.IncludeAll)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, source.Calls())
}

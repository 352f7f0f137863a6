package hydrator

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/authz-engine/rbac-core/internal/cache"
	"github.com/authz-engine/rbac-core/internal/metrics"
	"github.com/authz-engine/rbac-core/pkg/types"
)

// Cached puts a role cache in front of another hydrator. Cached roles
// always carry both facets; the requested projection is applied on the way
// out. Misses for one call are fetched from the inner hydrator in a single
// batch, and identical concurrent miss sets share one fetch.
//
// A failing cache is treated as empty: errors are logged and the inner
// hydrator is consulted.
type Cached struct {
	inner   Hydrator
	cache   cache.RoleCache
	group   singleflight.Group
	logger  *zap.Logger
	metrics metrics.Metrics
}

// NewCached wraps inner with c
func NewCached(inner Hydrator, c cache.RoleCache, logger *zap.Logger, m metrics.Metrics) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	return &Cached{
		inner:   inner,
		cache:   c,
		logger:  logger,
		metrics: m,
	}
}

// Hydrate serves roles from the cache and fetches the rest
func (c *Cached) Hydrate(ctx context.Context, refs []types.RoleRef, include types.Include) ([]types.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids := uniqueIDs(refs)

	found, err := c.cache.GetMany(ctx, ids)
	if err != nil {
		c.logger.Warn("Role cache read failed, falling back to source", zap.Error(err))
		found = nil
	}
	if found == nil {
		found = make(map[int64]types.Role, len(ids))
	}

	var missing []types.RoleRef
	for _, ref := range refs {
		if _, ok := found[ref.ID]; !ok {
			missing = append(missing, ref)
		}
	}
	missingIDs := uniqueIDs(missing)

	c.metrics.RecordRoleCacheHits(len(ids) - len(missingIDs))
	c.metrics.RecordRoleCacheMisses(len(missingIDs))

	if len(missingIDs) > 0 {
		fetched, err := c.fetch(ctx, missing, missingIDs)
		if err != nil {
			return nil, err
		}
		for _, role := range fetched {
			found[role.ID] = role
		}
	}

	return collect(ids, found, include)
}

// fetch loads missing roles once per distinct id set and stores them
func (c *Cached) fetch(ctx context.Context, refs []types.RoleRef, ids []int64) ([]types.Role, error) {
	key := flightKey(ids)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The shared fetch outlives any single caller's cancellation
		fetchCtx := context.WithoutCancel(ctx)

		roles, err := c.inner.Hydrate(fetchCtx, refs, types.IncludeAll)
		if err != nil {
			return nil, err
		}

		if err := c.cache.SetMany(fetchCtx, roles); err != nil {
			c.logger.Warn("Role cache write failed", zap.Error(err))
		}
		return roles, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]types.Role), nil
	}
}

// Invalidate drops roles from the cache after they change in the source
func (c *Cached) Invalidate(ctx context.Context, ids ...int64) error {
	return c.cache.Delete(ctx, ids...)
}

// InvalidateAll empties the cache
func (c *Cached) InvalidateAll(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

func flightKey(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

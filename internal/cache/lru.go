package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/authz-engine/rbac-core/pkg/types"
)

// LRU implements an in-process role cache with LRU eviction and TTL support
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[int64]*list.Element
	order *list.List
	mu    sync.Mutex

	hits   uint64
	misses uint64

	now func() time.Time
}

type cacheEntry struct {
	id        int64
	role      types.Role
	expiresAt time.Time
}

// NewLRU creates a new LRU cache. Capacity is at least one.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[int64]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// GetMany retrieves every live entry for ids
func (c *LRU) GetMany(_ context.Context, ids []int64) (map[int64]types.Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	found := make(map[int64]types.Role, len(ids))
	now := c.now()

	for _, id := range ids {
		elem, ok := c.items[id]
		if !ok {
			atomic.AddUint64(&c.misses, 1)
			continue
		}

		entry := elem.Value.(*cacheEntry)

		// Check expiration
		if now.After(entry.expiresAt) {
			c.removeElement(elem)
			atomic.AddUint64(&c.misses, 1)
			continue
		}

		// Move to front (most recently used)
		c.order.MoveToFront(elem)
		atomic.AddUint64(&c.hits, 1)
		found[id] = entry.role
	}

	return found, nil
}

// SetMany adds or refreshes roles in the cache
func (c *LRU) SetMany(_ context.Context, roles []types.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	for _, role := range roles {
		// Update existing entry
		if elem, ok := c.items[role.ID]; ok {
			entry := elem.Value.(*cacheEntry)
			entry.role = role
			entry.expiresAt = expiresAt
			c.order.MoveToFront(elem)
			continue
		}

		// Evict if at capacity
		for c.order.Len() >= c.capacity {
			c.evictOldest()
		}

		elem := c.order.PushFront(&cacheEntry{
			id:        role.ID,
			role:      role,
			expiresAt: expiresAt,
		})
		c.items[role.ID] = elem
	}

	return nil
}

// Delete removes roles from the cache
func (c *LRU) Delete(_ context.Context, ids ...int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if elem, ok := c.items[id]; ok {
			c.removeElement(elem)
		}
	}
	return nil
}

// Clear removes all entries from the cache
func (c *LRU) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[int64]*list.Element)
	c.order.Init()
	return nil
}

// Stats returns cache statistics
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()

	return newStats(size, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses))
}

// removeElement removes an element from the cache
func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.id)
	c.order.Remove(elem)
}

// evictOldest removes the oldest entry
func (c *LRU) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// Cleanup removes expired entries
func (c *LRU) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()

	// Iterate from oldest to newest
	var next *list.Element
	for elem := c.order.Back(); elem != nil; elem = next {
		next = elem.Prev()
		entry := elem.Value.(*cacheEntry)
		if now.After(entry.expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}

	return removed
}

// Package cache provides caching implementations for hydrated roles
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/authz-engine/rbac-core/pkg/types"
)

// RoleCache stores fully hydrated roles keyed by role id.
// Cached roles are shared; callers must not mutate them.
type RoleCache interface {
	// GetMany returns the cached subset of ids. Missing ids are simply absent.
	GetMany(ctx context.Context, ids []int64) (map[int64]types.Role, error)
	SetMany(ctx context.Context, roles []types.Role) error
	Delete(ctx context.Context, ids ...int64) error
	Clear(ctx context.Context) error
	Stats() Stats
}

// Stats contains cache statistics
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func newStats(size int, hits, misses uint64) Stats {
	total := hits + misses

	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// Type defines the type of cache to use
type Type string

const (
	// TypeNone disables role caching
	TypeNone Type = "none"
	// TypeLRU uses only a process-local LRU cache
	TypeLRU Type = "lru"
	// TypeRedis uses Redis as a shared cache
	TypeRedis Type = "redis"
)

// Config selects and sizes the role cache
type Config struct {
	Type     Type          `yaml:"type"`
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
	Redis    *RedisConfig  `yaml:"redis"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Type:     TypeNone,
		Capacity: 10000,
		TTL:      time.Minute,
		Redis:    DefaultRedisConfig(),
	}
}

// NewRoleCache creates a cache based on the configured type.
// TypeNone returns a nil cache and no error.
func NewRoleCache(cfg Config) (RoleCache, error) {
	switch cfg.Type {
	case TypeNone, "":
		return nil, nil

	case TypeLRU:
		if cfg.Capacity <= 0 {
			return nil, ErrInvalidConfig("capacity must be greater than 0")
		}
		if cfg.TTL <= 0 {
			return nil, ErrInvalidConfig("ttl must be greater than 0")
		}
		return NewLRU(cfg.Capacity, cfg.TTL), nil

	case TypeRedis:
		return NewRedisRoleCache(cfg.Redis)

	default:
		return nil, ErrInvalidConfig(fmt.Sprintf("unknown cache type %q", cfg.Type))
	}
}

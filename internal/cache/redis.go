package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authz-engine/rbac-core/pkg/types"
)

// RedisRoleCache implements RoleCache using Redis as a shared cache.
// Roles are stored as JSON under <prefix>role:<id> with the configured TTL.
type RedisRoleCache struct {
	client redis.UniversalClient
	config *RedisConfig
	hits   uint64
	misses uint64
}

// NewRedisRoleCache creates a new Redis cache and verifies the connection
func NewRedisRoleCache(config *RedisConfig) (*RedisRoleCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))

	// Create Redis client
	var client redis.UniversalClient

	if config.ClusterEnabled {
		// Cluster mode
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           []string{addr},
			Password:        config.Password,
			PoolSize:        config.PoolSize,
			PoolTimeout:     config.PoolTimeout,
			ConnMaxIdleTime: config.ConnMaxIdleTime,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
			DialTimeout:     config.DialTimeout,
			TLSConfig:       config.TLS,
		})
	} else if config.SentinelEnabled && len(config.SentinelAddrs) > 0 {
		// Sentinel mode
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			SentinelAddrs:   config.SentinelAddrs,
			MasterName:      config.SentinelMasterName,
			Password:        config.Password,
			DB:              config.DB,
			PoolSize:        config.PoolSize,
			PoolTimeout:     config.PoolTimeout,
			ConnMaxIdleTime: config.ConnMaxIdleTime,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
			DialTimeout:     config.DialTimeout,
			TLSConfig:       config.TLS,
		})
	} else {
		// Standard mode
		client = redis.NewClient(&redis.Options{
			Addr:            addr,
			Password:        config.Password,
			DB:              config.DB,
			PoolSize:        config.PoolSize,
			PoolTimeout:     config.PoolTimeout,
			ConnMaxIdleTime: config.ConnMaxIdleTime,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
			DialTimeout:     config.DialTimeout,
			TLSConfig:       config.TLS,
		})
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, ErrConnectionFailed(err)
	}

	return NewRedisRoleCacheWithClient(client, config), nil
}

// NewRedisRoleCacheWithClient wraps an existing client without a connection check
func NewRedisRoleCacheWithClient(client redis.UniversalClient, config *RedisConfig) *RedisRoleCache {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return &RedisRoleCache{
		client: client,
		config: config,
	}
}

func (c *RedisRoleCache) key(id int64) string {
	return c.config.KeyPrefix + "role:" + strconv.FormatInt(id, 10)
}

// GetMany fetches all ids in a single MGET. Entries that fail to decode are
// reported as misses so the caller refetches them.
func (c *RedisRoleCache) GetMany(ctx context.Context, ids []int64) (map[int64]types.Role, error) {
	found := make(map[int64]types.Role, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		atomic.AddUint64(&c.misses, uint64(len(ids)))
		return found, ErrOperationFailed("mget", err)
	}

	for i, val := range vals {
		s, ok := val.(string)
		if !ok {
			atomic.AddUint64(&c.misses, 1)
			continue
		}

		var role types.Role
		if err := json.Unmarshal([]byte(s), &role); err != nil || role.ID != ids[i] {
			atomic.AddUint64(&c.misses, 1)
			continue
		}

		atomic.AddUint64(&c.hits, 1)
		found[ids[i]] = role
	}

	return found, nil
}

// SetMany stores roles in one pipeline round trip. A role that cannot be
// serialized is left uncached and reported after the others are written.
func (c *RedisRoleCache) SetMany(ctx context.Context, roles []types.Role) error {
	if len(roles) == 0 {
		return nil
	}

	var serr error
	ids := make([]int64, 0, len(roles))
	payloads := make([][]byte, 0, len(roles))
	for i := range roles {
		data, err := json.Marshal(&roles[i])
		if err != nil {
			if serr == nil {
				serr = ErrSerializationFailed(fmt.Errorf("role %d: %w", roles[i].ID, err))
			}
			continue
		}
		ids = append(ids, roles[i].ID)
		payloads = append(payloads, data)
	}

	if len(payloads) > 0 {
		_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, data := range payloads {
				pipe.Set(ctx, c.key(ids[i]), data, c.config.TTL)
			}
			return nil
		})
		if err != nil {
			return ErrOperationFailed("set", err)
		}
	}
	return serr
}

// Delete removes roles from the cache
func (c *RedisRoleCache) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return ErrOperationFailed("del", err)
	}
	return nil
}

// Clear removes all entries matching the key prefix
func (c *RedisRoleCache) Clear(ctx context.Context) error {
	keys, err := c.scanKeys(ctx)
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return ErrOperationFailed("del", err)
		}
	}
	return nil
}

func (c *RedisRoleCache) scanKeys(ctx context.Context) ([]string, error) {
	pattern := c.config.KeyPrefix + "role:*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, ErrOperationFailed("scan", err)
	}
	return keys, nil
}

// Stats returns cache statistics. Size counts role keys under the prefix
// and is zero when Redis is unreachable.
func (c *RedisRoleCache) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ReadTimeout+time.Second)
	defer cancel()

	size := 0
	if keys, err := c.scanKeys(ctx); err == nil {
		size = len(keys)
	}

	return newStats(size, atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses))
}

// TTL returns the remaining TTL for a cached role
func (c *RedisRoleCache) TTL(ctx context.Context, id int64) time.Duration {
	ttl, err := c.client.TTL(ctx, c.key(id)).Result()
	if err != nil {
		return -1
	}
	return ttl
}

// Close closes the Redis connection
func (c *RedisRoleCache) Close() error {
	return c.client.Close()
}

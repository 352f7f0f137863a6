package cache

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

// setupMiniredisTest creates a test Redis cache with miniredis
func setupMiniredisTest(t *testing.T) (*RedisRoleCache, *miniredis.Miniredis) {
	t.Helper()

	// Start miniredis server
	s := miniredis.RunT(t)

	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	config := &RedisConfig{
		Host:         s.Host(),
		Port:         port,
		PoolSize:     10,
		PoolTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
		TTL:          5 * time.Minute,
		KeyPrefix:    "test:",
	}

	// Create Redis client directly to avoid SETINFO command issues with miniredis
	client := redis.NewClient(&redis.Options{
		Addr:         s.Addr(),
		PoolSize:     config.PoolSize,
		PoolTimeout:  config.PoolTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		DialTimeout:  config.DialTimeout,
		// Disable CLIENT SETINFO for miniredis compatibility
		DisableIndentity: true,
	})

	cache := NewRedisRoleCacheWithClient(client, config)

	// Ensure cache cleanup
	t.Cleanup(func() {
		cache.Close()
	})

	return cache, s
}

func updatePermission() *types.Permission {
	p := types.Permission("user:update")
	return &p
}

// testRole returns a role with both facets populated
func testRole(id int64, name string) types.Role {
	return types.Role{
		RoleRef:     types.RoleRef{ID: id, Name: name},
		Permissions: types.NewPermissionSet("user:read", "post:create"),
		Policies: []types.Policy{
			{
				ID:         id * 10,
				RoleID:     id,
				Effect:     types.EffectAllow,
				Permission: updatePermission(),
				Condition:  condition.Eq(condition.User("id"), condition.Resource("id")),
			},
			{ID: id*10 + 1, RoleID: id, Effect: types.EffectDeny},
		},
	}
}

// assertSameRole compares roles by their wire form, since decoded literals
// and conditions are not pointer-identical
func assertSameRole(t *testing.T, expected, actual types.Role) {
	t.Helper()

	require.Equal(t, expected.RoleRef, actual.RoleRef)
	require.Equal(t, expected.Permissions.Slice(), actual.Permissions.Slice())
	require.Len(t, actual.Policies, len(expected.Policies))

	for i := range expected.Policies {
		e, a := expected.Policies[i], actual.Policies[i]
		require.Equal(t, e.ID, a.ID)
		require.Equal(t, e.Effect, a.Effect)
		require.Equal(t, e.Permission, a.Permission)

		if e.Condition == nil {
			require.Nil(t, a.Condition)
			continue
		}
		want, err := condition.Encode(e.Condition)
		require.NoError(t, err)
		got, err := condition.Encode(a.Condition)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

var bg = context.Background()

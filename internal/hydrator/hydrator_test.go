package hydrator

import (
	"context"
	"sync"

	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

func perm(p string) *types.Permission {
	pp := types.Permission(p)
	return &pp
}

func adminRole() types.Role {
	return types.Role{
		RoleRef:     types.RoleRef{ID: 1, Name: "admin", IsSuperAdmin: true},
		Permissions: types.NewPermissionSet(),
	}
}

func memberRole() types.Role {
	return types.Role{
		RoleRef:     types.RoleRef{ID: 2, Name: "member", IsDefault: true},
		Permissions: types.NewPermissionSet("post:create", "user:read"),
		Policies: []types.Policy{
			{
				ID: 20, RoleID: 2, Effect: types.EffectAllow, Permission: perm("user:update"),
				Condition: condition.Eq(condition.User("id"), condition.Resource("id")),
			},
		},
	}
}

func moderatorRole() types.Role {
	return types.Role{
		RoleRef:     types.RoleRef{ID: 3, Name: "moderator"},
		Permissions: types.NewPermissionSet("post:delete"),
		Policies: []types.Policy{
			{ID: 30, RoleID: 3, Effect: types.EffectDeny, Permission: perm("user:delete")},
		},
	}
}

func refs(ids ...int64) []types.RoleRef {
	out := make([]types.RoleRef, len(ids))
	for i, id := range ids {
		out[i] = types.RoleRef{ID: id}
	}
	return out
}

// countingHydrator records every call made to the wrapped hydrator
type countingHydrator struct {
	inner Hydrator

	mu       sync.Mutex
	calls    int
	requests [][]int64
	includes []types.Include
}

func (c *countingHydrator) Hydrate(ctx context.Context, rs []types.RoleRef, include types.Include) ([]types.Role, error) {
	c.mu.Lock()
	c.calls++
	c.requests = append(c.requests, uniqueIDs(rs))
	c.includes = append(c.includes, include)
	c.mu.Unlock()

	return c.inner.Hydrate(ctx, rs, include)
}

func (c *countingHydrator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Package hydrator loads roles with their permission grants and ordered
// policies for the authorization engine
package hydrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/authz-engine/rbac-core/pkg/types"
)

// ErrRoleNotFound is returned when a requested role id does not exist
var ErrRoleNotFound = errors.New("role not found")

// Hydrator expands role references into full roles.
//
// Implementations must honor ctx cancellation and return one role per
// distinct requested id, in the order the ids were first requested. Only the
// facets selected by include need to be populated.
type Hydrator interface {
	Hydrate(ctx context.Context, refs []types.RoleRef, include types.Include) ([]types.Role, error)
}

// Func adapts a plain function to the Hydrator interface
type Func func(ctx context.Context, refs []types.RoleRef, include types.Include) ([]types.Role, error)

// Hydrate calls f
func (f Func) Hydrate(ctx context.Context, refs []types.RoleRef, include types.Include) ([]types.Role, error) {
	return f(ctx, refs, include)
}

// uniqueIDs returns the distinct role ids of refs in first-seen order
func uniqueIDs(refs []types.RoleRef) []int64 {
	seen := make(map[int64]struct{}, len(refs))
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref.ID]; ok {
			continue
		}
		seen[ref.ID] = struct{}{}
		ids = append(ids, ref.ID)
	}
	return ids
}

// project returns a shallow copy of role carrying only the requested facets
func project(role types.Role, include types.Include) types.Role {
	out := types.Role{RoleRef: role.RoleRef}
	if include.Has(types.IncludePermissions) {
		out.Permissions = role.Permissions
	}
	if include.Has(types.IncludePolicies) {
		out.Policies = role.Policies
	}
	return out
}

// collect orders roles by ids and reports the first id with no role
func collect(ids []int64, byID map[int64]types.Role, include types.Include) ([]types.Role, error) {
	roles := make([]types.Role, 0, len(ids))
	for _, id := range ids {
		role, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, id)
		}
		roles = append(roles, project(role, include))
	}
	return roles, nil
}

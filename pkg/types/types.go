// Package types provides shared types for the authorization engine
package types

import (
	"sort"

	"github.com/authz-engine/rbac-core/pkg/condition"
)

// Permission is an opaque permission token such as "user:update"
type Permission string

// Effect is the stored outcome of a policy
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether the effect is one of allow/deny
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Decision returns the evaluation decision produced by a matching policy with this effect
func (e Effect) Decision() Decision {
	switch e {
	case EffectAllow:
		return DecisionAllow
	case EffectDeny:
		return DecisionDeny
	default:
		return DecisionNone
	}
}

// Decision is the result of matching a role's policy list. It is never persisted.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionAllow
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "no_decision"
	}
}

// Include selects which role facets a hydrator must populate
type Include uint8

const (
	IncludePermissions Include = 1 << iota
	IncludePolicies

	IncludeAll = IncludePermissions | IncludePolicies
)

// Has reports whether every facet in f is requested
func (i Include) Has(f Include) bool {
	return i&f == f
}

// RoleRef is the role summary attached to a user
type RoleRef struct {
	ID           int64  `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	IsSuperAdmin bool   `json:"isSuperAdmin,omitempty" yaml:"isSuperAdmin,omitempty"`
	IsDefault    bool   `json:"isDefault,omitempty" yaml:"isDefault,omitempty"`
}

// Role is a hydrated role carrying its permission grants and ordered policies
type Role struct {
	RoleRef     `yaml:",inline"`
	Permissions PermissionSet `json:"permissions" yaml:"permissions"`
	Policies    []Policy      `json:"policies" yaml:"policies"`
}

// PermissionSet is an unordered set of unconditionally granted permissions
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is granted. A nil set grants nothing.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the permissions sorted
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Policy is a role-scoped allow/deny rule
type Policy struct {
	ID     int64
	RoleID int64
	Effect Effect
	// Permission is nil when the policy applies to every permission
	Permission *Permission
	// Condition is nil when the policy always matches
	Condition condition.Condition
}

// Applies reports whether the policy's permission filter covers p
func (p *Policy) Applies(perm Permission) bool {
	return p.Permission == nil || *p.Permission == perm
}

// User is the actor requesting access
type User struct {
	ID         string         `json:"id" yaml:"id"`
	Roles      []RoleRef      `json:"roles" yaml:"roles"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// IsSuperAdmin reports whether any role held by the user bypasses all checks
func (u *User) IsSuperAdmin() bool {
	for _, r := range u.Roles {
		if r.IsSuperAdmin {
			return true
		}
	}
	return false
}

// Attr resolves a user attribute. "id" maps to the user ID; other keys are
// looked up in Attributes, exact key first, then as a dotted path.
func (u *User) Attr(key string) (any, bool) {
	if u == nil {
		return nil, false
	}
	if key == "id" {
		return u.ID, true
	}
	return Lookup(u.Attributes, key)
}

// Resource is the caller-supplied record targeted by a check. Nil means no resource.
type Resource map[string]any

// Attr resolves a resource attribute with the same rules as User.Attr
func (r Resource) Attr(key string) (any, bool) {
	return Lookup(r, key)
}

// Check is one entry of a batch authorization request
type Check struct {
	Permission Permission `json:"permission"`
	Resource   Resource   `json:"resource,omitempty"`
}

// CheckResult is the outcome of one batch entry. Err is set when the check
// failed closed because of bad policy data.
type CheckResult struct {
	Allowed bool
	Err     error
}

package policy

import (
	"errors"
	"fmt"

	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

var (
	// ErrInvalidEffect is returned for a policy effect other than allow/deny
	ErrInvalidEffect = errors.New("invalid policy effect")

	// ErrInvalidRole is returned when role data fails validation
	ErrInvalidRole = errors.New("invalid role")
)

// Validator checks role and policy records before they are handed to the engine
type Validator struct {
	// Track seen policy ids to detect duplicates within a role
	seenPolicies map[int64]bool
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		seenPolicies: make(map[int64]bool),
	}
}

// ValidateRole validates a hydrated role and every policy attached to it
func (v *Validator) ValidateRole(role *types.Role) error {
	if role == nil {
		return fmt.Errorf("%w: role cannot be nil", ErrInvalidRole)
	}
	if role.ID <= 0 {
		return fmt.Errorf("%w: role id must be positive, got %d", ErrInvalidRole, role.ID)
	}
	if role.Name == "" {
		return fmt.Errorf("%w: role %d has no name", ErrInvalidRole, role.ID)
	}

	// Permissions are opaque tokens compared by equality; only the empty
	// token is rejected
	if _, ok := role.Permissions[""]; ok {
		return fmt.Errorf("%w: role %d has an empty permission", ErrInvalidRole, role.ID)
	}

	v.seenPolicies = make(map[int64]bool)
	for i := range role.Policies {
		pol := &role.Policies[i]
		if err := v.ValidatePolicy(pol); err != nil {
			return fmt.Errorf("role %d policy at index %d: %w", role.ID, i, err)
		}
		if pol.RoleID != 0 && pol.RoleID != role.ID {
			return fmt.Errorf("%w: policy %d belongs to role %d, attached to role %d",
				ErrInvalidRole, pol.ID, pol.RoleID, role.ID)
		}
		if pol.ID != 0 {
			if v.seenPolicies[pol.ID] {
				return fmt.Errorf("%w: duplicate policy id %d in role %d", ErrInvalidRole, pol.ID, role.ID)
			}
			v.seenPolicies[pol.ID] = true
		}
	}

	return nil
}

// ValidatePolicy validates the structure of a single policy
func (v *Validator) ValidatePolicy(pol *types.Policy) error {
	if pol == nil {
		return fmt.Errorf("policy cannot be nil")
	}

	if !pol.Effect.Valid() {
		return fmt.Errorf("%w: %q (must be 'allow' or 'deny')", ErrInvalidEffect, pol.Effect)
	}

	if pol.Permission != nil && *pol.Permission == "" {
		return fmt.Errorf("policy %d: empty permission filter", pol.ID)
	}

	if pol.Condition != nil {
		if err := condition.Validate(pol.Condition); err != nil {
			return fmt.Errorf("invalid condition: %w", err)
		}
	}

	return nil
}

// UnreachablePolicies reports policies that can never match because an
// earlier unconditional policy covers the same permission. First match wins,
// so these are usually authoring mistakes rather than errors.
func UnreachablePolicies(role *types.Role) []string {
	var warnings []string

	for i := range role.Policies {
		pol := &role.Policies[i]
		for j := 0; j < i; j++ {
			prev := &role.Policies[j]
			if prev.Condition != nil {
				continue
			}
			if prev.Permission == nil || (pol.Permission != nil && *pol.Permission == *prev.Permission) {
				warnings = append(warnings,
					fmt.Sprintf("policy %d (index %d) is unreachable: unconditional policy %d (index %d) matches first",
						pol.ID, i, prev.ID, j))
				break
			}
		}
	}

	return warnings
}

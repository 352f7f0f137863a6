// Package policy provides role-scoped policy matching and validation
package policy

import (
	"fmt"

	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

// Match walks policies in stored order and returns the effect of the first
// policy whose permission filter covers perm and whose condition holds.
// A policy whose condition is false is skipped, not treated as a deny.
// DecisionNone is returned when nothing matches.
//
// A malformed condition stops the walk: the caller gets DecisionNone and an
// error wrapping condition.ErrMalformedCondition.
func Match(policies []types.Policy, perm types.Permission, user *types.User, resource types.Resource) (types.Decision, error) {
	for i := range policies {
		pol := &policies[i]
		if !pol.Applies(perm) {
			continue
		}

		if pol.Condition != nil {
			ok, err := condition.Evaluate(pol.Condition, user, resource)
			if err != nil {
				return types.DecisionNone, fmt.Errorf("policy %d: %w", pol.ID, err)
			}
			if !ok {
				continue
			}
		}

		decision := pol.Effect.Decision()
		if decision == types.DecisionNone {
			return types.DecisionNone, fmt.Errorf("policy %d: %w", pol.ID, ErrInvalidEffect)
		}
		return decision, nil
	}

	return types.DecisionNone, nil
}

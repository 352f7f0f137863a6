package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

func perm(p string) *types.Permission {
	pp := types.Permission(p)
	return &pp
}

var (
	alwaysTrue  = condition.Eq(condition.Lit(1), condition.Lit(1))
	alwaysFalse = condition.Eq(condition.Lit(1), condition.Lit(2))
)

func TestMatch(t *testing.T) {
	user := &types.User{ID: "u1"}

	tests := []struct {
		name     string
		policies []types.Policy
		perm     types.Permission
		resource types.Resource
		want     types.Decision
	}{
		{
			name: "empty list",
			perm: "user:update",
			want: types.DecisionNone,
		},
		{
			name:     "unconditional allow",
			policies: []types.Policy{{ID: 1, Effect: types.EffectAllow, Permission: perm("user:update")}},
			perm:     "user:update",
			want:     types.DecisionAllow,
		},
		{
			name:     "other permission skipped",
			policies: []types.Policy{{ID: 1, Effect: types.EffectDeny, Permission: perm("user:delete")}},
			perm:     "user:update",
			want:     types.DecisionNone,
		},
		{
			name:     "wildcard permission",
			policies: []types.Policy{{ID: 1, Effect: types.EffectDeny}},
			perm:     "anything:at-all",
			want:     types.DecisionDeny,
		},
		{
			name: "first match wins after false condition",
			policies: []types.Policy{
				{ID: 1, Effect: types.EffectAllow, Permission: perm("P"), Condition: alwaysFalse},
				{ID: 2, Effect: types.EffectDeny, Permission: perm("P"), Condition: alwaysTrue},
			},
			perm: "P",
			want: types.DecisionDeny,
		},
		{
			name: "earlier match shadows later",
			policies: []types.Policy{
				{ID: 1, Effect: types.EffectAllow, Permission: perm("P")},
				{ID: 2, Effect: types.EffectDeny, Permission: perm("P")},
			},
			perm: "P",
			want: types.DecisionAllow,
		},
		{
			name: "all conditions false",
			policies: []types.Policy{
				{ID: 1, Effect: types.EffectAllow, Condition: alwaysFalse},
				{ID: 2, Effect: types.EffectDeny, Condition: alwaysFalse},
			},
			perm: "P",
			want: types.DecisionNone,
		},
		{
			name: "owner condition with resource",
			policies: []types.Policy{{
				ID: 1, Effect: types.EffectAllow, Permission: perm("user:update"),
				Condition: condition.Eq(condition.User("id"), condition.Resource("id")),
			}},
			perm:     "user:update",
			resource: types.Resource{"id": "u1"},
			want:     types.DecisionAllow,
		},
		{
			name: "owner condition without resource",
			policies: []types.Policy{{
				ID: 1, Effect: types.EffectAllow, Permission: perm("user:update"),
				Condition: condition.Eq(condition.User("id"), condition.Resource("id")),
			}},
			perm: "user:update",
			want: types.DecisionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.policies, tt.perm, user, tt.resource)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatch_MalformedCondition(t *testing.T) {
	policies := []types.Policy{
		{ID: 1, Effect: types.EffectAllow, Permission: perm("other")},
		{ID: 42, Effect: types.EffectAllow, Condition: condition.AllOf(nil)},
		{ID: 43, Effect: types.EffectAllow},
	}

	got, err := Match(policies, "P", &types.User{ID: "u1"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, condition.ErrMalformedCondition)
	assert.Contains(t, err.Error(), "policy 42")
	assert.Equal(t, types.DecisionNone, got)
}

func TestMatch_InvalidEffect(t *testing.T) {
	policies := []types.Policy{{ID: 5, Effect: "audit"}}

	got, err := Match(policies, "P", &types.User{ID: "u1"}, nil)
	assert.ErrorIs(t, err, ErrInvalidEffect)
	assert.Equal(t, types.DecisionNone, got)
}

func TestMatch_DoesNotMutate(t *testing.T) {
	policies := []types.Policy{
		{ID: 1, Effect: types.EffectDeny, Permission: perm("P"), Condition: alwaysFalse},
		{ID: 2, Effect: types.EffectAllow, Permission: perm("P")},
	}
	before := make([]types.Policy, len(policies))
	copy(before, policies)

	_, err := Match(policies, "P", &types.User{ID: "u1"}, types.Resource{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, before, policies)
}

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

func batchFixture() (*fakeHydrator, *types.User) {
	member := role(2, []types.Permission{"post:create", "user:read"},
		types.Policy{Effect: types.EffectAllow, Permission: perm("user:update"), Condition: isOwner},
		types.Policy{Effect: types.EffectDeny, Permission: perm("user:read"),
			Condition: condition.Eq(condition.Resource("private"), condition.Lit(true))},
	)
	moderator := role(3, []types.Permission{"post:delete"},
		types.Policy{Effect: types.EffectDeny, Permission: perm("post:delete"),
			Condition: condition.In(condition.Resource("status"), condition.Lit("locked"), condition.Lit("archived"))},
	)
	reader := role(4, []types.Permission{"user:read"})

	user := userWith(member, moderator)
	user.Attributes = map[string]any{"team": "core"}
	user.Roles = append(user.Roles, reader.RoleRef)

	return newFakeHydrator(member, moderator, reader), user
}

func batchChecks() []types.Check {
	return []types.Check{
		{Permission: "post:create"},
		{Permission: "post:delete", Resource: types.Resource{"status": "open"}},
		{Permission: "post:delete", Resource: types.Resource{"status": "locked"}},
		{Permission: "user:update", Resource: types.Resource{"id": "u1"}},
		{Permission: "user:update", Resource: types.Resource{"id": "u2"}},
		{Permission: "user:update"},
		{Permission: "user:read", Resource: types.Resource{"private": true}},
		{Permission: "user:read"},
		{Permission: "billing:view"},
	}
}

func TestAuthorizeBatch_MatchesAuthorize(t *testing.T) {
	h, user := batchFixture()
	e := newEngine(t, h)
	checks := batchChecks()

	got, err := e.AuthorizeBatch(context.Background(), checks, user)
	require.NoError(t, err)
	require.Len(t, got, len(checks))
	assert.Equal(t, 1, h.Calls(), "batch must hydrate exactly once")

	for i, c := range checks {
		want, err := e.Authorize(context.Background(), c.Permission, user, c.Resource)
		require.NoError(t, err)
		assert.Equal(t, want, got[i], "check %d (%s)", i, c.Permission)
	}

	assert.Equal(t, []bool{true, true, false, true, false, false, true, true, false}, got)
}

func TestAuthorizeBatch_Empty(t *testing.T) {
	h, user := batchFixture()
	e := newEngine(t, h)

	got, err := e.AuthorizeBatch(context.Background(), nil, user)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, h.Calls())
}

func TestEvaluateBatch_IsolatesMalformedCondition(t *testing.T) {
	healthy := role(2, []types.Permission{"a", "c"})
	broken := role(3, nil,
		types.Policy{Effect: types.EffectAllow, Permission: perm("b"), Condition: condition.Negate(nil)})
	h := newFakeHydrator(healthy, broken)
	e := newEngine(t, h)

	checks := []types.Check{{Permission: "a"}, {Permission: "b"}, {Permission: "c"}, {Permission: "d"}}
	results, err := e.EvaluateBatch(context.Background(), checks, userWith(healthy, broken))
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Allowed)
	assert.NoError(t, results[0].Err)

	assert.False(t, results[1].Allowed)
	assert.ErrorIs(t, results[1].Err, condition.ErrMalformedCondition)

	assert.True(t, results[2].Allowed)
	assert.NoError(t, results[2].Err)

	// "d" reaches the broken role's policies only if they apply; they don't
	assert.False(t, results[3].Allowed)
	assert.NoError(t, results[3].Err)

	bools, err := e.AuthorizeBatch(context.Background(), checks, userWith(healthy, broken))
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true, false}, bools)
	assert.Equal(t, 2, h.Calls())
}

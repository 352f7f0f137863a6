package condition_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/authz-engine/rbac-core/pkg/condition"
	"github.com/authz-engine/rbac-core/pkg/types"
)

const ownerOrAdultJSON = `{
  "type": "or",
  "conditions": [
    {"type": "eq", "left": {"type": "user_attr", "key": "id"}, "right": {"type": "resource_attr", "key": "ownerId"}},
    {"type": "and", "conditions": [
      {"type": "gte", "left": {"type": "user_attr", "key": "age"}, "right": {"type": "literal", "value": 18}},
      {"type": "in", "left": {"type": "resource_attr", "key": "status"}, "right": [
        {"type": "literal", "value": "draft"},
        {"type": "literal", "value": "review"}
      ]},
      {"type": "not", "condition": {"type": "exists", "operand": {"type": "resource_attr", "key": "lockedAt"}}}
    ]}
  ]
}`

func TestParse_JSON(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(ownerOrAdultJSON), &raw))

	cond, err := condition.Parse(raw)
	require.NoError(t, err)

	or, ok := cond.(condition.Or)
	require.True(t, ok)
	require.Len(t, or.Conditions, 2)
	assert.Equal(t, condition.Eq(condition.User("id"), condition.Resource("ownerId")), or.Conditions[0])

	user := &types.User{ID: "u2", Attributes: map[string]any{"age": 21}}
	got, err := condition.Evaluate(cond, user, types.Resource{"ownerId": "u1", "status": "review"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = condition.Evaluate(cond, user, types.Resource{"ownerId": "u1", "status": "review", "lockedAt": "yesterday"})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestParse_YAML(t *testing.T) {
	doc := `
type: and
conditions:
  - type: gt
    left: {type: user_attr, key: age}
    right: {type: literal, value: 18}
  - type: not_in
    left: {type: user_attr, key: email}
    right:
      - {type: literal, value: banned@example.com}
`
	var raw any
	require.NoError(t, yaml.Unmarshal([]byte(doc), &raw))

	cond, err := condition.Parse(raw)
	require.NoError(t, err)

	user := &types.User{ID: "u1", Attributes: map[string]any{"age": 30, "email": "u1@example.com"}}
	got, err := condition.Evaluate(cond, user, nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown node", `{"type": "xor", "conditions": []}`},
		{"missing type", `{"conditions": []}`},
		{"unknown operand", `{"type": "exists", "operand": {"type": "env_attr", "key": "x"}}`},
		{"missing operand", `{"type": "exists"}`},
		{"missing key", `{"type": "eq", "left": {"type": "user_attr"}, "right": {"type": "literal", "value": 1}}`},
		{"and without list", `{"type": "and", "conditions": {"type": "eq"}}`},
		{"in with scalar right", `{"type": "in", "left": {"type": "literal", "value": 1}, "right": {"type": "literal", "value": 1}}`},
		{"not without child", `{"type": "not"}`},
		{"nested unknown", `{"type": "and", "conditions": [{"type": "or", "conditions": [{"type": "regex"}]}]}`},
		{"scalar node", `"eq"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw any
			require.NoError(t, json.Unmarshal([]byte(tt.doc), &raw))
			_, err := condition.Parse(raw)
			assert.ErrorIs(t, err, condition.ErrMalformedCondition)
		})
	}
}

func TestEncode_ParseRoundTrip(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(ownerOrAdultJSON), &raw))
	cond, err := condition.Parse(raw)
	require.NoError(t, err)

	encoded, err := condition.Encode(cond)
	require.NoError(t, err)

	data, err := json.Marshal(encoded)
	require.NoError(t, err)
	assert.JSONEq(t, ownerOrAdultJSON, string(data))
}

func TestEncode_RejectsForeignNodes(t *testing.T) {
	_, err := condition.Encode(condition.AnyOf(condition.Exists(nil)))
	assert.ErrorIs(t, err, condition.ErrMalformedCondition)
	assert.NoError(t, condition.Validate(condition.Exists(condition.User("id"))))
}

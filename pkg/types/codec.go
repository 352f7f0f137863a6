package types

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/authz-engine/rbac-core/pkg/condition"
)

// policyDoc is the serialized form of a Policy, shared by JSON and YAML
type policyDoc struct {
	ID         int64       `json:"id" yaml:"id"`
	RoleID     int64       `json:"roleId,omitempty" yaml:"roleId,omitempty"`
	Effect     Effect      `json:"effect" yaml:"effect"`
	Permission *Permission `json:"permission,omitempty" yaml:"permission,omitempty"`
	Condition  any         `json:"condition,omitempty" yaml:"condition,omitempty"`
}

func (p Policy) toDoc() (policyDoc, error) {
	doc := policyDoc{
		ID:         p.ID,
		RoleID:     p.RoleID,
		Effect:     p.Effect,
		Permission: p.Permission,
	}
	if p.Condition != nil {
		encoded, err := condition.Encode(p.Condition)
		if err != nil {
			return doc, fmt.Errorf("policy %d: %w", p.ID, err)
		}
		doc.Condition = encoded
	}
	return doc, nil
}

func (p *Policy) fromDoc(doc policyDoc) error {
	if !doc.Effect.Valid() {
		return fmt.Errorf("policy %d: invalid effect %q", doc.ID, doc.Effect)
	}

	var cond condition.Condition
	if doc.Condition != nil {
		parsed, err := condition.Parse(doc.Condition)
		if err != nil {
			return fmt.Errorf("policy %d: %w", doc.ID, err)
		}
		cond = parsed
	}

	*p = Policy{
		ID:         doc.ID,
		RoleID:     doc.RoleID,
		Effect:     doc.Effect,
		Permission: doc.Permission,
		Condition:  cond,
	}
	return nil
}

// MarshalJSON encodes the condition tree in its tagged map form
func (p Policy) MarshalJSON() ([]byte, error) {
	doc, err := p.toDoc()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes and validates a policy
func (p *Policy) UnmarshalJSON(data []byte) error {
	var doc policyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	return p.fromDoc(doc)
}

// MarshalYAML encodes the condition tree in its tagged map form
func (p Policy) MarshalYAML() (interface{}, error) {
	return p.toDoc()
}

// UnmarshalYAML decodes and validates a policy
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var doc policyDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	return p.fromDoc(doc)
}

// MarshalJSON encodes the set as a sorted list
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a list of permissions
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}

// MarshalYAML encodes the set as a sorted list
func (s PermissionSet) MarshalYAML() (interface{}, error) {
	return s.Slice(), nil
}

// UnmarshalYAML decodes a list of permissions
func (s *PermissionSet) UnmarshalYAML(value *yaml.Node) error {
	var perms []Permission
	if err := value.Decode(&perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}

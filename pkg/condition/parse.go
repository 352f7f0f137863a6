package condition

import (
	"fmt"
)

// Parse builds a tree from its decoded JSON or YAML form:
//
//	{"type": "eq", "left": {"type": "user_attr", "key": "id"}, "right": {"type": "literal", "value": 1}}
//
// Unknown node kinds, operand kinds and missing fields are rejected with
// ErrMalformedCondition.
func Parse(raw any) (Condition, error) {
	m, err := asMap(raw)
	if err != nil {
		return nil, err
	}
	kind, err := kindOf(m)
	if err != nil {
		return nil, err
	}

	switch kind {
	case kindAnd, kindOr:
		list, err := asList(m["conditions"], kind+".conditions")
		if err != nil {
			return nil, err
		}
		children := make([]Condition, len(list))
		for i, item := range list {
			child, err := Parse(item)
			if err != nil {
				return nil, wrapIndex(kind, i, err)
			}
			children[i] = child
		}
		if kind == kindAnd {
			return And{Conditions: children}, nil
		}
		return Or{Conditions: children}, nil

	case kindNot:
		inner, ok := m["condition"]
		if !ok {
			return nil, malformed("not: missing condition")
		}
		child, err := Parse(inner)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return Not{Condition: child}, nil
	}

	op := Op(kind)
	switch {
	case op.isCompare():
		left, err := parseOperand(m["left"], kind+".left")
		if err != nil {
			return nil, err
		}
		right, err := parseOperand(m["right"], kind+".right")
		if err != nil {
			return nil, err
		}
		return Compare{Op: op, Left: left, Right: right}, nil

	case op.isMembership():
		left, err := parseOperand(m["left"], kind+".left")
		if err != nil {
			return nil, err
		}
		list, err := asList(m["right"], kind+".right")
		if err != nil {
			return nil, err
		}
		right := make([]Operand, len(list))
		for i, item := range list {
			o, err := parseOperand(item, fmt.Sprintf("%s.right[%d]", kind, i))
			if err != nil {
				return nil, err
			}
			right[i] = o
		}
		return Membership{Op: op, Left: left, Right: right}, nil

	case op.isPresence():
		o, err := parseOperand(m["operand"], kind+".operand")
		if err != nil {
			return nil, err
		}
		return Presence{Op: op, Operand: o}, nil
	}

	return nil, malformed("unknown condition type %q", kind)
}

func parseOperand(raw any, path string) (Operand, error) {
	if raw == nil {
		return nil, malformed("%s: missing operand", path)
	}
	m, err := asMap(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	kind, err := kindOf(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	switch kind {
	case kindUserAttr, kindResourceAttr:
		key, ok := m["key"].(string)
		if !ok || key == "" {
			return nil, malformed("%s: %s requires a string key", path, kind)
		}
		if kind == kindUserAttr {
			return UserAttr{Key: key}, nil
		}
		return ResourceAttr{Key: key}, nil
	case kindLiteral:
		return Literal{Value: m["value"]}, nil
	}
	return nil, malformed("%s: unknown operand type %q", path, kind)
}

func asMap(raw any) (map[string]any, error) {
	switch m := raw.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, malformed("non-string key %v", k)
			}
			out[ks] = v
		}
		return out, nil
	case nil:
		return nil, malformed("empty node")
	}
	return nil, malformed("expected object, got %T", raw)
}

func asList(raw any, path string) ([]any, error) {
	switch l := raw.(type) {
	case []any:
		return l, nil
	case nil:
		return nil, malformed("%s: missing list", path)
	}
	return nil, malformed("%s: expected list, got %T", path, raw)
}

func kindOf(m map[string]any) (string, error) {
	kind, ok := m["type"].(string)
	if !ok || kind == "" {
		return "", malformed("missing type")
	}
	return kind, nil
}

// Encode returns the map form accepted by Parse
func Encode(cond Condition) (map[string]any, error) {
	switch n := cond.(type) {
	case And:
		return encodeList(kindAnd, n.Conditions)
	case Or:
		return encodeList(kindOr, n.Conditions)
	case Not:
		inner, err := Encode(n.Condition)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return map[string]any{"type": kindNot, "condition": inner}, nil
	case Compare:
		if !n.Op.isCompare() {
			return nil, malformed("unknown comparison operator %q", n.Op)
		}
		left, err := encodeOperand(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := encodeOperand(n.Right)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": string(n.Op), "left": left, "right": right}, nil
	case Membership:
		if !n.Op.isMembership() {
			return nil, malformed("unknown membership operator %q", n.Op)
		}
		left, err := encodeOperand(n.Left)
		if err != nil {
			return nil, err
		}
		right := make([]any, len(n.Right))
		for i, o := range n.Right {
			enc, err := encodeOperand(o)
			if err != nil {
				return nil, err
			}
			right[i] = enc
		}
		return map[string]any{"type": string(n.Op), "left": left, "right": right}, nil
	case Presence:
		if !n.Op.isPresence() {
			return nil, malformed("unknown presence operator %q", n.Op)
		}
		o, err := encodeOperand(n.Operand)
		if err != nil {
			return nil, err
		}
		return map[string]any{"type": string(n.Op), "operand": o}, nil
	case Unparsed:
		return nil, n.err()
	case nil:
		return nil, malformed("nil condition node")
	}
	return nil, malformed("unsupported condition node %T", cond)
}

func encodeList(kind string, conds []Condition) (map[string]any, error) {
	list := make([]any, len(conds))
	for i, c := range conds {
		enc, err := Encode(c)
		if err != nil {
			return nil, wrapIndex(kind, i, err)
		}
		list[i] = enc
	}
	return map[string]any{"type": kind, "conditions": list}, nil
}

func encodeOperand(o Operand) (map[string]any, error) {
	switch op := o.(type) {
	case UserAttr:
		return map[string]any{"type": kindUserAttr, "key": op.Key}, nil
	case ResourceAttr:
		return map[string]any{"type": kindResourceAttr, "key": op.Key}, nil
	case Literal:
		return map[string]any{"type": kindLiteral, "value": op.Value}, nil
	case nil:
		return nil, malformed("nil operand")
	}
	return nil, malformed("unsupported operand %T", o)
}

// Validate walks the whole tree, without short-circuiting, and reports the
// first malformed node
func Validate(cond Condition) error {
	_, err := Encode(cond)
	return err
}

package condition

import (
	"fmt"
	"reflect"
)

// Attributes resolves named attributes of a user or resource
type Attributes interface {
	Attr(key string) (any, bool)
}

// value is a resolved operand. A defined value may still be nil (null).
type value struct {
	v       any
	defined bool
}

// Evaluate evaluates cond against the user and optional resource. The result
// is false whenever an attribute is missing or types do not line up; an error
// is returned only for malformed trees.
func Evaluate(cond Condition, user, resource Attributes) (bool, error) {
	switch n := cond.(type) {
	case And:
		for i, child := range n.Conditions {
			ok, err := Evaluate(child, user, resource)
			if err != nil {
				return false, wrapIndex("and", i, err)
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case Or:
		for i, child := range n.Conditions {
			ok, err := Evaluate(child, user, resource)
			if err != nil {
				return false, wrapIndex("or", i, err)
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case Not:
		ok, err := Evaluate(n.Condition, user, resource)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case Compare:
		if !n.Op.isCompare() {
			return false, malformed("unknown comparison operator %q", n.Op)
		}
		left, err := resolve(n.Left, user, resource)
		if err != nil {
			return false, err
		}
		right, err := resolve(n.Right, user, resource)
		if err != nil {
			return false, err
		}
		return compare(n.Op, left, right), nil

	case Membership:
		if !n.Op.isMembership() {
			return false, malformed("unknown membership operator %q", n.Op)
		}
		left, err := resolve(n.Left, user, resource)
		if err != nil {
			return false, err
		}
		member := false
		for _, o := range n.Right {
			item, err := resolve(o, user, resource)
			if err != nil {
				return false, err
			}
			if !member && equal(left, item) {
				member = true
			}
		}
		if n.Op == OpIn {
			return member, nil
		}
		return !member, nil

	case Presence:
		if !n.Op.isPresence() {
			return false, malformed("unknown presence operator %q", n.Op)
		}
		v, err := resolve(n.Operand, user, resource)
		if err != nil {
			return false, err
		}
		present := v.defined && v.v != nil
		if n.Op == OpExists {
			return present, nil
		}
		return !present, nil

	case Unparsed:
		return false, n.err()

	case nil:
		return false, malformed("nil condition node")

	default:
		return false, malformed("unsupported condition node %T", cond)
	}
}

func wrapIndex(kind string, i int, err error) error {
	return fmt.Errorf("%s[%d]: %w", kind, i, err)
}

func resolve(o Operand, user, resource Attributes) (value, error) {
	switch op := o.(type) {
	case UserAttr:
		return lookup(user, op.Key), nil
	case ResourceAttr:
		return lookup(resource, op.Key), nil
	case Literal:
		return value{v: normalize(op.Value), defined: true}, nil
	case nil:
		return value{}, malformed("nil operand")
	default:
		return value{}, malformed("unsupported operand %T", o)
	}
}

func lookup(src Attributes, key string) value {
	if isNil(src) {
		return value{}
	}
	v, ok := src.Attr(key)
	if !ok {
		return value{}
	}
	return value{v: normalize(v), defined: true}
}

// isNil catches typed nils such as a nil map or pointer stored in the interface
func isNil(src Attributes) bool {
	if src == nil {
		return true
	}
	rv := reflect.ValueOf(src)
	switch rv.Kind() {
	case reflect.Map, reflect.Ptr, reflect.Slice, reflect.Interface, reflect.Func:
		return rv.IsNil()
	}
	return false
}

// equal is structural equality. Undefined equals nothing, not even another
// undefined value.
func equal(a, b value) bool {
	if !a.defined || !b.defined {
		return false
	}
	return reflect.DeepEqual(a.v, b.v)
}

func compare(op Op, a, b value) bool {
	switch op {
	case OpEq:
		return equal(a, b)
	case OpNeq:
		return !equal(a, b)
	}

	if !a.defined || !b.defined {
		return false
	}

	var c int
	switch l := a.v.(type) {
	case float64:
		r, ok := b.v.(float64)
		if !ok {
			return false
		}
		switch {
		case l < r:
			c = -1
		case l > r:
			c = 1
		case l == r:
			c = 0
		default:
			return false // NaN
		}
	case string:
		r, ok := b.v.(string)
		if !ok {
			return false
		}
		switch {
		case l < r:
			c = -1
		case l > r:
			c = 1
		}
	default:
		return false
	}

	switch op {
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

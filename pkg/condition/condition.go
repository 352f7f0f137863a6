// Package condition implements the closed boolean expression language used by
// policies to compare user and resource attributes.
//
// A tree is pure data. The node set is sealed: only the types declared here
// satisfy Condition and Operand, and anything else reaching the evaluator is
// reported as ErrMalformedCondition.
package condition

import (
	"errors"
	"fmt"
)

// ErrMalformedCondition marks a tree containing a node, operand or operator
// the evaluator does not recognize
var ErrMalformedCondition = errors.New("malformed condition")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedCondition, fmt.Sprintf(format, args...))
}

// Op names a comparison, membership or presence operator
type Op string

const (
	OpEq        Op = "eq"
	OpNeq       Op = "neq"
	OpLt        Op = "lt"
	OpLte       Op = "lte"
	OpGt        Op = "gt"
	OpGte       Op = "gte"
	OpIn        Op = "in"
	OpNotIn     Op = "not_in"
	OpExists    Op = "exists"
	OpNotExists Op = "not_exists"
)

const (
	kindAnd          = "and"
	kindOr           = "or"
	kindNot          = "not"
	kindUserAttr     = "user_attr"
	kindResourceAttr = "resource_attr"
	kindLiteral      = "literal"
)

func (o Op) isCompare() bool {
	switch o {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

func (o Op) isMembership() bool {
	return o == OpIn || o == OpNotIn
}

func (o Op) isPresence() bool {
	return o == OpExists || o == OpNotExists
}

// Condition is a node of the expression tree
type Condition interface {
	isCondition()
}

// Operand resolves to a value during evaluation
type Operand interface {
	isOperand()
}

// And is true when every child is true. An empty And is true.
type And struct {
	Conditions []Condition
}

// Or is true when at least one child is true. An empty Or is false.
type Or struct {
	Conditions []Condition
}

// Not negates its child
type Not struct {
	Condition Condition
}

// Compare applies eq, neq, lt, lte, gt or gte to two operands
type Compare struct {
	Op    Op
	Left  Operand
	Right Operand
}

// Membership tests Left against the resolved Right list with in or not_in
type Membership struct {
	Op    Op
	Left  Operand
	Right []Operand
}

// Presence tests whether an operand resolves to a defined, non-null value
type Presence struct {
	Op      Op
	Operand Operand
}

// Unparsed stands in for stored condition data that could not be parsed.
// Evaluating, encoding or validating it reports ErrMalformedCondition, so a
// policy carrying it fails closed only for the checks that reach it.
type Unparsed struct {
	Raw string
	Err error
}

func (u Unparsed) err() error {
	if errors.Is(u.Err, ErrMalformedCondition) {
		return u.Err
	}
	return malformed("unparsed condition %q: %v", u.Raw, u.Err)
}

func (And) isCondition()        {}
func (Or) isCondition()         {}
func (Not) isCondition()        {}
func (Compare) isCondition()    {}
func (Membership) isCondition() {}
func (Presence) isCondition()   {}
func (Unparsed) isCondition()   {}

// UserAttr resolves a field of the user
type UserAttr struct {
	Key string
}

// ResourceAttr resolves a field of the resource; undefined when no resource is given
type ResourceAttr struct {
	Key string
}

// Literal resolves to its embedded value
type Literal struct {
	Value any
}

func (UserAttr) isOperand()     {}
func (ResourceAttr) isOperand() {}
func (Literal) isOperand()      {}

// AllOf builds an and node
func AllOf(conds ...Condition) And { return And{Conditions: conds} }

// AnyOf builds an or node
func AnyOf(conds ...Condition) Or { return Or{Conditions: conds} }

// Negate builds a not node
func Negate(cond Condition) Not { return Not{Condition: cond} }

// Eq builds an equality comparison
func Eq(l, r Operand) Compare { return Compare{Op: OpEq, Left: l, Right: r} }

// Neq builds an inequality comparison
func Neq(l, r Operand) Compare { return Compare{Op: OpNeq, Left: l, Right: r} }

// Lt builds a less-than comparison
func Lt(l, r Operand) Compare { return Compare{Op: OpLt, Left: l, Right: r} }

// Lte builds a less-than-or-equal comparison
func Lte(l, r Operand) Compare { return Compare{Op: OpLte, Left: l, Right: r} }

// Gt builds a greater-than comparison
func Gt(l, r Operand) Compare { return Compare{Op: OpGt, Left: l, Right: r} }

// Gte builds a greater-than-or-equal comparison
func Gte(l, r Operand) Compare { return Compare{Op: OpGte, Left: l, Right: r} }

// Exists is true when o resolves to a defined, non-null value
func Exists(o Operand) Presence { return Presence{Op: OpExists, Operand: o} }

// NotExists is the negation of Exists
func NotExists(o Operand) Presence { return Presence{Op: OpNotExists, Operand: o} }

// User references a user attribute; "id" resolves to the user id
func User(key string) UserAttr { return UserAttr{Key: key} }

// Resource references a resource attribute
func Resource(key string) ResourceAttr { return ResourceAttr{Key: key} }

// Lit wraps a constant value
func Lit(v any) Literal { return Literal{Value: v} }

// In is true when l equals any of r
func In(l Operand, r ...Operand) Membership {
	return Membership{Op: OpIn, Left: l, Right: r}
}

// NotIn is true when l equals none of r, or is undefined
func NotIn(l Operand, r ...Operand) Membership {
	return Membership{Op: OpNotIn, Left: l, Right: r}
}

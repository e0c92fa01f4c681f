package network

import "github.com/roach88/chainer/internal/ir"

// FieldKind identifies the shape of one field constraint in a pattern.
type FieldKind uint8

const (
	// FieldConst matches a literal value.
	FieldConst FieldKind = iota
	// FieldVar binds or tests a single-field variable (?x).
	FieldVar
	// FieldMultiVar binds or tests a multifield variable ($?x).
	FieldMultiVar
	// FieldWildcard matches any single field (?).
	FieldWildcard
	// FieldMultiWildcard matches any run of fields ($?).
	FieldMultiWildcard
)

// Multi reports whether the kind spans zero or more fields.
func (k FieldKind) Multi() bool {
	return k == FieldMultiVar || k == FieldMultiWildcard
}

// FieldDef is one field constraint: a literal, a variable, or a wildcard,
// optionally negated (~red, ~?x) and optionally guarded by a predicate
// over variables (&:(> ?x 3)).
type FieldDef struct {
	Kind    FieldKind
	Value   ir.Value
	Var     string
	Negated bool
	Pred    Expr
}

// SlotPattern constrains one slot. For implied templates Slot is empty or
// factstore.ImpliedSlot.
type SlotPattern struct {
	Slot   string
	Fields []FieldDef
}

// PatternDef matches facts of one template. Goal patterns match goal facts
// instead of ordinary ones. Bind names a fact-address variable.
type PatternDef struct {
	Template string
	Goal     bool
	Bind     string
	Slots    []SlotPattern
}

// CondKind identifies a conditional element.
type CondKind uint8

const (
	// CondPattern is a positive pattern.
	CondPattern CondKind = iota
	// CondNot matches when its pattern (or group) has no match.
	CondNot
	// CondExists matches once when its pattern (or group) has any match.
	CondExists
	// CondTest evaluates a predicate over the variables bound so far.
	CondTest
)

func (k CondKind) String() string {
	switch k {
	case CondNot:
		return "not"
	case CondExists:
		return "exists"
	case CondTest:
		return "test"
	default:
		return "pattern"
	}
}

// Condition is one conditional element of a rule. Not/Exists carry either a
// single Pattern or a Group of nested conditions.
type Condition struct {
	Kind    CondKind
	Pattern *PatternDef
	Group   []Condition
	Test    Expr
}

// ActionKind identifies a declarative rule action.
type ActionKind uint8

const (
	// ActionAssert asserts a fact built from expressions.
	ActionAssert ActionKind = iota
	// ActionRetract retracts the fact bound to a fact-address variable.
	ActionRetract
)

// ActionDef is a declarative right-hand-side action. Rules built from code
// may use Go callbacks instead.
type ActionDef struct {
	Kind     ActionKind
	Template string
	Slots    map[string]Expr
	Target   string
}

// RuleDef is a rule as handed over by a front end.
type RuleDef struct {
	Name       string
	Salience   int
	Conditions []Condition
	Actions    []ActionDef
}

// Pat is a convenience constructor for positive pattern conditions.
func Pat(p *PatternDef) Condition {
	return Condition{Kind: CondPattern, Pattern: p}
}

// Not wraps a pattern in a not conditional element.
func Not(p *PatternDef) Condition {
	return Condition{Kind: CondNot, Pattern: p}
}

// NotGroup wraps conditions in a not conditional element.
func NotGroup(conds ...Condition) Condition {
	return Condition{Kind: CondNot, Group: conds}
}

// Exists wraps a pattern in an exists conditional element.
func Exists(p *PatternDef) Condition {
	return Condition{Kind: CondExists, Pattern: p}
}

// ExistsGroup wraps conditions in an exists conditional element.
func ExistsGroup(conds ...Condition) Condition {
	return Condition{Kind: CondExists, Group: conds}
}

// TestCE builds a test conditional element.
func TestCE(e Expr) Condition {
	return Condition{Kind: CondTest, Test: e}
}

// C builds a literal field constraint.
func C(v ir.Value) FieldDef { return FieldDef{Kind: FieldConst, Value: v} }

// V builds a single-field variable constraint.
func V(name string) FieldDef { return FieldDef{Kind: FieldVar, Var: name} }

// MV builds a multifield variable constraint.
func MV(name string) FieldDef { return FieldDef{Kind: FieldMultiVar, Var: name} }

// Any builds a single-field wildcard.
func Any() FieldDef { return FieldDef{Kind: FieldWildcard} }

// AnyMulti builds a multifield wildcard.
func AnyMulti() FieldDef { return FieldDef{Kind: FieldMultiWildcard} }

// S builds a slot constraint.
func S(slot string, fields ...FieldDef) SlotPattern {
	return SlotPattern{Slot: slot, Fields: fields}
}

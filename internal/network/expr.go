package network

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
)

// Expr is a sealed expression tree evaluated by an Evaluator.
//
// Var appears only in rule definitions; the builder resolves every Var to a
// LeftVar (a binding of the left partial match) or a RightVar (the fact
// under test) before the expression reaches the network.
type Expr interface {
	isExpr()
	String() string
}

// Const is a literal value.
type Const struct {
	Value ir.Value
}

// Var is an unresolved variable reference by name.
type Var struct {
	Name string
}

// LeftVar reads a field of the fact bound at position Pattern of the left
// partial match.
type LeftVar struct {
	Pattern int
	Field   FieldRef
}

// RightVar reads a field of the fact being tested.
type RightVar struct {
	Field FieldRef
}

// Call applies a named function to its arguments.
type Call struct {
	Fn   string
	Args []Expr
}

func (Const) isExpr()    {}
func (Var) isExpr()      {}
func (LeftVar) isExpr()  {}
func (RightVar) isExpr() {}
func (Call) isExpr()     {}

func (c Const) String() string    { return c.Value.String() }
func (v Var) String() string      { return "?" + v.Name }
func (v LeftVar) String() string  { return fmt.Sprintf("L%d.%s", v.Pattern, v.Field) }
func (v RightVar) String() string { return "R." + v.Field.String() }

func (c Call) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Fn)
	for _, a := range c.Args {
		parts = append(parts, a.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Eq builds (eq a b).
func Eq(a, b Expr) Call { return Call{Fn: "eq", Args: []Expr{a, b}} }

// EvalContext is the binding environment of one evaluation: the left partial
// match's facts (nil entries for not/exists positions) and the fact under
// test, each with the multifield spans it was matched with. LeftSpans may be
// shorter than Left or nil.
type EvalContext struct {
	Left       []*factstore.Fact
	LeftSpans  []Spans
	Right      *factstore.Fact
	RightSpans Spans
}

func (c EvalContext) leftSpans(i int) Spans {
	if i < 0 || i >= len(c.LeftSpans) {
		return nil
	}
	return c.LeftSpans[i]
}

// Evaluator is the expression service the network calls to run tests and
// goal synthesis calls to re-derive values.
type Evaluator interface {
	Eval(ctx EvalContext, e Expr) (ir.Value, error)
}

// Function is a primitive available to Call.
type Function func(args []ir.Value) (ir.Value, error)

// ErrUnbound is returned when an expression reads a binding that does not exist.
var ErrUnbound = errors.New("unbound variable")

// DefaultEvaluator evaluates expressions over a table of primitive functions.
type DefaultEvaluator struct {
	funcs map[string]Function
}

// NewEvaluator creates an evaluator with the built-in comparison, arithmetic
// and boolean functions.
func NewEvaluator() *DefaultEvaluator {
	ev := &DefaultEvaluator{funcs: make(map[string]Function)}
	for name, fn := range builtins {
		ev.funcs[name] = fn
	}
	return ev
}

// Register adds or replaces a function.
func (ev *DefaultEvaluator) Register(name string, fn Function) {
	ev.funcs[name] = fn
}

// Eval implements Evaluator.
func (ev *DefaultEvaluator) Eval(ctx EvalContext, e Expr) (ir.Value, error) {
	switch x := e.(type) {
	case Const:
		return x.Value, nil
	case LeftVar:
		if x.Pattern < 0 || x.Pattern >= len(ctx.Left) || ctx.Left[x.Pattern] == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnbound, x)
		}
		return fieldValue(ctx.Left[x.Pattern], ctx.leftSpans(x.Pattern), x.Field)
	case RightVar:
		if ctx.Right == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnbound, x)
		}
		return fieldValue(ctx.Right, ctx.RightSpans, x.Field)
	case Call:
		fn, ok := ev.funcs[x.Fn]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", x.Fn)
		}
		// and/or short-circuit
		switch x.Fn {
		case "and", "or":
			want := x.Fn == "or"
			for _, a := range x.Args {
				v, err := ev.Eval(ctx, a)
				if err != nil {
					return nil, err
				}
				if ir.Truthy(v) == want {
					return ir.Bool(want), nil
				}
			}
			return ir.Bool(!want), nil
		}
		args := make([]ir.Value, len(x.Args))
		for i, a := range x.Args {
			v, err := ev.Eval(ctx, a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return fn(args)
	case Var:
		return nil, fmt.Errorf("%w: %s was never resolved", ErrUnbound, x)
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func fieldValue(f *factstore.Fact, spans Spans, r FieldRef) (ir.Value, error) {
	if r.Slot == WholeFact {
		return ir.Int(f.Index), nil
	}
	v, ok := FieldIn(f, spans, r)
	if !ok {
		return nil, fmt.Errorf("field %s out of range for %s", r, f.Template.Name)
	}
	return v, nil
}

// Truth evaluates e as a test: errors and FALSE both fail.
func Truth(ev Evaluator, ctx EvalContext, e Expr) bool {
	v, err := ev.Eval(ctx, e)
	return err == nil && ir.Truthy(v)
}

// Vars returns the names of every Var in e, in order of appearance.
func Vars(e Expr) []string {
	var out []string
	stack := []Expr{e}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		switch x := top.(type) {
		case Var:
			out = append(out, x.Name)
		case Call:
			for i := len(x.Args) - 1; i >= 0; i-- {
				stack = append(stack, x.Args[i])
			}
		}
	}
	return out
}

// UsesRight reports whether e reads the fact under test.
func UsesRight(e Expr) bool {
	switch x := e.(type) {
	case RightVar:
		return true
	case Call:
		for _, a := range x.Args {
			if UsesRight(a) {
				return true
			}
		}
	}
	return false
}

// Bind replaces every Var in e with a LeftVar addressing the variable's
// binding in a complete match of the rule.
func Bind(e Expr, vars map[string]VarLoc) (Expr, error) {
	return resolve(e, func(name string) (Expr, error) {
		loc, ok := vars[name]
		if !ok {
			return nil, fmt.Errorf("%w: ?%s", ErrUnbound, name)
		}
		return LeftVar{Pattern: loc.Pattern, Field: loc.Field}, nil
	})
}

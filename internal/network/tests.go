package network

import (
	"fmt"
	"strings"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
)

// Test is a sealed union of the constraints carried by pattern and join
// nodes. Each variant holds exactly the payload its check needs.
type Test interface {
	isTest()
	// Key is a canonical rendering used to share identical nodes.
	Key() string
}

// GoalTest splits a pattern tree on the fact's goal flag.
type GoalTest struct {
	Goal bool
}

// ConstantTest compares one field with a literal.
type ConstantTest struct {
	Field   FieldRef
	Value   ir.Value
	Negated bool
}

// LengthTest checks the field count of a multifield slot. With Exact the
// slot must hold exactly Min fields, otherwise at least Min.
type LengthTest struct {
	Slot  int
	Min   int
	Exact bool
}

// MultifieldMarker records where a multifield variable spans inside a slot.
// Gap counts the single fields between the previous multifield variable (or
// the slot start) and this one; After counts the single fields that follow
// it anywhere in the slot.
//
// The marker of a lone multifield variable always passes. In a slot with
// several, each marker binds its span per match: see Candidates.
type MultifieldMarker struct {
	Field FieldRef
	Gap   int
	After int
	Last  bool
}

// SlotEqualTest compares two fields of the same fact.
type SlotEqualTest struct {
	A, B    FieldRef
	Negated bool
}

// JoinEqualTest compares a field of the left binding at Pattern with a
// field of the right fact.
type JoinEqualTest struct {
	Pattern int
	Left    FieldRef
	Right   FieldRef
	Negated bool
}

// ExprTest is an arbitrary predicate handed to the evaluator.
type ExprTest struct {
	Expr Expr
}

func (GoalTest) isTest()         {}
func (ConstantTest) isTest()     {}
func (LengthTest) isTest()       {}
func (MultifieldMarker) isTest() {}
func (SlotEqualTest) isTest()    {}
func (JoinEqualTest) isTest()    {}
func (ExprTest) isTest()         {}

func neg(b bool) string {
	if b {
		return "~"
	}
	return ""
}

func (t GoalTest) Key() string { return fmt.Sprintf("goal=%t", t.Goal) }

func (t ConstantTest) Key() string {
	return fmt.Sprintf("const %s %s%s", t.Field, neg(t.Negated), ir.MarshalKey(t.Value))
}

func (t LengthTest) Key() string {
	if t.Exact {
		return fmt.Sprintf("len s%d == %d", t.Slot, t.Min)
	}
	return fmt.Sprintf("len s%d >= %d", t.Slot, t.Min)
}

func (t MultifieldMarker) Key() string {
	if t.Field.Marker == 0 {
		return "span " + t.Field.String()
	}
	return fmt.Sprintf("span %s gap=%d after=%d last=%t", t.Field, t.Gap, t.After, t.Last)
}

// Candidates returns every span the marker can take in f, given the spans
// bound by the slot's earlier markers, shortest first. The last marker of a
// slot takes whatever the trailing single fields leave, so it has at most
// one candidate.
func (t MultifieldMarker) Candidates(f *factstore.Fact, spans Spans) []Span {
	r := t.Field
	if f == nil || r.Slot < 0 || r.Slot >= len(f.Slots) {
		return nil
	}
	start := t.Gap
	if r.Marker > 1 {
		prev, ok := spans.Find(r.Slot, r.Marker-1)
		if !ok {
			return nil
		}
		start += prev.End
	}
	limit := ir.Length(f.Slots[r.Slot]) - t.After
	if start > limit {
		return nil
	}
	if t.Last {
		return []Span{{Slot: r.Slot, Marker: r.Marker, Start: start, End: limit}}
	}
	out := make([]Span, 0, limit-start+1)
	for end := start; end <= limit; end++ {
		out = append(out, Span{Slot: r.Slot, Marker: r.Marker, Start: start, End: end})
	}
	return out
}

func (t SlotEqualTest) Key() string {
	return fmt.Sprintf("%s %s= %s", t.A, neg(t.Negated), t.B)
}

func (t JoinEqualTest) Key() string {
	return fmt.Sprintf("L%d.%s %s= R.%s", t.Pattern, t.Left, neg(t.Negated), t.Right)
}

func (t ExprTest) Key() string { return "expr " + t.Expr.String() }

// TestsKey joins the keys of a test list.
func TestsKey(tests []Test) string {
	parts := make([]string, len(tests))
	for i, t := range tests {
		parts[i] = t.Key()
	}
	return strings.Join(parts, " & ")
}

// TestSlots returns the slots of the right fact a test reads.
func TestSlots(t Test) SlotMask {
	var m SlotMask
	switch x := t.(type) {
	case ConstantTest:
		m.Set(x.Field.Slot)
	case LengthTest:
		m.Set(x.Slot)
	case MultifieldMarker:
		m.Set(x.Field.Slot)
	case SlotEqualTest:
		m.Set(x.A.Slot)
		m.Set(x.B.Slot)
	case JoinEqualTest:
		m.Set(x.Right.Slot)
	case ExprTest:
		exprSlots(x.Expr, &m)
	}
	return m
}

func exprSlots(e Expr, m *SlotMask) {
	switch x := e.(type) {
	case RightVar:
		m.Set(x.Field.Slot)
	case Call:
		for _, a := range x.Args {
			exprSlots(a, m)
		}
	}
}

// EvalAlpha runs a pattern-node test against a single fact.
func EvalAlpha(ev Evaluator, t Test, f *factstore.Fact) bool {
	return EvalAlphaIn(ev, t, f, nil)
}

// EvalAlphaIn runs a pattern-node test against a fact matched with spans.
func EvalAlphaIn(ev Evaluator, t Test, f *factstore.Fact, spans Spans) bool {
	switch x := t.(type) {
	case GoalTest:
		return f.Goal == x.Goal
	case ConstantTest:
		v, ok := FieldIn(f, spans, x.Field)
		if !ok {
			return false
		}
		return ir.Equal(v, x.Value) != x.Negated
	case LengthTest:
		n := ir.Length(f.Slots[x.Slot])
		if x.Exact {
			return n == x.Min
		}
		return n >= x.Min
	case MultifieldMarker:
		_, ok := FieldIn(f, spans, x.Field)
		return ok
	case SlotEqualTest:
		a, aok := FieldIn(f, spans, x.A)
		b, bok := FieldIn(f, spans, x.B)
		if !aok || !bok {
			return false
		}
		return ir.Equal(a, b) != x.Negated
	case ExprTest:
		return Truth(ev, EvalContext{Right: f, RightSpans: spans}, x.Expr)
	default:
		return false
	}
}

// EvalJoin runs a join-node test against a left binding list and the right
// fact (nil when the right side is a partial match entered from the right).
func EvalJoin(ev Evaluator, t Test, left []*factstore.Fact, right *factstore.Fact) bool {
	return EvalJoinIn(ev, t, EvalContext{Left: left, Right: right})
}

// EvalJoinIn runs a join-node test in a full binding environment.
func EvalJoinIn(ev Evaluator, t Test, ctx EvalContext) bool {
	switch x := t.(type) {
	case JoinEqualTest:
		if x.Pattern < 0 || x.Pattern >= len(ctx.Left) {
			return false
		}
		a, aok := bindingField(ctx.Left[x.Pattern], ctx.leftSpans(x.Pattern), x.Left)
		b, bok := bindingField(ctx.Right, ctx.RightSpans, x.Right)
		if !aok || !bok {
			return false
		}
		return ir.Equal(a, b) != x.Negated
	case ExprTest:
		return Truth(ev, ctx, x.Expr)
	default:
		return EvalAlphaIn(ev, t, ctx.Right, ctx.RightSpans)
	}
}

func bindingField(f *factstore.Fact, spans Spans, r FieldRef) (ir.Value, bool) {
	if f == nil {
		return nil, false
	}
	if r.Slot == WholeFact {
		return ir.Int(f.Index), true
	}
	return FieldIn(f, spans, r)
}

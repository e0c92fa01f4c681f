package engine

import (
	"fmt"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/metrics"
	"github.com/roach88/chainer/internal/network"
)

// slotInfo collects what goal synthesis knows about one slot of the goal.
type slotInfo struct {
	multi bool

	// single-field slots
	value ir.Value

	// multifield slots: fields anchored from the start, from the end and
	// past the end of a span, the span markers in slot order with what is
	// known of their contents (keyed by marker, 0 for a lone span), and the
	// length constraint
	head    map[int]ir.Value
	tail    map[int]ir.Value
	rel     map[relField]ir.Value
	markers []network.MultifieldMarker
	spanVal map[int]ir.Value
	minLen  int
	exact   bool
}

// relField addresses a field by the span it follows.
type relField struct {
	marker int
	offset int
}

// goalLayout is the per-slot knowledge of one goal under construction.
type goalLayout struct {
	tmpl  *factstore.Template
	slots []*slotInfo
}

func newGoalLayout(t *factstore.Template) *goalLayout {
	g := &goalLayout{tmpl: t, slots: make([]*slotInfo, len(t.Slots))}
	for i := range g.slots {
		g.slots[i] = &slotInfo{
			multi:   t.IsMultifield(i),
			head:    make(map[int]ir.Value),
			tail:    make(map[int]ir.Value),
			rel:     make(map[relField]ir.Value),
			spanVal: make(map[int]ir.Value),
		}
	}
	return g
}

// set records a known value for a field. Earlier knowledge wins.
func (g *goalLayout) set(r network.FieldRef, v ir.Value) bool {
	if v == nil || r.Slot < 0 || r.Slot >= len(g.slots) {
		return false
	}
	s := g.slots[r.Slot]
	if !s.multi {
		if s.value != nil {
			return false
		}
		s.value = v
		return true
	}
	switch {
	case r.Span:
		if _, ok := s.spanVal[r.Marker]; ok {
			return false
		}
		if _, ok := v.(ir.Multifield); !ok {
			v = ir.Multi(v)
		}
		s.spanVal[r.Marker] = v
	case r.Marker > 0:
		k := relField{marker: r.Marker, offset: r.Offset}
		if _, ok := s.rel[k]; ok {
			return false
		}
		s.rel[k] = v
	case r.FromEnd:
		if _, ok := s.tail[r.Offset]; ok {
			return false
		}
		s.tail[r.Offset] = v
	default:
		if _, ok := s.head[r.Offset]; ok {
			return false
		}
		s.head[r.Offset] = v
	}
	return true
}

// get returns the known value of a field.
func (g *goalLayout) get(r network.FieldRef) (ir.Value, bool) {
	if r.Slot < 0 || r.Slot >= len(g.slots) {
		return nil, false
	}
	s := g.slots[r.Slot]
	if !s.multi {
		return s.value, s.value != nil
	}
	var v ir.Value
	switch {
	case r.Span:
		v = s.spanVal[r.Marker]
	case r.Marker > 0:
		v = s.rel[relField{marker: r.Marker, offset: r.Offset}]
	case r.FromEnd:
		v = s.tail[r.Offset]
	default:
		v = s.head[r.Offset]
	}
	return v, v != nil
}

// maybeGenerateGoal synthesizes a goal for a left match of a goal join that
// has no right entry, unless goals are off, the join is still being primed,
// or the match already supports a goal.
func (e *Engine) maybeGenerateGoal(j *network.JoinNode, l *PartialMatch) {
	if !e.goalGeneration || j.Initialize || j.Marked || l.goalMarker != nil {
		return
	}
	e.generateGoal(j, l)
}

// generateGoal builds the goal fact that would satisfy the pattern entering
// j given the bindings of l, deduplicates it against live goals, and makes
// l support it.
func (e *Engine) generateGoal(j *network.JoinNode, l *PartialMatch) {
	tree := j.RightTree
	tmpl := tree.Template
	g := newGoalLayout(tmpl)

	// constants, markers and lengths from the pattern path
	var slotEqs []network.SlotEqualTest
	var exprs []network.ExprTest
	for _, id := range tree.Path(j.RightPattern) {
		switch t := tree.Node(id).Test.(type) {
		case network.ConstantTest:
			if !t.Negated {
				g.set(t.Field, t.Value)
			}
		case network.MultifieldMarker:
			s := g.slots[t.Field.Slot]
			s.markers = append(s.markers, t)
		case network.LengthTest:
			s := g.slots[t.Slot]
			s.minLen = t.Min
			s.exact = t.Exact
		case network.SlotEqualTest:
			if !t.Negated {
				slotEqs = append(slotEqs, t)
			}
		case network.ExprTest:
			exprs = append(exprs, t)
		}
	}

	// values implied by the join against the left bindings
	for _, t := range j.Tests {
		switch t := t.(type) {
		case network.JoinEqualTest:
			if t.Negated || t.Right.Slot == network.WholeFact || t.Pattern >= len(l.Binds) {
				continue
			}
			src := l.Binds[t.Pattern]
			if src == nil {
				continue
			}
			if t.Left.Slot == network.WholeFact {
				g.set(t.Right, ir.Int(src.Index))
				continue
			}
			if v, ok := network.FieldIn(src, l.SpansAt(t.Pattern), t.Left); ok {
				g.set(t.Right, v)
			}
		case network.ExprTest:
			exprs = append(exprs, t)
		}
	}
	for _, t := range exprs {
		e.inferFromExpr(g, t.Expr, l, &slotEqs)
	}

	// equalities inside the pattern, to a fixpoint
	for changed := true; changed; {
		changed = false
		for _, t := range slotEqs {
			if v, ok := g.get(t.A); ok && g.set(t.B, v) {
				changed = true
			}
			if v, ok := g.get(t.B); ok && g.set(t.A, v) {
				changed = true
			}
		}
	}

	goal := factstore.NewGoal(tmpl, e.materialize(g))
	h, dup, err := e.facts.HandleDuplication(goal, 0)
	if err != nil {
		// goals carry no names; nothing can conflict
		e.logger.Warn("goal rejected", "template", tmpl.Name, "error", err)
		return
	}
	if dup != nil {
		if l.Contains(dup) {
			metrics.GoalEvents.WithLabelValues("self_support").Inc()
			e.logger.Debug("goal would support itself", "goal", dup.Index, "join", j.ID)
			return
		}
		e.attachGoal(l, dup)
		e.addToGoalQueue(dup, true)
		metrics.GoalEvents.WithLabelValues("deduplicated").Inc()
		return
	}
	if err := e.facts.Insert(goal, h); err != nil {
		e.logger.Warn("goal rejected", "template", tmpl.Name, "error", err)
		return
	}
	e.attachGoal(l, goal)
	e.addToGoalQueue(goal, true)
	metrics.GoalEvents.WithLabelValues("generated").Inc()
	e.logger.Debug("goal generated", "goal", goal.String(), "join", j.ID)
}

// inferFromExpr handles (eq a b) tests. A comparison of two right-side
// fields becomes a slot equality; a right-side field compared with an
// expression over the left bindings takes that expression's value.
func (e *Engine) inferFromExpr(g *goalLayout, expr network.Expr, l *PartialMatch, slotEqs *[]network.SlotEqualTest) {
	call, ok := expr.(network.Call)
	if !ok || call.Fn != "eq" || len(call.Args) != 2 {
		return
	}
	a, b := call.Args[0], call.Args[1]
	ra, aRight := a.(network.RightVar)
	rb, bRight := b.(network.RightVar)
	switch {
	case aRight && bRight:
		*slotEqs = append(*slotEqs, network.SlotEqualTest{A: ra.Field, B: rb.Field})
	case aRight && !network.UsesRight(b):
		if v, ok := e.infer(b, l); ok {
			g.set(ra.Field, v)
		}
	case bRight && !network.UsesRight(a):
		if v, ok := e.infer(a, l); ok {
			g.set(rb.Field, v)
		}
	}
}

// infer evaluates an expression over the left bindings alone. It is not
// reentrant: an evaluator that drives the engine from here is refused with
// ErrReentrant at the operation boundary, and a nested inference is a
// system error.
func (e *Engine) infer(expr network.Expr, l *PartialMatch) (ir.Value, bool) {
	if e.inferring {
		raise(ErrCodeReentrant, "goal inference entered recursively")
	}
	e.inferring = true
	defer func() { e.inferring = false }()
	v, err := e.eval.Eval(l.evalContext(), expr)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (e *Engine) unknown() ir.Unknown {
	e.nextUnknown++
	return ir.Unknown{ID: e.nextUnknown}
}

// materialize lays out the goal's slots. Unresolved fields become fresh
// unknowns.
func (e *Engine) materialize(g *goalLayout) []ir.Value {
	out := make([]ir.Value, len(g.slots))
	for i, s := range g.slots {
		if i < g.tmpl.ContentStart() {
			out[i] = g.tmpl.Slots[i].Default
			if out[i] == nil {
				out[i] = ir.Float(g.tmpl.CFMax)
			}
			continue
		}
		if !s.multi {
			if s.value != nil {
				out[i] = s.value
			} else {
				out[i] = e.unknown()
			}
			continue
		}
		out[i] = e.layoutMultifield(s)
	}
	return out
}

// layoutMultifield builds a multifield slot. With an exact length every
// position is a single field. Otherwise the slot follows the pattern: the
// left-anchored fields, each span followed by the fields anchored past its
// end, then the right-anchored fields. A span of unknown content is a single
// unknown, so a slot whose spans are all unknown holds
// minLen + max(1, spans) fields.
func (e *Engine) layoutMultifield(s *slotInfo) ir.Multifield {
	field := func(v ir.Value, ok bool) ir.Value {
		if ok && v != nil {
			return v
		}
		return e.unknown()
	}

	if s.exact {
		out := make(ir.Multifield, s.minLen)
		for k, v := range s.tail {
			if p := s.minLen - 1 - k; p >= 0 && p < s.minLen {
				out[p] = v
			}
		}
		for p, v := range s.head {
			if p < s.minLen {
				out[p] = v
			}
		}
		for p := range out {
			out[p] = field(out[p], out[p] != nil)
		}
		return out
	}

	head, tail := 0, 0
	if n := len(s.markers); n > 0 {
		head, tail = s.markers[0].Gap, s.markers[n-1].After
	}
	out := make(ir.Multifield, 0, s.minLen+max(1, len(s.markers)))
	for p := 0; p < head; p++ {
		v, ok := s.head[p]
		out = append(out, field(v, ok))
	}
	if len(s.markers) == 0 {
		out = append(out, e.unknown())
	}
	for i, m := range s.markers {
		if known, ok := s.spanVal[m.Field.Marker].(ir.Multifield); ok {
			out = append(out, known...)
		} else {
			out = append(out, e.unknown())
		}
		if i+1 == len(s.markers) {
			break
		}
		for o := 0; o < s.markers[i+1].Gap; o++ {
			v, ok := s.rel[relField{marker: m.Field.Marker, offset: o}]
			out = append(out, field(v, ok))
		}
	}
	for k := tail - 1; k >= 0; k-- {
		v, ok := s.tail[k]
		out = append(out, field(v, ok))
	}
	return out
}

// attachGoal makes l support g.
func (e *Engine) attachGoal(l *PartialMatch, g *factstore.Fact) {
	if l.goalMarker != nil {
		raiseWith(ErrCodeGoalMarker, map[string]string{
			"match": l.Indices(),
			"goal":  fmt.Sprint(l.goalMarker.Index),
		}, "match already supports a goal")
	}
	g.Support++
	l.goalMarker = g
}

// updateGoalSupport withdraws l's support from its goal. A goal left with
// no support is queued for retraction.
func (e *Engine) updateGoalSupport(l *PartialMatch) {
	g := l.goalMarker
	if g == nil {
		raiseWith(ErrCodeGoalMarker, map[string]string{"match": l.Indices()}, "match has no goal marker")
	}
	if g.Support <= 0 {
		raiseWith(ErrCodeGoalSupport, map[string]string{"goal": g.String()}, "goal support is already zero")
	}
	g.Support--
	l.goalMarker = nil
	if g.Support == 0 {
		e.addToGoalQueue(g, false)
	}
}

// checkForPrimableGoals generates goals for the left matches of goal joins
// that were primed with goal generation held back. Each join is visited
// once per pass.
func (e *Engine) checkForPrimableGoals(joins []*network.JoinNode) {
	for _, j := range joins {
		m := e.mem[j.ID]
		if !j.GoalJoin || m.goalMarked || j.Initialize {
			continue
		}
		m.goalMarked = true
		for _, l := range m.left.all() {
			if l.count == 0 && l.goalMarker == nil {
				e.maybeGenerateGoal(j, l)
			}
		}
	}
	for _, j := range joins {
		e.mem[j.ID].goalMarked = false
	}
}

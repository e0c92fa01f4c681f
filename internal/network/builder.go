package network

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/chainer/internal/factstore"
)

// joinPlan is one join as compiled from a rule, before it is matched
// against (or added to) the live network.
type joinPlan struct {
	parent    int
	rightPlan int
	depth     int

	tree  *PatternTree
	alpha []Test

	negated, exists, fromRight, goal bool

	tests      []Test
	rightSlots SlotMask
}

type rulePlan struct {
	joins []*joinPlan
	vars  map[string]VarLoc
}

func shapeErr(rule, format string, args ...any) error {
	return fmt.Errorf("%w: rule %s: %s", ErrRuleShape, rule, fmt.Sprintf(format, args...))
}

// plan compiles def without touching the network, so a rejected rule leaves
// no trace.
func (n *Network) plan(def *RuleDef) (*rulePlan, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: rule has no name", ErrRuleShape)
	}
	if len(def.Conditions) == 0 {
		return nil, shapeErr(def.Name, "no conditions")
	}
	p := &rulePlan{}
	scope := make(map[string]VarLoc)
	if _, _, err := n.planConditions(def.Name, p, def.Conditions, -1, 0, scope, true); err != nil {
		return nil, err
	}
	p.vars = scope
	if err := checkActions(n, def, scope); err != nil {
		return nil, err
	}
	return p, nil
}

func (n *Network) planConditions(rule string, p *rulePlan, conds []Condition, last, depth int, scope map[string]VarLoc, top bool) (int, int, error) {
	floor := len(p.joins)
	for i := range conds {
		c := &conds[i]
		switch c.Kind {
		case CondPattern:
			if c.Pattern == nil {
				return 0, 0, shapeErr(rule, "condition %d has no pattern", i)
			}
			jp, local, err := n.planPattern(rule, c.Pattern, depth, scope)
			if err != nil {
				return 0, 0, err
			}
			jp.parent = last
			jp.goal = top && jp.tree.Template.Backward && !c.Pattern.Goal
			p.joins = append(p.joins, jp)
			last = len(p.joins) - 1
			maps.Copy(scope, local)
			depth++

		case CondNot, CondExists:
			var jp *joinPlan
			switch {
			case c.Pattern != nil:
				if c.Pattern.Bind != "" {
					return 0, 0, shapeErr(rule, "fact address ?%s inside %s", c.Pattern.Bind, c.Kind)
				}
				var err error
				if jp, _, err = n.planPattern(rule, c.Pattern, depth, scope); err != nil {
					return 0, 0, err
				}
			case len(c.Group) > 0:
				sub := maps.Clone(scope)
				end, _, err := n.planConditions(rule, p, c.Group, last, depth, sub, false)
				if err != nil {
					return 0, 0, err
				}
				jp = &joinPlan{rightPlan: end, depth: depth, fromRight: true}
			default:
				return 0, 0, shapeErr(rule, "empty %s", c.Kind)
			}
			jp.parent = last
			jp.negated = c.Kind == CondNot
			jp.exists = c.Kind == CondExists
			p.joins = append(p.joins, jp)
			last = len(p.joins) - 1
			depth++

		case CondTest:
			if last < floor {
				return 0, 0, shapeErr(rule, "test cannot be the first condition")
			}
			prev := p.joins[last]
			if prev.negated || prev.exists || prev.fromRight {
				return 0, 0, shapeErr(rule, "test must follow a positive pattern")
			}
			e, err := resolve(c.Test, func(name string) (Expr, error) {
				loc, ok := scope[name]
				if !ok {
					return nil, shapeErr(rule, "test uses unbound variable ?%s", name)
				}
				if loc.Pattern == depth-1 {
					return RightVar{Field: loc.Field}, nil
				}
				return LeftVar{Pattern: loc.Pattern, Field: loc.Field}, nil
			})
			if err != nil {
				return 0, 0, err
			}
			prev.tests = append(prev.tests, ExprTest{Expr: e})
			exprSlots(e, &prev.rightSlots)

		default:
			return 0, 0, shapeErr(rule, "unknown condition kind %d", c.Kind)
		}
	}
	return last, depth, nil
}

// planPattern compiles one pattern at binding position depth. It returns the
// join plan (alpha chain plus join tests) and the variables it binds.
func (n *Network) planPattern(rule string, pd *PatternDef, depth int, scope map[string]VarLoc) (*joinPlan, map[string]VarLoc, error) {
	tree, ok := n.trees[pd.Template]
	if !ok {
		return nil, nil, fmt.Errorf("%w: rule %s: %s", ErrUnknownTemplate, rule, pd.Template)
	}
	tmpl := tree.Template
	jp := &joinPlan{tree: tree, depth: depth, rightPlan: -1}
	jp.alpha = append(jp.alpha, GoalTest{Goal: pd.Goal})

	local := make(map[string]VarLoc)
	var trailing []Test

	if pd.Bind != "" {
		if _, dup := scope[pd.Bind]; dup {
			return nil, nil, shapeErr(rule, "fact address ?%s bound twice", pd.Bind)
		}
		local[pd.Bind] = VarLoc{Pattern: depth, Field: FieldRef{Slot: WholeFact}}
	}

	slots := slices.Clone(pd.Slots)
	idx := make(map[string]int, len(slots))
	for _, sp := range slots {
		name := sp.Slot
		if name == "" && tmpl.Implied {
			name = factstore.ImpliedSlot
		}
		i, ok := tmpl.SlotIndex(name)
		if !ok {
			return nil, nil, shapeErr(rule, "template %s has no slot %q", tmpl.Name, sp.Slot)
		}
		if _, dup := idx[sp.Slot]; dup {
			return nil, nil, shapeErr(rule, "slot %q constrained twice", sp.Slot)
		}
		idx[sp.Slot] = i
	}
	slices.SortStableFunc(slots, func(a, b SlotPattern) int { return idx[a.Slot] - idx[b.Slot] })

	field := func(fd FieldDef, ref FieldRef) error {
		switch fd.Kind {
		case FieldConst:
			if fd.Value == nil {
				return shapeErr(rule, "literal without value in %s", tmpl.Name)
			}
			jp.alpha = append(jp.alpha, ConstantTest{Field: ref, Value: fd.Value, Negated: fd.Negated})
		case FieldVar, FieldMultiVar:
			if fd.Var == "" {
				return shapeErr(rule, "variable without name in %s", tmpl.Name)
			}
			if loc, ok := local[fd.Var]; ok {
				trailing = append(trailing, SlotEqualTest{A: loc.Field, B: ref, Negated: fd.Negated})
			} else if loc, ok := scope[fd.Var]; ok {
				jp.tests = append(jp.tests, JoinEqualTest{Pattern: loc.Pattern, Left: loc.Field, Right: ref, Negated: fd.Negated})
				jp.rightSlots.Set(ref.Slot)
			} else {
				if fd.Negated {
					return shapeErr(rule, "negated variable ?%s is not bound", fd.Var)
				}
				local[fd.Var] = VarLoc{Pattern: depth, Field: ref, Multi: fd.Kind == FieldMultiVar}
				jp.rightSlots.Set(ref.Slot)
			}
		}
		if fd.Pred != nil {
			usesLeft := false
			e, err := resolve(fd.Pred, func(name string) (Expr, error) {
				if loc, ok := local[name]; ok {
					return RightVar{Field: loc.Field}, nil
				}
				if loc, ok := scope[name]; ok {
					usesLeft = true
					return LeftVar{Pattern: loc.Pattern, Field: loc.Field}, nil
				}
				return nil, shapeErr(rule, "predicate uses unbound variable ?%s", name)
			})
			if err != nil {
				return err
			}
			if usesLeft {
				jp.tests = append(jp.tests, ExprTest{Expr: e})
				exprSlots(e, &jp.rightSlots)
			} else {
				trailing = append(trailing, ExprTest{Expr: e})
			}
		}
		return nil
	}

	for _, sp := range slots {
		slot := idx[sp.Slot]
		if !tmpl.IsMultifield(slot) {
			if len(sp.Fields) != 1 || sp.Fields[0].Kind.Multi() {
				return nil, nil, shapeErr(rule, "single-field slot %s.%s needs exactly one single-field constraint", tmpl.Name, sp.Slot)
			}
			if err := field(sp.Fields[0], SlotRef(slot)); err != nil {
				return nil, nil, err
			}
			continue
		}

		var spans []int
		for i, fd := range sp.Fields {
			if fd.Kind.Multi() {
				spans = append(spans, i)
			}
		}
		singles := len(sp.Fields) - len(spans)
		jp.alpha = append(jp.alpha, LengthTest{Slot: slot, Min: singles, Exact: len(spans) == 0})
		for i, fd := range sp.Fields {
			ref, marker := multifieldRef(slot, len(sp.Fields), spans, i)
			if marker != nil {
				jp.alpha = append(jp.alpha, *marker)
			}
			if err := field(fd, ref); err != nil {
				return nil, nil, err
			}
		}
	}
	jp.alpha = append(jp.alpha, trailing...)
	for _, t := range jp.tests {
		jp.rightSlots.Union(TestSlots(t))
	}
	return jp, local, nil
}

// multifieldRef locates field i of the n fields of a multifield slot whose
// multifield variables sit at positions spans. Fields before the first
// variable are anchored from the start and fields after the last from the
// end. With several variables, a field between two of them is anchored to
// the end of the one before it. For a variable it also returns the marker
// test that binds its span.
func multifieldRef(slot, n int, spans []int, i int) (FieldRef, *MultifieldMarker) {
	last := n - 1
	if len(spans) == 0 || i < spans[0] {
		return FieldRef{Slot: slot, Offset: i}, nil
	}
	k := len(spans) - 1
	after := last - spans[k]
	if i > spans[k] {
		return FieldRef{Slot: slot, Offset: last - i, FromEnd: true}, nil
	}

	// j is the variable at or before i
	j := 0
	for j < k && spans[j+1] <= i {
		j++
	}
	if len(spans) == 1 {
		ref := FieldRef{Slot: slot, Offset: i, Span: true, SpanEnd: after}
		return ref, &MultifieldMarker{Field: ref, Gap: i, After: after, Last: true}
	}
	if i > spans[j] {
		return FieldRef{Slot: slot, Marker: j + 1, Offset: i - spans[j] - 1}, nil
	}
	gap := spans[0]
	if j > 0 {
		gap = spans[j] - spans[j-1] - 1
	}
	// single fields after this variable, wherever they sit
	rest := last - spans[j] - (k - j)
	ref := FieldRef{Slot: slot, Marker: j + 1, Span: true}
	return ref, &MultifieldMarker{Field: ref, Gap: gap, After: rest, Last: j == k}
}

// resolve replaces every Var in e using lookup.
func resolve(e Expr, lookup func(string) (Expr, error)) (Expr, error) {
	switch x := e.(type) {
	case Var:
		return lookup(x.Name)
	case Call:
		args := make([]Expr, len(x.Args))
		for i, a := range x.Args {
			r, err := resolve(a, lookup)
			if err != nil {
				return nil, err
			}
			args[i] = r
		}
		return Call{Fn: x.Fn, Args: args}, nil
	case nil:
		return nil, fmt.Errorf("%w: empty expression", ErrRuleShape)
	default:
		return e, nil
	}
}

func checkActions(n *Network, def *RuleDef, scope map[string]VarLoc) error {
	for i, a := range def.Actions {
		switch a.Kind {
		case ActionAssert:
			tmpl, ok := n.templates[a.Template]
			if !ok {
				return fmt.Errorf("%w: rule %s action %d: %s", ErrUnknownTemplate, def.Name, i, a.Template)
			}
			for slot, e := range a.Slots {
				if _, ok := tmpl.SlotIndex(slot); !ok {
					return shapeErr(def.Name, "action %d: template %s has no slot %q", i, tmpl.Name, slot)
				}
				for _, v := range Vars(e) {
					if _, ok := scope[v]; !ok {
						return shapeErr(def.Name, "action %d uses unbound variable ?%s", i, v)
					}
				}
			}
		case ActionRetract:
			loc, ok := scope[a.Target]
			if !ok || loc.Field.Slot != WholeFact {
				return shapeErr(def.Name, "action %d retracts ?%s, which is not a fact address", i, a.Target)
			}
		default:
			return shapeErr(def.Name, "action %d has unknown kind %d", i, a.Kind)
		}
	}
	return nil
}

// install threads a plan into the network, sharing every join whose parent,
// entry, flags and tests already exist.
func (n *Network) install(def *RuleDef, p *rulePlan) *BuildResult {
	res := &BuildResult{}
	resolved := make([]JoinID, len(p.joins))
	touched := make(map[*PatternTree]bool)

	for i, jp := range p.joins {
		parent := NoJoin
		if jp.parent >= 0 {
			parent = resolved[jp.parent]
		}
		right := NoJoin
		term := NoPattern
		if jp.fromRight {
			right = resolved[jp.rightPlan]
		} else {
			term = jp.tree.Find(jp.alpha)
		}

		key := joinKey(parent, jp, term, right)
		if id := n.findJoin(parent, key); id != NoJoin {
			resolved[i] = id
			continue
		}

		j := n.allocJoin()
		j.Depth = jp.depth
		j.LastLevel = parent
		j.FirstJoin = parent == NoJoin
		j.PatternIsNegated = jp.negated
		j.PatternIsExists = jp.exists
		j.GoalJoin = jp.goal
		j.JoinFromTheRight = jp.fromRight
		j.Tests = jp.tests
		j.RightSlots = jp.rightSlots
		j.Initialize = true
		j.key = key
		j.splitTests()

		if jp.fromRight {
			j.RightJoin = right
			n.joins[right].NextLinks = append(n.joins[right].NextLinks, Link{Join: j.ID, Side: RHS})
		} else {
			t, created := jp.tree.Add(jp.alpha)
			j.RightTree = jp.tree
			j.RightPattern = t
			node := jp.tree.Node(t)
			node.Entries = append(node.Entries, j.ID)
			for _, c := range created {
				res.Patterns = append(res.Patterns, PatternRef{Tree: jp.tree, Node: c})
			}
			touched[jp.tree] = true
		}
		if parent == NoJoin {
			n.firstJoins = append(n.firstJoins, j.ID)
		} else {
			n.joins[parent].NextLinks = append(n.joins[parent].NextLinks, Link{Join: j.ID, Side: LHS})
		}
		resolved[i] = j.ID
		res.Joins = append(res.Joins, j.ID)
	}

	for tree := range touched {
		n.recomputeMasks(tree)
	}

	r := &Rule{
		Name:       def.Name,
		Salience:   def.Salience,
		Def:        def,
		Terminal:   resolved[len(resolved)-1],
		Vars:       p.vars,
		Initialize: true,
	}
	term := n.joins[r.Terminal]
	term.Rules = append(term.Rules, r)
	res.Rule = r
	return res
}

func joinKey(parent JoinID, jp *joinPlan, term PatternID, right JoinID) string {
	entry := fmt.Sprintf("j%d", right)
	if !jp.fromRight {
		entry = fmt.Sprintf("%s#%d", jp.tree.Template.Name, term)
	}
	return fmt.Sprintf("p%d|%s|n%t|e%t|g%t|%s", parent, entry, jp.negated, jp.exists, jp.goal, TestsKey(jp.tests))
}

// findJoin looks for an existing join under parent with the given key.
// A key naming a missing pattern terminal (#-1) never matches.
func (n *Network) findJoin(parent JoinID, key string) JoinID {
	var candidates []JoinID
	if parent == NoJoin {
		candidates = n.firstJoins
	} else {
		for _, l := range n.joins[parent].NextLinks {
			if l.Side == LHS {
				candidates = append(candidates, l.Join)
			}
		}
	}
	for _, id := range candidates {
		j := n.joins[id]
		if j.key == key && (j.JoinFromTheRight || j.RightPattern != NoPattern) {
			return id
		}
	}
	return NoJoin
}

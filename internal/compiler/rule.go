package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/network"
)

// CompileRule parses a CUE value into a rule definition.
//
//	rule: adopt: {
//		salience: 10
//		when: [
//			{pattern: "person", bind: "p", slots: {name: "?n", age: "?a&:(>= ?a 18)"}},
//			{not: {pattern: "pet", slots: {owner: "?n"}}},
//			{exists: [{pattern: "shelter"}, {test: "(neq ?n nobody)"}]},
//			{goal: "point", slots: {x: "?x"}},
//		]
//		then: [
//			{assert: "pet", slots: {owner: "?n", kind: "cat"}},
//			{retract: "p"},
//		]
//	}
//
// Each when entry is exactly one of pattern, goal, not, exists or test. The
// body of not/exists is a single pattern or a list forming a group. Slot
// constraints use the field syntax of ParseFields; then slots hold
// expressions (ParseExpr) or lists of constants.
func CompileRule(v cue.Value) (*network.RuleDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	def := &network.RuleDef{Name: label(v)}

	if s := v.LookupPath(cue.ParsePath("salience")); s.Exists() {
		n, err := s.Int64()
		if err != nil {
			return nil, errorAt(s, "salience", "%v", err)
		}
		def.Salience = int(n)
	}

	when := v.LookupPath(cue.ParsePath("when"))
	if !when.Exists() {
		return nil, errorAt(v, "when", "when is required")
	}
	conds, err := parseConditions(when, "when")
	if err != nil {
		return nil, err
	}
	def.Conditions = conds

	if then := v.LookupPath(cue.ParsePath("then")); then.Exists() {
		if def.Actions, err = parseActions(then); err != nil {
			return nil, err
		}
	}
	return def, nil
}

func parseConditions(list cue.Value, field string) ([]network.Condition, error) {
	iter, err := list.List()
	if err != nil {
		return nil, errorAt(list, field, "must be a list")
	}
	var out []network.Condition
	for i := 0; iter.Next(); i++ {
		c, err := parseCondition(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errorAt(list, field, "at least one condition is required")
	}
	return out, nil
}

var conditionKeys = []string{"pattern", "goal", "not", "exists", "test"}

func parseCondition(v cue.Value, field string) (network.Condition, error) {
	var kind string
	for _, k := range conditionKeys {
		if v.LookupPath(cue.ParsePath(k)).Exists() {
			if kind != "" {
				return network.Condition{}, errorAt(v, field, "both %s and %s given", kind, k)
			}
			kind = k
		}
	}

	switch kind {
	case "pattern", "goal":
		p, err := parsePattern(v, field)
		if err != nil {
			return network.Condition{}, err
		}
		return network.Pat(p), nil

	case "test":
		src, _, err := stringField(v, "test")
		if err != nil {
			return network.Condition{}, err
		}
		e, err := ParseExpr(src)
		if err != nil {
			return network.Condition{}, errorAt(v, field+".test", "%v", err)
		}
		return network.TestCE(e), nil

	case "not", "exists":
		body := v.LookupPath(cue.ParsePath(kind))
		c := network.Condition{Kind: network.CondNot}
		if kind == "exists" {
			c.Kind = network.CondExists
		}
		if body.Kind() == cue.ListKind {
			group, err := parseConditions(body, field+"."+kind)
			if err != nil {
				return network.Condition{}, err
			}
			c.Group = group
			return c, nil
		}
		p, err := parsePattern(body, field+"."+kind)
		if err != nil {
			return network.Condition{}, err
		}
		c.Pattern = p
		return c, nil

	default:
		return network.Condition{}, errorAt(v, field, "expected one of pattern, goal, not, exists, test")
	}
}

func parsePattern(v cue.Value, field string) (*network.PatternDef, error) {
	p := &network.PatternDef{}
	if tmpl, ok, err := stringField(v, "goal"); err != nil {
		return nil, err
	} else if ok {
		p.Template, p.Goal = tmpl, true
	} else if tmpl, ok, err := stringField(v, "pattern"); err != nil {
		return nil, err
	} else if ok {
		p.Template = tmpl
	} else {
		return nil, errorAt(v, field, "pattern is required")
	}

	bind, _, err := stringField(v, "bind")
	if err != nil {
		return nil, err
	}
	p.Bind = bind

	if fields := v.LookupPath(cue.ParsePath("fields")); fields.Exists() {
		fs, err := slotConstraint(fields, field+".fields")
		if err != nil {
			return nil, err
		}
		p.Slots = append(p.Slots, network.SlotPattern{Slot: factstore.ImpliedSlot, Fields: fs})
	}

	if slots := v.LookupPath(cue.ParsePath("slots")); slots.Exists() {
		iter, err := slots.Fields()
		if err != nil {
			return nil, errorAt(slots, field+".slots", "must be a struct")
		}
		for iter.Next() {
			fs, err := slotConstraint(iter.Value(), field+".slots."+iter.Label())
			if err != nil {
				return nil, err
			}
			p.Slots = append(p.Slots, network.SlotPattern{Slot: iter.Label(), Fields: fs})
		}
	}
	return p, nil
}

// slotConstraint reads a slot's constraint: a syntax string, or a bare
// number or bool standing for a constant.
func slotConstraint(v cue.Value, field string) ([]network.FieldDef, error) {
	if v.Kind() != cue.StringKind {
		val, err := valueOf(v, field)
		if err != nil {
			return nil, err
		}
		return []network.FieldDef{network.C(val)}, nil
	}
	src, _ := v.String()
	fs, err := ParseFields(src)
	if err != nil {
		return nil, errorAt(v, field, "%v", err)
	}
	return fs, nil
}

func parseActions(list cue.Value) ([]network.ActionDef, error) {
	iter, err := list.List()
	if err != nil {
		return nil, errorAt(list, "then", "must be a list")
	}
	var out []network.ActionDef
	for i := 0; iter.Next(); i++ {
		av := iter.Value()
		field := fmt.Sprintf("then[%d]", i)

		if target, ok, err := stringField(av, "retract"); err != nil {
			return nil, err
		} else if ok {
			out = append(out, network.ActionDef{Kind: network.ActionRetract, Target: target})
			continue
		}

		tmpl, ok, err := stringField(av, "assert")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errorAt(av, field, "expected assert or retract")
		}
		a := network.ActionDef{Kind: network.ActionAssert, Template: tmpl, Slots: map[string]network.Expr{}}

		if fields := av.LookupPath(cue.ParsePath("fields")); fields.Exists() {
			e, err := actionExpr(fields, field+".fields")
			if err != nil {
				return nil, err
			}
			a.Slots[factstore.ImpliedSlot] = e
		}
		if slots := av.LookupPath(cue.ParsePath("slots")); slots.Exists() {
			siter, err := slots.Fields()
			if err != nil {
				return nil, errorAt(slots, field+".slots", "must be a struct")
			}
			for siter.Next() {
				e, err := actionExpr(siter.Value(), field+".slots."+siter.Label())
				if err != nil {
					return nil, err
				}
				a.Slots[siter.Label()] = e
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func actionExpr(v cue.Value, field string) (network.Expr, error) {
	if v.Kind() != cue.StringKind {
		val, err := valueOf(v, field)
		if err != nil {
			return nil, err
		}
		return network.Const{Value: val}, nil
	}
	src, _ := v.String()
	e, err := ParseExpr(src)
	if err != nil {
		return nil, errorAt(v, field, "%v", err)
	}
	return e, nil
}

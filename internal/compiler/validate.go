package compiler

import (
	"fmt"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/network"
)

// Validation error codes (E100-E199)
const (
	ErrDuplicateTemplate = "E101" // template declared twice
	ErrDuplicateRule     = "E102" // rule declared twice
	ErrUnknownTemplate   = "E103" // pattern, action or fact names no template
	ErrUnknownSlot       = "E104" // slot not declared by the template
	ErrGoalNotBackward   = "E105" // goal pattern on a forward-only template
	ErrUndefinedVariable = "E106" // variable used before any pattern binds it
	ErrMultifieldShape   = "E107" // multifield constraint on a single-field slot
)

// ValidationError represents a cross-reference error in a compiled program.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks that rules and facts only reference declared templates,
// slots and variables. Returns all errors found (does not fail-fast).
func Validate(p *Program) []ValidationError {
	var errs []ValidationError
	templates := make(map[string]*factstore.Template)

	for _, t := range p.Templates {
		if templates[t.Name] != nil {
			errs = append(errs, ValidationError{
				Field:   "template." + t.Name,
				Message: fmt.Sprintf("duplicate template %q", t.Name),
				Code:    ErrDuplicateTemplate,
			})
		}
		templates[t.Name] = t
	}

	rules := make(map[string]bool)
	for _, r := range p.Rules {
		if rules[r.Name] {
			errs = append(errs, ValidationError{
				Field:   "rule." + r.Name,
				Message: fmt.Sprintf("duplicate rule %q", r.Name),
				Code:    ErrDuplicateRule,
			})
		}
		rules[r.Name] = true
		errs = append(errs, validateRule(r, templates)...)
	}

	for i, fd := range p.Facts {
		field := fmt.Sprintf("facts[%d]", i)
		t, ok := templates[fd.Template]
		if !ok {
			errs = append(errs, unknownTemplate(field, fd.Template))
			continue
		}
		for slot := range fd.Values {
			if _, ok := t.SlotIndex(slot); !ok {
				errs = append(errs, unknownSlot(field, t.Name, slot))
			}
		}
	}
	return errs
}

type ruleChecker struct {
	rule      *network.RuleDef
	templates map[string]*factstore.Template
	bound     map[string]bool
	errs      []ValidationError
}

func validateRule(r *network.RuleDef, templates map[string]*factstore.Template) []ValidationError {
	c := &ruleChecker{rule: r, templates: templates, bound: make(map[string]bool)}
	c.conditions(r.Conditions, "rule."+r.Name+".when")

	for i, a := range r.Actions {
		field := fmt.Sprintf("rule.%s.then[%d]", r.Name, i)
		switch a.Kind {
		case network.ActionRetract:
			if !c.bound[a.Target] {
				c.undefined(field, a.Target)
			}
		case network.ActionAssert:
			t, ok := templates[a.Template]
			if !ok {
				c.errs = append(c.errs, unknownTemplate(field, a.Template))
				continue
			}
			for slot, e := range a.Slots {
				if _, ok := t.SlotIndex(slot); !ok {
					c.errs = append(c.errs, unknownSlot(field, t.Name, slot))
				}
				for _, v := range network.Vars(e) {
					if !c.bound[v] {
						c.undefined(field+".slots."+slot, v)
					}
				}
			}
		}
	}
	return c.errs
}

// conditions walks a condition list. Variables bound inside not/exists stay
// local to the element; only positive top-level patterns export bindings.
func (c *ruleChecker) conditions(conds []network.Condition, field string) {
	for i, cond := range conds {
		f := fmt.Sprintf("%s[%d]", field, i)
		switch cond.Kind {
		case network.CondPattern:
			c.pattern(cond.Pattern, f)
		case network.CondNot, network.CondExists:
			saved := make(map[string]bool, len(c.bound))
			for k, v := range c.bound {
				saved[k] = v
			}
			if cond.Pattern != nil {
				c.pattern(cond.Pattern, f)
			} else {
				c.conditions(cond.Group, f)
			}
			c.bound = saved
		case network.CondTest:
			for _, v := range network.Vars(cond.Test) {
				if !c.bound[v] {
					c.undefined(f+".test", v)
				}
			}
		}
	}
}

func (c *ruleChecker) pattern(p *network.PatternDef, field string) {
	t, ok := c.templates[p.Template]
	if !ok {
		c.errs = append(c.errs, unknownTemplate(field, p.Template))
		return
	}
	if p.Goal && !t.Backward {
		c.errs = append(c.errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("goal pattern on %q, which is not a backward template", t.Name),
			Code:    ErrGoalNotBackward,
		})
	}

	// a predicate may read variables bound earlier in the same pattern
	local := make(map[string]bool)
	for _, sp := range p.Slots {
		slot := sp.Slot
		if slot == "" {
			slot = factstore.ImpliedSlot
		}
		idx, ok := t.SlotIndex(slot)
		if !ok {
			c.errs = append(c.errs, unknownSlot(field, t.Name, slot))
			continue
		}
		multiSlot := t.IsMultifield(idx)
		if !multiSlot && (len(sp.Fields) > 1 || (len(sp.Fields) == 1 && sp.Fields[0].Kind.Multi())) {
			c.errs = append(c.errs, ValidationError{
				Field:   field + ".slots." + slot,
				Message: fmt.Sprintf("slot %q holds a single field", slot),
				Code:    ErrMultifieldShape,
			})
		}
		for _, fd := range sp.Fields {
			if fd.Pred != nil {
				for _, v := range network.Vars(fd.Pred) {
					if !c.bound[v] && !local[v] && v != fd.Var {
						c.undefined(field+".slots."+slot, v)
					}
				}
			}
			if fd.Var == "" {
				continue
			}
			if fd.Negated {
				if !c.bound[fd.Var] && !local[fd.Var] {
					c.undefined(field+".slots."+slot, fd.Var)
				}
				continue
			}
			local[fd.Var] = true
		}
	}
	if p.Bind != "" {
		local[p.Bind] = true
	}
	for v := range local {
		c.bound[v] = true
	}
}

func (c *ruleChecker) undefined(field, name string) {
	c.errs = append(c.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf("undefined variable ?%s", name),
		Code:    ErrUndefinedVariable,
	})
}

func unknownTemplate(field, name string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("unknown template %q", name),
		Code:    ErrUnknownTemplate,
	}
}

func unknownSlot(field, template, slot string) ValidationError {
	return ValidationError{
		Field:   field,
		Message: fmt.Sprintf("template %q has no slot %q", template, slot),
		Code:    ErrUnknownSlot,
	}
}

package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
	"cuelang.org/go/cue/load"

	"github.com/roach88/chainer/internal/engine"
	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/network"
)

// Program is everything a CUE source declares: templates, rules and the
// initial facts asserted on Install.
type Program struct {
	Templates []*factstore.Template
	Rules     []*network.RuleDef
	Facts     []FactDef

	// Source is the evaluated program as one self-contained CUE file. It is
	// what the journal keeps so that a session can be rebuilt.
	Source string
}

// FactDef is an initial fact.
//
//	facts: [{template: "person", name: "boss", slots: {name: "alice", age: 30}}]
//	facts: [{template: "tags", fields: ["a", "b"]}]
type FactDef struct {
	Template string
	Name     string
	Values   map[string]ir.Value
}

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadDir loads every .cue file of dir as one instance and compiles it.
func LoadDir(dir string, mode LoadMode) (*Program, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("program directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("not a directory: %s", dir)}
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, []error{err}
	}
	if len(files) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded")}
	}
	if err := instances[0].Err; err != nil {
		return nil, []error{formatCUEError(err)}
	}
	v := cuecontext.New().BuildInstance(instances[0])
	return Compile(v, mode)
}

// CompileString compiles CUE source text. filename labels positions.
func CompileString(filename, src string, mode LoadMode) (*Program, []error) {
	v := cuecontext.New().CompileString(src, cue.Filename(filename))
	return Compile(v, mode)
}

// Compile compiles an evaluated CUE value. Declaration order is kept for
// templates, rules and facts. Validation runs once everything compiled.
func Compile(v cue.Value, mode LoadMode) (*Program, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	prog := &Program{}
	var errs []error
	fail := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	if t := v.LookupPath(cue.ParsePath("template")); t.Exists() {
		iter, err := t.Fields()
		if err != nil {
			return nil, []error{errorAt(t, "template", "must be a struct")}
		}
		for iter.Next() {
			tmpl, err := CompileTemplate(iter.Value())
			if err != nil {
				if fail(err) {
					return prog, errs
				}
				continue
			}
			prog.Templates = append(prog.Templates, tmpl)
		}
	}

	if r := v.LookupPath(cue.ParsePath("rule")); r.Exists() {
		iter, err := r.Fields()
		if err != nil {
			return nil, []error{errorAt(r, "rule", "must be a struct")}
		}
		for iter.Next() {
			def, err := CompileRule(iter.Value())
			if err != nil {
				if fail(err) {
					return prog, errs
				}
				continue
			}
			prog.Rules = append(prog.Rules, def)
		}
	}

	if f := v.LookupPath(cue.ParsePath("facts")); f.Exists() {
		facts, err := parseFacts(f)
		if err != nil {
			if fail(err) {
				return prog, errs
			}
		}
		prog.Facts = facts
	}

	if len(prog.Templates) == 0 && len(prog.Rules) == 0 && len(errs) == 0 {
		errs = append(errs, fmt.Errorf("no templates or rules found"))
	}
	if len(errs) > 0 {
		return prog, errs
	}

	for _, verr := range Validate(prog) {
		if fail(verr) {
			return prog, errs
		}
	}
	if len(errs) > 0 {
		return prog, errs
	}

	src, err := format.Node(v.Syntax(cue.Final(), cue.Concrete(true)))
	if err != nil {
		return prog, []error{fmt.Errorf("format program: %w", err)}
	}
	prog.Source = string(src)
	return prog, nil
}

func parseFacts(list cue.Value) ([]FactDef, error) {
	iter, err := list.List()
	if err != nil {
		return nil, errorAt(list, "facts", "must be a list")
	}
	var out []FactDef
	for i := 0; iter.Next(); i++ {
		fv := iter.Value()
		field := fmt.Sprintf("facts[%d]", i)

		tmpl, ok, err := stringField(fv, "template")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errorAt(fv, field, "template is required")
		}
		name, _, err := stringField(fv, "name")
		if err != nil {
			return nil, err
		}
		fd := FactDef{Template: tmpl, Name: name, Values: map[string]ir.Value{}}

		if fields := fv.LookupPath(cue.ParsePath("fields")); fields.Exists() {
			val, err := valueOf(fields, field+".fields")
			if err != nil {
				return nil, err
			}
			fd.Values[factstore.ImpliedSlot] = val
		}
		if slots := fv.LookupPath(cue.ParsePath("slots")); slots.Exists() {
			siter, err := slots.Fields()
			if err != nil {
				return nil, errorAt(slots, field+".slots", "must be a struct")
			}
			for siter.Next() {
				val, err := valueOf(siter.Value(), field+".slots."+siter.Label())
				if err != nil {
					return nil, err
				}
				fd.Values[siter.Label()] = val
			}
		}
		out = append(out, fd)
	}
	return out, nil
}

// Install defines the templates, adds the rules and asserts the initial
// facts, in that order.
func (p *Program) Install(e *engine.Engine) error {
	for _, t := range p.Templates {
		if err := e.DefineTemplate(t); err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}
	}
	for _, r := range p.Rules {
		if _, err := e.AddRule(r); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return p.AssertFacts(e)
}

// AssertFacts asserts the initial facts. Run it again after a reset.
func (p *Program) AssertFacts(e *engine.Engine) error {
	for i, fd := range p.Facts {
		f, err := e.NewFact(fd.Template, fd.Values)
		if err != nil {
			return fmt.Errorf("facts[%d]: %w", i, err)
		}
		f.Name = fd.Name
		if _, err := e.Assert(f); err != nil {
			return fmt.Errorf("facts[%d]: %w", i, err)
		}
	}
	return nil
}

// Rule returns the rule definition with the given name.
func (p *Program) Rule(name string) (*network.RuleDef, bool) {
	for _, r := range p.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

package compiler

import (
	"cuelang.org/go/cue"

	"github.com/roach88/chainer/internal/factstore"
)

// CompileTemplate parses a CUE value into a template.
//
//	template: point: {
//		backward: true
//		slots: [{name: "x"}, {name: "y", default: 0}]
//	}
//	template: tags: implied: true
//	template: belief: {certainty: {min: -1, max: 1}, slots: [{name: "claim"}]}
func CompileTemplate(v cue.Value) (*factstore.Template, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	name := label(v)

	implied, err := boolField(v, "implied")
	if err != nil {
		return nil, err
	}

	var t *factstore.Template
	if implied {
		if v.LookupPath(cue.ParsePath("slots")).Exists() {
			return nil, errorAt(v, "slots", "an implied template has no named slots")
		}
		t = factstore.NewImpliedTemplate(name)
	} else {
		slots, err := parseSlotDefs(v)
		if err != nil {
			return nil, err
		}
		t = factstore.NewTemplate(name, slots...)
	}

	if named, err := boolField(v, "named"); err != nil {
		return nil, err
	} else if named {
		t = t.AsNamed()
	}
	if backward, err := boolField(v, "backward"); err != nil {
		return nil, err
	} else if backward {
		t = t.AsBackward()
	}

	if cf := v.LookupPath(cue.ParsePath("certainty")); cf.Exists() {
		lo, err := cf.LookupPath(cue.ParsePath("min")).Float64()
		if err != nil {
			return nil, errorAt(cf, "certainty.min", "%v", err)
		}
		hi, err := cf.LookupPath(cue.ParsePath("max")).Float64()
		if err != nil {
			return nil, errorAt(cf, "certainty.max", "%v", err)
		}
		if lo > hi {
			return nil, errorAt(cf, "certainty", "min %g is above max %g", lo, hi)
		}
		t = t.WithCertainty(lo, hi)
	}
	return t, nil
}

func parseSlotDefs(v cue.Value) ([]factstore.SlotDef, error) {
	slotsVal := v.LookupPath(cue.ParsePath("slots"))
	if !slotsVal.Exists() {
		return nil, nil
	}
	iter, err := slotsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	seen := make(map[string]bool)
	var slots []factstore.SlotDef
	for iter.Next() {
		sv := iter.Value()
		name, ok, err := stringField(sv, "name")
		if err != nil {
			return nil, err
		}
		if !ok || name == "" {
			return nil, errorAt(sv, "slots", "slot name is required")
		}
		if seen[name] {
			return nil, errorAt(sv, "slots", "duplicate slot %q", name)
		}
		seen[name] = true

		def := factstore.SlotDef{Name: name}
		if def.Multifield, err = boolField(sv, "multi"); err != nil {
			return nil, err
		}
		if d := sv.LookupPath(cue.ParsePath("default")); d.Exists() {
			val, err := valueOf(d, "slots."+name+".default")
			if err != nil {
				return nil, err
			}
			def.Default = val
		}
		slots = append(slots, def)
	}
	return slots, nil
}

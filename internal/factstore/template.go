package factstore

import (
	"fmt"

	"github.com/roach88/chainer/internal/ir"
)

// CFSlot is the name of the leading certainty-factor slot.
const CFSlot = "CF"

// ImpliedSlot is the name of the single multifield slot of an ordered fact.
const ImpliedSlot = "implied"

// SlotDef declares one slot of a template.
type SlotDef struct {
	Name       string
	Multifield bool
	Default    ir.Value // nil means nil symbol (single) or empty multifield
}

// Template is a fact schema. Templates are immutable once facts exist.
type Template struct {
	Name  string
	Slots []SlotDef

	// Implied marks an ordered template: one multifield slot holding every field.
	Implied bool

	// Named marks templates whose facts may carry a unique name.
	Named bool

	// Certainty marks templates whose first slot is a certainty factor.
	Certainty bool
	CFMin     float64
	CFMax     float64

	// Backward marks templates for which positive patterns synthesize goals
	// when a rule needs a fact that is not present.
	Backward bool

	slotIndex map[string]int
}

// NewTemplate creates a template with the given slots.
func NewTemplate(name string, slots ...SlotDef) *Template {
	t := &Template{Name: name, Slots: slots}
	t.reindex()
	return t
}

// NewImpliedTemplate creates an ordered template: (name field field ...).
func NewImpliedTemplate(name string) *Template {
	t := &Template{
		Name:    name,
		Slots:   []SlotDef{{Name: ImpliedSlot, Multifield: true}},
		Implied: true,
	}
	t.reindex()
	return t
}

// WithCertainty prepends a certainty-factor slot with the given range.
func (t *Template) WithCertainty(min, max float64) *Template {
	if t.Certainty {
		t.CFMin, t.CFMax = min, max
		return t
	}
	t.Slots = append([]SlotDef{{Name: CFSlot, Default: ir.Float(max)}}, t.Slots...)
	t.Certainty = true
	t.CFMin, t.CFMax = min, max
	t.reindex()
	return t
}

// AsNamed marks the template as carrying fact names.
func (t *Template) AsNamed() *Template {
	t.Named = true
	return t
}

// AsBackward enables goal synthesis for positive patterns on this template.
func (t *Template) AsBackward() *Template {
	t.Backward = true
	return t
}

func (t *Template) reindex() {
	t.slotIndex = make(map[string]int, len(t.Slots))
	for i, s := range t.Slots {
		t.slotIndex[s.Name] = i
	}
}

// SlotIndex returns the position of the named slot.
func (t *Template) SlotIndex(name string) (int, bool) {
	if t.slotIndex == nil {
		t.reindex()
	}
	i, ok := t.slotIndex[name]
	return i, ok
}

// SlotCount returns the number of slots goal synthesis must fill:
// 1 for an implied template, otherwise the declared slot count.
func (t *Template) SlotCount() int {
	if t.Implied {
		return 1
	}
	return len(t.Slots)
}

// ContentStart returns the first slot that participates in identity.
func (t *Template) ContentStart() int {
	if t.Certainty {
		return 1
	}
	return 0
}

// IsMultifield reports whether slot i is a multifield slot.
func (t *Template) IsMultifield(i int) bool {
	return i >= 0 && i < len(t.Slots) && t.Slots[i].Multifield
}

// DefaultSlots returns a slot vector filled with defaults.
func (t *Template) DefaultSlots() []ir.Value {
	out := make([]ir.Value, len(t.Slots))
	for i, s := range t.Slots {
		switch {
		case s.Default != nil:
			out[i] = s.Default
		case s.Multifield:
			out[i] = ir.Multifield{}
		default:
			out[i] = ir.Symbol("nil")
		}
	}
	return out
}

// Build creates a slot vector from named values, filling defaults for
// unmentioned slots. Single values given for multifield slots are wrapped.
func (t *Template) Build(values map[string]ir.Value) ([]ir.Value, error) {
	out := t.DefaultSlots()
	for name, v := range values {
		i, ok := t.SlotIndex(name)
		if !ok {
			return nil, &FactError{
				Code:     ErrCodeShape,
				Template: t.Name,
				Message:  fmt.Sprintf("slot %q is not declared", name),
				Err:      ErrUnknownSlot,
			}
		}
		if t.Slots[i].Multifield {
			v = ir.Multi(v)
		}
		out[i] = v
	}
	return out, nil
}

// Validate checks that slots fit the template: arity, multifield shape, and
// certainty range.
func (t *Template) Validate(slots []ir.Value) error {
	if len(slots) != len(t.Slots) {
		return &FactError{
			Code:     ErrCodeShape,
			Template: t.Name,
			Message:  fmt.Sprintf("expected %d slots, got %d", len(t.Slots), len(slots)),
			Err:      ErrSlotCount,
		}
	}
	for i, s := range t.Slots {
		_, isMulti := slots[i].(ir.Multifield)
		if slots[i] == nil || isMulti != s.Multifield {
			return &FactError{
				Code:     ErrCodeShape,
				Template: t.Name,
				Message:  fmt.Sprintf("slot %q has the wrong shape", s.Name),
				Err:      ErrSlotShape,
			}
		}
	}
	if t.Certainty {
		cf, ok := ir.Numeric(slots[0])
		if !ok || cf < t.CFMin || cf > t.CFMax {
			return &FactError{
				Code:     ErrCodeCertainty,
				Template: t.Name,
				Message:  fmt.Sprintf("certainty %s outside [%g, %g]", slots[0], t.CFMin, t.CFMax),
				Err:      ErrCertaintyRange,
			}
		}
	}
	return nil
}

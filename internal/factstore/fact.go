package factstore

import (
	"fmt"
	"strings"

	"github.com/roach88/chainer/internal/ir"
)

// Fact is one entry of working memory.
//
// Lifecycle: created by assert, modify, or goal synthesis; inserted into the
// table once accepted; retracted explicitly (ordinary facts) or when Support
// reaches zero (goals). Retracted facts are flagged Garbage and released at
// the next drain point, never reused in between.
type Fact struct {
	Index    int64
	Template *Template
	Slots    []ir.Value
	Name     string

	// Goal distinguishes synthesized facts from asserted ones.
	Goal bool

	// PendingAssert is set while a goal waits in the goal queue to be
	// materialized; PendingRetract while its retraction waits.
	PendingAssert  bool
	PendingRetract bool

	// Asserted is set once the fact has been driven through the network.
	Asserted bool

	// Support is the number of partial matches currently justifying a goal.
	Support int

	// Garbage is set once the fact is retracted and awaiting release.
	Garbage bool

	hash   uint64
	hashed bool
}

// NewFact creates an unindexed fact. The slots slice is owned by the fact.
func NewFact(t *Template, slots []ir.Value) *Fact {
	return &Fact{Template: t, Slots: slots}
}

// NewGoal creates an unindexed goal fact.
func NewGoal(t *Template, slots []ir.Value) *Fact {
	return &Fact{Template: t, Slots: slots, Goal: true}
}

// Hash returns the identity hash, computing and caching it on first use.
// The hash combines the template name with every content slot, skipping a
// leading certainty-factor slot.
func (f *Fact) Hash() uint64 {
	if !f.hashed {
		f.hash = ir.FactHash(f.Template.Name, f.Slots[f.Template.ContentStart():])
		f.hashed = true
	}
	return f.hash
}

// Rehash drops the cached hash after an in-place slot change.
func (f *Fact) Rehash() uint64 {
	f.hashed = false
	return f.Hash()
}

// CF returns the certainty factor, or 1 when the template carries none.
func (f *Fact) CF() float64 {
	if !f.Template.Certainty {
		return 1
	}
	cf, _ := ir.Numeric(f.Slots[0])
	return cf
}

// Slot returns the value of the named slot.
func (f *Fact) Slot(name string) (ir.Value, bool) {
	i, ok := f.Template.SlotIndex(name)
	if !ok {
		return nil, false
	}
	return f.Slots[i], true
}

// Same reports whether two facts have the same identity: same template, same
// goal flag, and slot-wise identical content.
func Same(a, b *Fact) bool {
	if a.Template != b.Template || a.Goal != b.Goal || len(a.Slots) != len(b.Slots) {
		return false
	}
	for i := a.Template.ContentStart(); i < len(a.Slots); i++ {
		if !ir.Identical(a.Slots[i], b.Slots[i]) {
			return false
		}
	}
	return true
}

// String renders the fact, e.g. f-3 (point (x 1) (y 2)) or f-4 (goal (point ?u1 2)).
func (f *Fact) String() string {
	var b strings.Builder
	if f.Index > 0 {
		fmt.Fprintf(&b, "f-%d ", f.Index)
	}
	if f.Goal {
		b.WriteString("(goal ")
	}
	b.WriteString(f.Body())
	if f.Goal {
		b.WriteByte(')')
	}
	return b.String()
}

// Body renders the fact without index or goal wrapper.
func (f *Fact) Body() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(f.Template.Name)
	if f.Name != "" {
		fmt.Fprintf(&b, " [%s]", f.Name)
	}
	if f.Template.Implied {
		if m, ok := f.Slots[0].(ir.Multifield); ok {
			for _, v := range m {
				b.WriteByte(' ')
				b.WriteString(v.String())
			}
		}
	} else {
		for i, s := range f.Template.Slots {
			fmt.Fprintf(&b, " (%s ", s.Name)
			if m, ok := f.Slots[i].(ir.Multifield); ok {
				text := m.String()
				b.WriteString(text[1 : len(text)-1])
			} else {
				b.WriteString(f.Slots[i].String())
			}
			b.WriteByte(')')
		}
	}
	b.WriteByte(')')
	return b.String()
}

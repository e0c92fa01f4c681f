package network

import (
	"fmt"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
)

// WholeFact is the Slot of a FieldRef that denotes the fact itself
// (a fact-address variable).
const WholeFact = -1

// FieldRef locates one field of a fact.
//
// For a single-field slot only Slot matters. Inside a multifield slot the
// fields before the first multifield variable are anchored from the left
// (Offset counts from the start) and the fields after the last one from the
// right (FromEnd, Offset counts from the end).
//
// A slot with a lone multifield variable needs nothing else: its Span covers
// everything from left offset Offset up to SpanEnd fields before the end.
// With several, where each one ends differs from match to match, so the
// reference names the variable instead (Marker, counting from 1): a Span is
// that variable's extent and a field is Offset fields past its end. Both
// resolve only against the Spans of a particular match.
type FieldRef struct {
	Slot    int
	Offset  int
	FromEnd bool
	Span    bool
	SpanEnd int
	Marker  int
}

// SlotRef refers to a whole slot.
func SlotRef(slot int) FieldRef { return FieldRef{Slot: slot} }

// String renders the reference, e.g. s1[2], s1[-1], s1[1:-0], s1[$2],
// s1[$1+0].
func (r FieldRef) String() string {
	switch {
	case r.Slot == WholeFact:
		return "fact"
	case r.Marker > 0 && r.Span:
		return fmt.Sprintf("s%d[$%d]", r.Slot, r.Marker)
	case r.Marker > 0:
		return fmt.Sprintf("s%d[$%d+%d]", r.Slot, r.Marker, r.Offset)
	case r.Span:
		return fmt.Sprintf("s%d[%d:-%d]", r.Slot, r.Offset, r.SpanEnd)
	case r.FromEnd:
		return fmt.Sprintf("s%d[-%d]", r.Slot, r.Offset+1)
	default:
		return fmt.Sprintf("s%d[%d]", r.Slot, r.Offset)
	}
}

// Span is where one multifield variable sits in a particular match: fields
// [Start, End) of the slot.
type Span struct {
	Slot   int
	Marker int
	Start  int
	End    int
}

// Spans are the multifield spans one fact bound while matching one pattern.
// Patterns without several multifield variables in a slot bind none.
type Spans []Span

// Find returns the span of the given multifield variable.
func (s Spans) Find(slot, marker int) (Span, bool) {
	for _, sp := range s {
		if sp.Slot == slot && sp.Marker == marker {
			return sp, true
		}
	}
	return Span{}, false
}

// With returns a copy of s extended by sp. s itself is never modified, so
// alternatives branching from one prefix stay independent.
func (s Spans) With(sp Span) Spans {
	out := make(Spans, len(s), len(s)+1)
	copy(out, s)
	return append(out, sp)
}

// Field extracts the referenced value from f. It reports false when the fact
// is too short for the reference or the reference needs match spans.
func Field(f *factstore.Fact, r FieldRef) (ir.Value, bool) {
	return FieldIn(f, nil, r)
}

// FieldIn extracts the referenced value from f as matched with spans.
func FieldIn(f *factstore.Fact, spans Spans, r FieldRef) (ir.Value, bool) {
	if f == nil || r.Slot == WholeFact || r.Slot < 0 || r.Slot >= len(f.Slots) {
		return nil, false
	}
	v := f.Slots[r.Slot]
	m, ok := v.(ir.Multifield)
	if !ok {
		return v, true
	}
	switch {
	case r.Marker > 0:
		sp, ok := spans.Find(r.Slot, r.Marker)
		if !ok || sp.End > len(m) {
			return nil, false
		}
		if r.Span {
			return m[sp.Start:sp.End], true
		}
		i := sp.End + r.Offset
		if i >= len(m) {
			return nil, false
		}
		return m[i], true
	case r.Span:
		end := len(m) - r.SpanEnd
		if r.Offset > end {
			return nil, false
		}
		return m[r.Offset:end], true
	case r.FromEnd:
		i := len(m) - 1 - r.Offset
		if i < 0 {
			return nil, false
		}
		return m[i], true
	case f.Template.IsMultifield(r.Slot):
		if r.Offset >= len(m) {
			return nil, false
		}
		return m[r.Offset], true
	default:
		return v, true
	}
}

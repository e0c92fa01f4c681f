package factstore

import "github.com/roach88/chainer/internal/ir"

const nameIndexInitial = 31

type nameEntry struct {
	name string
	fact *Fact
}

// NameIndex maps fact names to facts for templates flagged named.
//
// Resizing: grow when entries exceed twice the bucket count, halve when
// entries drop below half the bucket count, collapse when empty.
type NameIndex struct {
	buckets [][]nameEntry
	count   int
}

// NewNameIndex creates an empty, unallocated index.
func NewNameIndex() *NameIndex {
	return &NameIndex{}
}

func nameHash(name string) uint64 {
	return ir.ValuesHash([]ir.Value{ir.Str(name)})
}

// Len returns the number of named facts.
func (n *NameIndex) Len() int { return n.count }

// Buckets returns the current bucket count (0 when collapsed).
func (n *NameIndex) Buckets() int { return len(n.buckets) }

// Lookup returns the fact bound to name.
func (n *NameIndex) Lookup(name string) (*Fact, bool) {
	if n.count == 0 {
		return nil, false
	}
	for _, e := range n.buckets[nameHash(name)%uint64(len(n.buckets))] {
		if e.name == name {
			return e.fact, true
		}
	}
	return nil, false
}

// Add binds name to f. A name bound to a different fact is a conflict.
func (n *NameIndex) Add(name string, f *Fact) error {
	if existing, ok := n.Lookup(name); ok {
		if existing == f {
			return nil
		}
		return &FactError{
			Code:     ErrCodeNameConflict,
			Template: f.Template.Name,
			Message:  "name [" + name + "] is bound to " + existing.String(),
			Err:      ErrNameInUse,
		}
	}
	if n.buckets == nil {
		n.buckets = make([][]nameEntry, nameIndexInitial)
	}
	b := nameHash(name) % uint64(len(n.buckets))
	n.buckets[b] = append(n.buckets[b], nameEntry{name: name, fact: f})
	n.count++
	if n.count > 2*len(n.buckets) {
		n.rehash(len(n.buckets)*2 + 1)
	}
	return nil
}

// Remove unbinds name if it is bound to f.
func (n *NameIndex) Remove(name string, f *Fact) bool {
	if n.count == 0 {
		return false
	}
	b := nameHash(name) % uint64(len(n.buckets))
	chain := n.buckets[b]
	for i, e := range chain {
		if e.name != name || e.fact != f {
			continue
		}
		n.buckets[b] = append(chain[:i], chain[i+1:]...)
		n.count--
		switch {
		case n.count == 0:
			n.buckets = nil
		case n.count < len(n.buckets)/2 && len(n.buckets) > nameIndexInitial:
			n.rehash(max(nameIndexInitial, len(n.buckets)/2))
		}
		return true
	}
	return false
}

func (n *NameIndex) rehash(size int) {
	next := make([][]nameEntry, size)
	for _, chain := range n.buckets {
		for _, e := range chain {
			b := nameHash(e.name) % uint64(size)
			next[b] = append(next[b], e)
		}
	}
	n.buckets = next
}

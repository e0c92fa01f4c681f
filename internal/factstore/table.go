package factstore

import "fmt"

// DefaultTableSize is the initial bucket count of the fact table.
const DefaultTableSize = 8191

// Table is the fact hash table: chained buckets keyed by fact hash.
//
// INVARIANTS:
//   - every live fact occupies exactly one bucket slot, at Hash() % size
//   - size only grows while facts are live; it returns to initial when emptied
type Table struct {
	buckets [][]*Fact
	count   int
	initial int
}

// NewTable allocates a table with the given initial bucket count.
func NewTable(initial int) (*Table, error) {
	if initial <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrTableSize, initial)
	}
	return &Table{
		buckets: make([][]*Fact, initial),
		initial: initial,
	}, nil
}

// Size returns the current bucket count.
func (t *Table) Size() int { return len(t.buckets) }

// Len returns the number of live facts.
func (t *Table) Len() int { return t.count }

func (t *Table) bucket(h uint64) int {
	return int(h % uint64(len(t.buckets)))
}

// Exists returns the live fact identical to f, or nil.
func (t *Table) Exists(f *Fact, h uint64) *Fact {
	for _, candidate := range t.buckets[t.bucket(h)] {
		if candidate.Hash() == h && Same(candidate, f) {
			return candidate
		}
	}
	return nil
}

// Add inserts f under hash h, growing the table when the live count
// exceeds the bucket count.
func (t *Table) Add(f *Fact, h uint64) {
	b := t.bucket(h)
	t.buckets[b] = append(t.buckets[b], f)
	t.count++
	if t.count > len(t.buckets) {
		t.resize(len(t.buckets)*2 + 1)
	}
}

// Remove deletes f (by pointer) and reports whether it was present.
func (t *Table) Remove(f *Fact) bool {
	b := t.bucket(f.Hash())
	chain := t.buckets[b]
	for i, candidate := range chain {
		if candidate != f {
			continue
		}
		copy(chain[i:], chain[i+1:])
		chain[len(chain)-1] = nil
		t.buckets[b] = chain[:len(chain)-1]
		t.count--
		if t.count == 0 && len(t.buckets) != t.initial {
			t.buckets = make([][]*Fact, t.initial)
		}
		return true
	}
	return false
}

// resize rehashes every live fact into a table of the given size.
func (t *Table) resize(size int) {
	next := make([][]*Fact, size)
	for _, chain := range t.buckets {
		for _, f := range chain {
			b := int(f.Hash() % uint64(size))
			next[b] = append(next[b], f)
		}
	}
	t.buckets = next
}

// Clear drops every fact and restores the initial size.
func (t *Table) Clear() {
	t.buckets = make([][]*Fact, t.initial)
	t.count = 0
}

package factstore

import (
	"fmt"
	"slices"

	"github.com/roach88/chainer/internal/ir"
)

// Store owns working-memory identity: the fact table, the named index,
// and fact index assignment.
type Store struct {
	table *Table
	names *NameIndex

	byIndex   map[int64]*Fact
	nextIndex int64

	// AllowDuplicates disables duplicate detection for ordinary facts.
	// Goals are always deduplicated.
	AllowDuplicates bool
}

// NewStore creates a store whose fact table starts at initialSize buckets.
func NewStore(initialSize int) (*Store, error) {
	table, err := NewTable(initialSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		table:     table,
		names:     NewNameIndex(),
		byIndex:   make(map[int64]*Fact),
		nextIndex: 1,
	}, nil
}

// Table exposes the fact hash table.
func (s *Store) Table() *Table { return s.table }

// Names exposes the named-fact index.
func (s *Store) Names() *NameIndex { return s.names }

// Validate checks f against its template.
func (s *Store) Validate(f *Fact) error {
	if f.Template == nil {
		return fmt.Errorf("fact has no template")
	}
	if f.Name != "" && !f.Template.Named {
		return &FactError{
			Code:     ErrCodeShape,
			Template: f.Template.Name,
			Message:  "template does not accept fact names",
			Err:      ErrSlotShape,
		}
	}
	return f.Template.Validate(f.Slots)
}

// HandleDuplication decides what happens to a fact about to be inserted.
//
// Returns the fact's hash and, when an identical live fact exists, that
// duplicate. A duplicate of a certainty-carrying template absorbs the new
// fact's certainty. When no duplicate exists and reuseIndex is positive the
// fact keeps that index (modify).
//
// A name already bound to a different fact is a conflict and the fact must
// be rejected. So is a named fact whose duplicate carries no name or
// another one: the duplicate cannot answer to both.
func (s *Store) HandleDuplication(f *Fact, reuseIndex int64) (uint64, *Fact, error) {
	h := f.Rehash()

	var dup *Fact
	if !s.AllowDuplicates || f.Goal {
		if d := s.table.Exists(f, h); d != nil && d != f {
			dup = d
		}
	}

	if f.Name != "" {
		if bound, ok := s.names.Lookup(f.Name); ok && bound != f && bound != dup {
			return h, nil, &FactError{
				Code:     ErrCodeNameConflict,
				Template: f.Template.Name,
				Message:  fmt.Sprintf("name [%s] is bound to %s", f.Name, bound),
				Err:      ErrNameInUse,
			}
		}
		if dup != nil && dup.Name != f.Name {
			return h, nil, &FactError{
				Code:     ErrCodeNameConflict,
				Template: f.Template.Name,
				Message:  fmt.Sprintf("name [%s] given to a duplicate of %s", f.Name, dup),
				Err:      ErrNameInUse,
			}
		}
	}

	if dup != nil {
		if f.Template.Certainty && !f.Goal {
			combined := CombineCertainty(dup.CF(), f.CF())
			combined = min(max(combined, f.Template.CFMin), f.Template.CFMax)
			dup.Slots[0] = ir.Float(combined)
		}
		return h, dup, nil
	}

	if reuseIndex > 0 {
		f.Index = reuseIndex
	}
	return h, nil, nil
}

// Insert adds an accepted fact to the table and indexes, assigning an index
// when it has none.
func (s *Store) Insert(f *Fact, h uint64) error {
	if f.Index == 0 {
		f.Index = s.nextIndex
		s.nextIndex++
	}
	if f.Name != "" {
		if err := s.names.Add(f.Name, f); err != nil {
			return err
		}
	}
	s.table.Add(f, h)
	s.byIndex[f.Index] = f
	return nil
}

// Remove drops f from the table and indexes.
func (s *Store) Remove(f *Fact) bool {
	if !s.table.Remove(f) {
		return false
	}
	if f.Name != "" {
		s.names.Remove(f.Name, f)
	}
	if s.byIndex[f.Index] == f {
		delete(s.byIndex, f.Index)
	}
	return true
}

// Exists returns the live fact identical to f.
func (s *Store) Exists(f *Fact) *Fact {
	return s.table.Exists(f, f.Hash())
}

// Lookup returns the live fact with the given index.
func (s *Store) Lookup(index int64) (*Fact, bool) {
	f, ok := s.byIndex[index]
	return f, ok
}

// Named returns the live fact bound to name.
func (s *Store) Named(name string) (*Fact, bool) {
	return s.names.Lookup(name)
}

// Len returns the number of live facts.
func (s *Store) Len() int { return s.table.Len() }

// Facts returns every live fact in index order.
func (s *Store) Facts() []*Fact {
	out := make([]*Fact, 0, len(s.byIndex))
	for _, f := range s.byIndex {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *Fact) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	})
	return out
}

// Clear drops every fact and restarts index assignment at 1.
func (s *Store) Clear() {
	s.table.Clear()
	s.names = NewNameIndex()
	s.byIndex = make(map[int64]*Fact)
	s.nextIndex = 1
}

package factstore

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainer/internal/ir"
)

func pointTemplate() *Template {
	return NewTemplate("point", SlotDef{Name: "x"}, SlotDef{Name: "y"})
}

func point(t *Template, x, y int64) *Fact {
	return NewFact(t, []ir.Value{ir.Int(x), ir.Int(y)})
}

func newTestStore(t *testing.T, size int) *Store {
	t.Helper()
	s, err := NewStore(size)
	require.NoError(t, err)
	return s
}

func assertFact(t *testing.T, s *Store, f *Fact) *Fact {
	t.Helper()
	require.NoError(t, s.Validate(f))
	h, dup, err := s.HandleDuplication(f, 0)
	require.NoError(t, err)
	if dup != nil {
		return dup
	}
	require.NoError(t, s.Insert(f, h))
	return f
}

// =============================================================================
// Hash / dedup
// =============================================================================

func TestHash_IdenticalFactsHashEqually(t *testing.T) {
	tmpl := pointTemplate()
	a := point(tmpl, 1, 2)
	b := point(tmpl, 1, 2)
	c := point(tmpl, 2, 1)

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.True(t, Same(a, b))
	assert.False(t, Same(a, c))
}

func TestHash_GoalFlagSeparatesIdentity(t *testing.T) {
	tmpl := pointTemplate()
	fact := point(tmpl, 1, 2)
	goal := NewGoal(tmpl, []ir.Value{ir.Int(1), ir.Int(2)})

	assert.False(t, Same(fact, goal))

	s := newTestStore(t, 7)
	assertFact(t, s, fact)
	assert.Nil(t, s.Exists(goal))
	assert.Same(t, fact, s.Exists(point(tmpl, 1, 2)))
}

func TestHash_MultifieldOrderMatters(t *testing.T) {
	tmpl := NewImpliedTemplate("list")
	a := NewFact(tmpl, []ir.Value{ir.Multi(ir.Int(1), ir.Int(2))})
	b := NewFact(tmpl, []ir.Value{ir.Multi(ir.Int(2), ir.Int(1))})

	assert.NotEqual(t, a.Hash(), b.Hash())
	assert.False(t, Same(a, b))
}

func TestHash_SkipsCertaintySlot(t *testing.T) {
	tmpl := pointTemplate().WithCertainty(DefaultCFMin, DefaultCFMax)
	a := NewFact(tmpl, []ir.Value{ir.Float(0.5), ir.Int(1), ir.Int(2)})
	b := NewFact(tmpl, []ir.Value{ir.Float(0.9), ir.Int(1), ir.Int(2)})

	assert.Equal(t, a.Hash(), b.Hash())
	assert.True(t, Same(a, b))
}

func TestHash_UnknownsAreAnonymous(t *testing.T) {
	tmpl := pointTemplate()
	a := NewGoal(tmpl, []ir.Value{ir.Unknown{ID: 1}, ir.Int(2)})
	b := NewGoal(tmpl, []ir.Value{ir.Unknown{ID: 9}, ir.Int(2)})

	assert.Equal(t, a.Hash(), b.Hash())
	assert.True(t, Same(a, b))
}

func TestHandleDuplication_ReturnsExisting(t *testing.T) {
	tmpl := pointTemplate()
	s := newTestStore(t, 7)

	first := assertFact(t, s, point(tmpl, 1, 2))
	second := assertFact(t, s, point(tmpl, 1, 2))

	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(1), first.Index)
}

func TestHandleDuplication_AllowDuplicates(t *testing.T) {
	tmpl := pointTemplate()
	s := newTestStore(t, 7)
	s.AllowDuplicates = true

	first := assertFact(t, s, point(tmpl, 1, 2))
	second := assertFact(t, s, point(tmpl, 1, 2))

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, s.Len())
}

func TestHandleDuplication_GoalsAlwaysDedup(t *testing.T) {
	tmpl := pointTemplate()
	s := newTestStore(t, 7)
	s.AllowDuplicates = true

	first := assertFact(t, s, NewGoal(tmpl, []ir.Value{ir.Unknown{ID: 1}, ir.Int(2)}))
	second := assertFact(t, s, NewGoal(tmpl, []ir.Value{ir.Unknown{ID: 2}, ir.Int(2)}))

	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Len())
}

func TestHandleDuplication_RetractThenReassertIsNew(t *testing.T) {
	tmpl := pointTemplate()
	s := newTestStore(t, 7)

	first := assertFact(t, s, point(tmpl, 1, 2))
	require.True(t, s.Remove(first))
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.Remove(first))

	second := assertFact(t, s, point(tmpl, 1, 2))
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), second.Index)
}

func TestHandleDuplication_CertaintyRecombines(t *testing.T) {
	tmpl := pointTemplate().WithCertainty(DefaultCFMin, DefaultCFMax)
	s := newTestStore(t, 7)

	first := assertFact(t, s, NewFact(tmpl, []ir.Value{ir.Float(0.5), ir.Int(1), ir.Int(2)}))
	dup := assertFact(t, s, NewFact(tmpl, []ir.Value{ir.Float(0.5), ir.Int(1), ir.Int(2)}))

	assert.Same(t, first, dup)
	assert.InDelta(t, 0.75, first.CF(), 1e-9)
}

func TestHandleDuplication_ReuseIndex(t *testing.T) {
	tmpl := pointTemplate()
	s := newTestStore(t, 7)

	f := point(tmpl, 4, 4)
	h, dup, err := s.HandleDuplication(f, 42)
	require.NoError(t, err)
	require.Nil(t, dup)
	require.NoError(t, s.Insert(f, h))

	got, ok := s.Lookup(42)
	require.True(t, ok)
	assert.Same(t, f, got)
}

func TestHandleDuplication_NameConflict(t *testing.T) {
	tmpl := pointTemplate().AsNamed()
	s := newTestStore(t, 7)

	a := point(tmpl, 1, 2)
	a.Name = "origin"
	assertFact(t, s, a)

	b := point(tmpl, 3, 4)
	b.Name = "origin"
	_, _, err := s.HandleDuplication(b, 0)
	require.Error(t, err)
	assert.True(t, IsNameConflict(err))

	var fe *FactError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrCodeNameConflict, fe.Code)

	got, ok := s.Named("origin")
	require.True(t, ok)
	assert.Same(t, a, got)
}

func TestHandleDuplication_SameNameDuplicateIsNotConflict(t *testing.T) {
	tmpl := pointTemplate().AsNamed()
	s := newTestStore(t, 7)

	a := point(tmpl, 1, 2)
	a.Name = "origin"
	assertFact(t, s, a)

	b := point(tmpl, 1, 2)
	b.Name = "origin"
	_, dup, err := s.HandleDuplication(b, 0)
	require.NoError(t, err)
	assert.Same(t, a, dup)
}

func TestHandleDuplication_NamedDuplicateOfOtherName(t *testing.T) {
	tests := []struct {
		name     string
		liveName string
	}{
		{"unnamed live fact", ""},
		{"differently named live fact", "centre"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := pointTemplate().AsNamed()
			s := newTestStore(t, 7)

			a := point(tmpl, 1, 2)
			a.Name = tt.liveName
			assertFact(t, s, a)

			b := point(tmpl, 1, 2)
			b.Name = "origin"
			_, dup, err := s.HandleDuplication(b, 0)
			require.Error(t, err)
			assert.Nil(t, dup)
			assert.True(t, IsNameConflict(err))

			_, ok := s.Named("origin")
			assert.False(t, ok, "the new name is never silently dropped or bound")
			assert.Equal(t, tt.liveName, a.Name)
		})
	}
}

// =============================================================================
// Validation
// =============================================================================

func TestValidate(t *testing.T) {
	cf := pointTemplate().WithCertainty(0, 1)

	tests := []struct {
		name    string
		fact    *Fact
		wantErr error
	}{
		{"ok", point(pointTemplate(), 1, 2), nil},
		{"slot count", NewFact(pointTemplate(), []ir.Value{ir.Int(1)}), ErrSlotCount},
		{"multifield in single slot", NewFact(pointTemplate(), []ir.Value{ir.Multi(ir.Int(1)), ir.Int(2)}), ErrSlotShape},
		{"certainty in range", NewFact(cf, []ir.Value{ir.Float(0.2), ir.Int(1), ir.Int(2)}), nil},
		{"certainty out of range", NewFact(cf, []ir.Value{ir.Float(-0.5), ir.Int(1), ir.Int(2)}), ErrCertaintyRange},
		{"name on unnamed template", &Fact{Template: pointTemplate(), Slots: []ir.Value{ir.Int(1), ir.Int(2)}, Name: "p"}, ErrSlotShape},
	}

	s := newTestStore(t, 7)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate(tt.fact)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTemplate_Build(t *testing.T) {
	tmpl := NewTemplate("person",
		SlotDef{Name: "name"},
		SlotDef{Name: "tags", Multifield: true},
		SlotDef{Name: "age", Default: ir.Int(0)},
	)

	slots, err := tmpl.Build(map[string]ir.Value{"name": ir.Sym("ann"), "tags": ir.Sym("admin")})
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.Symbol("ann"), ir.Multifield{ir.Symbol("admin")}, ir.Int(0)}, slots)

	_, err = tmpl.Build(map[string]ir.Value{"height": ir.Int(1)})
	assert.ErrorIs(t, err, ErrUnknownSlot)
}

func TestFact_String(t *testing.T) {
	tmpl := pointTemplate()
	f := point(tmpl, 1, 2)
	f.Index = 3
	assert.Equal(t, "f-3 (point (x 1) (y 2))", f.String())

	g := NewGoal(tmpl, []ir.Value{ir.Unknown{ID: 1}, ir.Int(2)})
	assert.Equal(t, "(goal (point (x ?u1) (y 2)))", g.String())

	list := NewFact(NewImpliedTemplate("list"), []ir.Value{ir.Multi(ir.Sym("a"), ir.Int(1))})
	assert.Equal(t, "(list a 1)", list.String())
}

// =============================================================================
// Table sizing
// =============================================================================

func TestTable_ResizeStability(t *testing.T) {
	tmpl := pointTemplate()
	s := newTestStore(t, 3)
	table := s.Table()
	require.Equal(t, 3, table.Size())

	var facts []*Fact
	for i := range 200 {
		f := assertFact(t, s, point(tmpl, int64(i), int64(i*7)))
		facts = append(facts, f)

		for _, live := range facts {
			require.Same(t, live, s.Exists(NewFact(tmpl, slices.Clone(live.Slots))))
		}
	}
	assert.Greater(t, table.Size(), 3)
	grown := table.Size()

	for i, f := range facts {
		require.True(t, s.Remove(f), "fact %d", i)
		if i < len(facts)-1 {
			assert.Equal(t, grown, table.Size(), "table must not shrink while facts are live")
		}
		for _, live := range facts[i+1:] {
			require.NotNil(t, s.Exists(live))
		}
	}
	assert.Equal(t, 3, table.Size())
	assert.Equal(t, 0, table.Len())
}

func TestNewTable_RejectsBadSize(t *testing.T) {
	_, err := NewTable(0)
	assert.ErrorIs(t, err, ErrTableSize)
}

func TestNameIndex_Resizing(t *testing.T) {
	tmpl := pointTemplate().AsNamed()
	idx := NewNameIndex()
	assert.Equal(t, 0, idx.Buckets())

	facts := make([]*Fact, 100)
	for i := range facts {
		facts[i] = point(tmpl, int64(i), 0)
		require.NoError(t, idx.Add(fmt.Sprintf("p%d", i), facts[i]))
	}
	assert.Greater(t, idx.Buckets(), nameIndexInitial)
	assert.LessOrEqual(t, idx.Len(), 2*idx.Buckets())

	for i, f := range facts {
		got, ok := idx.Lookup(fmt.Sprintf("p%d", i))
		require.True(t, ok)
		require.Same(t, f, got)
	}

	for i, f := range facts {
		require.True(t, idx.Remove(fmt.Sprintf("p%d", i), f))
		for j := i + 1; j < len(facts); j++ {
			_, ok := idx.Lookup(fmt.Sprintf("p%d", j))
			require.True(t, ok)
		}
	}
	assert.Equal(t, 0, idx.Buckets())
	assert.Equal(t, 0, idx.Len())
}

// =============================================================================
// Certainty
// =============================================================================

func TestCombineCertainty(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{0.5, 0.5, 0.75},
		{-0.5, -0.5, -0.75},
		{0.6, -0.4, 0.2 / 0.6},
		{1, -1, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%g,%g", tt.a, tt.b), func(t *testing.T) {
			assert.InDelta(t, tt.want, CombineCertainty(tt.a, tt.b), 1e-9)
		})
	}
}

package engine

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/metrics"
	"github.com/roach88/chainer/internal/network"
)

func pointTemplate() *factstore.Template {
	return factstore.NewTemplate("point", factstore.SlotDef{Name: "x"}, factstore.SlotDef{Name: "y"}).AsBackward()
}

func itemTemplate() *factstore.Template {
	return factstore.NewTemplate("item", factstore.SlotDef{Name: "name"})
}

func point(x, y ir.Value) map[string]ir.Value {
	return map[string]ir.Value{"x": x, "y": y}
}

func needRule() *network.RuleDef {
	return &network.RuleDef{
		Name: "need",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "point", Slots: []network.SlotPattern{
				network.S("x", network.V("x")),
				network.S("y", network.C(ir.Int(2))),
			}}),
		},
	}
}

// itemNeedRule needs a point for every item; the point's x is left open.
func itemNeedRule(x network.FieldDef) *network.RuleDef {
	return &network.RuleDef{
		Name: "item-need",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "item", Slots: []network.SlotPattern{
				network.S("name", network.V("n")),
			}}),
			network.Pat(&network.PatternDef{Template: "point", Slots: []network.SlotPattern{
				network.S("x", x),
				network.S("y", network.C(ir.Int(2))),
			}}),
		},
	}
}

func goalBodies(e *Engine) []string {
	var out []string
	for _, g := range e.Goals() {
		out = append(out, g.Body())
	}
	return out
}

// =============================================================================
// Generation
// =============================================================================

func TestGoal_GeneratedForMissingFact(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())
	mustAssert(t, e, "point", point(ir.Int(1), ir.Int(3)))
	mustAddRule(t, e, needRule())

	goals := e.Goals()
	require.Len(t, goals, 1)
	g := goals[0]
	assert.Equal(t, "f-2 (goal (point (x ?u1) (y 2)))", g.String())
	assert.Equal(t, 1, g.Support)
	assert.True(t, g.Asserted)
	assert.False(t, g.PendingAssert)
	assert.Equal(t, []*factstore.Fact{mustFact(t, e, 1), g}, e.Facts())
}

func TestGoal_SatisfiedThenRegenerated(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())
	mustAddRule(t, e, needRule())
	require.Len(t, e.Goals(), 1)
	first := e.Goals()[0]

	found := mustAssert(t, e, "point", point(ir.Int(7), ir.Int(2)))
	assert.Empty(t, e.Goals(), "a matching fact retracts the goal")
	assert.True(t, first.Garbage)
	assert.Len(t, e.Agenda(), 1)

	require.NoError(t, e.Retract(found))
	assert.Equal(t, []string{"(point (x ?u2) (y 2))"}, goalBodies(e))
	assert.Empty(t, e.Agenda())
}

func TestGoal_DisabledGeneratesNothing(t *testing.T) {
	e := newTestEngine(t, WithGoalGeneration(false))
	defineTemplates(t, e, pointTemplate())
	mustAddRule(t, e, needRule())
	assert.Empty(t, e.Goals())
}

func TestGoal_ValuesFromJoin(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, itemTemplate(), pointTemplate())
	mustAddRule(t, e, itemNeedRule(network.V("n")))

	a := mustAssert(t, e, "item", map[string]ir.Value{"name": ir.Sym("a")})
	mustAssert(t, e, "item", map[string]ir.Value{"name": ir.Sym("b")})
	assert.Equal(t, []string{"(point (x a) (y 2))", "(point (x b) (y 2))"}, goalBodies(e))

	require.NoError(t, e.Retract(a))
	assert.Equal(t, []string{"(point (x b) (y 2))"}, goalBodies(e))
}

func TestGoal_ValuesFromExpression(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, factstore.NewTemplate("num", factstore.SlotDef{Name: "v"}), pointTemplate())
	mustAddRule(t, e, &network.RuleDef{
		Name: "next",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "num", Slots: []network.SlotPattern{
				network.S("v", network.V("v")),
			}}),
			network.Pat(&network.PatternDef{Template: "point", Slots: []network.SlotPattern{
				network.S("x", network.FieldDef{
					Kind: network.FieldVar,
					Var:  "x",
					Pred: network.Eq(network.Var{Name: "x"}, network.Call{Fn: "+", Args: []network.Expr{
						network.Var{Name: "v"}, network.Const{Value: ir.Int(1)},
					}}),
				}),
				network.S("y", network.C(ir.Int(2))),
			}}),
		},
	})

	mustAssert(t, e, "num", map[string]ir.Value{"v": ir.Int(4)})
	assert.Equal(t, []string{"(point (x 5) (y 2))"}, goalBodies(e))

	mustAssert(t, e, "point", point(ir.Int(5), ir.Int(2)))
	assert.Empty(t, e.Goals())
	assert.Len(t, e.Agenda(), 1)
}

func TestGoal_SlotEqualityFixpoint(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, itemTemplate(), pointTemplate())
	mustAddRule(t, e, &network.RuleDef{
		Name: "diagonal",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "item", Slots: []network.SlotPattern{
				network.S("name", network.V("n")),
			}}),
			network.Pat(&network.PatternDef{Template: "point", Slots: []network.SlotPattern{
				network.S("x", network.FieldDef{
					Kind: network.FieldVar,
					Var:  "z",
					Pred: network.Eq(network.Var{Name: "z"}, network.Var{Name: "n"}),
				}),
				network.S("y", network.V("z")),
			}}),
		},
	})

	mustAssert(t, e, "item", map[string]ir.Value{"name": ir.Sym("a")})
	assert.Equal(t, []string{"(point (x a) (y a))"}, goalBodies(e))
}

func TestGoal_MultifieldSpanLayout(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e,
		factstore.NewTemplate("start", factstore.SlotDef{Name: "at"}),
		factstore.NewTemplate("path", factstore.SlotDef{Name: "nodes", Multifield: true}).AsBackward(),
	)
	mustAddRule(t, e, &network.RuleDef{
		Name: "route",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "start", Slots: []network.SlotPattern{
				network.S("at", network.V("a")),
			}}),
			network.Pat(&network.PatternDef{Template: "path", Slots: []network.SlotPattern{
				network.S("nodes", network.V("a"), network.MV("mid"), network.C(ir.Sym("end"))),
			}}),
		},
	})

	mustAssert(t, e, "start", map[string]ir.Value{"at": ir.Sym("a")})
	assert.Equal(t, []string{"(path (nodes a ?u1 end))"}, goalBodies(e))
}

func TestGoal_SeveralSpansLayout(t *testing.T) {
	tests := []struct {
		name   string
		fields []network.FieldDef
		want   string
	}{
		{"constant between spans",
			[]network.FieldDef{network.MV("pre"), network.C(ir.Sym("x")), network.MV("post")},
			"(path (nodes ?u1 x ?u2))"},
		{"joined variable between spans",
			[]network.FieldDef{network.MV("pre"), network.V("a"), network.MV("post")},
			"(path (nodes ?u1 a ?u2))"},
		{"anchors around spans",
			[]network.FieldDef{network.V("a"), network.MV("x"), network.C(ir.Sym("mid")), network.MV("y"), network.C(ir.Sym("end"))},
			"(path (nodes a ?u1 mid ?u2 end))"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			defineTemplates(t, e,
				factstore.NewTemplate("start", factstore.SlotDef{Name: "at"}),
				factstore.NewTemplate("path", factstore.SlotDef{Name: "nodes", Multifield: true}).AsBackward(),
			)
			mustAddRule(t, e, &network.RuleDef{
				Name: "route",
				Conditions: []network.Condition{
					network.Pat(&network.PatternDef{Template: "start", Slots: []network.SlotPattern{
						network.S("at", network.V("a")),
					}}),
					network.Pat(&network.PatternDef{Template: "path", Slots: []network.SlotPattern{
						network.S("nodes", tt.fields...),
					}}),
				},
			})

			mustAssert(t, e, "start", map[string]ir.Value{"at": ir.Sym("a")})
			assert.Equal(t, []string{tt.want}, goalBodies(e))
		})
	}
}

func TestGoal_SeveralSpansSatisfied(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e,
		factstore.NewTemplate("start", factstore.SlotDef{Name: "at"}),
		factstore.NewTemplate("path", factstore.SlotDef{Name: "nodes", Multifield: true}).AsBackward(),
	)
	mustAddRule(t, e, &network.RuleDef{
		Name: "route",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "start", Slots: []network.SlotPattern{
				network.S("at", network.V("a")),
			}}),
			network.Pat(&network.PatternDef{Template: "path", Slots: []network.SlotPattern{
				network.S("nodes", network.MV("pre"), network.V("a"), network.MV("post")),
			}}),
		},
	})

	mustAssert(t, e, "path", map[string]ir.Value{"nodes": ir.Multi(ir.Sym("b"), ir.Sym("a"))})
	mustAssert(t, e, "start", map[string]ir.Value{"at": ir.Sym("a")})
	assert.Empty(t, e.Goals(), "a matching path needs no goal")
	assert.Len(t, e.Agenda(), 1)
}

// An implied template holds its fields in one multifield slot, so a goal for
// an ordered pattern lays out like any other multifield slot.
func TestGoal_ImpliedTemplateLayout(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e,
		factstore.NewTemplate("want", factstore.SlotDef{Name: "n"}),
		factstore.NewImpliedTemplate("list").AsBackward(),
	)
	mustAddRule(t, e, &network.RuleDef{
		Name: "ordered",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "want", Slots: []network.SlotPattern{
				network.S("n", network.V("n")),
			}}),
			network.Pat(&network.PatternDef{Template: "list", Slots: []network.SlotPattern{
				network.S("", network.C(ir.Sym("a")), network.V("n"), network.MV("rest"), network.C(ir.Sym("z"))),
			}}),
		},
	})

	mustAssert(t, e, "want", map[string]ir.Value{"n": ir.Sym("q")})
	goals := e.Goals()
	require.Len(t, goals, 1)
	assert.Equal(t, "(list a q ?u1 z)", goals[0].Body())
	assert.True(t, goals[0].Template.Implied)
}

func TestGoal_MultifieldExactLayout(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e,
		factstore.NewTemplate("start", factstore.SlotDef{Name: "at"}),
		factstore.NewTemplate("path", factstore.SlotDef{Name: "nodes", Multifield: true}).AsBackward(),
	)
	mustAddRule(t, e, &network.RuleDef{
		Name: "hop",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "start", Slots: []network.SlotPattern{
				network.S("at", network.V("a")),
			}}),
			network.Pat(&network.PatternDef{Template: "path", Slots: []network.SlotPattern{
				network.S("nodes", network.V("a"), network.Any(), network.C(ir.Sym("end"))),
			}}),
		},
	})

	mustAssert(t, e, "start", map[string]ir.Value{"at": ir.Sym("a")})
	assert.Equal(t, []string{"(path (nodes a ?u1 end))"}, goalBodies(e))
	g := e.Goals()[0]
	assert.Equal(t, 3, ir.Length(g.Slots[0]))
}

func TestGoal_CertaintySlotTakesDefault(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, factstore.NewTemplate("belief", factstore.SlotDef{Name: "claim"}).WithCertainty(-1, 1).AsBackward())
	mustAddRule(t, e, &network.RuleDef{
		Name: "wonder",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "belief", Slots: []network.SlotPattern{
				network.S("claim", network.C(ir.Sym("rain"))),
			}}),
		},
	})

	require.Len(t, e.Goals(), 1)
	g := e.Goals()[0]
	assert.InDelta(t, 1.0, g.CF(), 1e-9)
	v, _ := g.Slot("claim")
	assert.Equal(t, ir.Sym("rain"), v)
}

func TestGoal_RegeneratedAfterReset(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())
	mustAddRule(t, e, needRule())
	mustAssert(t, e, "point", point(ir.Int(7), ir.Int(2)))
	require.Empty(t, e.Goals())

	require.NoError(t, e.Reset())
	goals := e.Goals()
	require.Len(t, goals, 1)
	assert.Equal(t, int64(1), goals[0].Index)
}

// =============================================================================
// Support
// =============================================================================

func TestGoal_DeduplicatedAcrossMatches(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, itemTemplate(), pointTemplate())
	mustAddRule(t, e, itemNeedRule(network.V("x")))

	before := testutil.ToFloat64(metrics.GoalEvents.WithLabelValues("deduplicated"))
	a := mustAssert(t, e, "item", map[string]ir.Value{"name": ir.Sym("a")})
	b := mustAssert(t, e, "item", map[string]ir.Value{"name": ir.Sym("b")})

	goals := e.Goals()
	require.Len(t, goals, 1)
	g := goals[0]
	assert.Equal(t, 2, g.Support)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.GoalEvents.WithLabelValues("deduplicated")))

	require.NoError(t, e.Retract(a))
	assert.Equal(t, 1, g.Support)
	assert.True(t, g.Asserted)

	require.NoError(t, e.Retract(b))
	assert.Empty(t, e.Goals())
	assert.Zero(t, g.Support)
	assert.True(t, g.Garbage)
}

func TestGoal_SelfSupportRefused(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())
	mustAddRule(t, e, needRule())
	require.Len(t, e.Goals(), 1)
	g := e.Goals()[0]

	mustAddRule(t, e, &network.RuleDef{
		Name: "chase",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "point", Goal: true, Slots: []network.SlotPattern{
				network.S("x", network.V("x")),
				network.S("y", network.V("y")),
			}}),
			network.Pat(&network.PatternDef{Template: "point", Slots: []network.SlotPattern{
				network.S("x", network.V("x")),
				network.S("y", network.V("y")),
			}}),
		},
	})

	assert.Equal(t, []*factstore.Fact{g}, e.Goals())
	assert.Equal(t, 1, g.Support)
	assert.Nil(t, e.Halted())
}

func TestGoal_SupportInvariant(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, itemTemplate(), pointTemplate())
	mustAddRule(t, e, itemNeedRule(network.V("x")))
	for _, n := range []string{"a", "b", "c"} {
		mustAssert(t, e, "item", map[string]ir.Value{"name": ir.Sym(n)})
	}

	marked := map[*factstore.Fact]int{}
	for _, m := range e.mem {
		if m == nil {
			continue
		}
		for _, l := range m.left.all() {
			if l.goalMarker != nil {
				marked[l.goalMarker]++
			}
		}
	}
	for _, g := range e.Goals() {
		assert.Equal(t, g.Support, marked[g], "support of %s", g)
	}
}

// =============================================================================
// Goal queue
// =============================================================================

func insertGoal(t *testing.T, e *Engine, slots ...ir.Value) *factstore.Fact {
	t.Helper()
	tmpl, ok := e.Template("point")
	require.True(t, ok)
	g := factstore.NewGoal(tmpl, slots)
	h, dup, err := e.facts.HandleDuplication(g, 0)
	require.NoError(t, err)
	require.Nil(t, dup)
	require.NoError(t, e.facts.Insert(g, h))
	return g
}

func TestGoalQueue_AssertThenRetractCollapses(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())

	before := testutil.ToFloat64(metrics.GoalEvents.WithLabelValues("collapsed"))
	var g *factstore.Fact
	err := e.guard("test", func() error {
		g = insertGoal(t, e, ir.Int(1), ir.Int(2))
		e.addToGoalQueue(g, true)
		e.addToGoalQueue(g, true)
		assert.Equal(t, 1, e.goals.Len(), "a repeated assert is a no-op")
		e.addToGoalQueue(g, false)
		assert.Zero(t, e.goals.Len())
		return nil
	})
	require.NoError(t, err)

	assert.False(t, g.Asserted)
	assert.True(t, g.Garbage)
	assert.Empty(t, e.Goals())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.GoalEvents.WithLabelValues("collapsed")))
}

func TestGoalQueue_RetractThenAssertCollapses(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())

	var g *factstore.Fact
	require.NoError(t, e.guard("test", func() error {
		g = insertGoal(t, e, ir.Int(1), ir.Int(2))
		e.addToGoalQueue(g, true)
		return nil
	}))
	require.True(t, g.Asserted)

	require.NoError(t, e.guard("test", func() error {
		e.addToGoalQueue(g, false)
		assert.True(t, g.PendingRetract)
		e.addToGoalQueue(g, true)
		assert.False(t, g.PendingRetract)
		assert.Zero(t, e.goals.Len())
		return nil
	}))

	assert.True(t, g.Asserted)
	assert.False(t, g.Garbage)
	assert.Len(t, e.Goals(), 1)
}

func TestGoalQueue_RetractSkippedWhenSupported(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())

	var g *factstore.Fact
	require.NoError(t, e.guard("test", func() error {
		g = insertGoal(t, e, ir.Int(1), ir.Int(2))
		e.addToGoalQueue(g, true)
		return nil
	}))

	require.NoError(t, e.guard("test", func() error {
		e.addToGoalQueue(g, false)
		g.Support = 1
		return nil
	}))
	assert.True(t, g.Asserted, "support regained before the queue drained")
}

func TestGoalQueue_FIFO(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())
	mustAddRule(t, e, &network.RuleDef{
		Name: "seen",
		Conditions: []network.Condition{
			network.Pat(&network.PatternDef{Template: "point", Goal: true, Slots: []network.SlotPattern{
				network.S("x", network.V("x")),
			}}),
		},
	})

	require.NoError(t, e.guard("test", func() error {
		for i := int64(1); i <= 3; i++ {
			e.addToGoalQueue(insertGoal(t, e, ir.Int(i), ir.Int(0)), true)
		}
		assert.Empty(t, e.Agenda(), "queued goals are not in the network yet")
		return nil
	}))

	var order []int64
	for _, a := range e.Agenda() {
		order = append(order, a.Match.Binds[0].Index)
	}
	assert.Equal(t, []int64{3, 2, 1}, order, "asserted first to last, fired newest first")
}

// =============================================================================
// Inference boundary
// =============================================================================

func TestGoal_InferenceIsNotReentrant(t *testing.T) {
	var e *Engine
	var inner []error
	ev := network.NewEvaluator()
	ev.Register("probe", func(args []ir.Value) (ir.Value, error) {
		inner = append(inner, e.DefineTemplate(factstore.NewTemplate("late")))
		return ir.Int(7), nil
	})
	e = newTestEngine(t, WithEvaluator(ev))
	defineTemplates(t, e, itemTemplate(), pointTemplate())
	mustAddRule(t, e, itemNeedRule(network.FieldDef{
		Kind: network.FieldVar,
		Var:  "x",
		Pred: network.Eq(network.Var{Name: "x"}, network.Call{Fn: "probe", Args: []network.Expr{network.Var{Name: "n"}}}),
	}))

	mustAssert(t, e, "item", map[string]ir.Value{"name": ir.Sym("a")})

	require.Len(t, inner, 1)
	assert.ErrorIs(t, inner[0], ErrReentrant)
	assert.Equal(t, []string{"(point (x 7) (y 2))"}, goalBodies(e))
	_, defined := e.Template("late")
	assert.False(t, defined)
	assert.Nil(t, e.Halted())
}

func TestGoal_SupportUnderflowHalts(t *testing.T) {
	e := newTestEngine(t)
	defineTemplates(t, e, pointTemplate())

	err := e.guard("test", func() error {
		g := insertGoal(t, e, ir.Int(1), ir.Int(2))
		pm := newPM(nil, nil, nil, nil)
		pm.goalMarker = g
		e.updateGoalSupport(pm)
		return nil
	})
	var se *SystemError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeGoalSupport, se.Code)
	assert.True(t, IsHalted(e.DefineTemplate(itemTemplate())))
}

func mustFact(t *testing.T, e *Engine, index int64) *factstore.Fact {
	t.Helper()
	f, ok := e.Fact(index)
	require.True(t, ok)
	return f
}

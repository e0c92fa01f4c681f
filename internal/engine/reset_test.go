package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/metrics"
	"github.com/roach88/chainer/internal/network"
)

// resetRules covers plain joins, shared prefixes, identical rules, not,
// exists, groups joined from the right, predicates, test CEs and
// multifields.
func resetRules() []*network.RuleDef {
	personPat := func(slots ...network.SlotPattern) network.Condition {
		return network.Pat(&network.PatternDef{Template: "person", Slots: slots})
	}
	petPat := func(slots ...network.SlotPattern) *network.PatternDef {
		return &network.PatternDef{Template: "pet", Slots: slots}
	}

	ownerCopy := ownerRule()
	ownerCopy.Name = "owner-copy"

	return []*network.RuleDef{
		ownerRule(),
		ownerCopy,
		{
			Name: "cat-owner",
			Conditions: []network.Condition{
				personPat(network.S("name", network.V("n"))),
				network.Pat(petPat(network.S("owner", network.V("n")), network.S("kind", network.C(ir.Sym("cat"))))),
			},
		},
		{
			Name: "no-pet",
			Conditions: []network.Condition{
				personPat(network.S("name", network.V("n"))),
				network.Not(petPat(network.S("owner", network.V("n")))),
			},
		},
		{
			Name: "has-pet",
			Conditions: []network.Condition{
				personPat(network.S("name", network.V("n"))),
				network.Exists(petPat(network.S("owner", network.V("n")))),
			},
		},
		{
			Name: "adult-cat",
			Conditions: []network.Condition{
				personPat(
					network.S("name", network.V("n")),
					network.S("age", network.FieldDef{
						Kind: network.FieldVar,
						Var:  "a",
						Pred: network.Call{Fn: ">", Args: []network.Expr{network.Var{Name: "a"}, network.Const{Value: ir.Int(17)}}},
					}),
				),
				network.Pat(petPat(network.S("owner", network.V("n")), network.S("kind", network.C(ir.Sym("cat"))))),
			},
		},
		{
			Name: "not-dog",
			Conditions: []network.Condition{
				personPat(network.S("name", network.V("n"))),
				network.Pat(petPat(network.S("owner", network.V("n")), network.S("kind", network.V("k")))),
				network.TestCE(network.Call{Fn: "neq", Args: []network.Expr{network.Var{Name: "k"}, network.Const{Value: ir.Sym("dog")}}}),
			},
		},
		groupRule(),
		{
			Name: "lonely-adult",
			Conditions: []network.Condition{
				personPat(network.S("name", network.V("n"))),
				network.NotGroup(
					network.Pat(petPat(network.S("owner", network.V("n")), network.S("kind", network.V("k")))),
				),
				network.Pat(&network.PatternDef{Template: "person", Slots: []network.SlotPattern{
					network.S("name", network.V("n")),
					network.S("age", network.FieldDef{
						Kind: network.FieldVar,
						Var:  "a",
						Pred: network.Call{Fn: ">=", Args: []network.Expr{network.Var{Name: "a"}, network.Const{Value: ir.Int(18)}}},
					}),
				}}),
			},
		},
		tagsRule(),
	}
}

func resetFacts(t *testing.T, e *Engine) {
	t.Helper()
	mustAssert(t, e, "person", person("alice", 30))
	mustAssert(t, e, "person", person("bob", 10))
	mustAssert(t, e, "person", person("carol", 40))
	mustAssert(t, e, "person", person("dave", 25))
	mustAssert(t, e, "pet", pet("alice", "cat"))
	mustAssert(t, e, "pet", pet("alice", "dog"))
	mustAssert(t, e, "pet", pet("bob", "cat"))
	mustAssert(t, e, "pet", pet("carol", "dog"))
	mustAssert(t, e, "tags", map[string]ir.Value{"items": ir.Multi(ir.Sym("a"), ir.Sym("x"), ir.Sym("b"))})
	mustAssert(t, e, "tags", map[string]ir.Value{"items": ir.Multi(ir.Sym("x"), ir.Sym("y"))})
	mustAssert(t, e, "tags", map[string]ir.Value{"items": ir.Multi(ir.Sym("x"))})
}

func newResetEngine(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine(t)
	defineTemplates(t, e,
		personTemplate(),
		petTemplate(),
		factstore.NewTemplate("tags", factstore.SlotDef{Name: "items", Multifield: true}),
	)
	return e
}

func allSignatures(t *testing.T, e *Engine) map[string][]string {
	t.Helper()
	out := make(map[string][]string)
	for _, r := range e.Network().Rules() {
		out[r.Name] = matchSignatures(t, e, r.Name)
	}
	return out
}

// =============================================================================
// Incremental reset
// =============================================================================

func TestIncrementalReset_MatchesRulesFirst(t *testing.T) {
	// reference: every rule present before any fact
	ref := newResetEngine(t)
	for _, def := range resetRules() {
		mustAddRule(t, ref, def)
	}
	resetFacts(t, ref)
	want := allSignatures(t, ref)

	t.Run("facts first", func(t *testing.T) {
		e := newResetEngine(t)
		resetFacts(t, e)
		for _, def := range resetRules() {
			mustAddRule(t, e, def)
		}
		if diff := cmp.Diff(want, allSignatures(t, e)); diff != "" {
			t.Errorf("matches mismatch (-rules first +facts first):\n%s", diff)
		}
		assert.Equal(t, len(ref.Agenda()), len(e.Agenda()))
	})

	t.Run("interleaved", func(t *testing.T) {
		e := newResetEngine(t)
		defs := resetRules()
		for _, def := range defs[:len(defs)/2] {
			mustAddRule(t, e, def)
		}
		resetFacts(t, e)
		for _, def := range defs[len(defs)/2:] {
			mustAddRule(t, e, def)
		}
		if diff := cmp.Diff(want, allSignatures(t, e)); diff != "" {
			t.Errorf("matches mismatch (-rules first +interleaved):\n%s", diff)
		}
	})

	t.Run("reverse order", func(t *testing.T) {
		e := newResetEngine(t)
		resetFacts(t, e)
		defs := resetRules()
		for i := len(defs) - 1; i >= 0; i-- {
			mustAddRule(t, e, defs[i])
		}
		if diff := cmp.Diff(want, allSignatures(t, e)); diff != "" {
			t.Errorf("matches mismatch (-rules first +reverse):\n%s", diff)
		}
	})
}

func TestIncrementalReset_ExpectedMatches(t *testing.T) {
	e := newResetEngine(t)
	resetFacts(t, e)
	for _, def := range resetRules() {
		mustAddRule(t, e, def)
	}

	assert.Equal(t, []string{
		"(person (name alice) (age 30)) (pet (owner alice) (kind cat))",
	}, matchSignatures(t, e, "adult-cat"))
	assert.Equal(t, []string{"(person (name dave) (age 25)) *"}, matchSignatures(t, e, "no-pet"))
	assert.Equal(t, []string{
		"(person (name dave) (age 25)) * (person (name dave) (age 25))",
	}, matchSignatures(t, e, "lonely-adult"))
	assert.Len(t, matchSignatures(t, e, "has-pet"), 3)
	assert.Equal(t, []string{
		"(person (name bob) (age 10)) *",
		"(person (name carol) (age 40)) *",
		"(person (name dave) (age 25)) *",
	}, matchSignatures(t, e, "single-pet-or-none"))
	assert.Len(t, matchSignatures(t, e, "tags"), 2)
}

func TestIncrementalReset_RetractAfterPriming(t *testing.T) {
	e := newResetEngine(t)
	resetFacts(t, e)
	for _, def := range resetRules() {
		mustAddRule(t, e, def)
	}

	alice, ok := e.Fact(1)
	require.True(t, ok)
	require.NoError(t, e.Retract(alice))

	for rule, sigs := range allSignatures(t, e) {
		for _, s := range sigs {
			assert.NotContains(t, s, "alice", "rule %s kept a match of a retracted fact", rule)
		}
	}
}

func TestIncrementalReset_PrimingSources(t *testing.T) {
	e := newResetEngine(t)
	mustAddRule(t, e, ownerRule())
	resetFacts(t, e)

	sibling := testutil.ToFloat64(metrics.JoinsPrimed.WithLabelValues("sibling"))
	copyRule := ownerRule()
	copyRule.Name = "owner-copy"
	mustAddRule(t, e, copyRule)

	assert.Equal(t, sibling+1, testutil.ToFloat64(metrics.JoinsPrimed.WithLabelValues("sibling")),
		"an identical rule is primed from the existing terminal")
	assert.Equal(t, matchSignatures(t, e, "owner"), matchSignatures(t, e, "owner-copy"))
	assert.Len(t, e.Agenda(), 2*len(matchSignatures(t, e, "owner")))
}

func TestOutputs_RecomputedFromParentMatchSibling(t *testing.T) {
	e := newResetEngine(t)
	mustAddRule(t, e, ownerRule())
	resetFacts(t, e)

	r, ok := e.Network().Rule("owner")
	require.True(t, ok)
	term := e.Network().Join(r.Terminal)
	first := e.Network().Join(term.LastLevel)

	fromSibling, src := e.outputs(first, network.NoJoin)
	assert.Equal(t, "sibling", src)
	recomputed, src := e.outputs(first, term.ID)
	assert.Equal(t, "parent", src)

	indices := func(pms []*PartialMatch) []string {
		out := make([]string, len(pms))
		for i, pm := range pms {
			out[i] = pm.Indices()
		}
		return out
	}
	assert.ElementsMatch(t, indices(fromSibling), indices(recomputed))
	assert.Len(t, recomputed, 4)
}

func TestIncrementalReset_UninitializedSourceHalts(t *testing.T) {
	e := newResetEngine(t)
	mustAddRule(t, e, ownerRule())

	r, _ := e.Network().Rule("owner")
	j := e.Network().Join(r.Terminal)
	err := e.guard("test", func() error {
		j.Initialize = true
		e.outputs(j, network.NoJoin)
		return nil
	})
	j.Initialize = false

	var se *SystemError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodePriming, se.Code)
	assert.True(t, IsHalted(e.Reset()))
}

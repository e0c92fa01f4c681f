package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainer/internal/network"
)

// chainRule matches `in` and asserts each of `out`.
func chainRule(name, in string, out ...string) *network.RuleDef {
	r := &network.RuleDef{
		Name:       name,
		Conditions: []network.Condition{network.Pat(&network.PatternDef{Template: in})},
	}
	for _, t := range out {
		r.Actions = append(r.Actions, network.ActionDef{Kind: network.ActionAssert, Template: t})
	}
	return r
}

func TestAnalyzeCycles_Empty(t *testing.T) {
	warnings := AnalyzeCycles(nil)
	assert.NotNil(t, warnings)
	assert.Empty(t, warnings)
}

func TestAnalyzeCycles_DAG(t *testing.T) {
	warnings := AnalyzeCycles([]*network.RuleDef{
		chainRule("a", "order", "invoice", "shipment"),
		chainRule("b", "invoice", "payment"),
		chainRule("c", "shipment"),
	})
	assert.Empty(t, warnings, "DAG should produce no cycle warnings")
}

func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	warnings := AnalyzeCycles([]*network.RuleDef{chainRule("count", "counter", "counter")})
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"count", "count"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "Self-activating")
}

func TestAnalyzeCycles_TwoRuleCycle(t *testing.T) {
	warnings := AnalyzeCycles([]*network.RuleDef{
		chainRule("ping", "ball-left", "ball-right"),
		chainRule("pong", "ball-right", "ball-left"),
		chainRule("watch", "ball-left"),
	})
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"ping", "pong", "ping"}, warnings[0].Path)
	assert.Equal(t, "Potential cycle detected: ping → pong → ping", warnings[0].Message)
}

func TestAnalyzeCycles_NegatedAndGroupedConditions(t *testing.T) {
	// a not over the asserted template still counts as a dependency
	r := &network.RuleDef{
		Name: "guard",
		Conditions: []network.Condition{
			network.NotGroup(network.Pat(&network.PatternDef{Template: "alarm"})),
		},
		Actions: []network.ActionDef{{Kind: network.ActionAssert, Template: "alarm"}},
	}
	warnings := AnalyzeCycles([]*network.RuleDef{r})
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"guard", "guard"}, warnings[0].Path)
}

func TestAnalyzeCycles_Deterministic(t *testing.T) {
	rules := []*network.RuleDef{
		chainRule("z", "t1", "t2"),
		chainRule("y", "t2", "t1"),
		chainRule("b", "t3", "t4"),
		chainRule("a", "t4", "t3"),
	}
	first := AnalyzeCycles(rules)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, AnalyzeCycles(rules))
	}
	require.Len(t, first, 2)
	assert.Equal(t, []string{"a", "b", "a"}, first[0].Path)
}

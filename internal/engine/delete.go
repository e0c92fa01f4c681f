package engine

import (
	"fmt"

	"github.com/roach88/chainer/internal/network"
)

// removePM deletes a partial match and everything derived from it.
//
// Removal is immediate. Effects on other memories (blocking counts, goal
// support, new not/exists outputs) are applied as each match leaves its
// memory; activations they produce are queued for the next drain.
func (e *Engine) removePM(root *PartialMatch) {
	stack := []*PartialMatch{root}
	for len(stack) > 0 {
		pm := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if pm.deleted {
			continue
		}
		pm.deleted = true
		mem := pm.mem
		wasIn := pm.inMemory
		if mem != nil {
			mem.remove(pm)
		}
		pm.unlinkFromParents()

		if wasIn {
			switch mem.side {
			case sideLeft:
				if pm.goalMarker != nil {
					e.updateGoalSupport(pm)
				}
			case sideRight:
				if j := e.net.Join(mem.join); j != nil && !j.Marked && (j.Blocking() || j.GoalJoin) {
					e.unblock(j, pm)
				}
			case sideTerminal:
				if pm.activation != nil {
					e.agenda.remove(pm.activation)
				}
			}
		}

		stack = append(stack, pm.children...)
		pm.children = nil
		e.garbagePMs = append(e.garbagePMs, pm)
	}
}

// unblock takes a departed right entry out of the counts of the left
// matches it joined with.
func (e *Engine) unblock(j *network.JoinNode, r *PartialMatch) {
	for _, l := range e.leftMatches(j, r) {
		l.count--
		if j.Blocking() {
			e.settle(j, l)
			continue
		}
		if l.count == 0 {
			e.maybeGenerateGoal(j, l)
		}
	}
}

// removeRule detaches a rule and releases everything only it used.
func (e *Engine) removeRule(name string) error {
	r, ok := e.net.Rule(name)
	if !ok {
		return fmt.Errorf("remove rule: %w: %s", network.ErrUnknownRule, name)
	}
	if rs := e.rules[r]; rs != nil {
		for _, pm := range rs.terminal.all() {
			e.removePM(pm)
		}
	}
	delete(e.rules, r)

	det, err := e.net.DetachRule(name)
	if err != nil {
		return fmt.Errorf("remove rule: %w", err)
	}

	trees := make(map[*network.PatternTree]bool)
	for _, ref := range det.Patterns {
		trees[ref.Tree] = true
	}
	for _, id := range det.Joins {
		j := e.net.Join(id)
		if j.RightTree != nil {
			trees[j.RightTree] = true
		}
		m := e.mem[id]
		for _, pm := range m.left.all() {
			e.removePM(pm)
		}
		for _, pm := range m.right.all() {
			e.removePM(pm)
		}
	}
	e.drain()
	e.net.FreeJoins(det.Joins)
	for _, id := range det.Joins {
		e.mem[id] = nil
	}
	e.pruneAlpha(trees)

	e.logger.Debug("rule removed",
		"rule", name,
		"freed_joins", len(det.Joins),
		"freed_patterns", len(det.Patterns),
	)
	return nil
}

package engine

import (
	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/metrics"
)

// goalEntry is one deferred goal assert or retract.
type goalEntry struct {
	fact     *factstore.Fact
	assert   bool
	canceled bool
}

// goalQueue is the FIFO of deferred goal operations. pending maps a goal to
// its live entry so that opposite requests can cancel it.
type goalQueue struct {
	entries []*goalEntry
	pending map[*factstore.Fact]*goalEntry
}

func newGoalQueue() goalQueue {
	return goalQueue{pending: make(map[*factstore.Fact]*goalEntry)}
}

// Len returns the number of live entries.
func (q *goalQueue) Len() int { return len(q.pending) }

func (q *goalQueue) enqueue(g *factstore.Fact, assert bool) {
	ent := &goalEntry{fact: g, assert: assert}
	q.entries = append(q.entries, ent)
	q.pending[g] = ent
}

func (q *goalQueue) cancel(g *factstore.Fact) {
	if ent := q.pending[g]; ent != nil {
		ent.canceled = true
		delete(q.pending, g)
	}
}

// addToGoalQueue defers a goal assert or retract, collapsing it with an
// opposite request still waiting:
//   - assert with a pending retract cancels the retract
//   - assert of a goal already queued or asserted is a no-op
//   - retract with a pending assert cancels the assert and drops the goal
//   - retract of a goal already queued or never asserted is a no-op
func (e *Engine) addToGoalQueue(g *factstore.Fact, assert bool) {
	q := &e.goals
	if assert {
		switch {
		case g.PendingRetract:
			q.cancel(g)
			g.PendingRetract = false
			metrics.GoalEvents.WithLabelValues("collapsed").Inc()
		case g.PendingAssert || g.Asserted:
		default:
			g.PendingAssert = true
			q.enqueue(g, true)
		}
		return
	}

	switch {
	case g.PendingAssert:
		q.cancel(g)
		g.PendingAssert = false
		e.facts.Remove(g)
		g.Garbage = true
		e.garbageFacts = append(e.garbageFacts, g)
		metrics.GoalEvents.WithLabelValues("collapsed").Inc()
	case g.PendingRetract || !g.Asserted:
	default:
		g.PendingRetract = true
		q.enqueue(g, false)
	}
}

// processGoalQueue materializes queued goal operations in FIFO order. Goal
// asserts and retracts may queue further goals; they run in the same pass.
func (e *Engine) processGoalQueue() {
	q := &e.goals
	for len(q.entries) > 0 {
		ent := q.entries[0]
		q.entries[0] = nil
		q.entries = q.entries[1:]
		if ent.canceled {
			continue
		}
		delete(q.pending, ent.fact)
		g := ent.fact
		if ent.assert {
			g.PendingAssert = false
			e.activateFact(g)
			metrics.GoalEvents.WithLabelValues("asserted").Inc()
			e.logger.Debug("goal asserted", "goal", g.String(), "support", g.Support)
			continue
		}
		g.PendingRetract = false
		if g.Support > 0 {
			continue
		}
		e.retractFact(g)
		metrics.GoalEvents.WithLabelValues("retracted").Inc()
	}
	q.entries = q.entries[:0]
}

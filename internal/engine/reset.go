package engine

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/metrics"
	"github.com/roach88/chainer/internal/network"
)

// incrementalReset brings the joins, pattern terminals and rule created by
// one AddRule up to date with working memory without touching anything that
// was already live.
//
// Order:
//  1. new pattern terminals are primed from the facts of their template
//  2. right memories of new joins are filled from their entry terminal, or
//     from the outputs of an already-live join for joins entered from the
//     right
//  3. new joins are left-primed parent before child: a first join from a
//     fresh root match, a join under a live parent from copies of the
//     parent's outputs; joins under new parents fill by propagation
//  4. the rule is primed, goal joins get their goals, flags are cleared
func (e *Engine) incrementalReset(res *network.BuildResult) {
	start := time.Now()
	defer func() {
		metrics.ResetDuration.Observe(time.Since(start).Seconds())
	}()

	for _, id := range res.Joins {
		e.ensureMem(id)
	}
	rule := res.Rule
	rs := &ruleState{rule: rule, terminal: newBetaMemory(sideTerminal, rule.Terminal)}
	rs.terminal.rule = rs
	e.rules[rule] = rs

	e.primePatterns(res)

	isNew := make(map[network.JoinID]bool, len(res.Joins))
	for _, id := range res.Joins {
		isNew[id] = true
	}
	for _, id := range res.Joins {
		j := e.net.Join(id)
		if j.JoinFromTheRight {
			if !isNew[j.RightJoin] {
				e.primeRight(j)
			}
			continue
		}
		e.primeRightFromAlpha(j)
	}

	// a new terminal join delivers activations by propagation
	if isNew[rule.Terminal] {
		rule.Initialize = false
	}

	primed := make(map[network.JoinID]bool, len(res.Joins))
	pending := append([]network.JoinID(nil), res.Joins...)
	for len(pending) > 0 {
		progress := false
		rest := pending[:0]
		for _, id := range pending {
			j := e.net.Join(id)
			if !e.primable(j, isNew, primed) {
				rest = append(rest, id)
				continue
			}
			switch {
			case j.LastLevel == network.NoJoin:
				e.push(workLeft, id, newPM(nil, nil, nil, nil))
				metrics.JoinsPrimed.WithLabelValues("root").Inc()
			case !isNew[j.LastLevel]:
				src := e.primeLeft(j)
				metrics.JoinsPrimed.WithLabelValues(src).Inc()
			}
			e.drain()
			primed[id] = true
			progress = true
		}
		if !progress {
			raiseWith(ErrCodePriming, map[string]string{
				"rule":    rule.Name,
				"pending": fmt.Sprint(rest),
			}, "no join of rule %s can be primed", rule.Name)
		}
		pending = rest
	}

	if rule.Initialize {
		e.primeRule(rule)
	}
	rule.Initialize = false

	var goalJoins []*network.JoinNode
	for _, id := range res.Joins {
		j := e.net.Join(id)
		j.Initialize = false
		if j.GoalJoin {
			goalJoins = append(goalJoins, j)
		}
	}
	for _, ref := range res.Patterns {
		if n := ref.Tree.Node(ref.Node); n != nil {
			n.Initialize = false
		}
	}
	e.checkForPrimableGoals(goalJoins)
}

// primable reports whether both inputs of a new join are ready: its left
// side is the root, a live parent or an already primed parent, and its
// right side is a terminal or a live or primed join.
func (e *Engine) primable(j *network.JoinNode, isNew, primed map[network.JoinID]bool) bool {
	if p := j.LastLevel; p != network.NoJoin && isNew[p] && !primed[p] {
		return false
	}
	if j.JoinFromTheRight && isNew[j.RightJoin] && !primed[j.RightJoin] {
		return false
	}
	return true
}

// primePatterns records the live facts of every template touched by the
// rule at terminals that have no alpha memory yet.
func (e *Engine) primePatterns(res *network.BuildResult) {
	trees := make(map[*network.PatternTree]bool)
	var order []*network.PatternTree
	note := func(t *network.PatternTree) {
		if t != nil && !trees[t] {
			trees[t] = true
			order = append(order, t)
		}
	}
	for _, ref := range res.Patterns {
		note(ref.Tree)
	}
	for _, id := range res.Joins {
		note(e.net.Join(id).RightTree)
	}

	facts := e.facts.Facts()
	for _, tree := range order {
		fresh := make(map[network.PatternID]bool)
		tree.Walk(func(n *network.PatternNode) {
			if n.Terminal && e.alpha[alphaKey{tree: tree, node: n.ID}] == nil {
				fresh[n.ID] = true
			}
		})
		if len(fresh) == 0 {
			continue
		}
		for id := range fresh {
			e.alpha[alphaKey{tree: tree, node: id}] = &alphaMemory{}
		}
		for _, f := range facts {
			if f.Template != tree.Template || !f.Asserted {
				continue
			}
			for _, hit := range e.matchFact(tree, f, nil) {
				if !fresh[hit.node] {
					continue
				}
				key := alphaKey{tree: tree, node: hit.node}
				e.alpha[key].add(f, hit.spans)
				e.matches[f] = append(e.matches[f], alphaMatch{key: key, spans: hit.spans})
			}
		}
	}
}

// primeRightFromAlpha fills the right memory of a new join from the facts
// already at its entry terminal. The left memory is still empty, so nothing
// is activated.
func (e *Engine) primeRightFromAlpha(j *network.JoinNode) {
	key := alphaKey{tree: j.RightTree, node: j.RightPattern}
	am := e.alpha[key]
	if am == nil {
		return
	}
	right := e.mem[j.ID].right
	for _, en := range am.entries {
		r := newPM([]*factstore.Fact{en.fact}, spansOf(en.spans), nil, nil)
		right.insert(r, rightHash(j, r))
		ms := e.matches[en.fact]
		for i := range ms {
			if ms[i].key == key && slices.Equal(ms[i].spans, en.spans) {
				ms[i].rights = append(ms[i].rights, r)
				break
			}
		}
	}
}

// primeRight fills the right memory of a new join entered from the right
// with copies of the live subchain's outputs.
func (e *Engine) primeRight(j *network.JoinNode) {
	src := e.net.Join(j.RightJoin)
	outs, source := e.outputs(src, j.ID)
	right := e.mem[j.ID].right
	for _, o := range outs {
		r := newPM(o.Binds, o.Spans, o.lhsParent, o.rhsParent)
		right.insert(r, rightHash(j, r))
	}
	metrics.JoinsPrimed.WithLabelValues(source).Inc()
}

// primeLeft queues copies of a live parent's outputs into a new join.
func (e *Engine) primeLeft(j *network.JoinNode) string {
	parent := e.net.Join(j.LastLevel)
	outs, source := e.outputs(parent, j.ID)
	for _, o := range outs {
		e.push(workLeft, j.ID, newPM(o.Binds, o.Spans, o.lhsParent, o.rhsParent))
	}
	return source
}

// primeRule fills the terminal memory of a rule attached to a live join.
func (e *Engine) primeRule(rule *network.Rule) {
	term := e.net.Join(rule.Terminal)
	outs, source := e.outputs(term, network.NoJoin)
	rule.Initialize = false
	for _, o := range outs {
		e.activateRule(rule, newPM(o.Binds, o.Spans, o.lhsParent, o.rhsParent))
	}
	metrics.JoinsPrimed.WithLabelValues(source).Inc()
}

// outputs returns the current outputs of a live join as unlinked templates
// (bindings plus the parents a copy must link to). They are read from an
// initialized consumer's memory when one exists ("sibling"), otherwise
// recomputed from the join's own memories ("parent").
func (e *Engine) outputs(j *network.JoinNode, except network.JoinID) ([]*PartialMatch, string) {
	if j.Initialize {
		raise(ErrCodePriming, "join %s is not initialized", j)
	}
	for _, link := range j.NextLinks {
		c := e.net.Join(link.Join)
		if link.Join == except || c == nil || c.Initialize {
			continue
		}
		if link.Side == network.RHS {
			return e.mem[c.ID].right.all(), "sibling"
		}
		return e.mem[c.ID].left.all(), "sibling"
	}
	for _, r := range j.Rules {
		if rs := e.rules[r]; rs != nil && !r.Initialize {
			return rs.terminal.all(), "sibling"
		}
	}

	var out []*PartialMatch
	m := e.mem[j.ID]
	for _, l := range m.left.all() {
		if j.Blocking() {
			if l.open {
				binds, spans := outputBinds(j, l, nil)
				out = append(out, &PartialMatch{Binds: binds, Spans: spans, lhsParent: l})
			}
			continue
		}
		for _, r := range e.rightMatches(j, l) {
			binds, spans := outputBinds(j, l, r)
			out = append(out, &PartialMatch{Binds: binds, Spans: spans, lhsParent: l, rhsParent: r})
		}
	}
	return out, "parent"
}

// reset clears working memory and rebuilds every runtime memory empty, then
// sends a root match into each first join.
func (e *Engine) reset() {
	for _, f := range e.facts.Facts() {
		f.Asserted = false
		f.Garbage = true
		e.garbageFacts = append(e.garbageFacts, f)
	}
	e.facts.Clear()
	e.agenda = newAgenda()
	e.goals = newGoalQueue()
	e.work = nil
	e.pending = nil
	e.matches = make(map[*factstore.Fact][]alphaMatch)
	e.alpha = make(map[alphaKey]*alphaMemory)

	for id := range e.mem {
		if e.net.Join(network.JoinID(id)) == nil {
			e.mem[id] = nil
			continue
		}
		e.mem[id] = newJoinMemory(network.JoinID(id))
	}
	for r, rs := range e.rules {
		rs.terminal = newBetaMemory(sideTerminal, r.Terminal)
		rs.terminal.rule = rs
	}
	for _, t := range e.net.Templates() {
		tree := e.net.Tree(t.Name)
		tree.Walk(func(n *network.PatternNode) {
			if n.Terminal {
				e.alpha[alphaKey{tree: tree, node: n.ID}] = &alphaMemory{}
			}
		})
	}
	for _, id := range e.net.FirstJoins() {
		e.push(workLeft, id, newPM(nil, nil, nil, nil))
		e.drain()
	}
	e.logger.Debug("engine reset", "joins", e.net.JoinCount(), "rules", len(e.rules))
}

package engine

import (
	"slices"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/network"
)

// workKind says which memory of a join a queued partial match enters.
type workKind uint8

const (
	workLeft workKind = iota
	workRight
)

type workItem struct {
	kind workKind
	join network.JoinID
	pm   *PartialMatch
}

// push queues an activation produced by the item being processed. Items
// pushed by one step run in push order, before anything queued earlier, so
// propagation is depth-first in the order joins were attached.
func (e *Engine) push(kind workKind, join network.JoinID, pm *PartialMatch) {
	e.pending = append(e.pending, workItem{kind: kind, join: join, pm: pm})
}

func (e *Engine) flushPending() {
	for i := len(e.pending) - 1; i >= 0; i-- {
		e.work = append(e.work, e.pending[i])
	}
	clear(e.pending)
	e.pending = e.pending[:0]
}

// drain runs queued activations until the network is quiet.
func (e *Engine) drain() {
	e.flushPending()
	for len(e.work) > 0 {
		it := e.work[len(e.work)-1]
		e.work[len(e.work)-1] = workItem{}
		e.work = e.work[:len(e.work)-1]

		// a match removed while queued never enters memory
		if !it.pm.deleted {
			if j := e.net.Join(it.join); j != nil && !j.Marked {
				switch it.kind {
				case workLeft:
					e.leftActivate(j, it.pm)
				case workRight:
					e.rightActivate(j, it.pm)
				}
			}
		}
		e.flushPending()
	}
}

func identityHash(binds []*factstore.Fact) uint64 {
	idx := make([]int64, len(binds))
	for i, f := range binds {
		if f != nil {
			idx[i] = f.Index
		}
	}
	return ir.IdentityHash(idx)
}

// leftHash buckets a left match: joins entered from the right hash the
// identity of the shared prefix, other joins the values of their equality
// keys.
func leftHash(j *network.JoinNode, l *PartialMatch) uint64 {
	if j.JoinFromTheRight {
		return identityHash(l.Binds[:j.Depth])
	}
	if len(j.HashKeys) == 0 {
		return 0
	}
	vals := make([]ir.Value, len(j.HashKeys))
	for i, k := range j.HashKeys {
		if k.Pattern < len(l.Binds) {
			vals[i], _ = network.FieldIn(l.Binds[k.Pattern], l.SpansAt(k.Pattern), k.Left)
		}
	}
	return ir.ValuesHash(vals)
}

func rightHash(j *network.JoinNode, r *PartialMatch) uint64 {
	if j.JoinFromTheRight {
		return identityHash(r.Binds[:j.Depth])
	}
	if len(j.HashKeys) == 0 {
		return 0
	}
	f, spans := r.Binds[0], r.SpansAt(0)
	vals := make([]ir.Value, len(j.HashKeys))
	for i, k := range j.HashKeys {
		vals[i], _ = network.FieldIn(f, spans, k.Right)
	}
	return ir.ValuesHash(vals)
}

// joinable runs the network test of j on a left and right match from the
// same bucket.
func (e *Engine) joinable(j *network.JoinNode, l, r *PartialMatch) bool {
	if j.JoinFromTheRight {
		for i := 0; i < j.Depth; i++ {
			if l.Binds[i] != r.Binds[i] {
				return false
			}
		}
		return true
	}
	f, spans := r.Binds[0], r.SpansAt(0)
	for _, k := range j.HashKeys {
		if k.Pattern >= len(l.Binds) {
			return false
		}
		a, aok := network.FieldIn(l.Binds[k.Pattern], l.SpansAt(k.Pattern), k.Left)
		b, bok := network.FieldIn(f, spans, k.Right)
		if !aok || !bok || !ir.Equal(a, b) {
			return false
		}
	}
	if len(j.Secondary) == 0 {
		return true
	}
	ctx := l.evalContext()
	ctx.Right, ctx.RightSpans = f, spans
	for _, t := range j.Secondary {
		if !network.EvalJoinIn(e.eval, t, ctx) {
			return false
		}
	}
	return true
}

// rightMatches returns the right entries of j that join with l.
func (e *Engine) rightMatches(j *network.JoinNode, l *PartialMatch) []*PartialMatch {
	var out []*PartialMatch
	for _, r := range e.mem[j.ID].right.bucket(l.hash) {
		if e.joinable(j, l, r) {
			out = append(out, r)
		}
	}
	return out
}

// leftMatches returns the left entries of j that join with r.
func (e *Engine) leftMatches(j *network.JoinNode, r *PartialMatch) []*PartialMatch {
	var out []*PartialMatch
	for _, l := range e.mem[j.ID].left.bucket(r.hash) {
		if !l.deleted && e.joinable(j, l, r) {
			out = append(out, l)
		}
	}
	return out
}

func (e *Engine) leftActivate(j *network.JoinNode, l *PartialMatch) {
	e.mem[j.ID].left.insert(l, leftHash(j, l))
	matches := e.rightMatches(j, l)

	if j.Blocking() {
		l.count = len(matches)
		e.settle(j, l)
		return
	}
	for _, r := range matches {
		e.emit(j, l, r)
	}
	if j.GoalJoin {
		l.count = len(matches)
		if l.count == 0 {
			e.maybeGenerateGoal(j, l)
		}
	}
}

func (e *Engine) rightActivate(j *network.JoinNode, r *PartialMatch) {
	e.mem[j.ID].right.insert(r, rightHash(j, r))
	for _, l := range e.leftMatches(j, r) {
		if j.Blocking() {
			l.count++
			e.settle(j, l)
			continue
		}
		e.emit(j, l, r)
		if j.GoalJoin {
			l.count++
			if l.count == 1 && l.goalMarker != nil {
				e.updateGoalSupport(l)
			}
		}
	}
}

// settle opens or closes a left match of a not/exists join after its count
// of blocking right entries changed.
func (e *Engine) settle(j *network.JoinNode, l *PartialMatch) {
	want := (j.PatternIsNegated && l.count == 0) || (j.PatternIsExists && l.count > 0)
	switch {
	case want && !l.open:
		l.open = true
		e.emit(j, l, nil)
	case !want && l.open:
		l.open = false
		for _, c := range slices.Clone(l.children) {
			e.removePM(c)
		}
	}
}

// outputBinds builds the bindings of a join output and their spans. Not/exists
// positions bind nil.
func outputBinds(j *network.JoinNode, l, r *PartialMatch) ([]*factstore.Fact, []network.Spans) {
	binds := make([]*factstore.Fact, len(l.Binds)+1)
	copy(binds, l.Binds)
	var rs network.Spans
	if r != nil && !j.Blocking() {
		binds[len(l.Binds)] = r.Binds[0]
		rs = r.SpansAt(0)
	}
	if l.Spans == nil && rs == nil {
		return binds, nil
	}
	spans := make([]network.Spans, len(binds))
	copy(spans, l.Spans)
	spans[len(l.Binds)] = rs
	return binds, spans
}

// emit hands one output of j to every consumer: a copy per child join and a
// terminal match per attached rule.
func (e *Engine) emit(j *network.JoinNode, l, r *PartialMatch) {
	binds, spans := outputBinds(j, l, r)
	for _, link := range j.NextLinks {
		child := newPM(binds, spans, l, r)
		if link.Side == network.RHS {
			e.push(workRight, link.Join, child)
		} else {
			e.push(workLeft, link.Join, child)
		}
	}
	for _, rule := range j.Rules {
		if rule.Initialize {
			continue
		}
		e.activateRule(rule, newPM(binds, spans, l, r))
	}
}

func (e *Engine) activateRule(rule *network.Rule, pm *PartialMatch) {
	rs := e.rules[rule]
	rs.terminal.insert(pm, 0)
	a := &Activation{Rule: rule, Match: pm, Salience: rule.Salience, Seq: e.clock.Next()}
	pm.activation = a
	e.agenda.push(a)
}

// ensureMem allocates runtime memories for a join id.
func (e *Engine) ensureMem(id network.JoinID) *joinMemory {
	for int(id) >= len(e.mem) {
		e.mem = append(e.mem, nil)
	}
	if e.mem[id] == nil {
		e.mem[id] = newJoinMemory(id)
	}
	return e.mem[id]
}

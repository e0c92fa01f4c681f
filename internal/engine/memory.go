package engine

import (
	"strconv"
	"strings"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/network"
)

// PartialMatch is an ordered set of fact bindings that satisfies a prefix of
// a rule's conditions. Not/exists positions bind nil.
//
// Every partial match lives in exactly one memory: the left or right memory
// of a join, or a rule's terminal memory. Outputs of a join are copied once
// per consumer; each copy links back to the pair it was derived from so
// that removing either parent removes it.
//
// Spans, when set, parallels Binds: the multifield spans each binding was
// matched with.
type PartialMatch struct {
	Binds []*factstore.Fact
	Spans []network.Spans

	hash     uint64
	mem      *betaMemory
	inMemory bool
	prev     *PartialMatch
	next     *PartialMatch

	lhsParent *PartialMatch
	rhsParent *PartialMatch
	children  []*PartialMatch

	// count is the number of matching right entries, kept for blocking
	// joins and goal joins.
	count int
	// open is set while a blocking join's left match has outputs.
	open bool

	// goalMarker is the goal this left match currently supports.
	goalMarker *factstore.Fact

	activation *Activation
	deleted    bool
}

// Facts returns the bound facts, skipping not/exists positions.
func (pm *PartialMatch) Facts() []*factstore.Fact {
	out := make([]*factstore.Fact, 0, len(pm.Binds))
	for _, f := range pm.Binds {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Contains reports whether f is one of the bindings.
func (pm *PartialMatch) Contains(f *factstore.Fact) bool {
	for _, b := range pm.Binds {
		if b == f {
			return true
		}
	}
	return false
}

// Indices renders binding indices, e.g. "1,*,3" (* for not/exists).
func (pm *PartialMatch) Indices() string {
	parts := make([]string, len(pm.Binds))
	for i, f := range pm.Binds {
		if f == nil {
			parts[i] = "*"
			continue
		}
		parts[i] = strconv.FormatInt(f.Index, 10)
	}
	return strings.Join(parts, ",")
}

// SpansAt returns the multifield spans of the binding at position i.
func (pm *PartialMatch) SpansAt(i int) network.Spans {
	if i < 0 || i >= len(pm.Spans) {
		return nil
	}
	return pm.Spans[i]
}

// evalContext is the binding environment of pm as the left side of a test.
func (pm *PartialMatch) evalContext() network.EvalContext {
	return network.EvalContext{Left: pm.Binds, LeftSpans: pm.Spans}
}

func newPM(binds []*factstore.Fact, spans []network.Spans, lhs, rhs *PartialMatch) *PartialMatch {
	pm := &PartialMatch{Binds: binds, Spans: spans, lhsParent: lhs, rhsParent: rhs}
	if lhs != nil {
		lhs.children = append(lhs.children, pm)
	}
	if rhs != nil {
		rhs.children = append(rhs.children, pm)
	}
	return pm
}

func (pm *PartialMatch) unlinkFromParents() {
	for _, p := range []*PartialMatch{pm.lhsParent, pm.rhsParent} {
		if p == nil {
			continue
		}
		for i, c := range p.children {
			if c == pm {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	}
}

// memSide says what a memory holds.
type memSide uint8

const (
	sideLeft memSide = iota
	sideRight
	sideTerminal
)

// betaMemory is a hash-bucketed list of partial matches. Iteration follows
// insertion order so propagation is deterministic.
type betaMemory struct {
	side    memSide
	join    network.JoinID
	rule    *ruleState
	head    *PartialMatch
	tail    *PartialMatch
	buckets map[uint64][]*PartialMatch
	count   int
}

func newBetaMemory(side memSide, join network.JoinID) *betaMemory {
	return &betaMemory{side: side, join: join, buckets: make(map[uint64][]*PartialMatch)}
}

func (m *betaMemory) insert(pm *PartialMatch, h uint64) {
	pm.hash = h
	pm.mem = m
	pm.inMemory = true
	pm.prev = m.tail
	pm.next = nil
	if m.tail != nil {
		m.tail.next = pm
	} else {
		m.head = pm
	}
	m.tail = pm
	m.buckets[h] = append(m.buckets[h], pm)
	m.count++
}

func (m *betaMemory) remove(pm *PartialMatch) {
	if !pm.inMemory || pm.mem != m {
		return
	}
	if pm.prev != nil {
		pm.prev.next = pm.next
	} else {
		m.head = pm.next
	}
	if pm.next != nil {
		pm.next.prev = pm.prev
	} else {
		m.tail = pm.prev
	}
	pm.prev, pm.next = nil, nil
	bucket := m.buckets[pm.hash]
	for i, x := range bucket {
		if x == pm {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(m.buckets, pm.hash)
	} else {
		m.buckets[pm.hash] = bucket
	}
	pm.inMemory = false
	m.count--
}

// bucket returns the live partial matches stored under h.
func (m *betaMemory) bucket(h uint64) []*PartialMatch {
	return m.buckets[h]
}

// all returns every partial match in insertion order.
func (m *betaMemory) all() []*PartialMatch {
	out := make([]*PartialMatch, 0, m.count)
	for pm := m.head; pm != nil; pm = pm.next {
		out = append(out, pm)
	}
	return out
}

// joinMemory is the runtime state the engine keeps beside one join node.
type joinMemory struct {
	left       *betaMemory
	right      *betaMemory
	goalMarked bool
}

func newJoinMemory(id network.JoinID) *joinMemory {
	return &joinMemory{
		left:  newBetaMemory(sideLeft, id),
		right: newBetaMemory(sideRight, id),
	}
}

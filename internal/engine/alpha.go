package engine

import (
	"slices"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/network"
)

// alphaKey addresses one pattern terminal.
type alphaKey struct {
	tree *network.PatternTree
	node network.PatternID
}

// alphaEntry is one way a fact matched a pattern: the fact plus the spans
// its multifield variables took.
type alphaEntry struct {
	fact  *factstore.Fact
	spans network.Spans
}

// alphaMemory lists the matches that currently end at a pattern terminal, in
// the order they arrived. A fact appears once per distinct set of spans.
type alphaMemory struct {
	entries []alphaEntry
}

func (m *alphaMemory) add(f *factstore.Fact, spans network.Spans) {
	m.entries = append(m.entries, alphaEntry{fact: f, spans: spans})
}

func (m *alphaMemory) remove(f *factstore.Fact, spans network.Spans) {
	for i, x := range m.entries {
		if x.fact == f && slices.Equal(x.spans, spans) {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

// alphaMatch records one match of a fact at a terminal and the right-memory
// entries it created for the joins entered there.
type alphaMatch struct {
	key    alphaKey
	spans  network.Spans
	rights []*PartialMatch
}

// alphaHit is a terminal reached by matchFact.
type alphaHit struct {
	node  network.PatternID
	spans network.Spans
}

type alphaStep struct {
	id    network.PatternID
	spans network.Spans
	// entered is set once the node's test held under spans
	entered bool
}

// matchFact walks the pattern tree depth-first and returns the terminals f
// reaches, in pre-order. A marker of a slot with several multifield
// variables branches once per span it can take, so a terminal may be
// reached several times with different spans. With changed set, subtrees
// that read none of the changed slots are skipped.
func (e *Engine) matchFact(tree *network.PatternTree, f *factstore.Fact, changed *network.SlotMask) []alphaHit {
	var out []alphaHit
	stack := []alphaStep{{id: tree.Node(tree.Root).NextLevel}}
	for len(stack) > 0 {
		st := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if st.id == network.NoPattern {
			continue
		}
		n := tree.Node(st.id)
		if !st.entered {
			stack = append(stack, alphaStep{id: n.RightNode, spans: st.spans})
			if changed != nil && !nodeActivatedByChanges(n, *changed) {
				continue
			}
			if mm, ok := n.Test.(network.MultifieldMarker); ok && mm.Field.Marker > 0 {
				cands := mm.Candidates(f, st.spans)
				for i := len(cands) - 1; i >= 0; i-- {
					stack = append(stack, alphaStep{id: st.id, spans: st.spans.With(cands[i]), entered: true})
				}
				continue
			}
			if !network.EvalAlphaIn(e.eval, n.Test, f, st.spans) {
				continue
			}
		}
		if n.Terminal {
			out = append(out, alphaHit{node: st.id, spans: st.spans})
		}
		stack = append(stack, alphaStep{id: n.NextLevel, spans: st.spans})
	}
	return out
}

// spansOf wraps the spans of a single binding for a partial match.
func spansOf(spans network.Spans) []network.Spans {
	if spans == nil {
		return nil
	}
	return []network.Spans{spans}
}

// nodeActivatedByChanges reports whether a modify of the changed slots can
// alter what the subtree below node matches.
func nodeActivatedByChanges(node *network.PatternNode, changed network.SlotMask) bool {
	if node == nil || node.ModifySlots == nil {
		return true
	}
	return node.ModifySlots.Mask.Intersects(changed)
}

// enterTerminal records a match of f at a terminal and queues a right
// activation for every live join entered there.
func (e *Engine) enterTerminal(tree *network.PatternTree, hit alphaHit, f *factstore.Fact) {
	key := alphaKey{tree: tree, node: hit.node}
	am := e.alpha[key]
	if am == nil {
		am = &alphaMemory{}
		e.alpha[key] = am
	}
	am.add(f, hit.spans)
	m := alphaMatch{key: key, spans: hit.spans}
	for _, jid := range tree.Node(hit.node).Entries {
		j := e.net.Join(jid)
		if j == nil || j.Initialize {
			continue
		}
		r := newPM([]*factstore.Fact{f}, spansOf(hit.spans), nil, nil)
		m.rights = append(m.rights, r)
		e.push(workRight, jid, r)
	}
	e.matches[f] = append(e.matches[f], m)
}

// dropMatch undoes enterTerminal for one terminal.
func (e *Engine) dropMatch(m alphaMatch, f *factstore.Fact) {
	for _, r := range m.rights {
		e.removePM(r)
	}
	if am := e.alpha[m.key]; am != nil {
		am.remove(f, m.spans)
	}
}

// pruneAlpha drops alpha memories of nodes that are no longer terminals and
// forgets right entries of joins that were removed.
func (e *Engine) pruneAlpha(trees map[*network.PatternTree]bool) {
	for key, am := range e.alpha {
		if !trees[key.tree] {
			continue
		}
		node := key.tree.Node(key.node)
		dead := node == nil || !node.Terminal
		seen := make(map[*factstore.Fact]bool, len(am.entries))
		for _, en := range am.entries {
			f := en.fact
			if seen[f] {
				continue
			}
			seen[f] = true
			ms := e.matches[f]
			out := ms[:0]
			for _, m := range ms {
				if m.key == key {
					if dead {
						continue
					}
					live := m.rights[:0]
					for _, r := range m.rights {
						if !r.deleted {
							live = append(live, r)
						}
					}
					m.rights = live
				}
				out = append(out, m)
			}
			e.matches[f] = out
		}
		if dead {
			delete(e.alpha, key)
		}
	}
}

package network

import (
	"github.com/roach88/chainer/internal/factstore"
)

// PatternID addresses a node in its template's PatternTree.
type PatternID int32

// NoPattern is the nil PatternID.
const NoPattern PatternID = -1

// PatternNode is one constraint of the alpha network.
//
// Children hang off NextLevel and are chained through RightNode/LeftNode;
// LastLevel points back at the parent. A node is Terminal when at least one
// pattern ends at it; Entries lists the joins entered from it.
type PatternNode struct {
	ID        PatternID
	Test      Test
	NextLevel PatternID
	LastLevel PatternID
	LeftNode  PatternID
	RightNode PatternID

	Terminal bool
	Entries  []JoinID

	// ModifySlots covers every slot the node's path, its subtree, and the
	// variables of patterns ending in its subtree read. A modify touching
	// none of them cannot change what the subtree matches.
	ModifySlots *SharedMask

	// Initialize is set on nodes created by the current rule addition until
	// the engine has primed them.
	Initialize bool

	refs         int
	terminalRefs int
}

// PatternTree is the per-template arena of pattern nodes.
type PatternTree struct {
	Template *factstore.Template
	Root     PatternID

	nodes []*PatternNode
	free  []PatternID
}

// NewPatternTree creates a tree holding only its root.
func NewPatternTree(t *factstore.Template) *PatternTree {
	tree := &PatternTree{Template: t}
	tree.Root = tree.alloc(nil, NoPattern)
	return tree
}

func (t *PatternTree) alloc(test Test, parent PatternID) PatternID {
	n := &PatternNode{
		Test:      test,
		NextLevel: NoPattern,
		LastLevel: parent,
		LeftNode:  NoPattern,
		RightNode: NoPattern,
	}
	if k := len(t.free); k > 0 {
		n.ID = t.free[k-1]
		t.free = t.free[:k-1]
		t.nodes[n.ID] = n
	} else {
		n.ID = PatternID(len(t.nodes))
		t.nodes = append(t.nodes, n)
	}
	return n.ID
}

// Node returns the live node with the given id, or nil.
func (t *PatternTree) Node(id PatternID) *PatternNode {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Len returns the number of live nodes, root included.
func (t *PatternTree) Len() int {
	return len(t.nodes) - len(t.free)
}

// child returns the child of parent whose test has the given key.
func (t *PatternTree) child(parent PatternID, key string) PatternID {
	for id := t.nodes[parent].NextLevel; id != NoPattern; id = t.nodes[id].RightNode {
		if t.nodes[id].Test.Key() == key {
			return id
		}
	}
	return NoPattern
}

// Find returns the terminal node for an existing pattern chain.
func (t *PatternTree) Find(tests []Test) PatternID {
	id := t.Root
	for _, test := range tests {
		if id = t.child(id, test.Key()); id == NoPattern {
			return NoPattern
		}
	}
	if !t.nodes[id].Terminal {
		return NoPattern
	}
	return id
}

// Add threads a pattern chain into the tree, sharing existing nodes, and
// returns its terminal plus the nodes it created (in creation order).
func (t *PatternTree) Add(tests []Test) (PatternID, []PatternID) {
	var created []PatternID
	id := t.Root
	for _, test := range tests {
		next := t.child(id, test.Key())
		if next == NoPattern {
			next = t.alloc(test, id)
			t.nodes[next].Initialize = true
			t.appendChild(id, next)
			created = append(created, next)
		}
		t.nodes[next].refs++
		id = next
	}
	term := t.nodes[id]
	term.terminalRefs++
	term.Terminal = true
	return id, created
}

func (t *PatternTree) appendChild(parent, id PatternID) {
	p := t.nodes[parent]
	if p.NextLevel == NoPattern {
		p.NextLevel = id
		return
	}
	last := p.NextLevel
	for t.nodes[last].RightNode != NoPattern {
		last = t.nodes[last].RightNode
	}
	t.nodes[last].RightNode = id
	t.nodes[id].LeftNode = last
}

// Release drops one pattern chain ending at term and frees every node no
// other chain passes through. It returns the freed ids.
func (t *PatternTree) Release(term PatternID, pool *MaskPool) []PatternID {
	n := t.nodes[term]
	n.terminalRefs--
	if n.terminalRefs <= 0 {
		n.terminalRefs = 0
		n.Terminal = false
	}
	var freed []PatternID
	for id := term; id != t.Root && id != NoPattern; {
		node := t.nodes[id]
		parent := node.LastLevel
		node.refs--
		if node.refs <= 0 {
			t.unlink(node)
			pool.Release(node.ModifySlots)
			t.nodes[id] = nil
			t.free = append(t.free, id)
			freed = append(freed, id)
		}
		id = parent
	}
	return freed
}

func (t *PatternTree) unlink(n *PatternNode) {
	if n.LeftNode != NoPattern {
		t.nodes[n.LeftNode].RightNode = n.RightNode
	} else if n.LastLevel != NoPattern {
		t.nodes[n.LastLevel].NextLevel = n.RightNode
	}
	if n.RightNode != NoPattern {
		t.nodes[n.RightNode].LeftNode = n.LeftNode
	}
}

// Path returns the nodes from just below the root down to id.
func (t *PatternTree) Path(id PatternID) []PatternID {
	var path []PatternID
	for ; id != t.Root && id != NoPattern; id = t.nodes[id].LastLevel {
		path = append(path, id)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Walk visits live nodes below the root in pre-order.
func (t *PatternTree) Walk(visit func(*PatternNode)) {
	stack := []PatternID{t.nodes[t.Root].NextLevel}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == NoPattern {
			continue
		}
		n := t.nodes[id]
		stack = append(stack, n.RightNode, n.NextLevel)
		visit(n)
	}
}

// RecomputeMasks rebuilds every node's ModifySlots. extra supplies, for a
// terminal, the slots its entry joins read through variables.
func (t *PatternTree) RecomputeMasks(pool *MaskPool, extra func(*PatternNode) SlotMask) {
	// top-down: path masks
	path := make(map[PatternID]SlotMask)
	var order []PatternID
	t.Walk(func(n *PatternNode) {
		var m SlotMask
		if n.LastLevel != t.Root {
			m.Union(path[n.LastLevel])
		}
		m.Union(TestSlots(n.Test))
		if n.Terminal && extra != nil {
			m.Union(extra(n))
		}
		path[n.ID] = m
		order = append(order, n.ID)
	})
	// bottom-up: fold subtrees into parents
	for i := len(order) - 1; i >= 0; i-- {
		n := t.nodes[order[i]]
		if n.LastLevel != t.Root {
			pm := path[n.LastLevel]
			pm.Union(path[n.ID])
			path[n.LastLevel] = pm
		}
	}
	for _, id := range order {
		n := t.nodes[id]
		old := n.ModifySlots
		n.ModifySlots = pool.Acquire(path[id])
		pool.Release(old)
	}
}

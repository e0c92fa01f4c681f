package network

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/chainer/internal/factstore"
)

var (
	// ErrTemplateExists is returned when a template name is already defined.
	ErrTemplateExists = errors.New("template already defined")

	// ErrUnknownTemplate is returned for patterns over undefined templates.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrUnknownRule is returned when removing a rule that does not exist.
	ErrUnknownRule = errors.New("unknown rule")

	// ErrRuleShape is returned for rule definitions the builder cannot compile.
	ErrRuleShape = errors.New("invalid rule")
)

// VarLoc says where a rule variable is bound: the binding position in the
// rule's partial match and the field inside that fact.
type VarLoc struct {
	Pattern int
	Field   FieldRef
	Multi   bool
}

// Rule is a compiled rule: the join its activations come from and the
// variable layout of its partial matches.
type Rule struct {
	Name     string
	Salience int
	Def      *RuleDef
	Terminal JoinID
	Vars     map[string]VarLoc

	// Initialize is set until the rule's terminal memory has been primed.
	Initialize bool
}

// PatternRef addresses a pattern node across trees.
type PatternRef struct {
	Tree *PatternTree
	Node PatternID
}

// BuildResult reports what adding a rule created.
type BuildResult struct {
	Rule     *Rule
	Joins    []JoinID
	Patterns []PatternRef
}

// Detached reports what removing a rule released. Joins are unlinked but
// still allocated so their memories can be drained; call FreeJoins after.
type Detached struct {
	Rule     *Rule
	Joins    []JoinID
	Patterns []PatternRef
}

// Network is the compiled matching network of one engine.
type Network struct {
	templates map[string]*factstore.Template
	order     []string
	trees     map[string]*PatternTree

	joins      []*JoinNode
	freeJoins  []JoinID
	firstJoins []JoinID

	rules     map[string]*Rule
	ruleOrder []string

	Masks *MaskPool
}

// New creates an empty network.
func New() *Network {
	return &Network{
		templates: make(map[string]*factstore.Template),
		trees:     make(map[string]*PatternTree),
		rules:     make(map[string]*Rule),
		Masks:     NewMaskPool(),
	}
}

// DefineTemplate registers a template and creates its pattern tree.
func (n *Network) DefineTemplate(t *factstore.Template) error {
	if _, ok := n.templates[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTemplateExists, t.Name)
	}
	n.templates[t.Name] = t
	n.order = append(n.order, t.Name)
	n.trees[t.Name] = NewPatternTree(t)
	return nil
}

// Template returns the named template.
func (n *Network) Template(name string) (*factstore.Template, bool) {
	t, ok := n.templates[name]
	return t, ok
}

// Templates returns templates in definition order.
func (n *Network) Templates() []*factstore.Template {
	out := make([]*factstore.Template, len(n.order))
	for i, name := range n.order {
		out[i] = n.templates[name]
	}
	return out
}

// Tree returns the pattern tree of a template.
func (n *Network) Tree(template string) *PatternTree {
	return n.trees[template]
}

// Join returns the live join with the given id, or nil.
func (n *Network) Join(id JoinID) *JoinNode {
	if id < 0 || int(id) >= len(n.joins) {
		return nil
	}
	return n.joins[id]
}

// JoinCount returns the number of live joins.
func (n *Network) JoinCount() int {
	return len(n.joins) - len(n.freeJoins)
}

// FirstJoins returns the joins with no parent, in creation order.
func (n *Network) FirstJoins() []JoinID {
	return slices.Clone(n.firstJoins)
}

// Rule returns the named rule.
func (n *Network) Rule(name string) (*Rule, bool) {
	r, ok := n.rules[name]
	return r, ok
}

// Rules returns rules in definition order.
func (n *Network) Rules() []*Rule {
	out := make([]*Rule, len(n.ruleOrder))
	for i, name := range n.ruleOrder {
		out[i] = n.rules[name]
	}
	return out
}

func (n *Network) allocJoin() *JoinNode {
	j := &JoinNode{LastLevel: NoJoin, RightJoin: NoJoin, RightPattern: NoPattern}
	if k := len(n.freeJoins); k > 0 {
		j.ID = n.freeJoins[k-1]
		n.freeJoins = n.freeJoins[:k-1]
		n.joins[j.ID] = j
	} else {
		j.ID = JoinID(len(n.joins))
		n.joins = append(n.joins, j)
	}
	return j
}

// AddRule compiles def into the network. A rule with the same name must be
// removed first.
func (n *Network) AddRule(def *RuleDef) (*BuildResult, error) {
	if _, ok := n.rules[def.Name]; ok {
		return nil, fmt.Errorf("%w: rule %s already defined", ErrRuleShape, def.Name)
	}
	plan, err := n.plan(def)
	if err != nil {
		return nil, err
	}
	res := n.install(def, plan)
	n.rules[def.Name] = res.Rule
	n.ruleOrder = append(n.ruleOrder, def.Name)
	return res, nil
}

// DetachRule removes a rule and every join and pattern node that no other
// rule still uses. Shared joins keep their memories.
func (n *Network) DetachRule(name string) (*Detached, error) {
	r, ok := n.rules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, name)
	}
	delete(n.rules, name)
	n.ruleOrder = slices.DeleteFunc(n.ruleOrder, func(s string) bool { return s == name })

	out := &Detached{Rule: r}
	term := n.joins[r.Terminal]
	term.removeRule(r)

	touched := make(map[*PatternTree]bool)
	stack := []JoinID{term.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		j := n.joins[id]
		if j == nil || j.Marked || j.FanOut() > 0 {
			continue
		}
		j.Marked = true
		out.Joins = append(out.Joins, id)

		if j.LastLevel != NoJoin {
			n.joins[j.LastLevel].removeLink(id, LHS)
			stack = append(stack, j.LastLevel)
		} else {
			n.firstJoins = slices.DeleteFunc(n.firstJoins, func(x JoinID) bool { return x == id })
		}
		if j.JoinFromTheRight {
			n.joins[j.RightJoin].removeLink(id, RHS)
			stack = append(stack, j.RightJoin)
			continue
		}
		node := j.RightTree.Node(j.RightPattern)
		node.Entries = slices.DeleteFunc(node.Entries, func(x JoinID) bool { return x == id })
		for _, freed := range j.RightTree.Release(j.RightPattern, n.Masks) {
			out.Patterns = append(out.Patterns, PatternRef{Tree: j.RightTree, Node: freed})
		}
		touched[j.RightTree] = true
	}
	for tree := range touched {
		n.recomputeMasks(tree)
	}
	return out, nil
}

// FreeJoins returns detached joins to the arena.
func (n *Network) FreeJoins(ids []JoinID) {
	for _, id := range ids {
		if n.joins[id] == nil {
			continue
		}
		n.joins[id] = nil
		n.freeJoins = append(n.freeJoins, id)
	}
}

func (n *Network) recomputeMasks(tree *PatternTree) {
	tree.RecomputeMasks(n.Masks, func(node *PatternNode) SlotMask {
		var m SlotMask
		for _, id := range node.Entries {
			m.Union(n.joins[id].RightSlots)
		}
		return m
	})
}

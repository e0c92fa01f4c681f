package network

import (
	"fmt"
)

// JoinID addresses a node in the Network's join arena.
type JoinID int32

// NoJoin is the nil JoinID.
const NoJoin JoinID = -1

// Side says which memory of a child join an output feeds.
type Side uint8

const (
	// LHS feeds the child's left memory.
	LHS Side = iota
	// RHS feeds the child's right memory (join entered from the right).
	RHS
)

func (s Side) String() string {
	if s == RHS {
		return "rhs"
	}
	return "lhs"
}

// Link is one fan-out edge of a join.
type Link struct {
	Join JoinID
	Side Side
}

// HashKey pairs the left and right halves of an equality used to bucket
// both memories of a join.
type HashKey struct {
	Pattern int
	Left    FieldRef
	Right   FieldRef
}

// JoinNode is one node of the beta network.
//
// Left partial matches hold Depth bindings; outputs hold Depth+1 (the right
// fact, or nil for not/exists). The right side is either a pattern terminal
// (RightTree/RightPattern) or, for a nested not/exists group, the last join
// of the group's subchain (RightJoin, JoinFromTheRight).
type JoinNode struct {
	ID        JoinID
	Depth     int
	LastLevel JoinID

	RightTree    *PatternTree
	RightPattern PatternID
	RightJoin    JoinID

	NextLinks []Link
	Rules     []*Rule

	FirstJoin        bool
	JoinFromTheRight bool
	PatternIsNegated bool
	PatternIsExists  bool
	GoalJoin         bool

	// Tests is the full network test. HashKeys are the positive equalities
	// among them; Secondary holds the rest, re-checked for every candidate
	// found in a bucket.
	Tests     []Test
	HashKeys  []HashKey
	Secondary []Test

	// RightSlots are the right-fact slots this join reads through variables.
	RightSlots SlotMask

	Initialize bool
	Marked     bool

	key string
}

// Blocking reports whether right matches gate left matches instead of
// combining with them.
func (j *JoinNode) Blocking() bool {
	return j.PatternIsNegated || j.PatternIsExists
}

// FanOut returns the number of consumers: child joins plus rules.
func (j *JoinNode) FanOut() int {
	return len(j.NextLinks) + len(j.Rules)
}

// String renders the join for logs.
func (j *JoinNode) String() string {
	kind := "and"
	switch {
	case j.PatternIsNegated:
		kind = "not"
	case j.PatternIsExists:
		kind = "exists"
	}
	entry := fmt.Sprintf("j%d", j.RightJoin)
	if !j.JoinFromTheRight && j.RightTree != nil {
		entry = fmt.Sprintf("%s#%d", j.RightTree.Template.Name, j.RightPattern)
	}
	return fmt.Sprintf("j%d(%s depth=%d right=%s)", j.ID, kind, j.Depth, entry)
}

func (j *JoinNode) splitTests() {
	j.HashKeys = nil
	j.Secondary = nil
	for _, t := range j.Tests {
		if eq, ok := t.(JoinEqualTest); ok && !eq.Negated && eq.Left.Slot != WholeFact && eq.Right.Slot != WholeFact {
			j.HashKeys = append(j.HashKeys, HashKey{Pattern: eq.Pattern, Left: eq.Left, Right: eq.Right})
			continue
		}
		j.Secondary = append(j.Secondary, t)
	}
}

// removeLink drops the first link to child from the fan-out.
func (j *JoinNode) removeLink(child JoinID, side Side) bool {
	for i, l := range j.NextLinks {
		if l.Join == child && l.Side == side {
			j.NextLinks = append(j.NextLinks[:i], j.NextLinks[i+1:]...)
			return true
		}
	}
	return false
}

// removeRule drops r from the join's rule list.
func (j *JoinNode) removeRule(r *Rule) bool {
	for i, x := range j.Rules {
		if x == r {
			j.Rules = append(j.Rules[:i], j.Rules[i+1:]...)
			return true
		}
	}
	return false
}

package engine

import (
	"container/heap"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/metrics"
	"github.com/roach88/chainer/internal/network"
)

// Activation is a complete match of a rule waiting to fire.
type Activation struct {
	Rule     *network.Rule
	Match    *PartialMatch
	Salience int
	Seq      int64

	index int
}

// Fact returns the fact bound at position i, or nil for not/exists
// positions.
func (a *Activation) Fact(i int) *factstore.Fact {
	if i < 0 || i >= len(a.Match.Binds) {
		return nil
	}
	return a.Match.Binds[i]
}

// Value returns the value bound to a rule variable. A fact-address
// variable yields the fact index.
func (a *Activation) Value(name string) (ir.Value, bool) {
	loc, ok := a.Rule.Vars[name]
	if !ok {
		return nil, false
	}
	f := a.Fact(loc.Pattern)
	if f == nil {
		return nil, false
	}
	if loc.Field.Slot == network.WholeFact {
		return ir.Int(f.Index), true
	}
	return network.FieldIn(f, a.Match.SpansAt(loc.Pattern), loc.Field)
}

// String renders the activation as "rule: 1,*,3".
func (a *Activation) String() string {
	return fmt.Sprintf("%s: %s", a.Rule.Name, a.Match.Indices())
}

// agenda orders activations by salience, then newest first.
type agenda struct {
	items []*Activation
}

func newAgenda() *agenda { return &agenda{} }

func (g *agenda) Len() int { return len(g.items) }

func (g *agenda) Less(i, j int) bool {
	a, b := g.items[i], g.items[j]
	if a.Salience != b.Salience {
		return a.Salience > b.Salience
	}
	return a.Seq > b.Seq
}

func (g *agenda) Swap(i, j int) {
	g.items[i], g.items[j] = g.items[j], g.items[i]
	g.items[i].index = i
	g.items[j].index = j
}

func (g *agenda) Push(x any) {
	a := x.(*Activation)
	a.index = len(g.items)
	g.items = append(g.items, a)
}

func (g *agenda) Pop() any {
	n := len(g.items)
	a := g.items[n-1]
	g.items[n-1] = nil
	g.items = g.items[:n-1]
	a.index = -1
	return a
}

func (g *agenda) push(a *Activation) { heap.Push(g, a) }

func (g *agenda) next() *Activation {
	if len(g.items) == 0 {
		return nil
	}
	return heap.Pop(g).(*Activation)
}

func (g *agenda) remove(a *Activation) {
	if a.index < 0 || a.index >= len(g.items) || g.items[a.index] != a {
		return
	}
	heap.Remove(g, a.index)
}

// sorted returns the activations in firing order without consuming them.
func (g *agenda) sorted() []*Activation {
	out := slices.Clone(g.items)
	slices.SortFunc(out, func(a, b *Activation) int {
		if a.Salience != b.Salience {
			return b.Salience - a.Salience
		}
		switch {
		case a.Seq > b.Seq:
			return -1
		case a.Seq < b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Agenda returns pending activations in firing order.
func (e *Engine) Agenda() []*Activation {
	return e.agenda.sorted()
}

// Run fires activations until the agenda is empty, limit firings happened
// (limit <= 0 means the configured maximum), or ctx is done. After every
// firing the goal queue is drained and garbage released.
func (e *Engine) Run(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = e.maxFirings
	}
	fired := 0
	err := e.guard("run", func() error {
		for fired < limit {
			if err := ctx.Err(); err != nil {
				return err
			}
			a := e.agenda.next()
			if a == nil {
				return nil
			}
			fired++
			metrics.RuleFirings.Inc()
			e.logger.Debug("rule fired", "rule", a.Rule.Name, "match", a.Match.Indices())
			if err := e.fire(ctx, a); err != nil {
				return fmt.Errorf("rule %s: %w", a.Rule.Name, err)
			}
			if e.halted != nil {
				return e.halted
			}
			e.processGoalQueue()
			e.flushGarbage()
		}
		return nil
	})
	return fired, err
}

// fire runs the rule's Go action when one is bound, else its declarative
// actions.
func (e *Engine) fire(ctx context.Context, a *Activation) error {
	a.Match.activation = nil
	if act, ok := e.actions[a.Rule.Name]; ok {
		return act(ctx, e, a)
	}
	if a.Rule.Def == nil {
		return nil
	}
	for i, ad := range a.Rule.Def.Actions {
		if err := e.runAction(a, ad); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) runAction(a *Activation, ad network.ActionDef) error {
	switch ad.Kind {
	case network.ActionAssert:
		tmpl, ok := e.net.Template(ad.Template)
		if !ok {
			return fmt.Errorf("%w: %s", network.ErrUnknownTemplate, ad.Template)
		}
		values := make(map[string]ir.Value, len(ad.Slots))
		for _, slot := range slices.Sorted(maps.Keys(ad.Slots)) {
			expr, err := network.Bind(ad.Slots[slot], a.Rule.Vars)
			if err != nil {
				return err
			}
			v, err := e.eval.Eval(a.Match.evalContext(), expr)
			if err != nil {
				return fmt.Errorf("slot %s: %w", slot, err)
			}
			values[slot] = v
		}
		slots, err := tmpl.Build(values)
		if err != nil {
			return err
		}
		_, err = e.assertFact(factstore.NewFact(tmpl, slots))
		return err

	case network.ActionRetract:
		loc, ok := a.Rule.Vars[ad.Target]
		if !ok {
			return fmt.Errorf("%w: ?%s", network.ErrUnbound, ad.Target)
		}
		f := a.Fact(loc.Pattern)
		if f == nil || !f.Asserted || f.Garbage {
			// already gone, for example retracted by an earlier action
			return nil
		}
		if f.Goal {
			return ErrGoalFact
		}
		e.retractFact(f)
		return nil

	default:
		return fmt.Errorf("unknown action kind %d", ad.Kind)
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/metrics"
	"github.com/roach88/chainer/internal/network"
)

// DefaultMaxFirings bounds a single Run call when no limit is given.
const DefaultMaxFirings = 10000

// Action is a Go callback fired for a rule activation. It may call back
// into the engine (Assert, Retract, Modify); the work it triggers is
// complete before Run moves on to the next activation.
type Action func(ctx context.Context, e *Engine, a *Activation) error

// ruleState is the runtime side of a compiled rule.
type ruleState struct {
	rule     *network.Rule
	terminal *betaMemory
}

// Engine is the match engine context object. It owns working memory, the
// compiled network's runtime memories, the agenda and the goal queue.
//
// An Engine is not safe for concurrent use: every operation runs to
// completion on the caller's goroutine. Session serialises access when
// several goroutines feed one engine.
//
// INVARIANTS:
//   - Every partial match is in at most one memory
//   - A left match of a goal join carries a goal marker only while no right
//     entry matches it
//   - A goal's Support equals the number of left matches marked with it
//   - Garbage facts and partial matches are released only when the
//     outermost operation returns
type Engine struct {
	net    *network.Network
	facts  *factstore.Store
	eval   network.Evaluator
	logger *slog.Logger
	clock  *Clock

	mem     []*joinMemory
	alpha   map[alphaKey]*alphaMemory
	matches map[*factstore.Fact][]alphaMatch
	rules   map[*network.Rule]*ruleState
	actions map[string]Action

	agenda  *agenda
	goals   goalQueue
	work    []workItem
	pending []workItem

	garbageFacts []*factstore.Fact
	garbagePMs   []*PartialMatch

	goalGeneration bool
	maxFirings     int
	tableSize      int
	duplicates     bool

	nextUnknown uint64
	depth       int
	inferring   bool
	halted      *SystemError
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithEvaluator replaces the expression service used for network tests,
// goal inference and declarative actions.
func WithEvaluator(ev network.Evaluator) EngineOption {
	return func(e *Engine) {
		e.eval = ev
	}
}

// WithFactDuplication allows identical ordinary facts to coexist.
// Goals are always deduplicated.
func WithFactDuplication(allow bool) EngineOption {
	return func(e *Engine) {
		e.duplicates = allow
	}
}

// WithGoalGeneration turns backward-chaining goal synthesis on or off.
// Default: on.
func WithGoalGeneration(on bool) EngineOption {
	return func(e *Engine) {
		e.goalGeneration = on
	}
}

// WithInitialFactTableSize sets the starting bucket count of the fact table.
//
// Default: 8191 (factstore.DefaultTableSize)
func WithInitialFactTableSize(n int) EngineOption {
	return func(e *Engine) {
		e.tableSize = n
	}
}

// WithMaxFirings bounds Run when it is called without a limit.
func WithMaxFirings(n int) EngineOption {
	return func(e *Engine) {
		e.maxFirings = n
	}
}

// WithAction binds a Go callback to a rule name. It takes precedence over
// the rule's declarative actions.
func WithAction(rule string, a Action) EngineOption {
	return func(e *Engine) {
		e.actions[rule] = a
	}
}

// WithClock sets the logical clock stamping activations.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an engine with an empty network and working memory.
//
// A fact table that cannot be allocated is a system error: the engine has
// no usable notion of fact identity without one.
func New(opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		net:            network.New(),
		eval:           network.NewEvaluator(),
		logger:         slog.Default(),
		clock:          NewClock(),
		alpha:          make(map[alphaKey]*alphaMemory),
		matches:        make(map[*factstore.Fact][]alphaMatch),
		rules:          make(map[*network.Rule]*ruleState),
		actions:        make(map[string]Action),
		agenda:         newAgenda(),
		goals:          newGoalQueue(),
		goalGeneration: true,
		maxFirings:     DefaultMaxFirings,
		tableSize:      factstore.DefaultTableSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	store, err := factstore.NewStore(e.tableSize)
	if err != nil {
		se := &SystemError{
			Code:    ErrCodeTable,
			Message: err.Error(),
			Details: map[string]string{"size": fmt.Sprint(e.tableSize)},
		}
		metrics.SystemErrors.WithLabelValues(string(se.Code)).Inc()
		return nil, se
	}
	store.AllowDuplicates = e.duplicates
	e.facts = store
	return e, nil
}

// DiscardLogger returns a logger that drops every record. Tests use it to
// keep output quiet.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// guard runs one public operation. It refuses work on a halted engine and
// during goal inference, turns a raised SystemError into a halt, and drains
// the goal queue and garbage lists when the outermost operation finishes.
func (e *Engine) guard(op string, fn func() error) (err error) {
	if e.halted != nil {
		return fmt.Errorf("%s: %w", op, ErrHalted)
	}
	if e.inferring {
		return fmt.Errorf("%s: %w", op, ErrReentrant)
	}
	e.depth++
	defer func() {
		e.depth--
		if r := recover(); r != nil {
			se, ok := r.(*SystemError)
			if !ok {
				panic(r)
			}
			e.halt(op, se)
			err = se
		}
	}()

	if err = fn(); err != nil {
		return err
	}
	if e.depth == 1 {
		e.processGoalQueue()
		e.flushGarbage()
	}
	return nil
}

func (e *Engine) halt(op string, se *SystemError) {
	e.halted = se
	e.inferring = false
	e.work = nil
	e.pending = nil
	metrics.SystemErrors.WithLabelValues(string(se.Code)).Inc()
	e.logger.Error("engine halted",
		"op", op,
		"code", se.Code,
		"error", se.Message,
		"details", se.Details,
	)
}

// Halted returns the system error that stopped the engine, or nil.
func (e *Engine) Halted() error {
	if e.halted == nil {
		return nil
	}
	return e.halted
}

// Network exposes the compiled network for inspection.
func (e *Engine) Network() *network.Network { return e.net }

// Store exposes working memory for inspection.
func (e *Engine) Store() *factstore.Store { return e.facts }

// Evaluator returns the expression service.
func (e *Engine) Evaluator() network.Evaluator { return e.eval }

// DefineTemplate registers a fact template.
func (e *Engine) DefineTemplate(t *factstore.Template) error {
	return e.guard("define-template", func() error {
		return e.net.DefineTemplate(t)
	})
}

// Template returns a registered template.
func (e *Engine) Template(name string) (*factstore.Template, bool) {
	return e.net.Template(name)
}

// NewFact builds an unasserted fact of the named template from slot values.
// Unmentioned slots take their defaults.
func (e *Engine) NewFact(template string, values map[string]ir.Value) (*factstore.Fact, error) {
	t, ok := e.net.Template(template)
	if !ok {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownTemplate, template)
	}
	slots, err := t.Build(values)
	if err != nil {
		return nil, err
	}
	return factstore.NewFact(t, slots), nil
}

// AddRule compiles def into the live network and brings every memory the
// rule introduced up to date with working memory (incremental reset).
func (e *Engine) AddRule(def *network.RuleDef) (*network.Rule, error) {
	var rule *network.Rule
	err := e.guard("add-rule", func() error {
		res, err := e.net.AddRule(def)
		if err != nil {
			return fmt.Errorf("add rule: %w", err)
		}
		e.incrementalReset(res)
		rule = res.Rule
		e.logger.Debug("rule added",
			"rule", def.Name,
			"new_joins", len(res.Joins),
			"new_patterns", len(res.Patterns),
		)
		return nil
	})
	return rule, err
}

// RemoveRule deletes a rule, its activations, and every join and pattern
// node no other rule shares.
func (e *Engine) RemoveRule(name string) error {
	return e.guard("remove-rule", func() error {
		return e.removeRule(name)
	})
}

// Assert adds f to working memory and propagates it through the network.
//
// When duplication is disabled and an identical fact is live, the existing
// fact is returned instead and nothing propagates.
func (e *Engine) Assert(f *factstore.Fact) (*factstore.Fact, error) {
	var out *factstore.Fact
	err := e.guard("assert", func() error {
		if f.Goal {
			return fmt.Errorf("assert: %w", ErrGoalFact)
		}
		var err error
		out, err = e.assertFact(f)
		return err
	})
	return out, err
}

// Retract removes a live fact from working memory.
func (e *Engine) Retract(f *factstore.Fact) error {
	return e.guard("retract", func() error {
		if f.Goal {
			return fmt.Errorf("retract: %w", ErrGoalFact)
		}
		if live, ok := e.facts.Lookup(f.Index); !ok || live != f || !f.Asserted {
			return fmt.Errorf("retract f-%d: %w", f.Index, ErrUnknownFact)
		}
		e.retractFact(f)
		metrics.FactOps.WithLabelValues("retract", metrics.ResultOK).Inc()
		return nil
	})
}

// RetractIndex retracts the live fact with the given index.
func (e *Engine) RetractIndex(index int64) error {
	f, ok := e.facts.Lookup(index)
	if !ok {
		return fmt.Errorf("retract f-%d: %w", index, ErrUnknownFact)
	}
	return e.Retract(f)
}

// Modify changes slots of a live fact in place. Only the parts of the
// network that read a changed slot are re-evaluated. When the modified fact
// duplicates another live fact, f is retracted and the duplicate returned.
func (e *Engine) Modify(f *factstore.Fact, changes map[string]ir.Value) (*factstore.Fact, error) {
	var out *factstore.Fact
	err := e.guard("modify", func() error {
		var err error
		out, err = e.modifyFact(f, changes)
		return err
	})
	return out, err
}

// Reset clears working memory and every runtime memory, then re-enters the
// network from its first joins. Rules and templates are kept.
func (e *Engine) Reset() error {
	return e.guard("reset", func() error {
		e.reset()
		return nil
	})
}

// Fact returns the live fact with the given index.
func (e *Engine) Fact(index int64) (*factstore.Fact, bool) {
	f, ok := e.facts.Lookup(index)
	if !ok || !f.Asserted {
		return nil, false
	}
	return f, true
}

// Facts returns every fact (goals included) that has been driven through
// the network, in index order.
func (e *Engine) Facts() []*factstore.Fact {
	return slices.DeleteFunc(e.facts.Facts(), func(f *factstore.Fact) bool { return !f.Asserted })
}

// Goals returns the live goals, asserted or still queued, in index order.
func (e *Engine) Goals() []*factstore.Fact {
	return slices.DeleteFunc(e.facts.Facts(), func(f *factstore.Fact) bool { return !f.Goal })
}

// PartialMatches returns the complete matches of a rule in the order they
// were found.
func (e *Engine) PartialMatches(rule string) ([]*PartialMatch, error) {
	r, ok := e.net.Rule(rule)
	if !ok {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownRule, rule)
	}
	return e.rules[r].terminal.all(), nil
}

// Stats is a snapshot of engine sizes, for logs and the CLI.
type Stats struct {
	Facts       int
	Goals       int
	Rules       int
	Joins       int
	Activations int
	TableSize   int
}

// Stats returns current sizes.
func (e *Engine) Stats() Stats {
	s := Stats{
		Rules:       len(e.net.Rules()),
		Joins:       e.net.JoinCount(),
		Activations: e.agenda.Len(),
		TableSize:   e.facts.Table().Size(),
	}
	for _, f := range e.facts.Facts() {
		if f.Goal {
			s.Goals++
		} else {
			s.Facts++
		}
	}
	return s
}

func (e *Engine) assertFact(f *factstore.Fact) (*factstore.Fact, error) {
	if err := e.facts.Validate(f); err != nil {
		metrics.FactOps.WithLabelValues("assert", metrics.ResultError).Inc()
		return nil, fmt.Errorf("assert %s: %w", f.Template.Name, err)
	}
	h, dup, err := e.facts.HandleDuplication(f, 0)
	if err != nil {
		metrics.FactOps.WithLabelValues("assert", metrics.ResultError).Inc()
		return nil, fmt.Errorf("assert %s: %w", f.Template.Name, err)
	}
	if dup != nil {
		metrics.FactOps.WithLabelValues("assert", metrics.ResultDuplicate).Inc()
		return dup, nil
	}
	if err := e.facts.Insert(f, h); err != nil {
		metrics.FactOps.WithLabelValues("assert", metrics.ResultError).Inc()
		return nil, fmt.Errorf("assert %s: %w", f.Template.Name, err)
	}
	e.activateFact(f)
	metrics.FactOps.WithLabelValues("assert", metrics.ResultOK).Inc()
	e.logger.Debug("fact asserted", "fact", f.Index, "template", f.Template.Name)
	return f, nil
}

// activateFact drives an inserted fact through the pattern network into
// every join it enters.
func (e *Engine) activateFact(f *factstore.Fact) {
	f.Asserted = true
	tree := e.net.Tree(f.Template.Name)
	for _, hit := range e.matchFact(tree, f, nil) {
		e.enterTerminal(tree, hit, f)
	}
	e.drain()
}

func (e *Engine) retractFact(f *factstore.Fact) {
	e.facts.Remove(f)
	for _, m := range e.matches[f] {
		e.dropMatch(m, f)
	}
	delete(e.matches, f)
	e.drain()
	f.Asserted = false
	f.Garbage = true
	e.garbageFacts = append(e.garbageFacts, f)
	e.logger.Debug("fact retracted", "fact", f.Index, "template", f.Template.Name, "goal", f.Goal)
}

func (e *Engine) modifyFact(f *factstore.Fact, changes map[string]ir.Value) (*factstore.Fact, error) {
	if f.Goal {
		return nil, fmt.Errorf("modify: %w", ErrGoalFact)
	}
	if live, ok := e.facts.Lookup(f.Index); !ok || live != f || !f.Asserted {
		return nil, fmt.Errorf("modify f-%d: %w", f.Index, ErrUnknownFact)
	}
	tmpl := f.Template
	slots := slices.Clone(f.Slots)
	var changed network.SlotMask
	for _, name := range slices.Sorted(maps.Keys(changes)) {
		i, ok := tmpl.SlotIndex(name)
		if !ok {
			return nil, fmt.Errorf("modify f-%d: %w: %s", f.Index, factstore.ErrUnknownSlot, name)
		}
		v := changes[name]
		if tmpl.IsMultifield(i) {
			v = ir.Multi(v)
		}
		if !ir.Equal(slots[i], v) {
			slots[i] = v
			changed.Set(i)
		}
	}
	if err := tmpl.Validate(slots); err != nil {
		metrics.FactOps.WithLabelValues("modify", metrics.ResultError).Inc()
		return nil, fmt.Errorf("modify f-%d: %w", f.Index, err)
	}
	if changed.Empty() {
		return f, nil
	}

	// retract from every terminal whose subtree reads a changed slot
	e.facts.Remove(f)
	tree := e.net.Tree(tmpl.Name)
	var kept []alphaMatch
	for _, m := range e.matches[f] {
		if nodeActivatedByChanges(tree.Node(m.key.node), changed) {
			e.dropMatch(m, f)
			continue
		}
		kept = append(kept, m)
	}
	e.matches[f] = kept
	e.drain()

	f.Slots = slots
	h, dup, err := e.facts.HandleDuplication(f, f.Index)
	if err != nil || dup != nil {
		// the new content collides: finish the retraction
		for _, m := range e.matches[f] {
			e.dropMatch(m, f)
		}
		delete(e.matches, f)
		e.drain()
		f.Asserted = false
		f.Garbage = true
		e.garbageFacts = append(e.garbageFacts, f)
		if err != nil {
			metrics.FactOps.WithLabelValues("modify", metrics.ResultError).Inc()
			return nil, fmt.Errorf("modify f-%d: %w", f.Index, err)
		}
		metrics.FactOps.WithLabelValues("modify", metrics.ResultDuplicate).Inc()
		return dup, nil
	}
	if err := e.facts.Insert(f, h); err != nil {
		return nil, fmt.Errorf("modify f-%d: %w", f.Index, err)
	}

	keptAt := make(map[network.PatternID]bool, len(kept))
	for _, m := range kept {
		keptAt[m.key.node] = true
	}
	for _, hit := range e.matchFact(tree, f, &changed) {
		if !keptAt[hit.node] {
			e.enterTerminal(tree, hit, f)
		}
	}
	e.drain()
	metrics.FactOps.WithLabelValues("modify", metrics.ResultOK).Inc()
	e.logger.Debug("fact modified", "fact", f.Index, "template", tmpl.Name, "slots", changed.Key())
	return f, nil
}

// flushGarbage releases facts and partial matches retracted during the
// operation that just finished.
func (e *Engine) flushGarbage() {
	if len(e.garbageFacts) == 0 && len(e.garbagePMs) == 0 {
		return
	}
	for _, pm := range e.garbagePMs {
		pm.lhsParent = nil
		pm.rhsParent = nil
		pm.mem = nil
		pm.activation = nil
	}
	e.logger.Debug("garbage released", "facts", len(e.garbageFacts), "matches", len(e.garbagePMs))
	clear(e.garbageFacts)
	clear(e.garbagePMs)
	e.garbageFacts = e.garbageFacts[:0]
	e.garbagePMs = e.garbagePMs[:0]
}

// IsHalted reports whether err says the engine is halted.
func IsHalted(err error) bool {
	return errors.Is(err, ErrHalted)
}

package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/chainer/internal/compiler"
	"github.com/roach88/chainer/internal/config"
	"github.com/roach88/chainer/internal/engine"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/network"
	"github.com/roach88/chainer/internal/store"
)

// Harness runs one scenario against a fresh engine.
type Harness struct {
	store   *store.Store
	engine  *engine.Engine
	session *engine.Session
	program *compiler.Program
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation. Steps go
// through an engine session, so every successful operation is journaled
// exactly as a live session would journal it.
//
// Execution flow:
//  1. Compile the program and build the engine from the default config
//     plus the scenario's engine overrides
//  2. Install templates, rules not on hold, and initial facts
//  3. Apply the steps in order, recording a trace event for each
//  4. Snapshot the final state and evaluate assertions
//
// A returned error means the scenario could not run at all; step and
// assertion failures are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine logging sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	ctx := context.Background()

	prog, err := compileProgram(scenario)
	if err != nil {
		return nil, err
	}

	cfg := config.NewDefaultConfig()
	if v := scenario.Engine.FactDuplication; v != nil {
		cfg.Engine.FactDuplication = *v
	}
	if v := scenario.Engine.GoalGeneration; v != nil {
		cfg.Engine.GoalGeneration = *v
	}
	if scenario.Engine.MaxFirings > 0 {
		cfg.Engine.MaxFirings = scenario.Engine.MaxFirings
	}
	eng, err := engine.New(append(cfg.EngineOptions(), engine.WithLogger(logger))...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	for _, name := range scenario.Hold {
		if _, ok := prog.Rule(name); !ok {
			return nil, fmt.Errorf("hold: program has no rule %q", name)
		}
	}
	installed := *prog
	installed.Rules = slices.DeleteFunc(slices.Clone(prog.Rules), func(r *network.RuleDef) bool {
		return slices.Contains(scenario.Hold, r.Name)
	})
	if err := installed.Install(eng); err != nil {
		return nil, fmt.Errorf("failed to install program: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	id := scenario.SessionID()
	if err := st.CreateSession(ctx, id, prog.Source); err != nil {
		return nil, err
	}

	h := &Harness{
		store:   st,
		engine:  eng,
		session: engine.NewSession(id, eng, engine.WithJournal(st)),
		program: prog,
		logger:  logger,
	}

	result := NewResult()
	for i := range scenario.Steps {
		h.executeStep(ctx, i, &scenario.Steps[i], result)
	}

	snap, err := h.snapshot(ctx, scenario.Name)
	if err != nil {
		return nil, err
	}
	snap.Trace = result.Trace
	result.Snapshot = snap

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, eng) {
		result.AddError(msg)
	}
	return result, nil
}

func compileProgram(scenario *Scenario) (*compiler.Program, error) {
	var (
		prog *compiler.Program
		errs []error
	)
	if scenario.Program != "" {
		prog, errs = compiler.LoadDir(scenario.ProgramDir(), compiler.LoadModeCollectAll)
	} else {
		prog, errs = compiler.CompileString(scenario.Name+".cue", scenario.Source, compiler.LoadModeCollectAll)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to compile program: %w", errors.Join(errs...))
	}
	return prog, nil
}

// executeStep applies one step and records its trace event. An unexpected
// error, or a missing expected one, fails the result.
func (h *Harness) executeStep(ctx context.Context, i int, step *Step, result *Result) {
	ev := TraceEvent{Op: step.Kind(), Args: stepArgs(step)}

	var err error
	if step.AddRule != "" {
		err = h.addRule(step.AddRule)
	} else {
		var op ir.Op
		op, err = step.Op()
		if err == nil {
			res := h.session.Apply(ctx, op)
			ev.Seq = res.Op.Seq
			ev.Fired = res.Fired
			if res.Fact != nil {
				ev.Fact = res.Fact.String()
			}
			err = res.Err
		}
	}
	if err != nil {
		ev.Error = err.Error()
	}
	result.AddTrace(ev)
	h.logger.Debug("step applied", "step", i, "op", ev.Op, "seq", ev.Seq, "fired", ev.Fired, "error", ev.Error)

	switch {
	case step.ExpectError == "" && err != nil:
		result.AddError(fmt.Sprintf("steps[%d] (%s): %v", i, ev.Op, err))
	case step.ExpectError != "" && err == nil:
		result.AddError(fmt.Sprintf("steps[%d] (%s): expected error containing %q, got none", i, ev.Op, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
		result.AddError(fmt.Sprintf("steps[%d] (%s): expected error containing %q, got %q", i, ev.Op, step.ExpectError, err))
	}
}

func (h *Harness) addRule(name string) error {
	def, ok := h.program.Rule(name)
	if !ok {
		return fmt.Errorf("program has no rule %q", name)
	}
	_, err := h.engine.AddRule(def)
	return err
}

func stepArgs(step *Step) string {
	switch {
	case step.Assert != "":
		return step.Assert
	case step.Retract != 0:
		return fmt.Sprintf("f-%d", step.Retract)
	case step.Modify != 0:
		return fmt.Sprintf("f-%d", step.Modify)
	case step.AddRule != "":
		return step.AddRule
	case step.RemoveRule != "":
		return step.RemoveRule
	case step.Run != nil && *step.Run > 0:
		return fmt.Sprintf("limit %d", *step.Run)
	default:
		return ""
	}
}

func (h *Harness) snapshot(ctx context.Context, name string) (*Snapshot, error) {
	ops, err := h.store.ReadOps(ctx, h.session.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	snap := &Snapshot{
		Scenario: name,
		Session:  h.session.ID(),
		Facts:    []string{},
		Agenda:   []string{},
		Journal:  len(ops),
	}
	for _, f := range h.engine.Facts() {
		snap.Facts = append(snap.Facts, f.String())
	}
	for _, a := range h.engine.Agenda() {
		snap.Agenda = append(snap.Agenda, a.String())
	}
	return snap, nil
}

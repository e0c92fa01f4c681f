package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
)

// DefaultSession is the session id used when a scenario names none.
const DefaultSession = "test-session-default"

// Scenario is a scripted engine run loaded from YAML.
//
// A scenario names a CUE program (a directory of .cue files, or inline
// source), a list of steps applied in order, and assertions checked against
// the final engine state and the trace.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Program is a directory of .cue files, relative to the scenario file.
	Program string `yaml:"program,omitempty"`

	// Source is inline CUE, used when Program is empty.
	Source string `yaml:"source,omitempty"`

	// Session is the journal session id; empty means DefaultSession.
	Session string `yaml:"session,omitempty"`

	Engine EngineSettings `yaml:"engine,omitempty"`

	// Hold lists program rules left out at install time. An add_rule step
	// adds them later, which exercises incremental reset.
	Hold []string `yaml:"hold,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`

	// dir is where the scenario file lives; Program resolves against it.
	dir string
}

// EngineSettings overrides the engine section of the default config.
type EngineSettings struct {
	FactDuplication *bool `yaml:"fact_duplication,omitempty"`
	GoalGeneration  *bool `yaml:"goal_generation,omitempty"`
	MaxFirings      int   `yaml:"max_firings,omitempty"`
}

// Step is one operation. Exactly one of the operation keys is set.
type Step struct {
	Assert     string         `yaml:"assert,omitempty"`
	Name       string         `yaml:"name,omitempty"`
	Slots      map[string]any `yaml:"slots,omitempty"`
	Fields     []any          `yaml:"fields,omitempty"`
	Retract    int64          `yaml:"retract,omitempty"`
	Modify     int64          `yaml:"modify,omitempty"`
	AddRule    string         `yaml:"add_rule,omitempty"`
	RemoveRule string         `yaml:"remove_rule,omitempty"`
	Run        *int           `yaml:"run,omitempty"`
	Reset      bool           `yaml:"reset,omitempty"`

	// ExpectError, when set, must be a substring of the step's error.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Kind names the operation the step performs.
func (s *Step) Kind() string {
	switch {
	case s.Assert != "":
		return string(ir.OpAssert)
	case s.Retract != 0:
		return string(ir.OpRetract)
	case s.Modify != 0:
		return string(ir.OpModify)
	case s.AddRule != "":
		return "add_rule"
	case s.RemoveRule != "":
		return string(ir.OpRemoveRule)
	case s.Run != nil:
		return string(ir.OpRun)
	case s.Reset:
		return string(ir.OpReset)
	default:
		return ""
	}
}

func (s *Step) keys() int {
	n := 0
	for _, set := range []bool{
		s.Assert != "", s.Retract != 0, s.Modify != 0, s.AddRule != "",
		s.RemoveRule != "", s.Run != nil, s.Reset,
	} {
		if set {
			n++
		}
	}
	return n
}

// Op converts the step into a session operation. add_rule has no
// operation form and returns an error.
func (s *Step) Op() (ir.Op, error) {
	switch s.Kind() {
	case string(ir.OpAssert):
		values, err := s.values()
		if err != nil {
			return ir.Op{}, err
		}
		return ir.Op{Kind: ir.OpAssert, Template: s.Assert, Name: s.Name, Values: values}, nil
	case string(ir.OpRetract):
		return ir.Op{Kind: ir.OpRetract, Fact: s.Retract}, nil
	case string(ir.OpModify):
		values, err := s.values()
		if err != nil {
			return ir.Op{}, err
		}
		return ir.Op{Kind: ir.OpModify, Fact: s.Modify, Values: values}, nil
	case string(ir.OpRemoveRule):
		return ir.Op{Kind: ir.OpRemoveRule, Rule: s.RemoveRule}, nil
	case string(ir.OpRun):
		return ir.Op{Kind: ir.OpRun, Limit: *s.Run}, nil
	case string(ir.OpReset):
		return ir.Op{Kind: ir.OpReset}, nil
	default:
		return ir.Op{}, fmt.Errorf("step %q has no operation form", s.Kind())
	}
}

// values converts slots (and fields, for implied templates) to atoms.
func (s *Step) values() (map[string]ir.Value, error) {
	return convertValues(s.Slots, s.Fields)
}

func convertValues(slots map[string]any, fields []any) (map[string]ir.Value, error) {
	out := make(map[string]ir.Value, len(slots)+1)
	names := make([]string, 0, len(slots))
	for name := range slots {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, err := ir.FromGo(slots[name])
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", name, err)
		}
		out[name] = v
	}
	if fields != nil {
		v, err := ir.FromGo(fields)
		if err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
		out[factstore.ImpliedSlot] = v
	}
	return out, nil
}

// Assertion types.
const (
	AssertFactExists = "fact_exists"
	AssertFactAbsent = "fact_absent"
	AssertFactCount  = "fact_count"
	AssertAgenda     = "agenda"
	AssertFired      = "fired"
	AssertTraceOrder = "trace_order"
)

// Assertion is a check run after every step has been applied.
type Assertion struct {
	Type string `yaml:"type"`

	// fact_exists, fact_absent, fact_count: facts of Template whose slots
	// include Slots. Goal selects goals instead of facts.
	Template string         `yaml:"template,omitempty"`
	Slots    map[string]any `yaml:"slots,omitempty"`
	Fields   []any          `yaml:"fields,omitempty"`
	Goal     bool           `yaml:"goal,omitempty"`

	// fact_count, fired
	Count int `yaml:"count,omitempty"`

	// agenda: the activations in firing order, as "rule: 1,*,3".
	Activations []string `yaml:"activations,omitempty"`

	// trace_order: operation kinds that must appear in this relative order.
	Ops []string `yaml:"ops,omitempty"`
}

// LoadScenario reads a scenario file. Unknown keys are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	if s.Program != "" {
		if _, err := os.Stat(s.ProgramDir()); err != nil {
			return nil, fmt.Errorf("invalid scenario: program: %w", err)
		}
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Program paths resolve against the
// working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// ProgramDir returns the program directory resolved against the scenario
// file.
func (s *Scenario) ProgramDir() string {
	if s.Program == "" || filepath.IsAbs(s.Program) {
		return s.Program
	}
	return filepath.Join(s.dir, s.Program)
}

// SessionID returns the session id the scenario journals under.
func (s *Scenario) SessionID() string {
	if s.Session == "" {
		return DefaultSession
	}
	return s.Session
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Program == "" && s.Source == "" {
		return fmt.Errorf("program or source is required")
	}
	if s.Program != "" && s.Source != "" {
		return fmt.Errorf("program and source are mutually exclusive")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Engine.MaxFirings < 0 {
		return fmt.Errorf("engine.max_firings must be non-negative")
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		if n := step.keys(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one operation is required, got %d", i, n)
		}
		if step.Kind() != string(ir.OpAssert) && step.Kind() != string(ir.OpModify) {
			if step.Slots != nil || step.Fields != nil || step.Name != "" {
				return fmt.Errorf("steps[%d]: slots, fields and name only apply to assert and modify", i)
			}
		}
		if step.Run != nil && *step.Run < 0 {
			return fmt.Errorf("steps[%d]: run limit must be non-negative", i)
		}
		if step.Retract < 0 || step.Modify < 0 {
			return fmt.Errorf("steps[%d]: fact index must be positive", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFactExists, AssertFactAbsent:
		if a.Template == "" {
			return fmt.Errorf("assertions[%d]: template is required for %s", index, a.Type)
		}
	case AssertFactCount:
		if a.Template == "" {
			return fmt.Errorf("assertions[%d]: template is required for fact_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fact_count", index)
		}
	case AssertAgenda:
		// an empty list asserts an empty agenda
	case AssertFired:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fired", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

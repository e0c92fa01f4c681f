package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/chainer/internal/engine"
	"github.com/roach88/chainer/internal/factstore"
	"github.com/roach88/chainer/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", i+1, ev.Op, ev.Args)
			if ev.Error != "" {
				fmt.Fprintf(&buf, " (error: %s)", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. All assertions run; an early failure does not hide later ones.
func EvaluateAssertions(result *Result, assertions []Assertion, e *engine.Engine) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, e); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, e *engine.Engine) error {
	switch a.Type {
	case AssertFactExists:
		return assertFactExists(result.Trace, a, e)
	case AssertFactAbsent:
		return assertFactAbsent(result.Trace, a, e)
	case AssertFactCount:
		return assertFactCount(result.Trace, a, e)
	case AssertAgenda:
		return assertAgenda(result.Trace, a, e)
	case AssertFired:
		return assertFired(result, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// matchingFacts returns the facts (or goals) of the assertion's template
// whose slots include the assertion's slots.
func matchingFacts(a Assertion, e *engine.Engine) ([]*factstore.Fact, error) {
	want, err := convertValues(a.Slots, a.Fields)
	if err != nil {
		return nil, err
	}
	var out []*factstore.Fact
	for _, f := range e.Facts() {
		if f.Template.Name != a.Template || f.Goal != a.Goal {
			continue
		}
		if slotsMatch(f, want) {
			out = append(out, f)
		}
	}
	return out, nil
}

func slotsMatch(f *factstore.Fact, want map[string]ir.Value) bool {
	for name, v := range want {
		got, ok := f.Slot(name)
		if !ok || !ir.Identical(got, v) {
			return false
		}
	}
	return true
}

func describe(a Assertion) string {
	kind := "fact"
	if a.Goal {
		kind = "goal"
	}
	if len(a.Slots) == 0 && a.Fields == nil {
		return fmt.Sprintf("%s %s", kind, a.Template)
	}
	want, _ := convertValues(a.Slots, a.Fields)
	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("(%s %s)", name, want[name])
	}
	return fmt.Sprintf("%s %s with %s", kind, a.Template, strings.Join(parts, " "))
}

func factList(e *engine.Engine) string {
	facts := e.Facts()
	if len(facts) == 0 {
		return "no facts"
	}
	parts := make([]string, len(facts))
	for i, f := range facts {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}

func assertFactExists(trace []TraceEvent, a Assertion, e *engine.Engine) error {
	facts, err := matchingFacts(a, e)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		return &AssertionError{
			Type:     AssertFactExists,
			Expected: describe(a),
			Actual:   factList(e),
			Trace:    trace,
		}
	}
	return nil
}

func assertFactAbsent(trace []TraceEvent, a Assertion, e *engine.Engine) error {
	facts, err := matchingFacts(a, e)
	if err != nil {
		return err
	}
	if len(facts) > 0 {
		return &AssertionError{
			Type:     AssertFactAbsent,
			Expected: "no " + describe(a),
			Actual:   facts[0].String(),
			Trace:    trace,
		}
	}
	return nil
}

func assertFactCount(trace []TraceEvent, a Assertion, e *engine.Engine) error {
	facts, err := matchingFacts(a, e)
	if err != nil {
		return err
	}
	if len(facts) != a.Count {
		return &AssertionError{
			Type:     AssertFactCount,
			Expected: fmt.Sprintf("%d × %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d (%s)", len(facts), factList(e)),
			Trace:    trace,
		}
	}
	return nil
}

func assertAgenda(trace []TraceEvent, a Assertion, e *engine.Engine) error {
	got := make([]string, 0)
	for _, act := range e.Agenda() {
		got = append(got, act.String())
	}
	want := a.Activations
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertAgenda,
			Expected: fmt.Sprintf("%q", want),
			Actual:   fmt.Sprintf("%q", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertFired(result *Result, a Assertion) error {
	if result.Fired != a.Count {
		return &AssertionError{
			Type:     AssertFired,
			Expected: fmt.Sprintf("%d firings", a.Count),
			Actual:   fmt.Sprintf("%d firings", result.Fired),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the listed operations appear in the trace in
// that relative order. Other operations may appear between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, ev := range trace {
		if next < len(a.Ops) && ev.Op == a.Ops[next] {
			next++
		}
	}
	if next < len(a.Ops) {
		ops := make([]string, len(trace))
		for i, ev := range trace {
			ops[i] = ev.Op
		}
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: strings.Join(a.Ops, " → "),
			Actual:   strings.Join(ops, " → "),
			Trace:    trace,
		}
	}
	return nil
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainer/internal/testutil"
)

const (
	petsTemplates = `package pets

template: person: slots: [{name: "name"}, {name: "age", default: 0}]
template: pet: slots: [{name: "owner"}, {name: "kind"}]
template: greeting: slots: [{name: "who"}]
`
	petsRules = `package pets

rule: greet: {
	salience: 5
	when: [
		{pattern: "person", slots: {name: "?n", age: "?a&:(>= ?a 18)"}},
		{not: {pattern: "pet", slots: {owner: "?n", kind: "dog"}}},
	]
	then: [{assert: "greeting", slots: {who: "?n"}}]
}

rule: farewell: {
	when: [{pattern: "greeting", bind: "g", slots: {who: "?n"}}]
	then: [{retract: "g"}]
}
`
	petsFacts = `package pets

facts: [
	{template: "person", slots: {name: "alice", age: 30}},
	{template: "person", slots: {name: "bob", age: 12}},
	{template: "pet", slots: {owner: "alice", kind: "cat"}},
]
`
	brokenRules = `package broken

template: person: slots: [{name: "name"}]

rule: lost: {
	when: [{pattern: "nosuch", slots: {name: "?n"}}]
	then: [{assert: "person", slots: {name: "?n"}}]
}
`
)

const fixedSession = "test-session-cli"

// workspace moves the test into an empty directory so that no stray
// chainer.toml is picked up.
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func petsProgram(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "pets")
	writeFiles(t, dir, map[string]string{
		"templates.cue": petsTemplates,
		"rules.cue":     petsRules,
		"facts.cue":     petsFacts,
	})
	return dir
}

// execute runs the CLI with args and returns stdout, stderr and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ids := testutil.NewFixedSessionIDs(fixedSession)
	cmd := newRootCommand(&RootOptions{NewSessionID: ids.Generate})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func decodeResponse(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

// =============================================================================
// Root command
// =============================================================================

func TestRoot_InvalidFormat(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)

	_, _, err := execute(t, "validate", dir, "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))

	wrapped := WrapExitError(ExitFailure, "run failed", assert.AnError)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}

// =============================================================================
// validate
// =============================================================================

func TestValidate_ValidProgram(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)

	out, _, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Program valid: 3 template(s), 2 rule(s), 3 fact(s)")
}

func TestValidate_JSON(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)

	out, _, err := execute(t, "validate", dir, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp["status"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, float64(3), data["files"])
	assert.Equal(t, float64(2), data["rules"])
}

func TestValidate_Errors(t *testing.T) {
	root := workspace(t)
	dir := filepath.Join(root, "broken")
	writeFiles(t, dir, map[string]string{"rules.cue": brokenRules})

	out, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "error(s) found")
	assert.Contains(t, out, "nosuch")
}

func TestValidate_MissingDirectory(t *testing.T) {
	root := workspace(t)

	out, _, err := execute(t, "validate", filepath.Join(root, "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]: program directory not found")
}

func TestValidate_NoCUEFiles(t *testing.T) {
	root := workspace(t)
	dir := filepath.Join(root, "empty")
	writeFiles(t, dir, map[string]string{"README.md": "nothing here"})

	_, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no CUE files found")
}

// =============================================================================
// compile
// =============================================================================

func TestCompile_Summary(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)

	out, _, err := execute(t, "compile", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Templates (3):")
	assert.Contains(t, out, "  person(name, age)")
	assert.Contains(t, out, "Rules (2):")
	assert.Contains(t, out, "  greet salience=5 conditions=2 actions=1")
	assert.Contains(t, out, "3 fact(s), 0 goal(s), 1 activation(s)")
}

func TestCompile_WritesNormalisedProgram(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)
	output := filepath.Join(root, "pets.cue")

	_, _, err := execute(t, "compile", dir, "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "greet")

	// the normalised program validates on its own
	single := filepath.Join(root, "single")
	writeFiles(t, single, map[string]string{"pets.cue": string(data)})
	out, _, err := execute(t, "validate", single)
	require.NoError(t, err)
	assert.Contains(t, out, "2 rule(s)")
}

// =============================================================================
// run, trace, replay
// =============================================================================

func TestRun_JournalsSession(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)
	db := filepath.Join(root, "chainer.db")

	out, _, err := execute(t, "run", dir, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Session "+fixedSession)
	// greet fires for alice, farewell retracts the greeting
	assert.Contains(t, out, "Fired 2 rule(s)")
	assert.Contains(t, out, "Facts (3):")
	assert.NotContains(t, out, "greeting")

	out, _, err = execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, fixedSession)

	out, _, err = execute(t, "trace", "--db", db, "--session", fixedSession)
	require.NoError(t, err)
	assert.Contains(t, out, "[1] run")
	assert.Contains(t, out, "1 operation(s): run=1")

	out, _, err = execute(t, "replay", "--db", db, "--session", fixedSession)
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 1 op(s) through seq 1, 2 firing(s)")
	assert.Contains(t, out, "✓ Deterministic")
}

func TestRun_LimitAndJSON(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)
	db := filepath.Join(root, "chainer.db")

	out, _, err := execute(t, "run", dir, "--db", db, "--limit", "1", "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp["status"])
	data := resp["data"].(map[string]any)
	assert.Equal(t, fixedSession, data["session"])
	assert.Equal(t, float64(1), data["fired"])
	assert.Equal(t, []any{"farewell: 4"}, data["agenda"])

	out, _, err = execute(t, "trace", "--db", db, "--session", fixedSession, "--format", "json")
	require.NoError(t, err)
	resp = decodeResponse(t, out)
	timeline := resp["data"].(map[string]any)["timeline"].([]any)
	require.Len(t, timeline, 1)
	assert.Equal(t, "limit 1", timeline[0].(map[string]any)["detail"])
}

func TestRun_ExplicitSession(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)
	db := filepath.Join(root, "chainer.db")

	_, _, err := execute(t, "run", dir, "--db", db, "--session", "first")
	require.NoError(t, err)
	_, _, err = execute(t, "run", dir, "--db", db, "--session", "second")
	require.NoError(t, err)

	out, _, err := execute(t, "trace", "--db", db, "--format", "json")
	require.NoError(t, err)
	rows := decodeResponse(t, out)["data"].([]any)
	assert.Len(t, rows, 2)
}

func TestRun_NegativeLimit(t *testing.T) {
	root := workspace(t)
	dir := petsProgram(t, root)

	_, _, err := execute(t, "run", dir, "--db", filepath.Join(root, "chainer.db"), "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_CompileErrors(t *testing.T) {
	root := workspace(t)
	dir := filepath.Join(root, "broken")
	writeFiles(t, dir, map[string]string{"rules.cue": brokenRules})

	out, _, err := execute(t, "run", dir, "--db", filepath.Join(root, "chainer.db"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")
}

func TestTrace_EmptyDatabase(t *testing.T) {
	root := workspace(t)

	out, _, err := execute(t, "trace", "--db", filepath.Join(root, "chainer.db"))
	require.NoError(t, err)
	assert.Equal(t, "No sessions found in database.\n", out)
}

func TestTrace_UnknownSession(t *testing.T) {
	root := workspace(t)

	_, _, err := execute(t, "trace", "--db", filepath.Join(root, "chainer.db"), "--session", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTrace_UnknownKind(t *testing.T) {
	root := workspace(t)

	_, _, err := execute(t, "trace", "--db", filepath.Join(root, "chainer.db"), "--session", "s", "--kind", "explode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown operation kind "explode"`)
}

func TestReplay_RequiresSession(t *testing.T) {
	root := workspace(t)

	_, _, err := execute(t, "replay", "--db", filepath.Join(root, "chainer.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session")
}

func TestReplay_UnknownSession(t *testing.T) {
	root := workspace(t)

	_, _, err := execute(t, "replay", "--db", filepath.Join(root, "chainer.db"), "--session", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// =============================================================================
// test
// =============================================================================

const (
	passingScenario = `name: greet-and-forget
program: ../pets
steps:
  - run: 0
assertions:
  - type: fired
    count: 2
  - type: fact_absent
    template: greeting
`
	failingScenario = `name: wrong-count
program: ../pets
steps:
  - run: 0
assertions:
  - type: fired
    count: 5
`
)

func TestTest_AllPass(t *testing.T) {
	root := workspace(t)
	petsProgram(t, root)
	scenarios := filepath.Join(root, "scenarios")
	writeFiles(t, scenarios, map[string]string{"greet.yaml": passingScenario})

	out, _, err := execute(t, "test", scenarios)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ greet-and-forget")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_Failure(t *testing.T) {
	root := workspace(t)
	petsProgram(t, root)
	scenarios := filepath.Join(root, "scenarios")
	writeFiles(t, scenarios, map[string]string{
		"greet.yaml": passingScenario,
		"wrong.yaml": failingScenario,
	})

	out, _, err := execute(t, "test", scenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong-count")
	assert.Contains(t, out, "Expected: 5 firings")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTest_Filter(t *testing.T) {
	root := workspace(t)
	petsProgram(t, root)
	scenarios := filepath.Join(root, "scenarios")
	writeFiles(t, scenarios, map[string]string{
		"greet.yaml": passingScenario,
		"wrong.yaml": failingScenario,
	})

	out, _, err := execute(t, "test", scenarios, "--filter", "gr*", "--format", "json")
	require.NoError(t, err)

	data := decodeResponse(t, out)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["passed"])
}

func TestTest_UpdateThenCompareGolden(t *testing.T) {
	root := workspace(t)
	petsProgram(t, root)
	scenarios := filepath.Join(root, "scenarios")
	writeFiles(t, scenarios, map[string]string{"greet.yaml": passingScenario})

	out, _, err := execute(t, "test", scenarios, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	golden := filepath.Join(scenarios, "golden", "greet.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario": "greet-and-forget"`)

	_, _, err = execute(t, "test", scenarios)
	require.NoError(t, err)

	// a stale golden fails the scenario
	stale := strings.Replace(string(data), `"journal": 1`, `"journal": 9`, 1)
	require.NotEqual(t, string(data), stale)
	require.NoError(t, os.WriteFile(golden, []byte(stale), 0o644))

	out, _, err = execute(t, "test", scenarios)
	require.Error(t, err)
	assert.Contains(t, out, "snapshot does not match golden file")
}

func TestTest_MissingDirectory(t *testing.T) {
	root := workspace(t)

	_, _, err := execute(t, "test", filepath.Join(root, "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_NoScenarios(t *testing.T) {
	root := workspace(t)
	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	out, _, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

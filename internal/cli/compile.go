package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chainer/internal/compiler"
	"github.com/roach88/chainer/internal/engine"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // write the normalised program here
	engine engineFlags
}

// CompilationResult summarises a compiled and installed program.
type CompilationResult struct {
	Templates []TemplateSummary `json:"templates"`
	Rules     []RuleSummary     `json:"rules"`
	Facts     int               `json:"facts"`
	Network   NetworkSummary    `json:"network"`
}

// TemplateSummary describes one template.
type TemplateSummary struct {
	Name     string   `json:"name"`
	Slots    []string `json:"slots"`
	Backward bool     `json:"backward,omitempty"`
}

// RuleSummary describes one rule.
type RuleSummary struct {
	Name       string `json:"name"`
	Salience   int    `json:"salience"`
	Conditions int    `json:"conditions"`
	Actions    int    `json:"actions"`
}

// NetworkSummary is the engine state right after installation.
type NetworkSummary struct {
	Joins       int `json:"joins"`
	Facts       int `json:"facts"`
	Goals       int `json:"goals"`
	Activations int `json:"activations"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <cue-dir>",
		Short: "Compile a program and show the network it builds",
		Long: `Compile a CUE program, install it into a fresh engine and summarise
the result: templates, rules, the size of the join network and the initial
agenda. With --output the normalised program is written to a file; that is
the form stored with journaled sessions.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the normalised program to this file")
	addEngineFlags(cmd, &opts.engine)

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig(cmd, engineFlagKeys...)
	if err != nil {
		return err
	}

	loaded, err := LoadProgram(dir, compiler.LoadModeCollectAll)
	if err != nil {
		return reportLoadError(out, err)
	}
	if len(loaded.Errors) > 0 {
		diags := diagnose(loaded.Errors)
		_ = out.Error(ErrCodeCompile, fmt.Sprintf("%d error(s) found", len(diags)), diags)
		return NewExitError(ExitFailure, "compilation failed")
	}
	prog := loaded.Program

	e, _, err := newEngine(cmd, cfg)
	if err != nil {
		return err
	}
	if err := prog.Install(e); err != nil {
		_ = out.Error(ErrCodeEngine, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to install program", err)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(prog.Source), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}
		out.VerboseLog("Wrote %s", opts.Output)
	}

	result := summarise(prog, e)
	return out.Success(result, formatCompilation(result))
}

func summarise(prog *compiler.Program, e *engine.Engine) CompilationResult {
	result := CompilationResult{
		Templates: make([]TemplateSummary, 0, len(prog.Templates)),
		Rules:     make([]RuleSummary, 0, len(prog.Rules)),
		Facts:     len(prog.Facts),
	}
	for _, t := range prog.Templates {
		ts := TemplateSummary{Name: t.Name, Slots: make([]string, 0, len(t.Slots)), Backward: t.Backward}
		for _, s := range t.Slots {
			ts.Slots = append(ts.Slots, s.Name)
		}
		result.Templates = append(result.Templates, ts)
	}
	for _, r := range prog.Rules {
		result.Rules = append(result.Rules, RuleSummary{
			Name:       r.Name,
			Salience:   r.Salience,
			Conditions: len(r.Conditions),
			Actions:    len(r.Actions),
		})
	}
	stats := e.Stats()
	result.Network = NetworkSummary{
		Joins:       stats.Joins,
		Facts:       stats.Facts,
		Goals:       stats.Goals,
		Activations: stats.Activations,
	}
	return result
}

func formatCompilation(r CompilationResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Templates (%d):\n", len(r.Templates))
	for _, t := range r.Templates {
		mark := ""
		if t.Backward {
			mark = " [backward]"
		}
		fmt.Fprintf(&b, "  %s(%s)%s\n", t.Name, strings.Join(t.Slots, ", "), mark)
	}
	fmt.Fprintf(&b, "Rules (%d):\n", len(r.Rules))
	for _, rule := range r.Rules {
		fmt.Fprintf(&b, "  %s salience=%d conditions=%d actions=%d\n",
			rule.Name, rule.Salience, rule.Conditions, rule.Actions)
	}
	fmt.Fprintf(&b, "Network: %d join(s), %d fact(s), %d goal(s), %d activation(s)\n",
		r.Network.Joins, r.Network.Facts, r.Network.Goals, r.Network.Activations)
	return b.String()
}

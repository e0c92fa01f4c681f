package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chainer/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                    `json:"valid"`
	Files     int                     `json:"files"`
	Templates int                     `json:"templates"`
	Rules     int                     `json:"rules"`
	Facts     int                     `json:"facts"`
	Errors    []Diagnostic            `json:"errors,omitempty"`
	Warnings  []compiler.CycleWarning `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <cue-dir>",
		Short: "Check a program without running it",
		Long: `Compile a CUE program and report every error found.

Checks template and rule syntax, cross references between rules, facts and
templates, and variable binding. Rules that can re-trigger each other are
reported as warnings.

Exit codes:
  0 - Program is valid (warnings allowed)
  1 - Program has errors
  2 - Command error (directory not found, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	loaded, err := LoadProgram(dir, compiler.LoadModeCollectAll)
	if err != nil {
		return reportLoadError(out, err)
	}
	out.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)

	result := ValidationResult{Files: loaded.FileCount}
	if len(loaded.Errors) > 0 {
		result.Errors = diagnose(loaded.Errors)
		if err := outputValidation(out, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d error(s) found", len(result.Errors)))
	}

	prog := loaded.Program
	result.Valid = true
	result.Templates = len(prog.Templates)
	result.Rules = len(prog.Rules)
	result.Facts = len(prog.Facts)
	if warnings := compiler.AnalyzeCycles(prog.Rules); len(warnings) > 0 {
		result.Warnings = warnings
	}
	return outputValidation(out, result)
}

func outputValidation(out *OutputFormatter, result ValidationResult) error {
	if out.JSON() {
		if !result.Valid {
			return out.encode(CLIResponse{
				Status: "error",
				Data:   result,
				Error: &CLIError{
					Code:    ErrCodeCompile,
					Message: fmt.Sprintf("%d error(s) found", len(result.Errors)),
				},
			})
		}
		return out.Success(result, "")
	}

	var b strings.Builder
	if !result.Valid {
		fmt.Fprintf(&b, "✗ %d error(s) found\n", len(result.Errors))
		for _, d := range result.Errors {
			fmt.Fprintf(&b, "  %s\n", d)
		}
	} else {
		fmt.Fprintf(&b, "✓ Program valid: %d template(s), %d rule(s), %d fact(s)\n",
			result.Templates, result.Rules, result.Facts)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "  ⚠ %s\n", w.Message)
	}
	_, err := fmt.Fprint(out.Writer, b.String())
	return err
}

// reportLoadError prints a LoadError and maps it to a command error.
func reportLoadError(out *OutputFormatter, err error) error {
	var lerr *LoadError
	if errors.As(err, &lerr) {
		_ = out.Error(lerr.Code, lerr.Message, nil)
		return NewExitError(ExitCommandError, lerr.Message)
	}
	_ = out.Error(ErrCodeGeneric, err.Error(), nil)
	return WrapExitError(ExitCommandError, "failed to load program", err)
}

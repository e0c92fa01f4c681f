package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/chainer/internal/config"
	"github.com/roach88/chainer/internal/engine"
	"github.com/roach88/chainer/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// NewSessionID names journal sessions. Tests swap in a fixed generator.
	NewSessionID func() (string, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the chainer CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{NewSessionID: store.NewSessionID})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chainer",
		Short: "chainer - a forward and backward chaining rule engine",
		Long: `chainer runs production-rule programs written in CUE.

Programs declare templates, rules and initial facts. Runs are journaled to
SQLite so that a session can be inspected with trace and rebuilt with replay.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default ./chainer.toml)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}

// engineFlags are the config-backed flags shared by commands that build an
// engine.
type engineFlags struct {
	goals      bool
	duplicates bool
	maxFirings int
	tableSize  int
	logLevel   string
}

var engineFlagKeys = []string{
	config.FlagGoalGeneration,
	config.FlagFactDuplication,
	config.FlagMaxFirings,
	config.FlagTableSize,
	config.FlagLogLevel,
}

func addEngineFlags(cmd *cobra.Command, f *engineFlags) {
	config.AddBoolFlag(cmd, config.Flags, config.FlagGoalGeneration, &f.goals)
	config.AddBoolFlag(cmd, config.Flags, config.FlagFactDuplication, &f.duplicates)
	config.AddIntFlag(cmd, config.Flags, config.FlagMaxFirings, &f.maxFirings)
	config.AddIntFlag(cmd, config.Flags, config.FlagTableSize, &f.tableSize)
	config.AddStringFlag(cmd, config.Flags, config.FlagLogLevel, &f.logLevel)
}

// loadConfig resolves the configuration for cmd: flags named by keys, then
// CHAINER_ env vars, then the config file, then defaults. --verbose forces
// debug logging.
func (o *RootOptions) loadConfig(cmd *cobra.Command, keys ...string) (*config.Config, error) {
	v, err := config.InitViper(o.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, keys)
	cfg, err := config.Load(v)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newEngine builds an engine from cfg, logging to the command's stderr.
func newEngine(cmd *cobra.Command, cfg *config.Config) (*engine.Engine, *slog.Logger, error) {
	logger := cfg.NewLogger(cmd.ErrOrStderr())
	e, err := engine.New(append(cfg.EngineOptions(), engine.WithLogger(logger))...)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	return e, logger, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

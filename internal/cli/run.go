package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/chainer/internal/compiler"
	"github.com/roach88/chainer/internal/config"
	"github.com/roach88/chainer/internal/engine"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Session  string
	Limit    int
	engine   engineFlags
}

// RunResult is the outcome of a journaled run.
type RunResult struct {
	Session string   `json:"session"`
	Fired   int      `json:"fired"`
	Facts   []string `json:"facts"`
	Agenda  []string `json:"agenda"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <cue-dir>",
		Short: "Run a program and journal the session",
		Long: `Compile a CUE program, assert its initial facts and fire rules until the
agenda is empty or the firing limit is reached.

The session is journaled to SQLite: the normalised program plus every
operation applied. Use 'chainer trace' to inspect it and 'chainer replay' to
rebuild it.

Example:
  chainer run --db ./chainer.db ./programs/pets
  chainer run --db /tmp/test.db ./programs/pets --limit 10 --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &opts.Database)
	addEngineFlags(cmd, &opts.engine)
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (default: a new UUIDv7)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many firings (0: engine.max_firings)")

	return cmd
}

func runProgram(opts *RunOptions, dir string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig(cmd, append(engineFlagKeys, config.FlagSQLite)...)
	if err != nil {
		return err
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must be non-negative")
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

	e, logger, err := newEngine(cmd, cfg)
	if err != nil {
		return err
	}
	if err := prog.Install(e); err != nil {
		_ = out.Error(ErrCodeEngine, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to install program", err)
	}

	logger.Info("opening database", "path", cfg.Store.SQLitePath)
	st, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	id := opts.Session
	if id == "" {
		if id, err = opts.NewSessionID(); err != nil {
			return WrapExitError(ExitCommandError, "failed to create session id", err)
		}
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	if err := st.CreateSession(ctx, id, prog.Source); err != nil {
		return WrapExitError(ExitCommandError, "failed to record session", err)
	}

	fired, runErr := runSession(ctx, engine.NewSession(id, e, engine.WithJournal(st)), opts.Limit)
	result := RunResult{
		Session: id,
		Fired:   fired,
		Facts:   factStrings(e),
		Agenda:  agendaStrings(e),
	}
	if runErr != nil {
		_ = out.Error(ErrCodeEngine, runErr.Error(), result)
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	return out.Success(result, formatRun(result))
}

// runSession drives the session loop on its own goroutine and submits a
// single run operation to it.
func runSession(ctx context.Context, s *engine.Session, limit int) (int, error) {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	res, err := s.Do(ctx, ir.Op{Kind: ir.OpRun, Limit: limit})
	s.Stop()
	loopErr := <-done
	if err != nil {
		return res.Fired, err
	}
	if loopErr != nil && !errors.Is(loopErr, context.Canceled) {
		return res.Fired, loopErr
	}
	return res.Fired, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func factStrings(e *engine.Engine) []string {
	facts := e.Facts()
	out := make([]string, len(facts))
	for i, f := range facts {
		out[i] = f.String()
	}
	return out
}

func agendaStrings(e *engine.Engine) []string {
	acts := e.Agenda()
	out := make([]string, len(acts))
	for i, a := range acts {
		out[i] = a.String()
	}
	return out
}

func formatRun(r RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", r.Session)
	fmt.Fprintf(&b, "Fired %d rule(s)\n", r.Fired)
	writeList(&b, "Facts", r.Facts)
	if len(r.Agenda) > 0 {
		writeList(&b, "Agenda", r.Agenda)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "%s (%d):\n", title, len(items))
	for _, item := range items {
		fmt.Fprintf(b, "  %s\n", item)
	}
}

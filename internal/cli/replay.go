package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chainer/internal/compiler"
	"github.com/roach88/chainer/internal/config"
	"github.com/roach88/chainer/internal/engine"
	"github.com/roach88/chainer/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string
	engine   engineFlags
}

// ReplayReport holds the replay result.
type ReplayReport struct {
	Session       string   `json:"session"`
	Ops           int      `json:"ops"`
	Fired         int      `json:"fired"`
	LastSeq       int64    `json:"last_seq"`
	Deterministic bool     `json:"deterministic"`
	Facts         []string `json:"facts"`
	Agenda        []string `json:"agenda"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild a session from its journal and verify determinism",
		Long: `Rebuild a journaled session: recompile the program stored with it,
install it into a fresh engine and apply the journaled operations in
sequence order. The replay runs twice and both final states must agree.

Engine settings should match the original run; a different goal or
duplication setting can make replay diverge.

Exit codes:
  0 - Replay succeeded and is deterministic
  1 - Replay diverged (an operation failed, or the two replays differ)
  2 - Command error (database or session not found, etc.)

Examples:
  chainer replay --db ./chainer.db --session 0192...
  chainer replay --db ./chainer.db --session 0192... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &opts.Database)
	addEngineFlags(cmd, &opts.engine)
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to replay (required)")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig(cmd, append(engineFlagKeys, config.FlagSQLite)...)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	info, err := st.Session(ctx, opts.Session)
	if err != nil {
		if errors.Is(err, store.ErrUnknownSession) {
			_ = out.Error(ErrCodeNotFound, err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	prog, errs := compiler.CompileString(info.ID+".cue", info.Program, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		_ = out.Error(ErrCodeCompile, "stored program does not compile", diagnose(errs))
		return WrapExitError(ExitFailure, "stored program does not compile", errs[0])
	}

	first, firstEngine, err := replayOnce(ctx, cmd, cfg, st, prog, info.ID)
	if err != nil {
		_ = out.Error(ErrCodeDivergence, err.Error(), nil)
		return WrapExitError(ExitFailure, "replay diverged", err)
	}
	out.VerboseLog("Replayed %d op(s), verifying determinism", first.Ops)
	_, secondEngine, err := replayOnce(ctx, cmd, cfg, st, prog, info.ID)
	if err != nil {
		_ = out.Error(ErrCodeDivergence, err.Error(), nil)
		return WrapExitError(ExitFailure, "replay diverged", err)
	}

	report := ReplayReport{
		Session: info.ID,
		Ops:     first.Ops,
		Fired:   first.Fired,
		LastSeq: first.LastSeq,
		Facts:   factStrings(firstEngine),
		Agenda:  agendaStrings(firstEngine),
	}
	report.Deterministic = slices.Equal(report.Facts, factStrings(secondEngine)) &&
		slices.Equal(report.Agenda, agendaStrings(secondEngine))

	if !report.Deterministic {
		_ = out.Error(ErrCodeDivergence, "replays produced different states", report)
		return NewExitError(ExitFailure, "replay is not deterministic")
	}
	return out.Success(report, formatReplay(report))
}

// replayOnce rebuilds the session on a fresh engine. The target session has
// no journal so the stored one is left untouched.
func replayOnce(ctx context.Context, cmd *cobra.Command, cfg *config.Config, st *store.Store, prog *compiler.Program, id string) (store.ReplayResult, *engine.Engine, error) {
	e, _, err := newEngine(cmd, cfg)
	if err != nil {
		return store.ReplayResult{}, nil, err
	}
	if err := prog.Install(e); err != nil {
		return store.ReplayResult{}, nil, fmt.Errorf("install: %w", err)
	}
	res, err := st.Replay(ctx, id, engine.NewSession(id, e))
	return res, e, err
}

func formatReplay(r ReplayReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", r.Session)
	fmt.Fprintf(&b, "Replayed %d op(s) through seq %d, %d firing(s)\n", r.Ops, r.LastSeq, r.Fired)
	writeList(&b, "Facts", r.Facts)
	if len(r.Agenda) > 0 {
		writeList(&b, "Agenda", r.Agenda)
	}
	b.WriteString("✓ Deterministic\n")
	return b.String()
}

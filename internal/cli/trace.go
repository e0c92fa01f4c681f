package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/chainer/internal/config"
	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string // optional - list sessions when empty
	Kind     string // optional - only ops of this kind
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID            string `json:"id"`
	Ops           int    `json:"ops"`
	LastSeq       int64  `json:"last_seq"`
	EngineVersion string `json:"engine_version"`
}

// TraceEvent is one journaled operation.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// TraceResult is the journal of one session.
type TraceResult struct {
	Session  string       `json:"session"`
	Timeline []TraceEvent `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats counts ops by kind.
type TraceStats struct {
	TotalOps int            `json:"total_ops"`
	ByKind   map[string]int `json:"by_kind"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show journaled sessions and their operations",
		Long: `Show what the journal recorded.

Without --session, lists every session with its operation count. With
--session, prints that session's operations in sequence order.

Examples:
  chainer trace --db ./chainer.db
  chainer trace --db ./chainer.db --session 0192...
  chainer trace --db ./chainer.db --session 0192... --kind assert --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &opts.Database)
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to show")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only show operations of this kind")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig(cmd, config.FlagSQLite)
	if err != nil {
		return err
	}
	if opts.Kind != "" && !ir.OpKind(opts.Kind).Valid() {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown operation kind %q", opts.Kind))
	}

	st, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Session == "" {
		return listSessions(ctx, st, out)
	}

	if _, err := st.Session(ctx, opts.Session); err != nil {
		if errors.Is(err, store.ErrUnknownSession) {
			_ = out.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "session not found", err)
		}
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	var ops []ir.Op
	if opts.Kind != "" {
		ops, err = st.ReadOpsOfKind(ctx, opts.Session, ir.OpKind(opts.Kind))
	} else {
		ops, err = st.ReadOps(ctx, opts.Session)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := buildTrace(opts.Session, ops)
	return out.Success(result, formatTrace(result))
}

func listSessions(ctx context.Context, st *store.Store, out *OutputFormatter) error {
	infos, err := st.Sessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	rows := make([]SessionSummary, len(infos))
	for i, info := range infos {
		rows[i] = SessionSummary{
			ID:            info.ID,
			Ops:           info.Ops,
			LastSeq:       info.LastSeq,
			EngineVersion: info.EngineVersion,
		}
	}

	if len(rows) == 0 {
		return out.Success(rows, "No sessions found in database.\n")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s  %5s  %8s\n", "SESSION", "OPS", "LAST SEQ")
	for _, r := range rows {
		fmt.Fprintf(&b, "%-36s  %5d  %8d\n", r.ID, r.Ops, r.LastSeq)
	}
	return out.Success(rows, b.String())
}

func buildTrace(session string, ops []ir.Op) TraceResult {
	result := TraceResult{
		Session:  session,
		Timeline: make([]TraceEvent, 0, len(ops)),
		Stats:    TraceStats{TotalOps: len(ops), ByKind: make(map[string]int)},
	}
	for _, op := range ops {
		result.Timeline = append(result.Timeline, TraceEvent{
			Seq:    op.Seq,
			Kind:   string(op.Kind),
			Detail: describeOp(op),
		})
		result.Stats.ByKind[string(op.Kind)]++
	}
	return result
}

// describeOp renders the operation arguments, e.g. "(person (age 30) (name alice))".
func describeOp(op ir.Op) string {
	switch op.Kind {
	case ir.OpAssert:
		s := "(" + op.Template
		if op.Name != "" {
			s += " [" + op.Name + "]"
		}
		if v := describeValues(op.Values); v != "" {
			s += " " + v
		}
		return s + ")"
	case ir.OpRetract:
		return fmt.Sprintf("f-%d", op.Fact)
	case ir.OpModify:
		return strings.TrimSpace(fmt.Sprintf("f-%d %s", op.Fact, describeValues(op.Values)))
	case ir.OpRun:
		if op.Limit > 0 {
			return fmt.Sprintf("limit %d", op.Limit)
		}
		return ""
	case ir.OpRemoveRule:
		return op.Rule
	default:
		return ""
	}
}

func describeValues(values map[string]ir.Value) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("(%s %s)", name, values[name])
	}
	return strings.Join(parts, " ")
}

func formatTrace(r TraceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n\n", r.Session)
	if len(r.Timeline) == 0 {
		b.WriteString("No operations found.\n")
		return b.String()
	}
	for _, ev := range r.Timeline {
		line := fmt.Sprintf("[%d] %s %s", ev.Seq, ev.Kind, ev.Detail)
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')
	}

	kinds := make([]string, 0, len(r.Stats.ByKind))
	for k := range r.Stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, r.Stats.ByKind[k])
	}
	fmt.Fprintf(&b, "\n%d operation(s): %s\n", r.Stats.TotalOps, strings.Join(parts, " "))
	return b.String()
}

package store

import (
	"context"
	"fmt"

	"github.com/roach88/chainer/internal/engine"
)

// ReplayResult summarises a replay.
type ReplayResult struct {
	Session string
	Ops     int
	Fired   int
	LastSeq int64
}

// Replay applies the journaled ops of session to target in seq order.
//
// The target session must be built from the same program (see
// SessionInfo.Program). Only successful ops are journaled, so any op that
// fails on replay means the engine diverged; replay stops there and reports
// the seq. If target journals into this store, replayed ops land on their
// existing rows and are ignored.
func (s *Store) Replay(ctx context.Context, session string, target *engine.Session) (ReplayResult, error) {
	res := ReplayResult{Session: session}
	if _, err := s.Session(ctx, session); err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}
	ops, err := s.ReadOps(ctx, session)
	if err != nil {
		return res, fmt.Errorf("replay: %w", err)
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := target.Apply(ctx, op)
		if out.Err != nil {
			return res, fmt.Errorf("replay seq %d (%s): %w", op.Seq, op.Kind, out.Err)
		}
		res.Ops++
		res.Fired += out.Fired
		res.LastSeq = op.Seq
	}
	return res, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/roach88/chainer/internal/ir"
)

// AppendOp journals one applied operation. It implements engine.Journal.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency: the id is content
// addressed, so writing the same op twice is silently ignored. A different
// op at an existing (session, seq) violates the UNIQUE constraint and
// returns an error. The session must exist (foreign key constraint).
func (s *Store) AppendOp(ctx context.Context, session string, op ir.Op) error {
	if !op.Kind.Valid() {
		return fmt.Errorf("append op: unknown kind %q", op.Kind)
	}
	id, payload, err := marshalOp(session, op)
	if err != nil {
		return fmt.Errorf("append op: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ops (id, session_id, seq, kind, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, session, op.Seq, string(op.Kind), payload)
	if err != nil {
		return fmt.Errorf("append op seq %d: %w", op.Seq, err)
	}
	return nil
}

package store

import (
	"context"
	"fmt"

	"github.com/roach88/chainer/internal/ir"
)

// ReadOps returns every op of a session in journal order:
// ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the session has no ops.
func (s *Store) ReadOps(ctx context.Context, session string) ([]ir.Op, error) {
	return s.readOps(ctx, session, "")
}

// ReadOpsOfKind returns the ops of one kind, in journal order.
func (s *Store) ReadOpsOfKind(ctx context.Context, session string, kind ir.OpKind) ([]ir.Op, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("read ops: unknown kind %q", kind)
	}
	return s.readOps(ctx, session, kind)
}

func (s *Store) readOps(ctx context.Context, session string, kind ir.OpKind) ([]ir.Op, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, payload
		FROM ops
		WHERE session_id = ? AND (? = '' OR kind = ?)
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, session, string(kind), string(kind))
	if err != nil {
		return nil, fmt.Errorf("query ops: %w", err)
	}
	defer rows.Close()

	ops := []ir.Op{}
	for rows.Next() {
		var (
			seq           int64
			kind, payload string
		)
		if err := rows.Scan(&seq, &kind, &payload); err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		op, err := unmarshalOp(seq, kind, payload)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return ops, nil
}

package store

import (
	"fmt"

	"github.com/roach88/chainer/internal/ir"
)

// marshalOp computes the row id and payload TEXT for op.
func marshalOp(session string, op ir.Op) (id, payload string, err error) {
	data, err := ir.MarshalOpPayload(op)
	if err != nil {
		return "", "", fmt.Errorf("marshal op: %w", err)
	}
	id, err = ir.OpID(session, op.Seq, string(op.Kind), data)
	if err != nil {
		return "", "", fmt.Errorf("marshal op: %w", err)
	}
	return id, string(data), nil
}

// unmarshalOp rebuilds an op from its columns.
func unmarshalOp(seq int64, kind, payload string) (ir.Op, error) {
	op, err := ir.UnmarshalOpPayload(seq, ir.OpKind(kind), []byte(payload))
	if err != nil {
		return ir.Op{}, fmt.Errorf("unmarshal op seq %d: %w", seq, err)
	}
	return op, nil
}

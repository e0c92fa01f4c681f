package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OpKind names a working-memory operation recorded in the journal.
type OpKind string

const (
	OpAssert     OpKind = "assert"
	OpRetract    OpKind = "retract"
	OpModify     OpKind = "modify"
	OpRun        OpKind = "run"
	OpReset      OpKind = "reset"
	OpRemoveRule OpKind = "remove_rule"
)

// Valid reports whether k is a known operation kind.
func (k OpKind) Valid() bool {
	switch k {
	case OpAssert, OpRetract, OpModify, OpRun, OpReset, OpRemoveRule:
		return true
	}
	return false
}

// Op is one operation applied to an engine session.
//
// Which fields matter depends on Kind:
//
//	assert       Template, Name, Values
//	retract      Fact
//	modify       Fact, Values
//	run          Limit
//	reset        (none)
//	remove_rule  Rule
type Op struct {
	Seq      int64
	Kind     OpKind
	Template string
	Name     string
	Values   map[string]Value
	Fact     int64
	Rule     string
	Limit    int
}

type opPayload struct {
	Template string                     `json:"template,omitempty"`
	Name     string                     `json:"name,omitempty"`
	Values   map[string]json.RawMessage `json:"values,omitempty"`
	Fact     int64                      `json:"fact,omitempty"`
	Rule     string                     `json:"rule,omitempty"`
	Limit    int                        `json:"limit,omitempty"`
}

// MarshalOpPayload encodes every field of op except Seq and Kind as
// canonical JSON: sorted keys, tagged values, no HTML escaping.
func MarshalOpPayload(op Op) ([]byte, error) {
	p := opPayload{
		Template: op.Template,
		Name:     op.Name,
		Fact:     op.Fact,
		Rule:     op.Rule,
		Limit:    op.Limit,
	}
	if len(op.Values) > 0 {
		p.Values = make(map[string]json.RawMessage, len(op.Values))
		for k, v := range op.Values {
			data, err := MarshalValue(v)
			if err != nil {
				return nil, fmt.Errorf("value %s: %w", k, err)
			}
			p.Values[k] = data
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode op: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalOpPayload rebuilds an Op from its journal columns.
func UnmarshalOpPayload(seq int64, kind OpKind, data []byte) (Op, error) {
	if !kind.Valid() {
		return Op{}, fmt.Errorf("decode op: unknown kind %q", kind)
	}
	var p opPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Op{}, fmt.Errorf("decode op: %w", err)
	}
	op := Op{
		Seq:      seq,
		Kind:     kind,
		Template: p.Template,
		Name:     p.Name,
		Fact:     p.Fact,
		Rule:     p.Rule,
		Limit:    p.Limit,
	}
	if len(p.Values) > 0 {
		op.Values = make(map[string]Value, len(p.Values))
		for k, raw := range p.Values {
			v, err := UnmarshalValue(raw)
			if err != nil {
				return Op{}, fmt.Errorf("decode op value %s: %w", k, err)
			}
			op.Values[k] = v
		}
	}
	return op, nil
}

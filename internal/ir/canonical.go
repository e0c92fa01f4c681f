package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Canonical tagged JSON encoding of values.
//
// Each atom is a single-key object whose key names the atom type:
//
//	{"sym":"red"} {"str":"hello"} {"int":3} {"float":1.5} {"multi":[...]} {"unknown":7}
//
// The encoding is used by the journal and by fact hashing. It is canonical:
// strings are NFC normalized at construction, HTML characters are not escaped,
// and floats use the shortest round-trip representation.
const (
	tagSymbol  = "sym"
	tagString  = "str"
	tagInt     = "int"
	tagFloat   = "float"
	tagMulti   = "multi"
	tagUnknown = "unknown"
)

// MarshalValue produces the canonical tagged JSON for a value.
func MarshalValue(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalKey renders v canonically for use as a map key. A nil value
// renders as "null".
func MarshalKey(v Value) string {
	if v == nil {
		return "null"
	}
	data, err := MarshalValue(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// MarshalValues produces the canonical JSON array for a slot vector.
func MarshalValues(vals []Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(&buf, v, false); err != nil {
			return nil, fmt.Errorf("slot[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// writeCanonical appends the canonical encoding of v to buf. When anonymous is
// set, unknown placeholders are written without their ID so that every
// placeholder encodes identically (used for identity hashing).
func writeCanonical(buf *bytes.Buffer, v Value, anonymous bool) error {
	switch val := v.(type) {
	case Symbol:
		return writeTagged(buf, tagSymbol, func() error { return writeCanonicalString(buf, string(val)) })
	case String:
		return writeTagged(buf, tagString, func() error { return writeCanonicalString(buf, string(val)) })
	case Int:
		return writeTagged(buf, tagInt, func() error {
			buf.WriteString(strconv.FormatInt(int64(val), 10))
			return nil
		})
	case Float:
		return writeTagged(buf, tagFloat, func() error {
			buf.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 64))
			return nil
		})
	case Multifield:
		return writeTagged(buf, tagMulti, func() error {
			buf.WriteByte('[')
			for i, elem := range val {
				if i > 0 {
					buf.WriteByte(',')
				}
				if err := writeCanonical(buf, elem, anonymous); err != nil {
					return fmt.Errorf("multi[%d]: %w", i, err)
				}
			}
			buf.WriteByte(']')
			return nil
		})
	case Unknown:
		return writeTagged(buf, tagUnknown, func() error {
			if anonymous {
				buf.WriteByte('0')
				return nil
			}
			buf.WriteString(strconv.FormatUint(val.ID, 10))
			return nil
		})
	case nil:
		return fmt.Errorf("nil value cannot be encoded")
	default:
		return fmt.Errorf("unknown Value type: %T", v)
	}
}

func writeTagged(buf *bytes.Buffer, tag string, body func() error) error {
	buf.WriteString(`{"`)
	buf.WriteString(tag)
	buf.WriteString(`":`)
	if err := body(); err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalString writes s as a JSON string without HTML escaping.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false) // <, >, & must NOT be escaped
	if err := enc.Encode(s); err != nil {
		return err
	}
	// json.Encoder adds trailing newline, remove it
	out := tmp.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	buf.Write(out)
	return nil
}

// UnmarshalValue decodes a canonical tagged JSON value.
func UnmarshalValue(data []byte) (Value, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("decode value: expected exactly one tag, got %d", len(raw))
	}
	for tag, body := range raw {
		return decodeTagged(tag, body)
	}
	return nil, fmt.Errorf("decode value: empty object")
}

// UnmarshalValues decodes a canonical JSON array of values.
func UnmarshalValues(data []byte) ([]Value, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	out := make([]Value, len(raw))
	for i, r := range raw {
		v, err := UnmarshalValue(r)
		if err != nil {
			return nil, fmt.Errorf("slot[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func decodeTagged(tag string, body json.RawMessage) (Value, error) {
	switch tag {
	case tagSymbol:
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, err
		}
		return Sym(s), nil
	case tagString:
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, err
		}
		return Str(s), nil
	case tagInt:
		n, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("int: %w", err)
		}
		return Int(n), nil
	case tagFloat:
		f, err := strconv.ParseFloat(string(body), 64)
		if err != nil {
			return nil, fmt.Errorf("float: %w", err)
		}
		return Float(f), nil
	case tagMulti:
		vals, err := UnmarshalValues(body)
		if err != nil {
			return nil, err
		}
		return Multifield(vals), nil
	case tagUnknown:
		id, err := strconv.ParseUint(string(body), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unknown: %w", err)
		}
		return Unknown{ID: id}, nil
	default:
		return nil, fmt.Errorf("unrecognized value tag %q", tag)
	}
}

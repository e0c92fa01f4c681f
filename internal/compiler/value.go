package compiler

import (
	"strconv"
	"strings"

	"cuelang.org/go/cue"

	"github.com/roach88/chainer/internal/ir"
)

// valueOf converts a concrete CUE value to a slot value.
//
// Numbers and booleans map directly and lists become multifields. A string
// holding one word is read as an atom (alice is a symbol, 30 an integer); a
// quoted string or one with whitespace is a string.
func valueOf(v cue.Value, field string) (ir.Value, error) {
	switch v.Kind() {
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, errorAt(v, field, "%v", err)
		}
		return ir.Int(i), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, errorAt(v, field, "%v", err)
		}
		return ir.Float(f), nil
	case cue.BoolKind:
		b, _ := v.Bool()
		return ir.Bool(b), nil
	case cue.StringKind:
		s, _ := v.String()
		return atomOf(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var vals []ir.Value
		for iter.Next() {
			if iter.Value().Kind() == cue.ListKind {
				return nil, errorAt(iter.Value(), field, "multifields cannot nest")
			}
			x, err := valueOf(iter.Value(), field)
			if err != nil {
				return nil, err
			}
			vals = append(vals, x)
		}
		return ir.Multi(vals...), nil
	default:
		return nil, errorAt(v, field, "unsupported value kind %v", v.IncompleteKind())
	}
}

func atomOf(s string) ir.Value {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		if u, err := strconv.Unquote(s); err == nil {
			return ir.Str(u)
		}
	}
	if s == "" || strings.ContainsFunc(s, isSpace) {
		return ir.Str(s)
	}
	return ParseAtom(s)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// stringField reads an optional string field.
func stringField(v cue.Value, path string) (string, bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", false, nil
	}
	s, err := f.String()
	if err != nil {
		return "", true, formatCUEError(err)
	}
	return s, true, nil
}

// boolField reads an optional bool field.
func boolField(v cue.Value, path string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// label returns the last path selector, unquoted.
func label(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return strings.Trim(sels[len(sels)-1].String(), `"`)
}

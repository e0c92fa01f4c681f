package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Value is a sealed interface representing the atoms a fact slot can hold.
// Only Symbol, String, Int, Float, Multifield, and Unknown implement it.
type Value interface {
	value() // Sealed - only these types implement it
	String() string
}

// Symbol is a bare identifier atom (e.g. red, TRUE, point).
type Symbol string

func (Symbol) value() {}

func (s Symbol) String() string { return string(s) }

// String is a quoted text atom.
type String string

func (String) value() {}

func (s String) String() string { return strconv.Quote(string(s)) }

// Int is a 64-bit integer atom.
type Int int64

func (Int) value() {}

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Float is a 64-bit floating point atom.
type Float float64

func (Float) value() {}

func (f Float) String() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

// Multifield is an ordered sequence of atoms held by a multifield slot.
// Multifields never nest; constructors flatten nested multifields.
type Multifield []Value

func (Multifield) value() {}

func (m Multifield) String() string {
	parts := make([]string, len(m))
	for i, v := range m {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Unknown is an unbound placeholder variable. Goal synthesis writes one into
// every field it could not infer. ID is unique per engine instance.
type Unknown struct {
	ID uint64
}

func (Unknown) value() {}

func (u Unknown) String() string { return "?u" + strconv.FormatUint(u.ID, 10) }

// Boolean symbols used by the evaluator.
const (
	True  Symbol = "TRUE"
	False Symbol = "FALSE"
)

// Sym creates a Symbol, NFC normalizing the text.
func Sym(s string) Symbol {
	return Symbol(norm.NFC.String(s))
}

// Str creates a String, NFC normalizing the text.
func Str(s string) String {
	return String(norm.NFC.String(s))
}

// Multi creates a Multifield from values, flattening nested multifields.
func Multi(vals ...Value) Multifield {
	out := make(Multifield, 0, len(vals))
	for _, v := range vals {
		if m, ok := v.(Multifield); ok {
			out = append(out, m...)
			continue
		}
		out = append(out, v)
	}
	return out
}

// Bool converts a Go bool to the TRUE/FALSE symbols.
func Bool(b bool) Symbol {
	if b {
		return True
	}
	return False
}

// Truthy reports whether v counts as true in a test. Everything except the
// FALSE symbol is true, matching the convention of rule languages.
func Truthy(v Value) bool {
	s, ok := v.(Symbol)
	return !ok || s != False
}

// Equal reports whether two values are equal for matching purposes.
// Equality is type-strict: Int(1) != Float(1). Unknowns are equal only when
// they are the same placeholder.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Symbol:
		bv, ok := b.(Symbol)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && (av == bv || (math.IsNaN(float64(av)) && math.IsNaN(float64(bv))))
	case Multifield:
		bv, ok := b.(Multifield)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Unknown:
		bv, ok := b.(Unknown)
		return ok && av.ID == bv.ID
	case nil:
		return b == nil
	default:
		return false
	}
}

// Identical reports whether two values are the same for fact identity.
// It differs from Equal only for placeholders: any two Unknowns are identical,
// so two goals that leave the same slot unresolved deduplicate.
func Identical(a, b Value) bool {
	switch av := a.(type) {
	case Unknown:
		_, ok := b.(Unknown)
		return ok
	case Multifield:
		bv, ok := b.(Multifield)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Identical(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return Equal(a, b)
	}
}

// Length returns the number of fields a value occupies in a slot.
// Single-field values occupy one field.
func Length(v Value) int {
	if m, ok := v.(Multifield); ok {
		return len(m)
	}
	return 1
}

// Numeric returns v as a float64 when it is an Int or Float.
func Numeric(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Float:
		return float64(n), true
	default:
		return 0, false
	}
}

// FromGo converts a decoded Go value (from YAML, JSON or CUE) into a Value.
//
// Conversion rules:
//
//	string "abc"        → Symbol("abc")
//	string "\"abc\""    → String("abc")   (explicitly quoted text)
//	int, int64          → Int
//	float64             → Float (Int when it carries no fraction and came from YAML ints)
//	bool                → TRUE / FALSE symbol
//	[]any               → Multifield
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("nil is not a valid atom")
	case Value:
		return val, nil
	case string:
		if len(val) >= 2 && strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
			return Str(val[1 : len(val)-1]), nil
		}
		return Sym(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", val)
		}
		return Int(int64(val)), nil
	case float64:
		return Float(val), nil
	case bool:
		return Bool(val), nil
	case []any:
		out := make(Multifield, 0, len(val))
		for i, elem := range val {
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			if _, nested := ev.(Multifield); nested {
				return nil, fmt.Errorf("[%d]: multifields cannot nest", i)
			}
			out = append(out, ev)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported atom type: %T", v)
	}
}

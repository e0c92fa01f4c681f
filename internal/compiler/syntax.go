package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/network"
)

// Slot constraints and expressions use a compact rule syntax inside CUE
// strings:
//
//	fields  = field { field }
//	field   = [ "~" ] term [ "&:" sexpr ]
//	term    = "?" | "$?" | "?" name | "$?" name | atom
//	sexpr   = "(" fn { arg } ")"
//	arg     = sexpr | "?" name | "$?" name | atom
//	atom    = integer | float | `"` string `"` | symbol
//
// Bare words are symbols; quoted text is a string.

// scanner walks one syntax string.
type scanner struct {
	src string
	pos int
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) && unicode.IsSpace(rune(s.src[s.pos])) {
		s.pos++
	}
}

func (s *scanner) done() bool {
	s.skipSpace()
	return s.pos >= len(s.src)
}

func (s *scanner) peek(prefix string) bool {
	return strings.HasPrefix(s.src[s.pos:], prefix)
}

func (s *scanner) errorf(format string, args ...any) error {
	return fmt.Errorf("at %d in %q: %s", s.pos, s.src, fmt.Sprintf(format, args...))
}

// word reads up to whitespace, a paren or the & connective.
func (s *scanner) word() string {
	start := s.pos
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if unicode.IsSpace(rune(c)) || c == '(' || c == ')' || c == '&' {
			break
		}
		s.pos++
	}
	return s.src[start:s.pos]
}

func (s *scanner) quoted() (string, error) {
	start := s.pos
	s.pos++
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case '\\':
			s.pos += 2
			continue
		case '"':
			s.pos++
			return strconv.Unquote(s.src[start:s.pos])
		}
		s.pos++
	}
	return "", s.errorf("unterminated string")
}

// ParseFields parses the constraints of one slot.
func ParseFields(src string) ([]network.FieldDef, error) {
	s := &scanner{src: src}
	var out []network.FieldDef
	for !s.done() {
		f, err := s.field()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *scanner) field() (network.FieldDef, error) {
	var f network.FieldDef
	if s.peek("~") {
		f.Negated = true
		s.pos++
	}

	switch {
	case s.peek("$?"):
		s.pos += 2
		if name := s.word(); name != "" {
			f.Kind, f.Var = network.FieldMultiVar, name
		} else {
			f.Kind = network.FieldMultiWildcard
		}
	case s.peek("?"):
		s.pos++
		if name := s.word(); name != "" {
			f.Kind, f.Var = network.FieldVar, name
		} else {
			f.Kind = network.FieldWildcard
		}
	default:
		v, err := s.atom()
		if err != nil {
			return f, err
		}
		f.Kind, f.Value = network.FieldConst, v
	}

	if f.Negated && (f.Kind == network.FieldWildcard || f.Kind == network.FieldMultiWildcard) {
		return f, s.errorf("a wildcard cannot be negated")
	}

	if s.peek("&:") {
		s.pos += 2
		s.skipSpace()
		if !s.peek("(") {
			return f, s.errorf("predicate must be a call")
		}
		pred, err := s.sexpr()
		if err != nil {
			return f, err
		}
		f.Pred = pred
	} else if s.peek("&") {
		return f, s.errorf("expected &: before a predicate")
	}
	return f, nil
}

func (s *scanner) atom() (ir.Value, error) {
	if s.peek(`"`) {
		str, err := s.quoted()
		if err != nil {
			return nil, err
		}
		return ir.Str(str), nil
	}
	w := s.word()
	if w == "" {
		return nil, s.errorf("expected a value")
	}
	return ParseAtom(w), nil
}

// ParseAtom reads an unquoted word as an integer, a float or a symbol.
func ParseAtom(w string) ir.Value {
	if i, err := strconv.ParseInt(w, 10, 64); err == nil {
		return ir.Int(i)
	}
	if f, err := strconv.ParseFloat(w, 64); err == nil && strings.ContainsAny(w, ".eE") {
		return ir.Float(f)
	}
	return ir.Sym(w)
}

// ParseExpr parses a single expression: a call, a variable or an atom.
func ParseExpr(src string) (network.Expr, error) {
	s := &scanner{src: src}
	if s.done() {
		return nil, s.errorf("empty expression")
	}
	e, err := s.arg()
	if err != nil {
		return nil, err
	}
	if !s.done() {
		return nil, s.errorf("unexpected trailing input")
	}
	return e, nil
}

func (s *scanner) arg() (network.Expr, error) {
	s.skipSpace()
	switch {
	case s.peek("("):
		return s.sexpr()
	case s.peek("$?"):
		s.pos += 2
		return s.varName()
	case s.peek("?"):
		s.pos++
		return s.varName()
	default:
		v, err := s.atom()
		if err != nil {
			return nil, err
		}
		return network.Const{Value: v}, nil
	}
}

func (s *scanner) varName() (network.Expr, error) {
	name := s.word()
	if name == "" {
		return nil, s.errorf("wildcards are not expressions")
	}
	return network.Var{Name: name}, nil
}

func (s *scanner) sexpr() (network.Expr, error) {
	s.pos++ // (
	s.skipSpace()
	fn := s.word()
	if fn == "" {
		return nil, s.errorf("expected a function name")
	}
	call := network.Call{Fn: fn}
	for {
		s.skipSpace()
		if s.pos >= len(s.src) {
			return nil, s.errorf("unclosed call to %s", fn)
		}
		if s.peek(")") {
			s.pos++
			return call, nil
		}
		a, err := s.arg()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, a)
	}
}

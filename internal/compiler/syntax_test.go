package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chainer/internal/ir"
	"github.com/roach88/chainer/internal/network"
)

func TestParseFields(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []network.FieldDef
	}{
		{"variable", "?x", []network.FieldDef{network.V("x")}},
		{"multi variable", "$?rest", []network.FieldDef{network.MV("rest")}},
		{"wildcards", "? $?", []network.FieldDef{network.Any(), network.AnyMulti()}},
		{"symbol", "red", []network.FieldDef{network.C(ir.Sym("red"))}},
		{"numbers", "3 -2 1.5", []network.FieldDef{
			network.C(ir.Int(3)), network.C(ir.Int(-2)), network.C(ir.Float(1.5)),
		}},
		{"string", `"hello world"`, []network.FieldDef{network.C(ir.Str("hello world"))}},
		{"negated constant", "~dog", []network.FieldDef{{Kind: network.FieldConst, Value: ir.Sym("dog"), Negated: true}}},
		{"negated variable", "~?x", []network.FieldDef{{Kind: network.FieldVar, Var: "x", Negated: true}}},
		{"predicate", "?a&:(> ?a 17)", []network.FieldDef{{
			Kind: network.FieldVar,
			Var:  "a",
			Pred: network.Call{Fn: ">", Args: []network.Expr{network.Var{Name: "a"}, network.Const{Value: ir.Int(17)}}},
		}}},
		{"multifield layout", "$? x ?last", []network.FieldDef{
			network.AnyMulti(), network.C(ir.Sym("x")), network.V("last"),
		}},
		{"empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFields(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFields_Errors(t *testing.T) {
	for _, src := range []string{
		"~?",
		"~$?",
		`"open`,
		"?x&(> ?x 1)",
		"?x&:foo",
		"?x&:(> ?x 1",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := ParseFields(src)
			assert.Error(t, err)
		})
	}
}

func TestParseExpr(t *testing.T) {
	e, err := ParseExpr("(+ ?v (* 2 3) 1.5)")
	require.NoError(t, err)
	assert.Equal(t, network.Call{Fn: "+", Args: []network.Expr{
		network.Var{Name: "v"},
		network.Call{Fn: "*", Args: []network.Expr{network.Const{Value: ir.Int(2)}, network.Const{Value: ir.Int(3)}}},
		network.Const{Value: ir.Float(1.5)},
	}}, e)
	assert.Equal(t, "(+ ?v (* 2 3) 1.5)", e.String())

	e, err = ParseExpr("$?items")
	require.NoError(t, err)
	assert.Equal(t, network.Var{Name: "items"}, e)

	e, err = ParseExpr(`"a b"`)
	require.NoError(t, err)
	assert.Equal(t, network.Const{Value: ir.Str("a b")}, e)

	for _, bad := range []string{"", "?", "(", "()", "?x ?y", "(eq ?x"} {
		_, err := ParseExpr(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseAtom(t *testing.T) {
	assert.Equal(t, ir.Int(42), ParseAtom("42"))
	assert.Equal(t, ir.Float(2.5), ParseAtom("2.5"))
	assert.Equal(t, ir.Float(1e3), ParseAtom("1e3"))
	assert.Equal(t, ir.Sym("inf"), ParseAtom("inf"))
	assert.Equal(t, ir.Sym("alice"), ParseAtom("alice"))
}

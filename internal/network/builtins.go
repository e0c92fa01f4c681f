package network

import (
	"errors"
	"fmt"

	"github.com/roach88/chainer/internal/ir"
)

var builtins = map[string]Function{
	"eq":  fnEq,
	"neq": fnNeq,
	"<":   compare(func(c int) bool { return c < 0 }),
	">":   compare(func(c int) bool { return c > 0 }),
	"<=":  compare(func(c int) bool { return c <= 0 }),
	">=":  compare(func(c int) bool { return c >= 0 }),
	"+":   arith(func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b }),
	"-":   arith(func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b }),
	"*":   arith(func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b }),
	"/":   fnDiv,
	"not": fnNot,
	// and/or are short-circuited by the evaluator; these only check arity.
	"and": func([]ir.Value) (ir.Value, error) { return ir.True, nil },
	"or":  func([]ir.Value) (ir.Value, error) { return ir.False, nil },
}

var errDivideByZero = errors.New("division by zero")

// fnEq is true when every argument equals the first.
func fnEq(args []ir.Value) (ir.Value, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("eq expects at least 2 arguments, got %d", len(args))
	}
	for _, a := range args[1:] {
		if !ir.Equal(args[0], a) {
			return ir.False, nil
		}
	}
	return ir.True, nil
}

func fnNeq(args []ir.Value) (ir.Value, error) {
	v, err := fnEq(args)
	if err != nil {
		return nil, err
	}
	return ir.Bool(v == ir.False), nil
}

func fnNot(args []ir.Value) (ir.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("not expects 1 argument, got %d", len(args))
	}
	return ir.Bool(!ir.Truthy(args[0])), nil
}

func compare(ok func(int) bool) Function {
	return func(args []ir.Value) (ir.Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("comparison expects 2 arguments, got %d", len(args))
		}
		a, aok := ir.Numeric(args[0])
		b, bok := ir.Numeric(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("comparison of non-numbers %s and %s", args[0], args[1])
		}
		c := 0
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
		return ir.Bool(ok(c)), nil
	}
}

func arith(ints func(a, b int64) int64, floats func(a, b float64) float64) Function {
	return func(args []ir.Value) (ir.Value, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("arithmetic needs arguments")
		}
		acc := args[0]
		for _, next := range args[1:] {
			ai, aInt := acc.(ir.Int)
			bi, bInt := next.(ir.Int)
			if aInt && bInt {
				acc = ir.Int(ints(int64(ai), int64(bi)))
				continue
			}
			a, aok := ir.Numeric(acc)
			b, bok := ir.Numeric(next)
			if !aok || !bok {
				return nil, fmt.Errorf("arithmetic on non-numbers %s and %s", acc, next)
			}
			acc = ir.Float(floats(a, b))
		}
		if _, ok := ir.Numeric(acc); !ok {
			return nil, fmt.Errorf("arithmetic on non-number %s", acc)
		}
		return acc, nil
	}
}

func fnDiv(args []ir.Value) (ir.Value, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("/ expects at least 2 arguments, got %d", len(args))
	}
	acc, ok := ir.Numeric(args[0])
	if !ok {
		return nil, fmt.Errorf("division of non-number %s", args[0])
	}
	for _, a := range args[1:] {
		d, ok := ir.Numeric(a)
		if !ok {
			return nil, fmt.Errorf("division by non-number %s", a)
		}
		if d == 0 {
			return nil, errDivideByZero
		}
		acc /= d
	}
	return ir.Float(acc), nil
}

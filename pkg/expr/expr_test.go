package expr_test

import (
	"testing"

	"github.com/jpl-au/exprjit/pkg/expr"
)

func TestArity(t *testing.T) {
	cases := []struct {
		name string
		tree expr.Node
		want int
	}{
		{"constant", expr.Const(3.14), 0},
		{"single variable", expr.Var(0), 1},
		{"higher index dominates", expr.Var(3), 4},
		{"max across binary", expr.Add(expr.Var(0), expr.Var(2)), 3},
		{"max across unary", expr.Sqrt(expr.Var(5)), 6},
		{"nested", expr.Mul(expr.Sin(expr.Var(1)), expr.Add(expr.Var(0), expr.Const(1))), 2},
		{"log argument and base", expr.Log(expr.Var(0), expr.Var(4)), 5},
		{"gaussian composite", expr.Gaussian(expr.Var(0), expr.Var(1), expr.Const(2)), 2},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := expr.Arity(c.tree); got != c.want {
				t.Errorf("Arity() = %d, want %d", got, c.want)
			}
		})
	}
}

func TestCombinatorsAreStructural(t *testing.T) {
	a, b := expr.Const(1), expr.Const(2)

	sum, ok := expr.Add(a, b).(expr.Binary)
	if !ok {
		t.Fatalf("Add() did not produce a Binary node")
	}
	if sum.Left != a || sum.Right != b {
		t.Errorf("Binary.Left/Right do not round-trip the original operands")
	}
	if sum.Op != expr.OpAdd {
		t.Errorf("Binary.Op = %v, want OpAdd", sum.Op)
	}

	neg, ok := expr.Neg(a).(expr.Unary)
	if !ok {
		t.Fatalf("Neg() did not produce a Unary node")
	}
	if neg.Child != a || neg.Op != expr.OpNeg {
		t.Errorf("Unary fields do not round-trip the original operand")
	}
}

func TestLogOperandOrder(t *testing.T) {
	argument, base := expr.Var(0), expr.Var(1)
	tree, ok := expr.Log(argument, base).(expr.Binary)
	if !ok {
		t.Fatalf("Log() did not produce a Binary node")
	}
	if tree.Left != argument {
		t.Errorf("Log() Left should be the argument, not the base")
	}
	if tree.Right != base {
		t.Errorf("Log() Right should be the base, not the argument")
	}
}

func TestDoesNotFoldConstants(t *testing.T) {
	tree := expr.Add(expr.Const(1), expr.Const(2))
	if _, ok := tree.(expr.Constant); ok {
		t.Fatalf("Add() of two constants folded to a Constant: combinators must stay purely structural")
	}
}

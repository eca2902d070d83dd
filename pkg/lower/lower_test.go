package lower_test

import (
	"math"
	"testing"

	"github.com/jpl-au/exprjit/pkg/codegen"
	"github.com/jpl-au/exprjit/pkg/eval"
	"github.com/jpl-au/exprjit/pkg/expr"
	"github.com/jpl-au/exprjit/pkg/lower"
)

func compile(t *testing.T, shape codegen.Shape, root expr.Node) func(vars ...float64) float64 {
	t.Helper()

	sess, err := codegen.NewSession(shape)
	if err != nil {
		t.Skipf("codegen not supported on this host: %v", err)
	}
	if err := lower.Lower(sess.Builder(), shape, root); err != nil {
		t.Fatalf("Lower() returned error: %v", err)
	}

	mod, addr, err := sess.Finalize()
	if err != nil {
		t.Fatalf("Finalize() returned error: %v", err)
	}
	t.Cleanup(func() { _ = mod.Close() })

	switch shape {
	case codegen.Shape1D:
		fn := codegen.MakeFn1(addr)
		return func(vars ...float64) float64 { return fn(vars[0]) }
	case codegen.Shape2D:
		fn := codegen.MakeFn2(addr)
		return func(vars ...float64) float64 { return fn(vars[0], vars[1]) }
	case codegen.Shape3D:
		fn := codegen.MakeFn3(addr)
		return func(vars ...float64) float64 { return fn(vars[0], vars[1], vars[2]) }
	default:
		fn := codegen.MakeFnN(addr)
		return func(vars ...float64) float64 { return fn(vars) }
	}
}

func TestLowerMatchesEvalArithmetic(t *testing.T) {
	tree := expr.Mul(expr.Sqrt(expr.Div(expr.Const(math.Pi), expr.Var(1))), expr.Var(1))
	vars := []float64{1.0, 2.0}

	want, err := eval.Evaluate(tree, vars)
	if err != nil {
		t.Fatalf("eval.Evaluate returned error: %v", err)
	}

	fn := compile(t, codegen.Shape2D, tree)
	got := fn(vars...)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("jit = %v, eval = %v, diverge beyond tolerance", got, want)
	}
}

func TestLowerTranscendentalsWithinOneULP(t *testing.T) {
	tree := expr.Sin(expr.Var(0))
	fn := compile(t, codegen.Shape1D, tree)

	for _, x := range []float64{0, 0.5, 1.0, math.Pi / 2, 3.7} {
		want, _ := eval.Evaluate(tree, []float64{x})
		got := fn(x)
		ulp := math.Abs(math.Nextafter(want, math.Inf(1)) - want)
		if math.Abs(got-want) > ulp {
			t.Errorf("sin(%v): jit = %v, eval = %v", x, got, want)
		}
	}
}

func TestLowerLogOperandOrder(t *testing.T) {
	tree := expr.Log(expr.Const(8), expr.Const(2))
	fn := compile(t, codegen.Shape1D, tree)
	got := fn(0) // shape1D still needs a (discarded) arg; tree never references it
	if math.Abs(got-3.0) > 1e-9 {
		t.Errorf("log_2(8) = %v, want ~3.0", got)
	}
}

func TestLowerNDShape(t *testing.T) {
	tree := expr.Add(expr.Var(0), expr.Mul(expr.Var(1), expr.Var(2)))
	fn := compile(t, codegen.ShapeND, tree)
	got := fn(1, 2, 3)
	if got != 7 {
		t.Errorf("1 + 2*3 = %v, want 7", got)
	}
}

package jit_test

import (
	"errors"
	"math"
	"runtime"
	"testing"

	"github.com/jpl-au/exprjit/pkg/eval"
	"github.com/jpl-au/exprjit/pkg/expr"
	"github.com/jpl-au/exprjit/pkg/jit"
)

func TestCompile1DMatchesEval(t *testing.T) {
	tree := expr.Mul(expr.Sqrt(expr.Var(0)), expr.Const(2))

	fn, err := jit.Compile1D(tree)
	if err != nil {
		t.Skipf("jit not supported on this host: %v", err)
	}
	defer fn.Close()

	for _, x := range []float64{0, 1, 4, 100} {
		want, _ := eval.Evaluate(tree, []float64{x})
		got := fn.Call(x)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("x=%v: jit=%v eval=%v", x, got, want)
		}
	}
}

func TestCompile2DGaussian(t *testing.T) {
	tree := expr.Gaussian(expr.Var(0), expr.Var(1), expr.Const(1))

	fn, err := jit.Compile2D(tree)
	if err != nil {
		t.Skipf("jit not supported on this host: %v", err)
	}
	defer fn.Close()

	want, _ := eval.Evaluate(tree, []float64{0.5, 0})
	got := fn.Call(0.5, 0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("gaussian: jit=%v eval=%v", got, want)
	}
}

func TestCompile3D(t *testing.T) {
	tree := expr.Add(expr.Var(0), expr.Add(expr.Var(1), expr.Var(2)))

	fn, err := jit.Compile3D(tree)
	if err != nil {
		t.Skipf("jit not supported on this host: %v", err)
	}
	defer fn.Close()

	if got := fn.Call(1, 2, 3); got != 6 {
		t.Errorf("1+2+3 = %v, want 6", got)
	}
}

func TestCompileNDLogistic(t *testing.T) {
	tree := expr.Logistic(expr.Var(0), expr.Var(1), expr.Var(2))

	fn, err := jit.CompileND(tree)
	if err != nil {
		t.Skipf("jit not supported on this host: %v", err)
	}
	defer fn.Close()

	vars := []float64{0, 0, 1}
	want, _ := eval.Evaluate(tree, vars)
	got := fn.Call(vars)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("logistic: jit=%v eval=%v", got, want)
	}
}

// compileAndForgetTree returns a compiled Fn1 with no other live reference
// to the expr.Node it was built from: the tree this function constructs
// goes out of scope the moment it returns, leaving the Fn (and the
// codegen.Module it keeps alive) as the only thing still reachable.
func compileAndForgetTree(t *testing.T) (jit.Fn1, bool) {
	t.Helper()
	tree := expr.Mul(expr.Add(expr.Var(0), expr.Const(1)), expr.Var(0))

	fn, err := jit.Compile1D(tree)
	if err != nil {
		t.Skipf("jit not supported on this host: %v", err)
		return jit.Fn1{}, false
	}
	return fn, true
}

func TestFnOutlivesDroppedTree(t *testing.T) {
	fn, ok := compileAndForgetTree(t)
	if !ok {
		return
	}
	defer fn.Close()

	// The tree built inside compileAndForgetTree is unreachable by now.
	// Force collection before exercising the compiled function many times,
	// the scenario the Fn/Module keep-alive design exists for.
	runtime.GC()
	runtime.GC()

	for x := 0.0; x < 50; x++ {
		want := (x + 1) * x
		if got := fn.Call(x); math.Abs(got-want) > 1e-9 {
			t.Fatalf("x=%v: jit=%v want=%v (after GC)", x, got, want)
		}
	}
}

func TestCompile1DShapeMismatch(t *testing.T) {
	tree := expr.Add(expr.Var(0), expr.Var(1))

	_, err := jit.Compile1D(tree)
	if !errors.Is(err, jit.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}

	var detail *jit.ShapeMismatchError
	if !errors.As(err, &detail) {
		t.Fatalf("expected *ShapeMismatchError in chain, got %v", err)
	}
	if detail.Needed != 2 || detail.Shape != 1 {
		t.Errorf("got %+v, want Needed=2 Shape=1", detail)
	}
}

func TestCompile2DShapeMismatch(t *testing.T) {
	tree := expr.Var(2)

	_, err := jit.Compile2D(tree)
	if !errors.Is(err, jit.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestCompileNDZeroUnusedTailPanicsOnShortSlice(t *testing.T) {
	tree := expr.Add(expr.Var(0), expr.Var(1))

	fn, err := jit.CompileND(tree, &jit.Options{ZeroUnusedTail: true})
	if err != nil {
		t.Skipf("jit not supported on this host: %v", err)
	}
	defer fn.Close()

	if got := fn.Call([]float64{1, 2}); got != 3 {
		t.Errorf("1+2 = %v, want 3", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected Call to panic on a vars slice shorter than the tree's arity")
		}
	}()
	fn.Call([]float64{1})
}

func TestCompileNDWithoutZeroUnusedTailDoesNotPanic(t *testing.T) {
	tree := expr.Var(0)

	fn, err := jit.CompileND(tree)
	if err != nil {
		t.Skipf("jit not supported on this host: %v", err)
	}
	defer fn.Close()

	// No Options passed: the default is to trust the caller, same as
	// eval.Evaluate's documented vars contract.
	if got := fn.Call([]float64{7}); got != 7 {
		t.Errorf("got %v, want 7", got)
	}
}

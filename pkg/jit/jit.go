// Package jit is the public compilation driver: it validates an expr.Node
// tree against the shape it is being compiled for, drives pkg/lower to
// emit its machine code through a pkg/codegen session, and hands back a
// typed, directly callable function value. Library code here never prints
// or logs: every failure is a returned error, keeping the same split
// between pkg/* packages and cmd/* mains used throughout this module.
package jit

import (
	"errors"
	"fmt"

	"github.com/jpl-au/exprjit/pkg/codegen"
	"github.com/jpl-au/exprjit/pkg/expr"
	"github.com/jpl-au/exprjit/pkg/lower"
)

// ErrShapeMismatch is returned when a tree references a variable index a
// fixed-arity shape (1-D, 2-D, 3-D) cannot supply.
var ErrShapeMismatch = errors.New("jit: expression arity exceeds the requested shape")

// ShapeMismatchError carries the shape's fixed arity and the arity the
// tree actually required. Use errors.As to recover it.
type ShapeMismatchError struct {
	Needed int
	Shape  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("jit: expression needs %d variables, shape provides %d", e.Needed, e.Shape)
}

func (e *ShapeMismatchError) Unwrap() error { return ErrShapeMismatch }

// Options configures a compilation. The zero value is the default
// configuration; callers construct one with &Options{...} and pass it as
// the trailing variadic argument, the same shape as jpl-au-fluent-jit's
// NewCompiler(cfg ...*CompilerCfg).
type Options struct {
	// ZeroUnusedTail, when set, makes the returned FnN.Call check vars
	// against the tree's arity on every call and panic if it is too
	// short, instead of letting the compiled body read past the end of
	// the slice (undefined behavior). Off by default: the documented
	// ShapeND contract already trusts the caller's length, and the check
	// costs a length comparison on every call.
	ZeroUnusedTail bool
}

func firstOption(opts []*Options) *Options {
	for _, o := range opts {
		if o != nil {
			return o
		}
	}
	return &Options{}
}

// Fn1, Fn2, and Fn3 wrap a compiled fixed-arity function and keep its
// backing executable arena alive for as long as the value itself is
// reachable: dropping the Fn without calling Close invalidates nothing
// early, but the module is never released until Close runs.
type Fn1 struct {
	call func(float64) float64
	mod  *codegen.Module
}

func (f Fn1) Call(a0 float64) float64 { return f.call(a0) }
func (f Fn1) Close() error            { return f.mod.Close() }

type Fn2 struct {
	call func(float64, float64) float64
	mod  *codegen.Module
}

func (f Fn2) Call(a0, a1 float64) float64 { return f.call(a0, a1) }
func (f Fn2) Close() error                { return f.mod.Close() }

type Fn3 struct {
	call func(float64, float64, float64) float64
	mod  *codegen.Module
}

func (f Fn3) Call(a0, a1, a2 float64) float64 { return f.call(a0, a1, a2) }
func (f Fn3) Close() error                    { return f.mod.Close() }

// FnN wraps a compiled N-D function. Call's contract matches
// eval.Evaluate's: len(vars) must cover every variable index the tree
// references. Without Options.ZeroUnusedTail the compiled body trusts that
// without checking it; with it, Call panics instead of reading out of
// bounds.
type FnN struct {
	call   func([]float64) float64
	mod    *codegen.Module
	minLen int // 0 disables the check; set by CompileND when ZeroUnusedTail is requested
}

func (f FnN) Call(vars []float64) float64 {
	if f.minLen > 0 && len(vars) < f.minLen {
		panic(fmt.Sprintf("jit: vars has length %d, tree needs at least %d", len(vars), f.minLen))
	}
	return f.call(vars)
}

func (f FnN) Close() error { return f.mod.Close() }

func checkArity(root expr.Node, shapeArity int) error {
	if needed := expr.Arity(root); needed > shapeArity {
		return &ShapeMismatchError{Needed: needed, Shape: shapeArity}
	}
	return nil
}

// Compile1D compiles root into a directly callable single-argument native
// function. It fails with ShapeMismatchError if root references a
// variable index other than 0.
func Compile1D(root expr.Node, opts ...*Options) (Fn1, error) {
	if err := checkArity(root, 1); err != nil {
		return Fn1{}, err
	}
	sess, err := codegen.NewSession(codegen.Shape1D)
	if err != nil {
		return Fn1{}, err
	}
	if err := lower.Lower(sess.Builder(), codegen.Shape1D, root); err != nil {
		return Fn1{}, err
	}
	mod, addr, err := sess.Finalize()
	if err != nil {
		return Fn1{}, err
	}
	return Fn1{call: codegen.MakeFn1(addr), mod: mod}, nil
}

// Compile2D compiles root into a directly callable two-argument native
// function. It fails with ShapeMismatchError if root references a
// variable index beyond 1.
func Compile2D(root expr.Node, opts ...*Options) (Fn2, error) {
	if err := checkArity(root, 2); err != nil {
		return Fn2{}, err
	}
	sess, err := codegen.NewSession(codegen.Shape2D)
	if err != nil {
		return Fn2{}, err
	}
	if err := lower.Lower(sess.Builder(), codegen.Shape2D, root); err != nil {
		return Fn2{}, err
	}
	mod, addr, err := sess.Finalize()
	if err != nil {
		return Fn2{}, err
	}
	return Fn2{call: codegen.MakeFn2(addr), mod: mod}, nil
}

// Compile3D compiles root into a directly callable three-argument native
// function. It fails with ShapeMismatchError if root references a
// variable index beyond 2.
func Compile3D(root expr.Node, opts ...*Options) (Fn3, error) {
	if err := checkArity(root, 3); err != nil {
		return Fn3{}, err
	}
	sess, err := codegen.NewSession(codegen.Shape3D)
	if err != nil {
		return Fn3{}, err
	}
	if err := lower.Lower(sess.Builder(), codegen.Shape3D, root); err != nil {
		return Fn3{}, err
	}
	mod, addr, err := sess.Finalize()
	if err != nil {
		return Fn3{}, err
	}
	return Fn3{call: codegen.MakeFn3(addr), mod: mod}, nil
}

// CompileND compiles root into a directly callable function over a
// variable-length slice. There is no static arity to check at compile
// time: the caller takes on the responsibility eval.Evaluate documents
// for its own vars argument, unless Options.ZeroUnusedTail asks the
// returned FnN to check it on every call instead.
func CompileND(root expr.Node, opts ...*Options) (FnN, error) {
	opt := firstOption(opts)

	sess, err := codegen.NewSession(codegen.ShapeND)
	if err != nil {
		return FnN{}, err
	}
	if err := lower.Lower(sess.Builder(), codegen.ShapeND, root); err != nil {
		return FnN{}, err
	}
	mod, addr, err := sess.Finalize()
	if err != nil {
		return FnN{}, err
	}

	fn := FnN{call: codegen.MakeFnN(addr), mod: mod}
	if opt.ZeroUnusedTail {
		fn.minLen = expr.Arity(root)
	}
	return fn, nil
}

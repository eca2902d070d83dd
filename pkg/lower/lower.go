// Package lower walks an expr.Node tree in post-order and drives a
// codegen.Builder to emit the equivalent machine code for it. It is the
// bridge between the pure AST that pkg/expr builds and pkg/eval
// interprets, and the native body that pkg/codegen assembles: the
// counterpart to cranelift-frontend's FunctionBuilder walk in the original
// source, minus the SSA construction this library's tree shape never
// needs.
package lower

import (
	"errors"
	"fmt"

	"github.com/jpl-au/exprjit/pkg/codegen"
	"github.com/jpl-au/exprjit/pkg/expr"
)

// ErrUnsupportedInJit is reserved for an operator this visitor refuses to
// lower. Every expr.Node kind has a native lowering below, so this
// implementation never actually returns it: it exists so jit's error
// policy (ShapeMismatch, UnsupportedInJit, CodegenFailure) has a concrete
// home if a future operator is added to expr without a matching lowering.
var ErrUnsupportedInJit = errors.New("lower: operator has no native lowering")

// UnsupportedInJitError names the offending operator, for the errors.As
// caller who wants more than the sentinel.
type UnsupportedInJitError struct {
	Op string
}

func (e *UnsupportedInJitError) Error() string {
	return fmt.Sprintf("lower: %s has no native lowering", e.Op)
}

func (e *UnsupportedInJitError) Unwrap() error { return ErrUnsupportedInJit }

// Lower emits root's machine code into b, arity already validated by the
// caller (pkg/jit, which owns ShapeMismatch: the shape a tree gets
// compiled against is a driver-level decision, not a lowering one).
func Lower(b *codegen.Builder, shape codegen.Shape, root expr.Node) error {
	emit(b, shape, root)
	return nil
}

func emit(b *codegen.Builder, shape codegen.Shape, n expr.Node) {
	switch node := n.(type) {
	case expr.Constant:
		b.Const(node.Value)

	case expr.Variable:
		if shape == codegen.ShapeND {
			b.LoadVar(node.Index)
		} else {
			b.Param(node.Index)
		}

	case expr.Unary:
		emit(b, shape, node.Child)
		emitUnary(b, node.Op)

	case expr.Binary:
		// Left before right: matches eval.Evaluate's ordering, which
		// matters for Log's asymmetric (argument, base) operands.
		emit(b, shape, node.Left)
		emit(b, shape, node.Right)
		emitBinary(b, node.Op)

	default:
		panic("lower: unreachable node kind")
	}
}

func emitUnary(b *codegen.Builder, op expr.UnaryOp) {
	switch op {
	case expr.OpNeg:
		b.Neg()
	case expr.OpSqrt:
		b.Sqrt()
	case expr.OpSin:
		b.CallUnary("sin")
	case expr.OpCos:
		b.CallUnary("cos")
	case expr.OpExp:
		b.CallUnary("exp")
	case expr.OpLn:
		b.CallUnary("log")
	default:
		panic("lower: unreachable unary operator")
	}
}

func emitBinary(b *codegen.Builder, op expr.BinaryOp) {
	switch op {
	case expr.OpAdd:
		b.Add()
	case expr.OpSub:
		b.Sub()
	case expr.OpMul:
		b.Mul()
	case expr.OpDiv:
		b.Div()
	case expr.OpPow:
		b.CallPow()
	case expr.OpLog:
		b.CallLog()
	default:
		panic("lower: unreachable binary operator")
	}
}

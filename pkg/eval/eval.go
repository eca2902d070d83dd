// Package eval provides the tree-walking reference evaluator for expr.Node
// trees. Its semantics are authoritative: the lower/codegen JIT pipeline
// must agree with it bit-for-bit on arithmetic and within one ulp on
// transcendentals.
package eval

import (
	"errors"
	"fmt"
	"math"

	"github.com/jpl-au/exprjit/pkg/expr"
)

// Sentinel errors for programmatic error checking via errors.Is().

// ErrIndexOutOfRange is returned when a tree references a variable index
// that the provided variable vector does not cover.
var ErrIndexOutOfRange = errors.New("eval: variable index out of range")

// ErrLengthMismatch is returned by EvaluateBatch when the rows of the input
// do not all share the same length.
var ErrLengthMismatch = errors.New("eval: batch rows have differing lengths")

// ErrEmptyInput is returned by EvaluateBatch when no rows are supplied.
var ErrEmptyInput = errors.New("eval: batch input is empty")

// IndexOutOfRangeError carries the offending index and the length of the
// vector it was checked against. Use errors.As to recover it.
type IndexOutOfRangeError struct {
	Index         int
	ArityProvided int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("eval: variable index %d exceeds provided vector of length %d", e.Index, e.ArityProvided)
}

func (e *IndexOutOfRangeError) Unwrap() error { return ErrIndexOutOfRange }

// LengthMismatchError carries the length of every input row, in input order.
type LengthMismatchError struct {
	Lengths []int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("eval: batch rows have differing lengths: %v", e.Lengths)
}

func (e *LengthMismatchError) Unwrap() error { return ErrLengthMismatch }

// Evaluate interprets root against vars and returns the resulting float64.
// Callers must ensure len(vars) >= expr.Arity(root); otherwise Evaluate
// fails with an *IndexOutOfRangeError rather than silently substituting
// zero for the missing entries.
func Evaluate(root expr.Node, vars []float64) (float64, error) {
	switch n := root.(type) {
	case expr.Constant:
		return n.Value, nil

	case expr.Variable:
		if n.Index >= len(vars) {
			return 0, &IndexOutOfRangeError{Index: n.Index, ArityProvided: len(vars)}
		}
		return vars[n.Index], nil

	case expr.Unary:
		x, err := Evaluate(n.Child, vars)
		if err != nil {
			return 0, err
		}
		return evalUnary(n.Op, x), nil

	case expr.Binary:
		// Left before right, matching the ordering IR emission must preserve.
		left, err := Evaluate(n.Left, vars)
		if err != nil {
			return 0, err
		}
		right, err := Evaluate(n.Right, vars)
		if err != nil {
			return 0, err
		}
		return evalBinary(n.Op, left, right), nil

	default:
		panic("eval: unreachable node kind")
	}
}

func evalUnary(op expr.UnaryOp, x float64) float64 {
	switch op {
	case expr.OpNeg:
		return -x
	case expr.OpSqrt:
		return math.Sqrt(x)
	case expr.OpSin:
		return math.Sin(x)
	case expr.OpCos:
		return math.Cos(x)
	case expr.OpExp:
		return math.Exp(x)
	case expr.OpLn:
		return math.Log(x)
	default:
		panic("eval: unreachable unary operator")
	}
}

func evalBinary(op expr.BinaryOp, left, right float64) float64 {
	switch op {
	case expr.OpAdd:
		return left + right
	case expr.OpSub:
		return left - right
	case expr.OpMul:
		return left * right
	case expr.OpDiv:
		return left / right
	case expr.OpPow:
		return math.Pow(left, right)
	case expr.OpLog:
		// log_base(argument) == ln(argument) / ln(base), per the combinator's
		// documented operand order (argument first, base second).
		return math.Log(left) / math.Log(right)
	default:
		panic("eval: unreachable binary operator")
	}
}

// EvaluateBatch evaluates root once per row of vars, validating up front
// that every row shares the same length and that at least one row is
// present. It does not partially apply: a validation failure leaves the
// caller with no partial results.
func EvaluateBatch(root expr.Node, rows [][]float64) ([]float64, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyInput
	}

	width := len(rows[0])
	mismatched := false
	lengths := make([]int, len(rows))
	for i, row := range rows {
		lengths[i] = len(row)
		if len(row) != width {
			mismatched = true
		}
	}
	if mismatched {
		return nil, &LengthMismatchError{Lengths: lengths}
	}

	results := make([]float64, len(rows))
	for i, row := range rows {
		v, err := Evaluate(root, row)
		if err != nil {
			return nil, fmt.Errorf("eval: row %d: %w", i, err)
		}
		results[i] = v
	}
	return results, nil
}

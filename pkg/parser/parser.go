// Package parser is an optional textual front end onto pkg/expr: it reads
// a conventional infix expression such as "sqrt(x / y) * y" and builds the same expr.Node trees the programmatic
// combinators build. Construction through pkg/expr remains the primary,
// validated API; this package is a convenience layer on top of it.
//
// Parsing is two-phase: goparsec combinators first tokenize the source into
// a flat, library-owned AST, then a shunting-yard walk over that
// tokenization (built on pkg/utils.Stack) produces the expr.Node tree.
// Precedence and associativity are handled here rather than in the grammar
// itself, because a direct recursive-descent PEG grammar for infix arithmetic
// either suffers left recursion or requires one non-terminal per
// precedence level; shunting-yard sidesteps both with the token stream
// goparsec already hands us.
package parser

import (
	"errors"
	"fmt"
	"strconv"

	pc "github.com/prataprc/goparsec"

	"github.com/jpl-au/exprjit/pkg/expr"
	"github.com/jpl-au/exprjit/pkg/utils"
)

// ErrSyntax is returned for any malformed input: an unrecognized
// character, a mismatched parenthesis, a function called with the wrong
// number of arguments, or an unknown identifier.
var ErrSyntax = errors.New("parser: syntax error")

// SyntaxError carries the offending fragment of input for errors.As
// callers that want more than the sentinel.
type SyntaxError struct {
	Detail string
}

func (e *SyntaxError) Error() string { return fmt.Sprintf("parser: %s", e.Detail) }
func (e *SyntaxError) Unwrap() error { return ErrSyntax }

func syntaxf(format string, a ...any) error {
	return &SyntaxError{Detail: fmt.Sprintf(format, a...)}
}

var ast = pc.NewAST("expr_source", 0)

var (
	pNumber = pc.Float()
	pIdent  = pc.Token(`[A-Za-z_][A-Za-z0-9_]*`, "IDENT")

	pToken = ast.OrdChoice("token", nil,
		pNumber, pc.Int(), pIdent,
		pc.Atom("(", "LPAREN"), pc.Atom(")", "RPAREN"), pc.Atom(",", "COMMA"),
		pc.Atom("+", "PLUS"), pc.Atom("-", "MINUS"),
		pc.Atom("*", "STAR"), pc.Atom("/", "SLASH"), pc.Atom("^", "CARET"),
	)

	pTokens = ast.ManyUntil("tokens", nil, pToken, pc.End())
)

// kind classifies a single lexed token for the shunting-yard walk below.
type kind int

const (
	kindNumber kind = iota
	kindIdent
	kindLParen
	kindRParen
	kindComma
	kindOperator
)

type token struct {
	kind  kind
	text  string
	value float64
}

// variableIndex maps a bare identifier to a positional variable index:
// "x", "y", "z" are 0, 1, and 2; "v0", "v1", ... name any index directly.
// Anything else is either a known function name or a syntax error.
func variableIndex(name string) (int, bool) {
	switch name {
	case "x":
		return 0, true
	case "y":
		return 1, true
	case "z":
		return 2, true
	}
	if len(name) >= 2 && name[0] == 'v' {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 0 {
			return n, true
		}
	}
	return 0, false
}

var unaryFunctions = map[string]expr.UnaryOp{
	"neg":  expr.OpNeg,
	"sqrt": expr.OpSqrt,
	"sin":  expr.OpSin,
	"cos":  expr.OpCos,
	"exp":  expr.OpExp,
	"ln":   expr.OpLn,
}

var binaryFunctions = map[string]expr.BinaryOp{
	"pow": expr.OpPow,
	"log": expr.OpLog,
}

// precedence and leftAssoc describe the five infix operators understood
// outside of function-call syntax. "^" is the one right-associative
// operator, matching conventional exponentiation notation.
func precedence(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/':
		return 2
	case '^':
		return 3
	}
	return -1
}

func leftAssoc(op byte) bool { return op != '^' }

// Parse reads a single infix math expression and returns the equivalent
// expr.Node tree.
func Parse(source string) (expr.Node, error) {
	root, ok := ast.Parsewith(pTokens, pc.NewScanner([]byte(source)))
	if !ok || root == nil {
		return nil, syntaxf("unable to tokenize input %q", source)
	}

	toks, err := tokenize(root)
	if err != nil {
		return nil, err
	}
	return parseTokens(toks)
}

func tokenize(root pc.Queryable) ([]token, error) {
	var toks []token
	for _, child := range root.GetChildren() {
		switch child.GetName() {
		case "FLOAT", "INT":
			v, err := strconv.ParseFloat(string(child.GetValue()), 64)
			if err != nil {
				return nil, syntaxf("malformed number %q", child.GetValue())
			}
			toks = append(toks, token{kind: kindNumber, value: v})

		case "IDENT":
			toks = append(toks, token{kind: kindIdent, text: string(child.GetValue())})

		case "LPAREN":
			toks = append(toks, token{kind: kindLParen})
		case "RPAREN":
			toks = append(toks, token{kind: kindRParen})
		case "COMMA":
			toks = append(toks, token{kind: kindComma})

		case "PLUS", "MINUS", "STAR", "SLASH", "CARET":
			toks = append(toks, token{kind: kindOperator, text: string(child.GetValue())})

		default:
			return nil, syntaxf("unrecognized token %q", child.GetName())
		}
	}
	return toks, nil
}

// parseTokens runs a shunting-yard pass over toks: values accumulate on an
// output stack, operators and function markers on a separate operator
// stack, and every reduction pops operands off the output stack in the
// order that preserves expr's documented (left, right) / (argument, base)
// operand ordering.
func parseTokens(toks []token) (expr.Node, error) {
	var output utils.Stack[expr.Node]
	var ops utils.Stack[opFrame]

	// prevWasValue tracks whether the previous token could end an
	// expression, the usual trick for telling a unary minus ("-x") apart
	// from a binary one ("a - x") in a flat token stream.
	prevWasValue := false

	reduceOperator := func() error {
		frame, err := ops.Pop()
		if err != nil {
			return syntaxf("operator stack underflow")
		}
		switch frame.kind {
		case frameUnaryMinus:
			x, err := output.Pop()
			if err != nil {
				return syntaxf("missing operand for unary '-'")
			}
			output.Push(expr.Neg(x))
		case frameBinary:
			right, err := output.Pop()
			if err != nil {
				return syntaxf("missing right operand for '%c'", frame.op)
			}
			left, err := output.Pop()
			if err != nil {
				return syntaxf("missing left operand for '%c'", frame.op)
			}
			output.Push(applyBinary(frame.op, left, right))
		default:
			return syntaxf("internal: cannot reduce frame kind %v", frame.kind)
		}
		return nil
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch t.kind {
		case kindNumber:
			output.Push(expr.Const(t.value))
			prevWasValue = true

		case kindIdent:
			if i+1 < len(toks) && toks[i+1].kind == kindLParen {
				ops.Push(opFrame{kind: frameCall, name: t.text})
				prevWasValue = false
				continue
			}
			idx, ok := variableIndex(t.text)
			if !ok {
				return nil, syntaxf("unknown identifier %q", t.text)
			}
			output.Push(expr.Var(idx))
			prevWasValue = true

		case kindLParen:
			ops.Push(opFrame{kind: frameLParen})
			prevWasValue = false

		case kindComma:
			for {
				top, err := ops.Top()
				if err != nil {
					return nil, syntaxf("misplaced ','")
				}
				if top.kind == frameLParen || top.kind == frameArgBoundary {
					break
				}
				if err := reduceOperator(); err != nil {
					return nil, err
				}
			}
			if top, err := ops.Top(); err != nil || (top.kind != frameLParen && top.kind != frameArgBoundary) {
				return nil, syntaxf("misplaced ','")
			}
			ops.Push(opFrame{kind: frameArgBoundary})
			prevWasValue = false

		case kindRParen:
			if err := closeParen(&output, &ops, reduceOperator); err != nil {
				return nil, err
			}
			prevWasValue = true

		case kindOperator:
			op := t.text[0]
			if op == '-' && !prevWasValue {
				ops.Push(opFrame{kind: frameUnaryMinus})
				prevWasValue = false
				continue
			}
			for {
				top, err := ops.Top()
				if err != nil || top.kind == frameLParen || top.kind == frameCall || top.kind == frameArgBoundary {
					break
				}
				if top.kind == frameUnaryMinus {
					if err := reduceOperator(); err != nil {
						return nil, err
					}
					continue
				}
				if precedence(top.op) < precedence(op) {
					break
				}
				if precedence(top.op) == precedence(op) && !leftAssoc(op) {
					break
				}
				if err := reduceOperator(); err != nil {
					return nil, err
				}
			}
			ops.Push(opFrame{kind: frameBinary, op: op})
			prevWasValue = false
		}
	}

	for ops.Count() > 0 {
		top, _ := ops.Top()
		if top.kind == frameLParen {
			return nil, syntaxf("unmatched '('")
		}
		if err := reduceOperator(); err != nil {
			return nil, err
		}
	}

	if output.Count() != 1 {
		return nil, syntaxf("malformed expression: %d values remain", output.Count())
	}
	return output.Pop()
}

type frameKind int

const (
	frameLParen frameKind = iota
	frameBinary
	frameUnaryMinus
	frameCall
	frameArgBoundary
)

type opFrame struct {
	kind frameKind
	op   byte
	name string
}

func applyBinary(op byte, left, right expr.Node) expr.Node {
	switch op {
	case '+':
		return expr.Add(left, right)
	case '-':
		return expr.Sub(left, right)
	case '*':
		return expr.Mul(left, right)
	case '/':
		return expr.Div(left, right)
	case '^':
		return expr.Pow(left, right)
	default:
		panic("parser: unreachable operator byte")
	}
}

// closeParen handles a ')' token: it may close a plain parenthesized
// sub-expression or a function call, the latter possibly having
// accumulated one or more frameArgBoundary markers for comma-separated
// arguments along the way. Every argument has already been fully reduced
// to a single output value by the time its trailing ',' or the closing
// ')' is reached, so this only needs to harvest one output value per
// frameArgBoundary plus one more from inside the innermost '('.
func closeParen(output *utils.Stack[expr.Node], ops *utils.Stack[opFrame], reduce func() error) error {
	var args []expr.Node

	for {
		top, err := ops.Top()
		if err != nil {
			return syntaxf("unmatched ')'")
		}
		switch top.kind {
		case frameLParen:
			v, err := output.Pop()
			if err != nil {
				return syntaxf("empty parentheses")
			}
			args = append([]expr.Node{v}, args...)
			_, _ = ops.Pop()
			goto collected
		case frameArgBoundary:
			v, err := output.Pop()
			if err != nil {
				return syntaxf("missing argument before ','")
			}
			args = append([]expr.Node{v}, args...)
			_, _ = ops.Pop()
		default:
			if err := reduce(); err != nil {
				return err
			}
		}
	}

collected:
	// The LParen just consumed belongs to a call iff a frameCall now sits
	// directly beneath it; otherwise it was a plain grouping paren.
	if top, err := ops.Top(); err != nil || top.kind != frameCall {
		if len(args) != 1 {
			return syntaxf("unexpected ',' inside parentheses")
		}
		output.Push(args[0])
		return nil
	}
	frame, _ := ops.Pop()

	switch {
	case len(args) == 1:
		unOp, ok := unaryFunctions[frame.name]
		if !ok {
			return syntaxf("unknown or wrong-arity function %q", frame.name)
		}
		switch unOp {
		case expr.OpNeg:
			output.Push(expr.Neg(args[0]))
		case expr.OpSqrt:
			output.Push(expr.Sqrt(args[0]))
		case expr.OpSin:
			output.Push(expr.Sin(args[0]))
		case expr.OpCos:
			output.Push(expr.Cos(args[0]))
		case expr.OpExp:
			output.Push(expr.Exp(args[0]))
		case expr.OpLn:
			output.Push(expr.Ln(args[0]))
		}

	case len(args) == 2:
		binOp, ok := binaryFunctions[frame.name]
		if !ok {
			return syntaxf("unknown or wrong-arity function %q", frame.name)
		}
		switch binOp {
		case expr.OpPow:
			output.Push(expr.Pow(args[0], args[1]))
		case expr.OpLog:
			output.Push(expr.Log(args[0], args[1]))
		}

	default:
		return syntaxf("function %q called with %d arguments", frame.name, len(args))
	}
	return nil
}

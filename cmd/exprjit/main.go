package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/teris-io/cli"

	"github.com/jpl-au/exprjit/pkg/eval"
	"github.com/jpl-au/exprjit/pkg/expr"
	"github.com/jpl-au/exprjit/pkg/jit"
	"github.com/jpl-au/exprjit/pkg/parser"
)

var Description = strings.ReplaceAll(`
exprjit parses a small math expression, evaluates it with the tree-walking
interpreter, compiles it natively with the JIT, and reports the wall-clock
delta between the two over a fixed number of repetitions.
`, "\n", " ")

var ExprJit = cli.New(Description).
	WithArg(cli.NewArg("expression", "The math expression to compile, e.g. \"sqrt(x/y)*y\"")).
	WithOption(cli.NewOption("vars", "Comma-separated values for x, y, z, ... in order").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("reps", "Number of repetitions for the timing comparison (default 1000000)").
		WithType(cli.TypeString)).
	WithAction(Handler)

func parseVars(raw string) ([]float64, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	vars := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("malformed value %q in --vars: %w", p, err)
		}
		vars[i] = v
	}
	return vars, nil
}

// compileForArity picks the fixed-arity jit entry point matching root's
// required arity, falling back to the unbounded N-D shape past 3.
func compileForArity(root expr.Node) (func([]float64) float64, func() error, error) {
	switch n := expr.Arity(root); {
	case n <= 1:
		fn, err := jit.Compile1D(root)
		if err != nil {
			return nil, nil, err
		}
		return func(v []float64) float64 {
			var a0 float64
			if len(v) > 0 {
				a0 = v[0]
			}
			return fn.Call(a0)
		}, fn.Close, nil

	case n == 2:
		fn, err := jit.Compile2D(root)
		if err != nil {
			return nil, nil, err
		}
		return func(v []float64) float64 { return fn.Call(v[0], v[1]) }, fn.Close, nil

	case n == 3:
		fn, err := jit.Compile3D(root)
		if err != nil {
			return nil, nil, err
		}
		return func(v []float64) float64 { return fn.Call(v[0], v[1], v[2]) }, fn.Close, nil

	default:
		fn, err := jit.CompileND(root)
		if err != nil {
			return nil, nil, err
		}
		return fn.Call, fn.Close, nil
	}
}

func Handler(args []string, options map[string]string) int {
	vars, err := parseVars(options["vars"])
	if err != nil {
		fmt.Printf("ERROR: %s\n", err)
		return -1
	}

	root, err := parser.Parse(args[0])
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'parsing' pass: %s\n", err)
		return -1
	}

	result, err := eval.Evaluate(root, vars)
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'eval' pass: %s\n", err)
		return -1
	}
	fmt.Printf("eval(%q) = %v\n", args[0], result)

	compiled, closeFn, err := compileForArity(root)
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'jit' pass: %s\n", err)
		return -1
	}
	defer closeFn()

	jitResult := compiled(vars)
	fmt.Printf("jit(%q)  = %v\n", args[0], jitResult)

	reps := 1_000_000
	if raw := options["reps"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			reps = n
		}
	}

	start := time.Now()
	for i := 0; i < reps; i++ {
		_, _ = eval.Evaluate(root, vars)
	}
	treeWalkElapsed := time.Since(start)

	start = time.Now()
	for i := 0; i < reps; i++ {
		compiled(vars)
	}
	jitElapsed := time.Since(start)

	fmt.Printf("tree-walk: %v total, %v/call\n", treeWalkElapsed, treeWalkElapsed/time.Duration(reps))
	fmt.Printf("jit:       %v total, %v/call\n", jitElapsed, jitElapsed/time.Duration(reps))

	return 0
}

func main() { os.Exit(ExprJit.Run(os.Args, os.Stdout)) }

// Package eval defines the boundary between the breakpoint engine and the
// expression evaluator used for conditional breakpoints, and provides a
// Starlark based evaluator.
//
// Evaluation is asynchronous: EvaluateAsync returns immediately and
// reports through its done callback, possibly several times with
// Result.Pending set while the evaluation is still running, and exactly
// once with a final result.
package eval

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-delve/bpengine/pkg/target"
)

// CompiledExpr is an opaque handle to a compiled condition.
type CompiledExpr interface {
	Source() string
}

// Result is the outcome of an evaluation.
type Result struct {
	// Value is the value of the expression, booleans are reported as bool.
	Value interface{}
	// Err is a *CompileError, a *RuntimeError or a context error.
	Err error
	// Pending is set on progress reports, Value and Err are meaningless.
	Pending bool
}

// Evaluator compiles and evaluates breakpoint conditions.
type Evaluator interface {
	// Compile compiles source in the context of frame.
	Compile(source string, frame target.Frame) (CompiledExpr, error)
	// EvaluateAsync evaluates expr against frame and calls done when the
	// evaluation completes or when it is still pending.
	EvaluateAsync(ctx context.Context, expr CompiledExpr, frame target.Frame, done func(Result))
}

// CompileError is returned when a condition can not be compiled.
type CompileError struct {
	Source   string
	Messages []string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("could not compile %q: %s", e.Source, strings.Join(e.Messages, "; "))
}

// RuntimeError is reported when a compiled condition fails to evaluate.
type RuntimeError struct {
	Source string
	Err    error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("error evaluating %q: %v", e.Source, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

package eval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/target"
)

const conditionFileName = "<condition>"

var errTimeout = errors.New("evaluation timed out")

// Starlark evaluates conditions written as Starlark expressions. The locals
// of the halted frame are the predeclared names of the expression.
type Starlark struct {
	timeout time.Duration
	tick    time.Duration
	log     logflags.Logger
}

// NewStarlark returns a Starlark evaluator. A zero timeout disables the
// timeout, a zero tick disables pending reports.
func NewStarlark(timeout, tick time.Duration) *Starlark {
	return &Starlark{timeout: timeout, tick: tick, log: logflags.ConditionLogger()}
}

type starlarkExpr struct {
	src string
}

func (e *starlarkExpr) Source() string { return e.src }

// Compile parses source and resolves its free names against the locals of
// frame.
func (s *Starlark) Compile(source string, frame target.Frame) (CompiledExpr, error) {
	expr, err := syntax.ParseExpr(conditionFileName, source, 0)
	if err != nil {
		return nil, &CompileError{Source: source, Messages: []string{err.Error()}}
	}
	isLocal := func(name string) bool {
		_, ok := frame.Locals[name]
		return ok
	}
	if _, err := resolve.Expr(expr, isLocal, starlark.Universe.Has); err != nil {
		return nil, &CompileError{Source: source, Messages: resolveMessages(err)}
	}
	return &starlarkExpr{src: source}, nil
}

func resolveMessages(err error) []string {
	var list resolve.ErrorList
	if errors.As(err, &list) {
		msgs := make([]string, 0, len(list))
		for _, e := range list {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

// EvaluateAsync evaluates expr on a new goroutine.
func (s *Starlark) EvaluateAsync(ctx context.Context, expr CompiledExpr, frame target.Frame, done func(Result)) {
	src := expr.Source()
	go func() {
		env, err := frameEnv(frame)
		if err != nil {
			done(Result{Err: &RuntimeError{Source: src, Err: err}})
			return
		}
		thread := &starlark.Thread{Name: fmt.Sprintf("condition-%d", frame.Thread)}
		resultCh := make(chan Result, 1)
		go func() {
			v, err := starlark.Eval(thread, conditionFileName, src, env)
			if err != nil {
				resultCh <- Result{Err: &RuntimeError{Source: src, Err: err}}
				return
			}
			resultCh <- Result{Value: starlarkToGo(v)}
		}()

		var tickCh <-chan time.Time
		if s.tick > 0 {
			ticker := time.NewTicker(s.tick)
			defer ticker.Stop()
			tickCh = ticker.C
		}
		var timeoutCh <-chan time.Time
		if s.timeout > 0 {
			timer := time.NewTimer(s.timeout)
			defer timer.Stop()
			timeoutCh = timer.C
		}
		for {
			select {
			case r := <-resultCh:
				done(r)
				return
			case <-tickCh:
				done(Result{Pending: true})
			case <-timeoutCh:
				thread.Cancel("timeout")
				s.log.Debugf("condition %q timed out on thread %d", src, frame.Thread)
				<-resultCh
				done(Result{Err: &RuntimeError{Source: src, Err: errTimeout}})
				return
			case <-ctx.Done():
				thread.Cancel("cancelled")
				<-resultCh
				done(Result{Err: ctx.Err()})
				return
			}
		}
	}()
}

func frameEnv(frame target.Frame) (starlark.StringDict, error) {
	env := make(starlark.StringDict, len(frame.Locals))
	for name, v := range frame.Locals {
		sv, err := goToStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("local %s: %v", name, err)
		}
		env[name] = sv
	}
	return env, nil
}

func goToStarlark(v interface{}) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case float64:
		return starlark.Float(v), nil
	case string:
		return starlark.String(v), nil
	case []interface{}:
		elems := make([]starlark.Value, 0, len(v))
		for _, e := range v {
			se, err := goToStarlark(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, se)
		}
		return starlark.NewList(elems), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(v))
		for _, k := range keys {
			se, err := goToStarlark(v[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), se); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T", v)
}

func starlarkToGo(v starlark.Value) interface{} {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if n, ok := v.Int64(); ok {
			return n
		}
		return v.String()
	case starlark.Float:
		return float64(v)
	case starlark.String:
		return string(v)
	}
	return v.String()
}

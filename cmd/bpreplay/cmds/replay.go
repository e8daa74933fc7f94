package cmds

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-delve/bpengine/pkg/breakpoint"
	"github.com/go-delve/bpengine/pkg/eval"
	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/target"
	"github.com/go-delve/bpengine/pkg/target/memtarget"
)

const (
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

// replayer executes the steps of a scenario against an engine attached to
// an in-memory target.
type replayer struct {
	sc    *Scenario
	e     *breakpoint.Engine
	ev    *trackingEvaluator
	tgt   *memtarget.Target
	cfg   *breakpoint.Config
	specs map[string]*breakpoint.Spec
	names map[int]string

	mu    sync.Mutex
	out   io.Writer
	color bool
	quiet bool
}

func newReplayer(sc *Scenario, cfg *breakpoint.Config, out io.Writer, color bool, listeners ...breakpoint.Listener) (*replayer, error) {
	ev := &trackingEvaluator{Evaluator: eval.NewStarlark(cfg.EvalTimeout, cfg.EvalTick)}
	e, err := breakpoint.New(cfg, ev)
	if err != nil {
		return nil, err
	}
	caps := memtarget.FullCapabilities()
	sc.Capabilities.apply(&caps)
	r := &replayer{
		sc:    sc,
		e:     e,
		ev:    ev,
		tgt:   memtarget.New(caps),
		cfg:   cfg,
		specs: make(map[string]*breakpoint.Spec),
		names: make(map[int]string),
		out:   out,
		color: color,
	}
	if len(listeners) > 0 {
		// listeners replace the text output
		r.quiet = true
		for _, l := range listeners {
			e.AddListener(l)
		}
	} else {
		e.AddListener(r)
	}

	newStore, err := sc.openStore()
	if err != nil {
		return nil, err
	}
	for i := range sc.Breakpoints {
		bd := &sc.Breakpoints[i]
		s, err := bd.newSpec(newStore(bd.Name))
		if err != nil {
			return nil, err
		}
		if err := e.Add(s); err != nil {
			return nil, fmt.Errorf("breakpoint %s: %v", bd.Name, err)
		}
		r.specs[bd.Name] = s
		r.names[s.ID] = bd.Name
	}
	if err := e.Attach(r.tgt); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *replayer) printf(color, format string, args ...interface{}) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := fmt.Sprintf(format, args...)
	if r.color && color != "" {
		s = color + s + ansiReset
	}
	fmt.Fprintln(r.out, s)
}

func (r *replayer) name(bp *breakpoint.Spec) string {
	if n, ok := r.names[bp.ID]; ok {
		return n
	}
	return strconv.Itoa(bp.ID)
}

func (r *replayer) OnAdded(*breakpoint.Spec, target.ID) {}

func (r *replayer) OnInstalled(bp *breakpoint.Spec, _ target.ID) {
	r.printf("", "  installed %s", r.name(bp))
}

func (r *replayer) OnRemoved(bp *breakpoint.Spec, _ target.ID) {
	r.printf("", "  removed %s", r.name(bp))
}

func (r *replayer) OnRearmed(bp *breakpoint.Spec) {
	r.printf("", "  re-armed %s", r.name(bp))
}

func (r *replayer) OnSuspended(hit breakpoint.Hit) {
	r.printf(ansiRed, "  suspended by %s: %s", r.name(hit.Breakpoint), hit.Event)
}

func (r *replayer) OnConditionCompileError(bp *breakpoint.Spec, err *eval.CompileError) {
	r.printf(ansiYellow, "  %s: %v", r.name(bp), err)
}

func (r *replayer) OnConditionRuntimeError(bp *breakpoint.Spec, err error) {
	r.printf(ansiYellow, "  %s: %v", r.name(bp), err)
}

// run executes every step, stopping at the first one that fails.
func (r *replayer) run() error {
	for i, line := range r.sc.Steps {
		st, err := ParseStep(line)
		if err != nil {
			return fmt.Errorf("step %d: %v", i+1, err)
		}
		r.printf("", "> %s", st)
		if err := r.step(st); err != nil {
			return fmt.Errorf("step %d (%s): %v", i+1, st, err)
		}
	}
	r.summary()
	return nil
}

func (r *replayer) step(st Step) error {
	tid := r.tgt.ID()
	switch st.Verb {
	case "load":
		td := r.sc.types[st.Args[0]]
		if td == nil {
			return fmt.Errorf("unknown type %s", st.Args[0])
		}
		_, evs := r.tgt.LoadType(td.spec())
		r.dispatch(evs)

	case "hit":
		thread, obj, err := r.threadAndObject(st, 3)
		if err != nil {
			return err
		}
		line, err := st.intArg(2)
		if err != nil {
			return err
		}
		r.dispatch(r.tgt.HitLine(thread, st.Args[1], line, obj))

	case "enter", "exit":
		thread, err := st.intArg(0)
		if err != nil {
			return err
		}
		var sig string
		var obj int
		if len(st.Args) > 3 {
			sig = st.Args[3]
		}
		if len(st.Args) > 4 {
			if obj, err = st.intArg(4); err != nil {
				return err
			}
		}
		f := r.tgt.EnterMethod
		if st.Verb == "exit" {
			f = r.tgt.ExitMethod
		}
		r.dispatch(f(target.ThreadID(thread), st.Args[1], st.Args[2], sig, target.ObjectID(obj)))

	case "access", "modify":
		thread, obj, err := r.threadAndObject(st, 3)
		if err != nil {
			return err
		}
		f := r.tgt.AccessField
		if st.Verb == "modify" {
			f = r.tgt.ModifyField
		}
		r.dispatch(f(thread, st.Args[1], st.Args[2], obj))

	case "throw":
		thread, err := st.intArg(0)
		if err != nil {
			return err
		}
		line, err := st.intArg(3)
		if err != nil {
			return err
		}
		var caught bool
		switch st.Args[4] {
		case "caught":
			caught = true
		case "uncaught":
		default:
			return fmt.Errorf("expected caught or uncaught, got %q", st.Args[4])
		}
		r.dispatch(r.tgt.Throw(target.ThreadID(thread), st.Args[1], st.Args[2], line, caught))

	case "frame":
		thread, err := st.intArg(0)
		if err != nil {
			return err
		}
		locals := make(map[string]interface{})
		for _, kv := range st.Args[1:] {
			i := strings.Index(kv, "=")
			if i <= 0 {
				return fmt.Errorf("malformed local %q", kv)
			}
			locals[kv[:i]] = parseValue(kv[i+1:])
		}
		r.tgt.SetFrame(target.ThreadID(thread), locals)

	case "redefine":
		var lines []int
		for i := 1; i < len(st.Args); i++ {
			l, err := st.intArg(i)
			if err != nil {
				return err
			}
			lines = append(lines, l)
		}
		ref, err := r.tgt.Redefine(st.Args[0], lines)
		if err != nil {
			return err
		}
		return r.e.HandleTypesRedefined(tid, []target.TypeRef{ref})

	case "enable", "disable":
		s, err := r.spec(st.Args[0])
		if err != nil {
			return err
		}
		return s.SetEnabled(st.Verb == "enable")

	case "hitcount":
		s, err := r.spec(st.Args[0])
		if err != nil {
			return err
		}
		n, err := st.intArg(1)
		if err != nil {
			return err
		}
		return s.SetHitCount(n)

	case "cond":
		s, err := r.spec(st.Args[0])
		if err != nil {
			return err
		}
		if err := s.SetCondition(st.Args[1]); err != nil {
			return err
		}
		return s.SetConditionEnabled(strings.TrimSpace(st.Args[1]) != "")

	case "policy":
		s, err := r.spec(st.Args[0])
		if err != nil {
			return err
		}
		p, err := target.ParseSuspendPolicy(st.Args[1])
		if err != nil {
			return err
		}
		return s.SetSuspendPolicy(p)

	case "thread":
		s, err := r.spec(st.Args[0])
		if err != nil {
			return err
		}
		n, err := st.intArg(1)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.ClearThreadFilter(tid)
		}
		return s.SetThreadFilter(tid, target.ThreadID(n))

	case "instance":
		s, err := r.spec(st.Args[0])
		if err != nil {
			return err
		}
		n, err := st.intArg(1)
		if err != nil {
			return err
		}
		return s.AddInstanceFilter(tid, target.ObjectID(n))

	case "ignore":
		thread, err := st.intArg(0)
		if err != nil {
			return err
		}
		on, err := strconv.ParseBool(st.Args[1])
		if err != nil {
			return err
		}
		return r.e.SetIgnoreBreakpoints(tid, target.ThreadID(thread), on)

	case "remove":
		s, err := r.spec(st.Args[0])
		if err != nil {
			return err
		}
		_, err = r.e.Remove(s.ID)
		return err

	case "detach":
		r.tgt.Disconnect()
		return r.e.Detach(tid)
	}
	return nil
}

func (r *replayer) threadAndObject(st Step, objArg int) (target.ThreadID, target.ObjectID, error) {
	thread, err := st.intArg(0)
	if err != nil {
		return 0, 0, err
	}
	var obj int
	if len(st.Args) > objArg {
		if obj, err = st.intArg(objArg); err != nil {
			return 0, 0, err
		}
	}
	return target.ThreadID(thread), target.ObjectID(obj), nil
}

func (r *replayer) spec(name string) (*breakpoint.Spec, error) {
	s := r.specs[name]
	if s == nil {
		return nil, fmt.Errorf("unknown breakpoint %s", name)
	}
	return s, nil
}

// dispatch hands evs to the engine and waits for the conditions they
// started to complete.
func (r *replayer) dispatch(evs []target.Event) {
	for _, ev := range evs {
		d := r.e.Dispatch(r.tgt.ID(), ev)
		if ev.Kind == target.EventClassPrepare && d == breakpoint.Resume {
			continue
		}
		color := ansiGreen
		switch d {
		case breakpoint.Suspend:
			color = ansiRed
		case breakpoint.ResumePending:
			color = ansiYellow
		}
		r.printf(color, "  %s: %s", ev, d)
	}
	r.waitPending()
}

func (r *replayer) waitPending() {
	done := make(chan struct{})
	go func() {
		r.ev.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.cfg.EvalTimeout + time.Second):
		logflags.EngineLogger().Warnf("%d condition evaluations still pending", len(r.e.Pending()))
	}
}

// trackingEvaluator counts the evaluations whose final result has not been
// delivered to the engine yet.
type trackingEvaluator struct {
	eval.Evaluator
	wg sync.WaitGroup
}

func (t *trackingEvaluator) EvaluateAsync(ctx context.Context, expr eval.CompiledExpr, frame target.Frame, done func(eval.Result)) {
	t.wg.Add(1)
	t.Evaluator.EvaluateAsync(ctx, expr, frame, func(r eval.Result) {
		done(r)
		if !r.Pending {
			t.wg.Done()
		}
	})
}

func (r *replayer) summary() {
	r.printf("", "breakpoints:")
	for _, s := range r.e.Breakpoints() {
		state := "enabled"
		switch {
		case s.Expired():
			state = "expired"
		case !s.Enabled():
			state = "disabled"
		}
		r.printf("", "  %s\t%s\t%s\thit-count=%d installed=%d", r.name(s), s.Kind, state, s.HitCount(), s.InstallCount())
	}
}

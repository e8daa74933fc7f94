package breakpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/bpengine/pkg/eval"
	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/target"
)

// PendingToken identifies a suspend decision deferred until the
// evaluation of a condition completes.
type PendingToken string

type threadState struct {
	// evaluating is set while the thread is quietly suspended waiting for
	// a condition.
	evaluating bool
	ignoring   bool
}

// threadTable records the engine's view of the threads of a target.
type threadTable struct {
	mu sync.Mutex
	m  map[target.ThreadID]*threadState
}

func newThreadTable() *threadTable {
	return &threadTable{m: make(map[target.ThreadID]*threadState)}
}

func (tt *threadTable) state(th target.ThreadID) *threadState {
	st := tt.m[th]
	if st == nil {
		st = &threadState{}
		tt.m[th] = st
	}
	return st
}

// beginEvaluation marks th as evaluating. It returns false if th already
// was.
func (tt *threadTable) beginEvaluation(th target.ThreadID) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	st := tt.state(th)
	if st.evaluating {
		return false
	}
	st.evaluating = true
	return true
}

func (tt *threadTable) endEvaluation(th target.ThreadID) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.state(th).evaluating = false
}

func (tt *threadTable) isEvaluating(th target.ThreadID) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	st := tt.m[th]
	return st != nil && st.evaluating
}

func (tt *threadTable) setIgnoring(th target.ThreadID, ignore bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.state(th).ignoring = ignore
}

func (tt *threadTable) ignoring(th target.ThreadID) bool {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	st := tt.m[th]
	return st != nil && st.ignoring
}

type condKey struct {
	spec *Spec
	tid  target.ID
}

// condEntry is a compiled condition. Compile errors are cached too, so
// that a broken condition is not recompiled on every hit.
type condEntry struct {
	source   string
	expr     eval.CompiledExpr
	err      *eval.CompileError
	reported int32
}

// report returns true the first time it is called on an entry.
func (ce *condEntry) report() bool {
	return atomic.CompareAndSwapInt32(&ce.reported, 0, 1)
}

// conditionCache holds the compiled conditions of every (spec, target)
// pair, bounded by the configured size. The evaluator is never called with
// mu held.
type conditionCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	// gen is incremented by every invalidation, a compilation started
	// before an invalidation is not cached.
	gen uint64
}

func newConditionCache(size int) (*conditionCache, error) {
	if size <= 0 {
		size = 1
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &conditionCache{cache: c}, nil
}

// lookup returns the cached entry of key if it was compiled from src, and
// the current generation.
func (cc *conditionCache) lookup(key condKey, src string) (*condEntry, uint64) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if v, ok := cc.cache.Get(key); ok {
		if ce := v.(*condEntry); ce.source == src {
			return ce, cc.gen
		}
	}
	return nil, cc.gen
}

// compiled returns the compiled condition of s in tid, compiling it if the
// cached entry is missing or stale.
func (cc *conditionCache) compiled(ev eval.Evaluator, s *Spec, tid target.ID, frame target.Frame) *condEntry {
	src := s.Condition()
	key := condKey{s, tid}
	ce, gen := cc.lookup(key, src)
	if ce != nil {
		return ce
	}

	ce = &condEntry{source: src}
	expr, err := ev.Compile(src, frame)
	if err != nil {
		var cerr *eval.CompileError
		if !errors.As(err, &cerr) {
			cerr = &eval.CompileError{Source: src, Messages: []string{err.Error()}}
		}
		ce.err = cerr
		logflags.ConditionLogger().Debugf("condition of %s does not compile: %v", s, cerr)
	} else {
		ce.expr = expr
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if v, ok := cc.cache.Get(key); ok {
		if cur := v.(*condEntry); cur.source == src {
			// compiled concurrently by another thread
			return cur
		}
	}
	if cc.gen == gen {
		cc.cache.Add(key, ce)
	}
	return ce
}

func (cc *conditionCache) invalidate(s *Spec, tid target.ID) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.gen++
	cc.cache.Remove(condKey{s, tid})
}

// invalidateSpec drops the entries of s in every target.
func (cc *conditionCache) invalidateSpec(s *Spec) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.gen++
	for _, k := range cc.cache.Keys() {
		if k.(condKey).spec == s {
			cc.cache.Remove(k)
		}
	}
}

// pending is a hit waiting for its condition.
type pending struct {
	token  PendingToken
	a      *attachment
	p      *probe
	ev     target.Event
	cancel context.CancelFunc
}

// beginEvaluation quietly suspends the thread of ev and starts evaluating
// the condition of p. The decision is taken by Complete.
func (a *attachment) beginEvaluation(p *probe, ev target.Event) Decision {
	s := p.spec
	log := logflags.ConditionLogger()
	if !a.threads.beginEvaluation(ev.Thread) {
		log.Debugf("thread %d is already evaluating a condition, suspending at %s", ev.Thread, s)
		a.suspend(p, ev)
		return Suspend
	}
	frame, err := a.t.TopFrame(ev.Thread)
	if err != nil {
		a.threads.endEvaluation(ev.Thread)
		if isTransient(err) {
			a.resume(ev)
			return Resume
		}
		log.Errorf("could not read the frame of thread %d: %v", ev.Thread, err)
		a.suspend(p, ev)
		return Suspend
	}
	ce := a.e.conds.compiled(a.e.eval, s, a.tid, frame)
	if ce.err != nil {
		a.threads.endEvaluation(ev.Thread)
		if ce.report() {
			a.e.bus.compileError(s, ce.err)
		}
		a.suspend(p, ev)
		return Suspend
	}

	tok := PendingToken(uuid.New().String())
	ctx, cancel := context.WithCancel(a.ctx)
	a.lifeMu.RLock()
	if a.detached {
		a.lifeMu.RUnlock()
		cancel()
		a.threads.endEvaluation(ev.Thread)
		a.e.conds.invalidate(s, a.tid)
		log.Debugf("target %s detached while compiling the condition of %s", a.tid, s)
		if a.t.Available() {
			a.resume(ev)
		}
		return Resume
	}
	a.e.addPending(&pending{token: tok, a: a, p: p, ev: ev, cancel: cancel})
	a.lifeMu.RUnlock()
	log.Debugf("evaluating %q for %s on thread %d (%s)", ce.source, s, ev.Thread, tok)
	a.e.eval.EvaluateAsync(ctx, ce.expr, frame, func(r eval.Result) {
		a.e.Complete(tok, r)
	})
	return ResumePending
}

// conditionDecision turns the result of an evaluation into a decision.
func (a *attachment) conditionDecision(p *probe, r eval.Result) Decision {
	s := p.spec
	var cerr *eval.CompileError
	switch {
	case errors.As(r.Err, &cerr):
		a.e.bus.compileError(s, cerr)
		return Suspend
	case errors.Is(r.Err, context.Canceled):
		return Resume
	case r.Err != nil:
		return a.conditionFailed(s, r.Err)
	}
	if !s.ConditionSuspendOnTrue() {
		if s.swapConditionValue(a.tid, r.Value) {
			return a.hitDecision(p)
		}
		return Resume
	}
	b, ok := r.Value.(bool)
	if !ok {
		return a.conditionFailed(s, &eval.RuntimeError{
			Source: s.Condition(),
			Err:    fmt.Errorf("condition must evaluate to a boolean, got %T", r.Value),
		})
	}
	if !b {
		return Resume
	}
	return a.hitDecision(p)
}

func (a *attachment) conditionFailed(s *Spec, err error) Decision {
	logflags.ConditionLogger().Debugf("condition of %s failed: %v", s, err)
	a.e.bus.runtimeError(s, err)
	if a.e.cfg.SuspendOnConditionError {
		return Suspend
	}
	return Resume
}

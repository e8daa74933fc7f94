// Package breakpoint turns breakpoint specifications into probes installed
// in attached targets, keeps them valid as types are loaded, redefined and
// unloaded, and decides on every event whether its thread stays suspended.
//
// A Spec is created independently of any target and added to an Engine.
// The Engine installs it in every attached target, immediately when the
// type it refers to is loaded and otherwise when the target reports that
// the type was prepared. Events coming from a target are dispatched on a
// per target loop, ordered per thread; conditional breakpoints defer their
// decision until the evaluator completes.
package breakpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-delve/bpengine/pkg/eval"
	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/target"
)

// Config configures an Engine.
type Config struct {
	// EvalTimeout bounds the evaluation of a condition.
	EvalTimeout time.Duration
	// EvalTick is the interval of the pending reports of an evaluation.
	EvalTick time.Duration
	// ConditionCacheSize is the number of compiled conditions kept.
	ConditionCacheSize int
	// NestedTypeSearch enables installing line breakpoints in the nested
	// types of the declared type when the declared type has no such line.
	NestedTypeSearch bool
	// DefaultSuspendPolicy is given to breakpoints added without one.
	DefaultSuspendPolicy target.SuspendPolicy
	// SuspendOnConditionError makes runtime errors in conditions suspend.
	SuspendOnConditionError bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		EvalTimeout:             5 * time.Second,
		EvalTick:                500 * time.Millisecond,
		ConditionCacheSize:      256,
		NestedTypeSearch:        true,
		DefaultSuspendPolicy:    target.SuspendThread,
		SuspendOnConditionError: true,
	}
}

// Engine manages a set of breakpoints across the attached targets.
type Engine struct {
	cfg   Config
	eval  eval.Evaluator
	bus   bus
	conds *conditionCache

	mu      sync.Mutex
	nextID  int
	specs   map[int]*Spec
	targets map[target.ID]*attachment

	pendingMu sync.Mutex
	pending   map[PendingToken]*pending
}

// attachment is the state of the engine for one target.
type attachment struct {
	e       *Engine
	t       target.Target
	tid     target.ID
	reg     *registry
	types   *typeIndex
	threads *threadTable

	// installMu serializes the install coordinator in this target.
	installMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	lifeMu   sync.RWMutex
	detached bool
	running  bool
}

// New returns an engine. If ev is nil conditions are evaluated as Starlark
// expressions.
func New(cfg *Config, ev eval.Evaluator) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if ev == nil {
		ev = eval.NewStarlark(cfg.EvalTimeout, cfg.EvalTick)
	}
	conds, err := newConditionCache(cfg.ConditionCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     *cfg,
		eval:    ev,
		conds:   conds,
		specs:   make(map[int]*Spec),
		targets: make(map[target.ID]*attachment),
		pending: make(map[PendingToken]*pending),
	}, nil
}

// AddListener registers l for notifications.
func (e *Engine) AddListener(l Listener) { e.bus.add(l) }

// RemoveListener unregisters l.
func (e *Engine) RemoveListener(l Listener) { e.bus.remove(l) }

func (e *Engine) attachments() []*attachment {
	e.mu.Lock()
	defer e.mu.Unlock()
	as := make([]*attachment, 0, len(e.targets))
	for _, a := range e.targets {
		as = append(as, a)
	}
	return as
}

func (e *Engine) attachment(tid target.ID) (*attachment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.targets[tid]
	if a == nil {
		return nil, fmt.Errorf("target %s not attached", tid)
	}
	return a, nil
}

func locationKey(s *Spec) string {
	return fmt.Sprintf("%v|%s|%d|%s|%s|%s|%s|%s|%s|%s|%v", s.Kind, s.TypeName, s.Line, s.Method, s.Signature, s.Field, s.Pattern, s.SourceName, s.Stratum, s.SourcePath, s.ClassPatterns)
}

// Add assigns an ID to s and installs it in every attached target.
func (e *Engine) Add(s *Spec) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("breakpoint has no attribute store")
	}
	if _, ok := kindTable[s.Kind]; !ok {
		return fmt.Errorf("unknown breakpoint kind %v", s.Kind)
	}
	e.mu.Lock()
	key := locationKey(s)
	for _, other := range e.specs {
		if other == s || locationKey(other) == key {
			e.mu.Unlock()
			return BreakpointExistsError{ID: other.ID, Location: other.String()}
		}
	}
	if s.store.Attribute(AttrSuspendPolicy, nil) == nil {
		if err := s.store.SetAttributes(map[string]interface{}{AttrSuspendPolicy: e.cfg.DefaultSuspendPolicy.String()}); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	e.nextID++
	s.ID = e.nextID
	e.specs[s.ID] = s
	e.mu.Unlock()

	s.setOwner(e)
	logflags.EngineLogger().Debugf("added %s", s)
	for _, a := range e.attachments() {
		a.addToTarget(s)
	}
	return nil
}

// Remove removes the breakpoint with the given ID from every target.
func (e *Engine) Remove(id int) (*Spec, error) {
	e.mu.Lock()
	s := e.specs[id]
	if s == nil {
		e.mu.Unlock()
		return nil, NoBreakpointError{ID: id}
	}
	delete(e.specs, id)
	e.mu.Unlock()

	s.setOwner(nil)
	for _, a := range e.attachments() {
		a.removeFromTarget(s)
	}
	e.conds.invalidateSpec(s)
	logflags.EngineLogger().Debugf("removed %s", s)
	return s, nil
}

// FindBreakpoint returns the breakpoint with the given ID.
func (e *Engine) FindBreakpoint(id int) (*Spec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.specs[id]; s != nil {
		return s, nil
	}
	return nil, NoBreakpointError{ID: id}
}

// Breakpoints returns the breakpoints of the engine ordered by ID.
func (e *Engine) Breakpoints() []*Spec {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := make([]*Spec, 0, len(e.specs))
	for _, s := range e.specs {
		r = append(r, s)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// Attach adds t to the engine and installs every breakpoint in it. Events
// are only consumed once Run is called, or by calling Dispatch directly.
func (e *Engine) Attach(t target.Target) error {
	tid := t.ID()
	ctx, cancel := context.WithCancel(context.Background())
	a := &attachment{
		e:       e,
		t:       t,
		tid:     tid,
		reg:     newRegistry(),
		types:   newTypeIndex(),
		threads: newThreadTable(),
		ctx:     ctx,
		cancel:  cancel,
	}
	e.mu.Lock()
	if e.targets[tid] != nil {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("target %s already attached", tid)
	}
	e.targets[tid] = a
	e.mu.Unlock()

	a.types.addAll(t.LoadedTypes())
	logflags.EngineLogger().Debugf("attached %s", tid)
	for _, s := range e.Breakpoints() {
		a.addToTarget(s)
	}
	return nil
}

// AddToTarget installs s in the target tid. It is a no-op if s is already
// installed there.
func (e *Engine) AddToTarget(s *Spec, tid target.ID) error {
	a, err := e.attachment(tid)
	if err != nil {
		return err
	}
	a.addToTarget(s)
	return nil
}

// RemoveFromTarget deletes the probes of s from the target tid.
func (e *Engine) RemoveFromTarget(s *Spec, tid target.ID) error {
	a, err := e.attachment(tid)
	if err != nil {
		return err
	}
	a.removeFromTarget(s)
	return nil
}

// ChangeForTarget applies the current policy of s to its probes in tid.
// It is called automatically when s is edited.
func (e *Engine) ChangeForTarget(s *Spec, tid target.ID) error {
	a, err := e.attachment(tid)
	if err != nil {
		return err
	}
	a.changeForTarget(s)
	return nil
}

// HandleTypesRedefined moves the probes installed in the previous versions
// of types to their new versions.
func (e *Engine) HandleTypesRedefined(tid target.ID, types []target.TypeRef) error {
	a, err := e.attachment(tid)
	if err != nil {
		return err
	}
	a.handleTypesRedefined(types)
	return nil
}

// SetIgnoreBreakpoints makes thread of tid resume silently on every
// breakpoint while ignore is set.
func (e *Engine) SetIgnoreBreakpoints(tid target.ID, thread target.ThreadID, ignore bool) error {
	a, err := e.attachment(tid)
	if err != nil {
		return err
	}
	a.threads.setIgnoring(thread, ignore)
	return nil
}

// Evaluating returns true if thread of tid is quietly suspended waiting for
// a condition.
func (e *Engine) Evaluating(tid target.ID, thread target.ThreadID) bool {
	a, err := e.attachment(tid)
	if err != nil {
		return false
	}
	return a.threads.isEvaluating(thread)
}

// Probes returns the probes installed in tid.
func (e *Engine) Probes(tid target.ID) []ProbeInfo {
	a, err := e.attachment(tid)
	if err != nil {
		return nil
	}
	ps := a.reg.all()
	r := make([]ProbeInfo, 0, len(ps))
	for _, p := range ps {
		r = append(r, p.info())
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Handle < r[j].Handle })
	return r
}

// Dispatch decides the fate of an event raised by the target tid. Events
// of the same thread must be dispatched in order.
func (e *Engine) Dispatch(tid target.ID, ev target.Event) Decision {
	a, err := e.attachment(tid)
	if err != nil {
		logflags.DispatchLogger().Debugf("event for unknown target %s: %v", tid, ev)
		return Resume
	}
	return a.dispatch(ev)
}

// HandleClassPrepare installs the breakpoints waiting for the type of ev.
// It is called by Dispatch for the class-prepare events of listeners.
func (e *Engine) HandleClassPrepare(tid target.ID, ev target.Event) error {
	a, err := e.attachment(tid)
	if err != nil {
		return err
	}
	if p := a.reg.lookup(ev.Request); p != nil && p.listener {
		a.handleClassPrepare(p, ev)
		return nil
	}
	a.types.add(ev.Type)
	for _, s := range a.reg.addedSpecs() {
		for _, p := range a.reg.snapshot(s) {
			if p.listener {
				a.handleClassPrepare(p, ev)
				break
			}
		}
	}
	return nil
}

// Run consumes the events of tid until the target disconnects or is
// detached. Events of different threads are dispatched concurrently,
// events of one thread in order.
func (e *Engine) Run(tid target.ID) error {
	a, err := e.attachment(tid)
	if err != nil {
		return err
	}
	a.lifeMu.Lock()
	if a.running || a.detached {
		a.lifeMu.Unlock()
		return fmt.Errorf("target %s is not idle", tid)
	}
	a.running = true
	a.lifeMu.Unlock()

	a.run()
	e.detach(a)
	return nil
}

func (a *attachment) run() {
	var wg sync.WaitGroup
	workers := make(map[target.ThreadID]chan target.Event)
	defer func() {
		for _, ch := range workers {
			close(ch)
		}
		wg.Wait()
	}()
	events := a.t.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				logflags.EngineLogger().Debugf("target %s disconnected", a.tid)
				return
			}
			ch := workers[ev.Thread]
			if ch == nil {
				ch = make(chan target.Event, 16)
				workers[ev.Thread] = ch
				wg.Add(1)
				go func() {
					defer wg.Done()
					for ev := range ch {
						if a.ctx.Err() == nil {
							a.dispatch(ev)
						}
					}
				}()
			}
			select {
			case ch <- ev:
			case <-a.ctx.Done():
				return
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Detach removes tid from the engine: pending evaluations are cancelled and
// their threads resumed, and every probe is forgotten.
func (e *Engine) Detach(tid target.ID) error {
	a, err := e.attachment(tid)
	if err != nil {
		return err
	}
	e.detach(a)
	return nil
}

func (e *Engine) detach(a *attachment) {
	a.lifeMu.Lock()
	if a.detached {
		a.lifeMu.Unlock()
		return
	}
	a.detached = true
	a.cancel()
	a.lifeMu.Unlock()

	e.mu.Lock()
	if e.targets[a.tid] == a {
		delete(e.targets, a.tid)
	}
	e.mu.Unlock()

	for _, pd := range e.dropPending(a) {
		pd.cancel()
		a.threads.endEvaluation(pd.ev.Thread)
		if a.t.Available() {
			a.resume(pd.ev)
		}
	}

	a.installMu.Lock()
	probes := a.reg.all()
	specs, rearmed := a.reg.tearDown()
	if a.t.Available() {
		for _, p := range probes {
			a.deleteRequest(p)
		}
	}
	a.installMu.Unlock()

	for _, s := range specs {
		e.conds.invalidate(s, a.tid)
		s.forgetTarget(a.tid)
		e.bus.removed(s, a.tid)
	}
	for _, s := range rearmed {
		e.bus.rearmed(s)
	}
	logflags.EngineLogger().Debugf("detached %s", a.tid)
}

// Complete delivers the result of the evaluation identified by tok. Pending
// results are ignored, results for detached targets are discarded.
func (e *Engine) Complete(tok PendingToken, r eval.Result) {
	if r.Pending {
		logflags.ConditionLogger().Debugf("evaluation %s still running", tok)
		return
	}
	pd := e.takePending(tok)
	if pd == nil {
		return
	}
	pd.cancel()
	a := pd.a
	a.lifeMu.RLock()
	defer a.lifeMu.RUnlock()
	a.threads.endEvaluation(pd.ev.Thread)
	if a.detached {
		// detach did not see this evaluation, the thread is still halted
		if a.t.Available() {
			a.resume(pd.ev)
		}
		return
	}
	d := a.conditionDecision(pd.p, r)
	logflags.ConditionLogger().Debugf("evaluation %s of %s: %v", tok, pd.p.spec, d)
	a.apply(pd.p, pd.ev, d)
}

func (e *Engine) addPending(pd *pending) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending[pd.token] = pd
}

func (e *Engine) takePending(tok PendingToken) *pending {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	pd := e.pending[tok]
	delete(e.pending, tok)
	return pd
}

func (e *Engine) dropPending(a *attachment) []*pending {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	var r []*pending
	for tok, pd := range e.pending {
		if pd.a == a {
			r = append(r, pd)
			delete(e.pending, tok)
		}
	}
	return r
}

// Pending returns the tokens of the evaluations in progress.
func (e *Engine) Pending() []PendingToken {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	r := make([]PendingToken, 0, len(e.pending))
	for tok := range e.pending {
		r = append(r, tok)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

func (e *Engine) specChanged(s *Spec, c change, tid target.ID) {
	switch c {
	case changeInstall:
		if a, err := e.attachment(tid); err == nil {
			a.reinstall(s)
		}
		return
	case changeCondition:
		e.conds.invalidateSpec(s)
	}
	for _, a := range e.attachments() {
		a.changeForTarget(s)
	}
}

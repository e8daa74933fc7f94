package breakpoint

import (
	"fmt"

	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/target"
)

// Decision is the outcome of dispatching an event.
type Decision uint8

const (
	// Resume means the event thread was resumed without notification.
	Resume Decision = iota
	// Suspend means the thread stays suspended and listeners were told.
	Suspend
	// ResumePending means the thread is quietly suspended until a
	// condition evaluation completes.
	ResumePending
)

func (d Decision) String() string {
	switch d {
	case Resume:
		return "resume"
	case Suspend:
		return "suspend"
	case ResumePending:
		return "resume-pending"
	}
	return fmt.Sprintf("Decision(%d)", uint8(d))
}

// dispatch routes ev to the probe that raised it and decides whether its
// thread stays suspended. The resume or the notification is performed
// before returning.
func (a *attachment) dispatch(ev target.Event) Decision {
	log := logflags.DispatchLogger()
	p := a.reg.lookup(ev.Request)
	if p == nil {
		log.Debugf("no probe for %v", ev)
		a.resume(ev)
		return Resume
	}
	if p.listener {
		a.handleClassPrepare(p, ev)
		a.resume(ev)
		return Resume
	}
	if ev.Kind == target.EventClassPrepare {
		a.types.add(ev.Type)
	}

	s := p.spec
	ops := opsFor(s.Kind)
	if !s.Enabled() || !ops.roleEnabled(s, p.role) || !ops.matchesEvent(s, p.role, &ev) || !a.filtersMatch(s, ev) {
		log.Debugf("%v filtered out by %s", ev, s)
		a.resume(ev)
		return Resume
	}
	if a.threads.ignoring(ev.Thread) {
		log.Debugf("thread %d ignores breakpoints", ev.Thread)
		a.resume(ev)
		return Resume
	}
	if s.HasCondition() {
		return a.beginEvaluation(p, ev)
	}
	d := a.hitDecision(p)
	log.Debugf("%v at %s: %v", ev, s, d)
	a.apply(p, ev, d)
	return d
}

// hitDecision counts a hit of p.
func (a *attachment) hitDecision(p *probe) Decision {
	simulated, countFilter := p.mode()
	switch {
	case simulated:
		if !p.countHit() {
			return Resume
		}
		a.expire(p.spec)
	case countFilter > 0:
		p.markExpiredLocally()
		a.expire(p.spec)
	}
	return Suspend
}

func (a *attachment) expire(s *Spec) {
	if err := s.expire(); err != nil {
		logflags.DispatchLogger().Errorf("could not expire %s: %v", s, err)
	}
}

func (a *attachment) filtersMatch(s *Spec, ev target.Event) bool {
	if th, ok := s.ThreadFilter(a.tid); ok && th != ev.Thread {
		return false
	}
	switch s.Kind {
	case ExceptionBreakpoint, ClassPrepareBreakpoint:
		return true
	}
	objs := s.InstanceFilters(a.tid)
	if len(objs) == 0 {
		return true
	}
	for _, o := range objs {
		if o == ev.Object {
			return true
		}
	}
	return false
}

func (a *attachment) apply(p *probe, ev target.Event, d Decision) {
	switch d {
	case Suspend:
		a.suspend(p, ev)
	case Resume:
		a.resume(ev)
	}
}

func (a *attachment) suspend(p *probe, ev target.Event) {
	a.e.bus.suspended(Hit{Breakpoint: p.spec, Target: a.tid, Event: ev})
}

func (a *attachment) resume(ev target.Event) {
	err := a.t.ResumeEvent(ev)
	if err == nil {
		return
	}
	if isTransient(err) && !a.t.Available() {
		return
	}
	logflags.DispatchLogger().Errorf("could not resume thread %d: %v", ev.Thread, err)
}

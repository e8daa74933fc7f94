package breakpoint

import (
	"sync"

	"github.com/go-delve/bpengine/pkg/eval"
	"github.com/go-delve/bpengine/pkg/target"
)

// Hit describes a breakpoint hit that left its thread suspended.
type Hit struct {
	Breakpoint *Spec
	Target     target.ID
	Event      target.Event
}

// Listener receives the notifications of an Engine. Methods are called
// from the event loops of the targets and from evaluator callbacks, they
// must not block.
type Listener interface {
	// OnAdded is called when a breakpoint is added to a target.
	OnAdded(bp *Spec, tid target.ID)
	// OnInstalled is called when probes for a breakpoint are created in a
	// target.
	OnInstalled(bp *Spec, tid target.ID)
	// OnRemoved is called when a breakpoint is removed from a target,
	// including when the target detaches.
	OnRemoved(bp *Spec, tid target.ID)
	// OnSuspended is called when a hit suspends its thread.
	OnSuspended(hit Hit)
	// OnRearmed is called when an expired breakpoint is enabled again
	// because its last installed request was deleted.
	OnRearmed(bp *Spec)
	OnConditionCompileError(bp *Spec, err *eval.CompileError)
	OnConditionRuntimeError(bp *Spec, err error)
}

// NopListener implements Listener and ignores every notification. It can
// be embedded by listeners that only care about some of them.
type NopListener struct{}

func (NopListener) OnAdded(*Spec, target.ID)                          {}
func (NopListener) OnInstalled(*Spec, target.ID)                      {}
func (NopListener) OnRemoved(*Spec, target.ID)                        {}
func (NopListener) OnSuspended(Hit)                                   {}
func (NopListener) OnRearmed(*Spec)                                   {}
func (NopListener) OnConditionCompileError(*Spec, *eval.CompileError) {}
func (NopListener) OnConditionRuntimeError(*Spec, error)              {}

// bus fans notifications out to the registered listeners.
type bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (b *bus) add(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *bus) remove(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.listeners {
		if b.listeners[i] == l {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *bus) each(fn func(Listener)) {
	b.mu.RLock()
	ls := append([]Listener(nil), b.listeners...)
	b.mu.RUnlock()
	for _, l := range ls {
		fn(l)
	}
}

func (b *bus) added(bp *Spec, tid target.ID) {
	b.each(func(l Listener) { l.OnAdded(bp, tid) })
}

func (b *bus) installed(bp *Spec, tid target.ID) {
	b.each(func(l Listener) { l.OnInstalled(bp, tid) })
}

func (b *bus) removed(bp *Spec, tid target.ID) {
	b.each(func(l Listener) { l.OnRemoved(bp, tid) })
}

func (b *bus) suspended(hit Hit) {
	b.each(func(l Listener) { l.OnSuspended(hit) })
}

func (b *bus) rearmed(bp *Spec) {
	b.each(func(l Listener) { l.OnRearmed(bp) })
}

func (b *bus) compileError(bp *Spec, err *eval.CompileError) {
	b.each(func(l Listener) { l.OnConditionCompileError(bp, err) })
}

func (b *bus) runtimeError(bp *Spec, err error) {
	b.each(func(l Listener) { l.OnConditionRuntimeError(bp, err) })
}

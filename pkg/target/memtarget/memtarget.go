// Package memtarget implements target.Target entirely in memory. It is the
// fixture used by the engine tests and by bpreplay: types are loaded, lines
// are hit and exceptions are thrown by calling methods on the Target, and
// the resulting events are delivered through Events exactly like a real
// connection would.
package memtarget

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/go-delve/bpengine/pkg/target"
)

// LoaderThread is the thread reported by class-prepare events.
const LoaderThread target.ThreadID = 1

// TypeSpec describes a type to load.
type TypeSpec struct {
	Name       string
	SourceName string
	Interface  bool
	// Lines lists the executable lines of the type. If NoLineInfo is set the
	// type carries no line information at all.
	Lines      []int
	NoLineInfo bool
	Fields     []string
}

type typeInfo struct {
	ref    target.TypeRef
	outer  uint64
	nested []uint64
	lines  map[int]bool
	fields map[string]bool
}

type request struct {
	handle  target.Handle
	kind    target.RequestKind
	pattern string
	params  target.ProbeParams
	hits    int
	expired bool
	// obsolete is set when the type the request was created on got
	// redefined.
	obsolete bool
}

// RequestInfo is a snapshot of a live request.
type RequestInfo struct {
	Handle  target.Handle
	Kind    target.RequestKind
	Pattern string
	Params  target.ProbeParams
	Expired bool
}

// Target is an in-memory target.
type Target struct {
	id   target.ID
	caps target.Capabilities

	mu           sync.Mutex
	nextTypeID   uint64
	nextHandle   target.Handle
	types        map[uint64]*typeInfo
	byName       map[string]uint64
	requests     map[target.Handle]*request
	frames       map[target.ThreadID]target.Frame
	resumed      map[target.ThreadID]int
	deleted      []target.Handle
	disconnected bool

	queue    []target.Event
	cond     *sync.Cond
	events   chan target.Event
	pumpOnce sync.Once
}

// New returns an empty target with the given capabilities.
func New(caps target.Capabilities) *Target {
	t := &Target{
		id:       target.ID(uuid.New().String()),
		caps:     caps,
		types:    make(map[uint64]*typeInfo),
		byName:   make(map[string]uint64),
		requests: make(map[target.Handle]*request),
		frames:   make(map[target.ThreadID]target.Frame),
		resumed:  make(map[target.ThreadID]int),
		events:   make(chan target.Event),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// FullCapabilities returns a capability set with every feature enabled
// except mutable suspend policies and count filters.
func FullCapabilities() target.Capabilities {
	return target.Capabilities{
		CanWatchFieldAccess:       true,
		CanWatchFieldModification: true,
		CanUseInstanceFilters:     true,
		CanUseCountFilters:        true,
		CanRedefineTypes:          true,
	}
}

func (t *Target) ID() target.ID { return t.id }

func (t *Target) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.disconnected
}

func (t *Target) Capabilities() target.Capabilities { return t.caps }

func (t *Target) LoadedTypes() []target.TypeRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := make([]target.TypeRef, 0, len(t.types))
	for _, ti := range t.types {
		r = append(r, ti.ref)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

func (t *Target) LoadedTypesNamed(name string) []target.TypeRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byName[name]
	if !ok {
		return nil
	}
	return []target.TypeRef{t.types[id].ref}
}

func (t *Target) NestedTypesOf(typ target.TypeRef) []target.TypeRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	ti := t.types[typ.ID]
	if ti == nil {
		return nil
	}
	r := make([]target.TypeRef, 0, len(ti.nested))
	for _, id := range ti.nested {
		r = append(r, t.types[id].ref)
	}
	return r
}

func (t *Target) CreateClassPrepareRequest(pattern string, policy target.SuspendPolicy) (target.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return 0, target.ErrDisconnected
	}
	t.nextHandle++
	t.requests[t.nextHandle] = &request{
		handle:  t.nextHandle,
		kind:    target.RequestClassPrepare,
		pattern: pattern,
		params:  target.ProbeParams{SuspendPolicy: policy, Enabled: true},
	}
	return t.nextHandle, nil
}

func (t *Target) CreateProbeRequest(kind target.RequestKind, params target.ProbeParams) (target.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return 0, target.ErrDisconnected
	}
	if params.CountFilter > 0 && !t.caps.CanUseCountFilters {
		return 0, target.ErrUnsupported
	}
	if len(params.InstanceFilters) > 0 && !t.caps.CanUseInstanceFilters {
		return 0, target.ErrUnsupported
	}
	ti := t.types[params.Type.ID]
	if ti == nil || ti.ref.Version != params.Type.Version {
		return 0, target.ErrNotPrepared
	}
	switch kind {
	case target.RequestLine:
		if ti.lines == nil {
			return 0, target.ErrAbsentInformation
		}
		if !ti.lines[params.Line] {
			return 0, target.ErrNoLocation
		}
	case target.RequestFieldAccess, target.RequestFieldModification:
		if kind == target.RequestFieldAccess && !t.caps.CanWatchFieldAccess {
			return 0, target.ErrUnsupported
		}
		if kind == target.RequestFieldModification && !t.caps.CanWatchFieldModification {
			return 0, target.ErrUnsupported
		}
		if !ti.fields[params.Field] {
			return 0, target.ErrNoLocation
		}
	case target.RequestMethodEntry, target.RequestMethodExit, target.RequestException:
		// class filtered only
	default:
		return 0, fmt.Errorf("unsupported request kind %v", kind)
	}
	t.nextHandle++
	params.InstanceFilters = append([]target.ObjectID(nil), params.InstanceFilters...)
	t.requests[t.nextHandle] = &request{handle: t.nextHandle, kind: kind, params: params}
	return t.nextHandle, nil
}

func (t *Target) UpdateRequest(h target.Handle, update target.RequestUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return target.ErrDisconnected
	}
	req := t.requests[h]
	if req == nil {
		return fmt.Errorf("no request %d", h)
	}
	if update.SuspendPolicy != nil && *update.SuspendPolicy != req.params.SuspendPolicy && !t.caps.MutableSuspendPolicy {
		return target.ErrNotMutable
	}
	if update.CountFilter != nil && *update.CountFilter != req.params.CountFilter {
		if req.expired {
			return target.ErrRequestExpired
		}
		if !t.caps.MutableCountFilters {
			return target.ErrNotMutable
		}
	}
	if update.Enabled != nil {
		req.params.Enabled = *update.Enabled
	}
	if update.SuspendPolicy != nil {
		req.params.SuspendPolicy = *update.SuspendPolicy
	}
	if update.CountFilter != nil && *update.CountFilter != req.params.CountFilter {
		req.params.CountFilter = *update.CountFilter
		req.hits = 0
	}
	return nil
}

func (t *Target) DeleteRequest(h target.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return target.ErrDisconnected
	}
	req := t.requests[h]
	if req == nil {
		return fmt.Errorf("no request %d", h)
	}
	if req.expired && req.params.CountFilter > 0 {
		return target.ErrRequestExpired
	}
	delete(t.requests, h)
	t.deleted = append(t.deleted, h)
	return nil
}

func (t *Target) ResumeEvent(ev target.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return target.ErrDisconnected
	}
	t.resumed[ev.Thread]++
	return nil
}

func (t *Target) TopFrame(thread target.ThreadID) (target.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return target.Frame{}, target.ErrDisconnected
	}
	if fr, ok := t.frames[thread]; ok {
		return fr, nil
	}
	return target.Frame{Thread: thread, Locals: map[string]interface{}{}}, nil
}

// Events returns the event stream of the target.
func (t *Target) Events() <-chan target.Event {
	t.pumpOnce.Do(func() { go t.pump() })
	return t.events
}

func (t *Target) pump() {
	for {
		t.mu.Lock()
		for len(t.queue) == 0 && !t.disconnected {
			t.cond.Wait()
		}
		if len(t.queue) == 0 {
			t.mu.Unlock()
			close(t.events)
			return
		}
		ev := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()
		t.events <- ev
	}
}

// Disconnect simulates the debuggee going away. Queued events are still
// delivered, then the event channel is closed.
func (t *Target) Disconnect() {
	t.mu.Lock()
	t.disconnected = true
	t.cond.Broadcast()
	t.mu.Unlock()
}

package memtarget

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-delve/bpengine/pkg/target"
)

// LoadType prepares a new type and raises a class-prepare event for every
// matching class-prepare request. Nested types (names containing '$') are
// linked to their already loaded enclosing type.
func (t *Target) LoadType(spec TypeSpec) (target.TypeRef, []target.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byName[spec.Name]; ok {
		return t.types[id].ref, nil
	}
	t.nextTypeID++
	ti := &typeInfo{
		ref: target.TypeRef{
			ID:         t.nextTypeID,
			Name:       spec.Name,
			SourceName: spec.SourceName,
			Interface:  spec.Interface,
		},
		fields: make(map[string]bool),
	}
	if !spec.NoLineInfo {
		ti.lines = make(map[int]bool)
		for _, l := range spec.Lines {
			ti.lines[l] = true
		}
	}
	for _, f := range spec.Fields {
		ti.fields[f] = true
	}
	if i := strings.LastIndex(spec.Name, "$"); i > 0 {
		if outer, ok := t.byName[spec.Name[:i]]; ok {
			ti.outer = outer
			t.types[outer].nested = append(t.types[outer].nested, ti.ref.ID)
		}
	}
	t.types[ti.ref.ID] = ti
	t.byName[spec.Name] = ti.ref.ID

	var evs []target.Event
	for _, req := range t.sortedRequests() {
		if req.kind != target.RequestClassPrepare || !req.params.Enabled {
			continue
		}
		if !target.MatchPattern(req.pattern, spec.Name) {
			continue
		}
		evs = append(evs, target.Event{
			Kind:          target.EventClassPrepare,
			Request:       req.handle,
			Thread:        LoaderThread,
			SuspendPolicy: req.params.SuspendPolicy,
			Type:          ti.ref,
		})
	}
	t.enqueue(evs)
	return ti.ref, evs
}

// Redefine simulates a hot swap of the named type: the type keeps its ID,
// its version is incremented and requests created on the old version stop
// firing.
func (t *Target) Redefine(name string, lines []int) (target.TypeRef, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.caps.CanRedefineTypes {
		return target.TypeRef{}, target.ErrUnsupported
	}
	id, ok := t.byName[name]
	if !ok {
		return target.TypeRef{}, fmt.Errorf("type %s not loaded", name)
	}
	ti := t.types[id]
	ti.ref.Version++
	if lines != nil {
		ti.lines = make(map[int]bool)
		for _, l := range lines {
			ti.lines[l] = true
		}
	}
	for _, req := range t.requests {
		if req.kind != target.RequestClassPrepare && req.params.Type.ID == id {
			req.obsolete = true
		}
	}
	return ti.ref, nil
}

// Type returns the current version of the named type.
func (t *Target) Type(name string) (target.TypeRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byName[name]
	if !ok {
		return target.TypeRef{}, false
	}
	return t.types[id].ref, true
}

// SetFrame sets the locals visible when thread is halted.
func (t *Target) SetFrame(thread target.ThreadID, locals map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames[thread] = target.Frame{Thread: thread, Locals: locals}
}

// HitLine makes thread execute line of the named type.
func (t *Target) HitLine(thread target.ThreadID, typeName string, line int, object target.ObjectID) []target.Event {
	return t.fire(typeName, thread, object, func(req *request, typ target.TypeRef) (target.Event, bool) {
		if req.kind != target.RequestLine || req.params.Line != line {
			return target.Event{}, false
		}
		return target.Event{
			Kind:     target.EventBreakpoint,
			Location: target.Location{Type: typ, Line: line},
		}, true
	})
}

// EnterMethod makes thread enter a method of the named type.
func (t *Target) EnterMethod(thread target.ThreadID, typeName, method, signature string, object target.ObjectID) []target.Event {
	return t.method(target.RequestMethodEntry, target.EventMethodEntry, thread, typeName, method, signature, object)
}

// ExitMethod makes thread return from a method of the named type.
func (t *Target) ExitMethod(thread target.ThreadID, typeName, method, signature string, object target.ObjectID) []target.Event {
	return t.method(target.RequestMethodExit, target.EventMethodExit, thread, typeName, method, signature, object)
}

func (t *Target) method(rk target.RequestKind, ek target.EventKind, thread target.ThreadID, typeName, method, signature string, object target.ObjectID) []target.Event {
	return t.fire(typeName, thread, object, func(req *request, typ target.TypeRef) (target.Event, bool) {
		if req.kind != rk {
			return target.Event{}, false
		}
		return target.Event{
			Kind:     ek,
			Location: target.Location{Type: typ, Method: method, Signature: signature},
		}, true
	})
}

// AccessField makes thread read a field of the named type.
func (t *Target) AccessField(thread target.ThreadID, typeName, field string, object target.ObjectID) []target.Event {
	return t.field(target.RequestFieldAccess, target.EventFieldAccess, thread, typeName, field, object)
}

// ModifyField makes thread write a field of the named type.
func (t *Target) ModifyField(thread target.ThreadID, typeName, field string, object target.ObjectID) []target.Event {
	return t.field(target.RequestFieldModification, target.EventFieldModification, thread, typeName, field, object)
}

func (t *Target) field(rk target.RequestKind, ek target.EventKind, thread target.ThreadID, typeName, field string, object target.ObjectID) []target.Event {
	return t.fire(typeName, thread, object, func(req *request, typ target.TypeRef) (target.Event, bool) {
		if req.kind != rk || req.params.Field != field {
			return target.Event{}, false
		}
		return target.Event{
			Kind:     ek,
			Location: target.Location{Type: typ},
			Field:    field,
		}, true
	})
}

// Throw makes thread throw an exception of type exceptionName at line of
// typeName. The exception is caught if caught is true.
func (t *Target) Throw(thread target.ThreadID, exceptionName, typeName string, line int, caught bool) []target.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return nil
	}
	exID, ok := t.byName[exceptionName]
	if !ok {
		return nil
	}
	ex := t.types[exID].ref
	var at target.TypeRef
	if id, ok := t.byName[typeName]; ok {
		at = t.types[id].ref
	} else {
		at = target.TypeRef{Name: typeName}
	}
	loc := target.Location{Type: at, Line: line}
	var catchLoc *target.Location
	if caught {
		catchLoc = &target.Location{Type: at}
	}
	var evs []target.Event
	for _, req := range t.sortedRequests() {
		if req.kind != target.RequestException || !req.params.Enabled || req.expired || req.obsolete {
			continue
		}
		if req.params.Type.ID != ex.ID {
			continue
		}
		if (caught && !req.params.Caught) || (!caught && !req.params.Uncaught) {
			continue
		}
		if !t.filtersMatch(req, thread, 0) || !t.count(req) {
			continue
		}
		evs = append(evs, target.Event{
			Kind:          target.EventException,
			Request:       req.handle,
			Thread:        thread,
			SuspendPolicy: req.params.SuspendPolicy,
			Location:      loc,
			Exception:     ex,
			CatchLocation: catchLoc,
		})
	}
	t.enqueue(evs)
	return evs
}

func (t *Target) fire(typeName string, thread target.ThreadID, object target.ObjectID, match func(*request, target.TypeRef) (target.Event, bool)) []target.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return nil
	}
	id, ok := t.byName[typeName]
	if !ok {
		return nil
	}
	typ := t.types[id].ref
	var evs []target.Event
	for _, req := range t.sortedRequests() {
		if req.kind == target.RequestClassPrepare || !req.params.Enabled || req.expired || req.obsolete {
			continue
		}
		if req.params.Type.ID != id {
			continue
		}
		ev, ok := match(req, typ)
		if !ok || !t.filtersMatch(req, thread, object) || !t.count(req) {
			continue
		}
		ev.Request = req.handle
		ev.Thread = thread
		ev.Object = object
		ev.SuspendPolicy = req.params.SuspendPolicy
		evs = append(evs, ev)
	}
	t.enqueue(evs)
	return evs
}

func (t *Target) filtersMatch(req *request, thread target.ThreadID, object target.ObjectID) bool {
	if req.params.ThreadFilter != 0 && req.params.ThreadFilter != thread {
		return false
	}
	if len(req.params.InstanceFilters) == 0 {
		return true
	}
	for _, o := range req.params.InstanceFilters {
		if o == object {
			return true
		}
	}
	return false
}

// count applies the native count filter of req, it returns true if the
// request fires for this occurrence.
func (t *Target) count(req *request) bool {
	if req.params.CountFilter <= 0 {
		return true
	}
	req.hits++
	if req.hits < req.params.CountFilter {
		return false
	}
	req.expired = true
	return true
}

func (t *Target) sortedRequests() []*request {
	r := make([]*request, 0, len(t.requests))
	for _, req := range t.requests {
		r = append(r, req)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].handle < r[j].handle })
	return r
}

func (t *Target) enqueue(evs []target.Event) {
	if len(evs) == 0 {
		return
	}
	t.queue = append(t.queue, evs...)
	t.cond.Signal()
}

// Requests returns a snapshot of the live requests ordered by handle.
func (t *Target) Requests() []RequestInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	var r []RequestInfo
	for _, req := range t.sortedRequests() {
		r = append(r, RequestInfo{
			Handle:  req.handle,
			Kind:    req.kind,
			Pattern: req.pattern,
			Params:  req.params,
			Expired: req.expired,
		})
	}
	return r
}

// RequestCount returns the number of live requests of kind k.
func (t *Target) RequestCount(k target.RequestKind) int {
	n := 0
	for _, req := range t.Requests() {
		if req.Kind == k {
			n++
		}
	}
	return n
}

// Deleted returns the handles deleted so far, in order.
func (t *Target) Deleted() []target.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]target.Handle(nil), t.deleted...)
}

// Resumed returns how many times events on thread were resumed.
func (t *Target) Resumed(thread target.ThreadID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resumed[thread]
}

// TotalResumed returns how many events were resumed on all threads.
func (t *Target) TotalResumed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.resumed {
		n += c
	}
	return n
}

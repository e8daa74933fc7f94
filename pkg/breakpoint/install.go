package breakpoint

import (
	"errors"
	"sync/atomic"

	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/target"
)

// addToTarget installs s in the target of a. It is idempotent.
func (a *attachment) addToTarget(s *Spec) {
	a.installMu.Lock()
	defer a.installMu.Unlock()
	if !a.reg.markAdded(s) {
		return
	}
	a.e.bus.added(s, a.tid)
	a.install(s)
}

// install creates the listeners and the probes of s. The caller holds
// installMu.
func (a *attachment) install(s *Spec) {
	log := logflags.InstallLogger()
	if s.Kind == ClassPrepareBreakpoint {
		if a.installClassPrepare(s) {
			a.e.conds.invalidate(s, a.tid)
			a.e.bus.installed(s, a.tid)
		}
		return
	}
	for _, pattern := range listenerPatterns(s, a.tid) {
		a.installListener(s, pattern)
	}
	a.types.addAll(a.t.LoadedTypes())
	installed := false
	for _, typ := range candidates(s, a.tid, a.types) {
		if a.installOn(s, typ) {
			installed = true
		}
	}
	if !installed && a.e.cfg.NestedTypeSearch && opsFor(s.Kind).nestedSearch && s.TypeName != "" {
		installed = a.installNested(s)
	}
	if installed {
		a.e.conds.invalidate(s, a.tid)
		a.e.bus.installed(s, a.tid)
	} else {
		log.Debugf("%s deferred in %s", s, a.tid)
	}
}

// installNested walks the types nested in the enclosing type of s and
// installs s in the first one that accepts it. Local and anonymous types
// get synthesized names, so their probes can only be found this way.
func (a *attachment) installNested(s *Spec) bool {
	queue := a.t.LoadedTypesNamed(topLevel(s.TypeName))
	seen := make(map[uint64]bool)
	for len(queue) > 0 {
		typ := queue[0]
		queue = queue[1:]
		if seen[typ.ID] {
			continue
		}
		seen[typ.ID] = true
		for _, nested := range a.t.NestedTypesOf(typ) {
			a.types.add(nested)
			if !nested.Interface && a.installOn(s, nested) {
				logflags.InstallLogger().Debugf("%s installed in nested type %s", s, nested.Name)
				return true
			}
			queue = append(queue, nested)
		}
	}
	return false
}

func (a *attachment) installListener(s *Spec, pattern string) {
	h, err := a.t.CreateClassPrepareRequest(pattern, target.SuspendThread)
	if err != nil {
		a.logRequestError(s, "class-prepare listener", err)
		return
	}
	p := &probe{spec: s, tid: a.tid, role: roleListener, handle: h, listener: true, enabled: true}
	if err := a.reg.register(p); err != nil {
		logflags.InstallLogger().Errorf("could not register listener for %s: %v", s, err)
		a.deleteRequest(p)
	}
}

// installClassPrepare creates the request of a ClassPrepareBreakpoint.
func (a *attachment) installClassPrepare(s *Spec) bool {
	h, err := a.t.CreateClassPrepareRequest(s.TypeName, s.SuspendPolicy())
	if err != nil {
		a.logRequestError(s, "class-prepare request", err)
		return false
	}
	p := &probe{spec: s, tid: a.tid, role: roleClassPrepare, handle: h, enabled: true, policy: s.SuspendPolicy()}
	a.armSimulated(p, s.HitCount())
	if !s.Enabled() {
		disabled := false
		if err := a.t.UpdateRequest(h, target.RequestUpdate{Enabled: &disabled}); err != nil {
			a.logRequestError(s, "class-prepare request", err)
		}
		p.enabled = false
	}
	if err := a.reg.register(p); err != nil {
		logflags.InstallLogger().Errorf("could not register %s: %v", p, err)
		a.deleteRequest(p)
		return false
	}
	return true
}

// installOn creates the probes of s in typ and returns true if s has at
// least one probe there afterwards.
func (a *attachment) installOn(s *Spec, typ target.TypeRef) bool {
	if typ.Interface {
		return false
	}
	existing := make(map[role]bool)
	for _, p := range a.reg.snapshot(s) {
		if !p.listener && p.typ.ID == typ.ID && p.typ.Version == typ.Version {
			existing[p.role] = true
		}
	}
	installed := false
	for _, r := range opsFor(s.Kind).roles {
		if existing[r] {
			installed = true
			continue
		}
		p := a.newProbe(s, typ, r)
		if p == nil {
			continue
		}
		if err := a.reg.register(p); err != nil {
			logflags.InstallLogger().Errorf("could not register %s: %v", p, err)
			a.deleteRequest(p)
			continue
		}
		logflags.InstallLogger().Debugf("installed %s", p)
		installed = true
	}
	return installed
}

// nativeCount returns true if the hit count of s can be delegated to the
// count filter of its requests in this target.
func (a *attachment) nativeCount(s *Spec) bool {
	return opsFor(s.Kind).nativeHitCount && a.t.Capabilities().CanUseCountFilters && !s.HasCondition()
}

func (a *attachment) armSimulated(p *probe, hitCount int) {
	p.hitCount = hitCount
	p.simulated = hitCount > 0
	p.resetCounter(hitCount)
}

// newProbe creates the native request for role r of s in typ. The probe
// is not registered. It returns nil if the request could not be created.
func (a *attachment) newProbe(s *Spec, typ target.TypeRef, r role) *probe {
	ops := opsFor(s.Kind)
	params := ops.params(s, typ, r)
	params.SuspendPolicy = s.SuspendPolicy()
	params.Enabled = s.Enabled() && ops.roleEnabled(s, r)

	p := &probe{spec: s, tid: a.tid, role: r, typ: typ, policy: params.SuspendPolicy, enabled: params.Enabled}
	if hc := s.HitCount(); hc > 0 {
		if a.nativeCount(s) {
			params.CountFilter = hc
			p.countFilter = hc
			p.hitCount = hc
		} else {
			a.armSimulated(p, hc)
		}
	}
	if th, ok := s.ThreadFilter(a.tid); ok {
		params.ThreadFilter = th
	}
	if objs := s.InstanceFilters(a.tid); len(objs) > 0 && a.t.Capabilities().CanUseInstanceFilters {
		params.InstanceFilters = objs
	}

	h, err := a.t.CreateProbeRequest(r.requestKind(), params)
	if err != nil {
		a.logRequestError(s, r.String()+" request in "+typ.Name, err)
		return nil
	}
	p.handle = h
	return p
}

// logRequestError absorbs a failure to create a request.
func (a *attachment) logRequestError(s *Spec, what string, err error) {
	log := logflags.InstallLogger()
	switch {
	case isUnresolved(err):
		log.Debugf("%s: %s not resolved yet: %v", s, what, err)
	case isTransient(err) && !a.t.Available():
		log.Debugf("%s: target %s going away: %v", s, a.tid, err)
	case errors.Is(err, target.ErrUnsupported):
		log.Warnf("%s: %s not supported by target %s", s, what, a.tid)
	default:
		log.Errorf("%s: could not create %s: %v", s, what, err)
	}
}

// deleteRequest deletes the native request of p. Requests whose count
// filter already fired are left alone, they are reclaimed on detach.
func (a *attachment) deleteRequest(p *probe) {
	if p.isExpiredLocally() {
		return
	}
	err := a.t.DeleteRequest(p.handle)
	switch {
	case err == nil:
	case errors.Is(err, target.ErrRequestExpired):
		logflags.InstallLogger().Debugf("%s already expired", p)
	case isTransient(err) && !a.t.Available():
	default:
		logflags.InstallLogger().Errorf("could not delete %s: %v", p, err)
	}
}

// handleClassPrepare installs the spec of listener in the newly prepared
// type of ev.
func (a *attachment) handleClassPrepare(listener *probe, ev target.Event) {
	a.types.add(ev.Type)
	s := listener.spec
	a.installMu.Lock()
	defer a.installMu.Unlock()
	if !a.reg.isAdded(s) || !acceptsType(s, a.tid, ev.Type) {
		return
	}
	if a.installOn(s, ev.Type) {
		a.e.conds.invalidate(s, a.tid)
		a.e.bus.installed(s, a.tid)
	}
}

// changeForTarget applies the policy of s to its probes in the target.
func (a *attachment) changeForTarget(s *Spec) {
	a.installMu.Lock()
	defer a.installMu.Unlock()
	if !a.reg.isAdded(s) {
		return
	}
	for _, p := range a.reg.snapshot(s) {
		if !p.listener {
			a.changeProbe(p)
		}
	}
}

func (a *attachment) changeProbe(p *probe) {
	s := p.spec
	enabled := s.Enabled() && opsFor(s.Kind).roleEnabled(s, p.role)
	policy := s.SuspendPolicy()
	hc := s.HitCount()
	wantCount := 0
	if hc > 0 && p.role != roleClassPrepare && a.nativeCount(s) {
		wantCount = hc
	}

	p.mu.Lock()
	reenabled := enabled && !p.enabled
	if reenabled && p.isExpiredLocally() {
		p.mu.Unlock()
		a.recreate(p)
		return
	}
	var upd target.RequestUpdate
	if p.enabled != enabled {
		upd.Enabled = &enabled
	}
	if p.policy != policy {
		upd.SuspendPolicy = &policy
	}
	if p.countFilter != wantCount {
		upd.CountFilter = &wantCount
	}
	p.mu.Unlock()

	if !upd.Empty() {
		err := a.t.UpdateRequest(p.handle, upd)
		switch {
		case err == nil:
		case errors.Is(err, target.ErrNotMutable), errors.Is(err, target.ErrRequestExpired):
			logflags.InstallLogger().Debugf("recreating %s: %v", p, err)
			a.recreate(p)
			return
		default:
			a.logRequestError(s, "update of "+p.String(), err)
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	p.policy = policy
	if upd.CountFilter != nil {
		p.countFilter = wantCount
		atomic.StoreInt32(&p.expiredLocally, 0)
	}
	simulated := hc > 0 && wantCount == 0
	if simulated != p.simulated || hc != p.hitCount || (reenabled && simulated) {
		p.simulated = simulated
		p.hitCount = hc
		p.resetCounter(hc)
	}
}

// recreate replaces p with a new request built from the current policy of
// its spec. If the new request can not be created p is kept.
func (a *attachment) recreate(old *probe) {
	var np *probe
	if old.role == roleClassPrepare {
		h, err := a.t.CreateClassPrepareRequest(old.spec.TypeName, old.spec.SuspendPolicy())
		if err != nil {
			a.logRequestError(old.spec, "class-prepare request", err)
			return
		}
		np = &probe{spec: old.spec, tid: a.tid, role: roleClassPrepare, handle: h, enabled: true, policy: old.spec.SuspendPolicy()}
		a.armSimulated(np, old.spec.HitCount())
		if !old.spec.Enabled() {
			disabled := false
			if err := a.t.UpdateRequest(h, target.RequestUpdate{Enabled: &disabled}); err == nil {
				np.enabled = false
			}
		}
	} else {
		np = a.newProbe(old.spec, old.typ, old.role)
	}
	if np == nil {
		return
	}
	if !a.reg.swap(old, np) {
		a.deleteRequest(np)
		return
	}
	a.deleteRequest(old)
	logflags.InstallLogger().Debugf("replaced request %d with %s", old.handle, np)
}

// removeFromTarget deletes every probe of s from the target.
func (a *attachment) removeFromTarget(s *Spec) {
	a.installMu.Lock()
	removed := a.reg.isAdded(s)
	probes, rearmed := a.reg.removeSpec(s)
	for _, p := range probes {
		a.deleteRequest(p)
	}
	a.installMu.Unlock()
	a.e.conds.invalidate(s, a.tid)
	if removed {
		s.forgetTarget(a.tid)
		a.e.bus.removed(s, a.tid)
	}
	if rearmed {
		a.e.bus.rearmed(s)
	}
}

// reinstall removes the probes of s and installs them again, used when
// something that is part of the native requests changed.
func (a *attachment) reinstall(s *Spec) {
	a.installMu.Lock()
	defer a.installMu.Unlock()
	if !a.reg.isAdded(s) {
		return
	}
	probes, rearmed := a.reg.removeSpec(s)
	for _, p := range probes {
		a.deleteRequest(p)
	}
	if rearmed {
		a.e.bus.rearmed(s)
	}
	a.reg.markAdded(s)
	a.install(s)
}

// handleTypesRedefined moves the probes installed in the old versions of
// types to the new ones.
func (a *attachment) handleTypesRedefined(types []target.TypeRef) {
	redefined := make(map[uint64]target.TypeRef, len(types))
	for _, typ := range types {
		a.types.add(typ)
		redefined[typ.ID] = typ
	}
	a.installMu.Lock()
	defer a.installMu.Unlock()
	for _, s := range a.reg.addedSpecs() {
		var moved []target.TypeRef
		for _, p := range a.reg.snapshot(s) {
			if p.listener || p.role == roleClassPrepare {
				continue
			}
			typ, ok := redefined[p.typ.ID]
			if !ok || typ.Version == p.typ.Version {
				continue
			}
			if a.reg.deregister(p) {
				a.e.bus.rearmed(s)
			}
			a.deleteRequest(p)
			moved = append(moved, typ)
		}
		if len(moved) == 0 {
			continue
		}
		a.e.conds.invalidate(s, a.tid)
		installed := false
		for _, typ := range moved {
			if a.installOn(s, typ) {
				installed = true
			}
		}
		if installed {
			a.e.bus.installed(s, a.tid)
		}
	}
}

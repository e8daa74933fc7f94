package breakpoint

import (
	"sync"

	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/target"
)

// registry records the probes installed in one target. It is the only
// place where install counts change: register and deregister update the
// probe lists and the install count of the spec together.
type registry struct {
	mu       sync.Mutex
	probes   map[*Spec][]*probe
	byHandle map[target.Handle]*probe
	added    map[*Spec]bool
	closed   bool
}

func newRegistry() *registry {
	return &registry{
		probes:   make(map[*Spec][]*probe),
		byHandle: make(map[target.Handle]*probe),
		added:    make(map[*Spec]bool),
	}
}

// markAdded records that s was added to the target, it returns false if
// it already was.
func (r *registry) markAdded(s *Spec) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.added[s] {
		return false
	}
	r.added[s] = true
	return true
}

func (r *registry) isAdded(s *Spec) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.added[s]
}

// addedSpecs returns the specs added to the target.
func (r *registry) addedSpecs() []*Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	specs := make([]*Spec, 0, len(r.added))
	for s := range r.added {
		specs = append(specs, s)
	}
	return specs
}

// register records p. Non-listener probes increment the install count of
// their spec, if that fails p is not registered.
func (r *registry) register(p *probe) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return target.ErrDisconnected
	}
	if !p.listener {
		if err := p.spec.incrementInstallCount(); err != nil {
			return err
		}
	}
	r.probes[p.spec] = append(r.probes[p.spec], p)
	r.byHandle[p.handle] = p
	return nil
}

// deregister forgets p and decrements the install count of its spec. It
// returns true if the spec was re-armed.
func (r *registry) deregister(p *probe) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.unlink(p) {
		return false
	}
	return r.decrement(p)
}

func (r *registry) unlink(p *probe) bool {
	list := r.probes[p.spec]
	for i := range list {
		if list[i] == p {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(r.probes, p.spec)
			} else {
				r.probes[p.spec] = list
			}
			if r.byHandle[p.handle] == p {
				delete(r.byHandle, p.handle)
			}
			return true
		}
	}
	return false
}

func (r *registry) decrement(p *probe) bool {
	if p.listener {
		return false
	}
	rearmed, err := p.spec.decrementInstallCount()
	if err != nil {
		logflags.InstallLogger().Errorf("could not update install count of %s: %v", p.spec, err)
	}
	return rearmed
}

// swap replaces old with repl in place. Both probes have the same spec and
// role so the install count is unchanged.
func (r *registry) swap(old, repl *probe) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.probes[old.spec]
	for i := range list {
		if list[i] == old {
			list[i] = repl
			delete(r.byHandle, old.handle)
			r.byHandle[repl.handle] = repl
			return true
		}
	}
	return false
}

func (r *registry) lookup(h target.Handle) *probe {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byHandle[h]
}

// snapshot returns a copy of the probe list of s.
func (r *registry) snapshot(s *Spec) []*probe {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*probe(nil), r.probes[s]...)
}

func (r *registry) all() []*probe {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ps []*probe
	for _, list := range r.probes {
		ps = append(ps, list...)
	}
	return ps
}

// removeSpec forgets s and every probe of s. The removed probes are
// returned so that their native requests can be deleted, rearmed is true
// if s was re-armed.
func (r *registry) removeSpec(s *Spec) (list []*probe, rearmed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.added, s)
	list = r.probes[s]
	delete(r.probes, s)
	for _, p := range list {
		if r.byHandle[p.handle] == p {
			delete(r.byHandle, p.handle)
		}
		if r.decrement(p) {
			rearmed = true
		}
	}
	return list, rearmed
}

// tearDown closes the registry and forgets everything in one step. It
// returns the specs that were added to the target and the ones re-armed.
func (r *registry) tearDown() (specs, rearmed []*Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil
	}
	r.closed = true
	specs = make([]*Spec, 0, len(r.added))
	for s := range r.added {
		specs = append(specs, s)
	}
	for _, list := range r.probes {
		for _, p := range list {
			if r.decrement(p) {
				rearmed = append(rearmed, p.spec)
			}
		}
	}
	r.probes = make(map[*Spec][]*probe)
	r.byHandle = make(map[target.Handle]*probe)
	r.added = make(map[*Spec]bool)
	return specs, rearmed
}

package breakpoint

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-delve/bpengine/pkg/target"
)

// probe is one native request installed on behalf of a Spec in a target.
type probe struct {
	spec   *Spec
	tid    target.ID
	role   role
	typ    target.TypeRef
	handle target.Handle

	// listener is set for the class-prepare requests that only watch for
	// the type of spec to be loaded.
	listener bool

	// mu guards the fields below, they are written by the install
	// coordinator and read by the dispatcher.
	mu sync.Mutex
	// simulated is set when the hit count is counted by the dispatcher
	// instead of by a native count filter.
	simulated   bool
	hitCount    int
	countFilter int
	policy      target.SuspendPolicy
	enabled     bool

	// remaining is the number of hits left before a simulated hit count
	// expires, accessed atomically.
	remaining int64
	// expiredLocally is set, atomically, once the native count filter of
	// the request fired.
	expiredLocally int32
}

func (p *probe) String() string {
	if p.listener {
		return fmt.Sprintf("listener %d for %s", p.handle, p.spec)
	}
	return fmt.Sprintf("%s probe %d on %s for %s", p.role, p.handle, p.typ, p.spec)
}

// mode returns how hits of p are counted.
func (p *probe) mode() (simulated bool, countFilter int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.simulated, p.countFilter
}

// resetCounter re-arms the simulated hit counter of p.
func (p *probe) resetCounter(hitCount int) {
	atomic.StoreInt64(&p.remaining, int64(hitCount))
}

// countHit decrements the simulated counter and reports whether this hit
// is the one that exhausts it. Exactly one caller observes true.
func (p *probe) countHit() bool {
	return atomic.AddInt64(&p.remaining, -1) == 0
}

func (p *probe) markExpiredLocally() {
	atomic.StoreInt32(&p.expiredLocally, 1)
}

func (p *probe) isExpiredLocally() bool {
	return atomic.LoadInt32(&p.expiredLocally) != 0
}

// ProbeInfo describes an installed probe.
type ProbeInfo struct {
	Breakpoint     *Spec
	Target         target.ID
	Role           string
	Type           target.TypeRef
	Handle         target.Handle
	Listener       bool
	Enabled        bool
	Simulated      bool
	Remaining      int
	ExpiredLocally bool
}

func (p *probe) info() ProbeInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProbeInfo{
		Breakpoint:     p.spec,
		Target:         p.tid,
		Role:           p.role.String(),
		Type:           p.typ,
		Handle:         p.handle,
		Listener:       p.listener,
		Enabled:        p.enabled,
		Simulated:      p.simulated,
		Remaining:      int(atomic.LoadInt64(&p.remaining)),
		ExpiredLocally: p.isExpiredLocally(),
	}
}

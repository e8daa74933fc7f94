// Package dap reports breakpoint engine notifications to a front-end
// speaking the Debug Adapter Protocol.
// https://microsoft.github.io/debug-adapter-protocol/specification
//
// Only events are produced: the notifier is attached to an engine as a
// breakpoint.Listener and never reads requests.
package dap

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-dap"

	"github.com/go-delve/bpengine/pkg/breakpoint"
	"github.com/go-delve/bpengine/pkg/eval"
	"github.com/go-delve/bpengine/pkg/logflags"
	"github.com/go-delve/bpengine/pkg/target"
)

// Notifier implements breakpoint.Listener by writing DAP events to a
// connection.
type Notifier struct {
	mu   sync.Mutex
	conn io.Writer
	seq  int
	log  logflags.Logger

	// installed tracks, for each breakpoint, the targets where it has been
	// installed. A breakpoint is verified while at least one target has it.
	installed map[int]map[target.ID]bool
}

// NewNotifier returns a notifier writing to conn.
func NewNotifier(conn io.Writer) *Notifier {
	return &Notifier{
		conn:      conn,
		log:       logflags.DAPLogger(),
		installed: make(map[int]map[target.ID]bool),
	}
}

var _ breakpoint.Listener = (*Notifier)(nil)

func (n *Notifier) OnAdded(bp *breakpoint.Spec, tid target.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	reason := "changed"
	if n.installed[bp.ID] == nil {
		n.installed[bp.ID] = make(map[target.ID]bool)
		reason = "new"
	}
	n.sendBreakpoint(reason, bp)
}

func (n *Notifier) OnInstalled(bp *breakpoint.Spec, tid target.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.installed[bp.ID] == nil {
		n.installed[bp.ID] = make(map[target.ID]bool)
	}
	n.installed[bp.ID][tid] = true
	n.sendBreakpoint("changed", bp)
}

func (n *Notifier) OnRemoved(bp *breakpoint.Spec, tid target.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	m := n.installed[bp.ID]
	delete(m, tid)
	if len(m) > 0 {
		n.sendBreakpoint("changed", bp)
		return
	}
	delete(n.installed, bp.ID)
	n.sendBreakpoint("removed", bp)
}

// OnRearmed reports the breakpoint as changed if the client still knows it.
func (n *Notifier) OnRearmed(bp *breakpoint.Spec) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.installed[bp.ID]; !ok {
		return
	}
	n.sendBreakpoint("changed", bp)
}

func (n *Notifier) OnSuspended(hit breakpoint.Hit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e := &dap.StoppedEvent{
		Event: *newEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:            stopReason(hit.Event.Kind),
			Description:       hit.Breakpoint.String(),
			ThreadId:          int(hit.Event.Thread),
			AllThreadsStopped: hit.Event.SuspendPolicy == target.SuspendAll,
		},
	}
	n.send(e)
}

func (n *Notifier) OnConditionCompileError(bp *breakpoint.Spec, err *eval.CompileError) {
	n.output(bp, err)
}

func (n *Notifier) OnConditionRuntimeError(bp *breakpoint.Spec, err error) {
	n.output(bp, err)
}

func (n *Notifier) output(bp *breakpoint.Spec, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Category: "stderr",
			Output:   fmt.Sprintf("%s: %v\n", bp, err),
			Line:     bp.Line,
		},
	})
}

// sendBreakpoint must be called with n.mu held.
func (n *Notifier) sendBreakpoint(reason string, bp *breakpoint.Spec) {
	b := dap.Breakpoint{
		Id:       bp.ID,
		Verified: len(n.installed[bp.ID]) > 0,
		Line:     bp.Line,
	}
	if !b.Verified && reason != "removed" {
		b.Message = "unresolved breakpoint " + bp.String()
	}
	n.send(&dap.BreakpointEvent{
		Event: *newEvent("breakpoint"),
		Body:  dap.BreakpointEventBody{Reason: reason, Breakpoint: b},
	})
}

// send must be called with n.mu held.
func (n *Notifier) send(message dap.Message) {
	n.seq++
	switch m := message.(type) {
	case *dap.BreakpointEvent:
		m.Seq = n.seq
	case *dap.StoppedEvent:
		m.Seq = n.seq
	case *dap.OutputEvent:
		m.Seq = n.seq
	}
	if logflags.DAP() {
		jsonmsg, _ := json.Marshal(message)
		n.log.Debug("[-> to client]", string(jsonmsg))
	}
	if err := dap.WriteProtocolMessage(n.conn, message); err != nil {
		n.log.Errorf("could not send event: %v", err)
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func stopReason(k target.EventKind) string {
	switch k {
	case target.EventException:
		return "exception"
	case target.EventFieldAccess, target.EventFieldModification:
		return "data breakpoint"
	case target.EventMethodEntry, target.EventMethodExit:
		return "function breakpoint"
	default:
		return "breakpoint"
	}
}

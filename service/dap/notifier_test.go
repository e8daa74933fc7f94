package dap

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/go-delve/bpengine/pkg/attrstore"
	"github.com/go-delve/bpengine/pkg/breakpoint"
	"github.com/go-delve/bpengine/pkg/eval"
	"github.com/go-delve/bpengine/pkg/target"
	"github.com/go-delve/bpengine/pkg/target/memtarget"
	"github.com/go-delve/bpengine/service/dap/daptest"
)

func assertNoError(err error, t testing.TB, s string) {
	t.Helper()
	if err != nil {
		t.Fatalf("failed assertion %s: %v", s, err)
	}
}

func TestNotifierBreakpointLifecycle(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&buf)
	e, err := breakpoint.New(nil, nil)
	assertNoError(err, t, "New")
	e.AddListener(n)

	bp, err := breakpoint.NewLineBreakpoint(attrstore.NewMemStore(), "p.A", 7)
	assertNoError(err, t, "NewLineBreakpoint")
	assertNoError(e.Add(bp), t, "Add")

	tgt := memtarget.New(memtarget.FullCapabilities())
	assertNoError(e.Attach(tgt), t, "Attach")
	_, evs := tgt.LoadType(memtarget.TypeSpec{Name: "p.A", Lines: []int{7}})
	for _, ev := range evs {
		e.Dispatch(tgt.ID(), ev)
	}
	evs = tgt.HitLine(3, "p.A", 7, 0)
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %v", evs)
	}
	if d := e.Dispatch(tgt.ID(), evs[0]); d != breakpoint.Suspend {
		t.Fatalf("expected Suspend, got %v", d)
	}
	_, err = e.Remove(bp.ID)
	assertNoError(err, t, "Remove")

	c := daptest.NewClient(&buf)
	added := c.ExpectBreakpointEvent(t, "new")
	if added.Body.Breakpoint.Id != bp.ID || added.Body.Breakpoint.Verified || added.Body.Breakpoint.Message == "" {
		t.Fatalf("unexpected new breakpoint %#v", added.Body.Breakpoint)
	}
	installed := c.ExpectBreakpointEvent(t, "changed")
	if !installed.Body.Breakpoint.Verified || installed.Body.Breakpoint.Line != 7 {
		t.Fatalf("unexpected installed breakpoint %#v", installed.Body.Breakpoint)
	}
	stopped := c.ExpectStoppedEvent(t)
	if stopped.Body.Reason != "breakpoint" || stopped.Body.ThreadId != 3 || stopped.Body.AllThreadsStopped {
		t.Fatalf("unexpected stopped event %#v", stopped.Body)
	}
	removed := c.ExpectBreakpointEvent(t, "removed")
	if removed.Body.Breakpoint.Verified {
		t.Fatalf("removed breakpoint still verified")
	}
	if removed.Seq <= stopped.Seq || stopped.Seq <= installed.Seq || installed.Seq <= added.Seq {
		t.Fatalf("sequence numbers not increasing: %d %d %d %d", added.Seq, installed.Seq, stopped.Seq, removed.Seq)
	}
	c.ExpectEOF(t)
}

func TestNotifierVerifiedAcrossTargets(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&buf)
	bp, err := breakpoint.NewMethodBreakpoint(attrstore.NewMemStore(), "p.A", "run", "", true, false)
	assertNoError(err, t, "NewMethodBreakpoint")

	n.OnAdded(bp, target.ID("one"))
	n.OnInstalled(bp, target.ID("one"))
	n.OnAdded(bp, target.ID("two"))
	n.OnInstalled(bp, target.ID("two"))
	n.OnRemoved(bp, target.ID("one"))
	n.OnRemoved(bp, target.ID("two"))

	c := daptest.NewClient(&buf)
	c.ExpectBreakpointEvent(t, "new")
	c.ExpectBreakpointEvent(t, "changed")
	if e := c.ExpectBreakpointEvent(t, "changed"); !e.Body.Breakpoint.Verified {
		t.Fatal("breakpoint installed in one target is not verified")
	}
	c.ExpectBreakpointEvent(t, "changed")
	if e := c.ExpectBreakpointEvent(t, "changed"); !e.Body.Breakpoint.Verified {
		t.Fatal("breakpoint still installed in one target is not verified")
	}
	c.ExpectBreakpointEvent(t, "removed")
	c.ExpectEOF(t)
}

func TestNotifierRearmed(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&buf)
	bp, err := breakpoint.NewLineBreakpoint(attrstore.NewMemStore(), "p.A", 7)
	assertNoError(err, t, "NewLineBreakpoint")

	n.OnRearmed(bp)
	n.OnAdded(bp, target.ID("one"))
	n.OnRearmed(bp)
	n.OnRemoved(bp, target.ID("one"))
	n.OnRearmed(bp)

	c := daptest.NewClient(&buf)
	c.ExpectBreakpointEvent(t, "new")
	c.ExpectBreakpointEvent(t, "changed")
	c.ExpectBreakpointEvent(t, "removed")
	c.ExpectEOF(t)
}

func TestNotifierConditionErrors(t *testing.T) {
	var buf bytes.Buffer
	n := NewNotifier(&buf)
	bp, err := breakpoint.NewLineBreakpoint(attrstore.NewMemStore(), "p.A", 7)
	assertNoError(err, t, "NewLineBreakpoint")

	n.OnConditionCompileError(bp, &eval.CompileError{Source: "x >", Messages: []string{"unexpected EOF"}})
	n.OnConditionRuntimeError(bp, &eval.RuntimeError{Source: "x > 1", Err: errors.New("undefined: x")})

	c := daptest.NewClient(&buf)
	for _, want := range []string{"unexpected EOF", "undefined: x"} {
		e := c.ExpectOutputEvent(t)
		if e.Body.Category != "stderr" || !strings.Contains(e.Body.Output, want) {
			t.Fatalf("unexpected output event %#v", e.Body)
		}
	}
	c.ExpectEOF(t)
}

func TestStopReason(t *testing.T) {
	tests := map[target.EventKind]string{
		target.EventBreakpoint:        "breakpoint",
		target.EventException:         "exception",
		target.EventFieldModification: "data breakpoint",
		target.EventMethodExit:        "function breakpoint",
	}
	for k, want := range tests {
		if got := stopReason(k); got != want {
			t.Errorf("stopReason(%v) = %q, want %q", k, got, want)
		}
	}
}

package memtarget

import (
	"errors"
	"testing"
	"time"

	"github.com/go-delve/bpengine/pkg/target"
)

func assertNoError(err error, t testing.TB, s string) {
	t.Helper()
	if err != nil {
		t.Fatalf("failed assertion %s: %v", s, err)
	}
}

func TestNestedTypesAreLinked(t *testing.T) {
	tgt := New(FullCapabilities())
	outer, _ := tgt.LoadType(TypeSpec{Name: "p.Outer", Lines: []int{10}})
	inner, _ := tgt.LoadType(TypeSpec{Name: "p.Outer$1", Lines: []int{12}})
	tgt.LoadType(TypeSpec{Name: "p.Orphan$1"})

	nested := tgt.NestedTypesOf(outer)
	if len(nested) != 1 || nested[0].ID != inner.ID {
		t.Fatalf("unexpected nested types of %v: %v", outer, nested)
	}
	if again, _ := tgt.LoadType(TypeSpec{Name: "p.Outer"}); again.ID != outer.ID {
		t.Fatalf("loading twice created a new type: %v %v", again, outer)
	}
	if n := len(tgt.LoadedTypes()); n != 3 {
		t.Fatalf("expected 3 loaded types, got %d", n)
	}
}

func TestCreateProbeRequestValidation(t *testing.T) {
	caps := FullCapabilities()
	caps.CanWatchFieldAccess = false
	tgt := New(caps)
	typ, _ := tgt.LoadType(TypeSpec{Name: "p.A", Lines: []int{5}, Fields: []string{"x"}})
	bare, _ := tgt.LoadType(TypeSpec{Name: "p.B", NoLineInfo: true})

	tests := []struct {
		kind   target.RequestKind
		params target.ProbeParams
		err    error
	}{
		{target.RequestLine, target.ProbeParams{Type: typ, Line: 6}, target.ErrNoLocation},
		{target.RequestLine, target.ProbeParams{Type: bare, Line: 5}, target.ErrAbsentInformation},
		{target.RequestLine, target.ProbeParams{Type: target.TypeRef{ID: typ.ID, Version: 3}, Line: 5}, target.ErrNotPrepared},
		{target.RequestFieldAccess, target.ProbeParams{Type: typ, Field: "x"}, target.ErrUnsupported},
		{target.RequestFieldModification, target.ProbeParams{Type: typ, Field: "y"}, target.ErrNoLocation},
		{target.RequestLine, target.ProbeParams{Type: typ, Line: 5}, nil},
	}
	for _, tc := range tests {
		_, err := tgt.CreateProbeRequest(tc.kind, tc.params)
		if !errors.Is(err, tc.err) {
			t.Errorf("%v %+v: expected %v, got %v", tc.kind, tc.params, tc.err, err)
		}
	}
}

func TestCountFilter(t *testing.T) {
	tgt := New(FullCapabilities())
	typ, _ := tgt.LoadType(TypeSpec{Name: "p.A", Lines: []int{5}})
	h, err := tgt.CreateProbeRequest(target.RequestLine, target.ProbeParams{Type: typ, Line: 5, Enabled: true, CountFilter: 3})
	assertNoError(err, t, "CreateProbeRequest")

	var fired []int
	for i := 1; i <= 5; i++ {
		if evs := tgt.HitLine(2, "p.A", 5, 0); len(evs) > 0 {
			fired = append(fired, i)
		}
	}
	if len(fired) != 1 || fired[0] != 3 {
		t.Fatalf("expected a single event on the 3rd hit, got %v", fired)
	}
	if err := tgt.UpdateRequest(h, target.RequestUpdate{CountFilter: new(int)}); !errors.Is(err, target.ErrRequestExpired) {
		t.Fatalf("expected ErrRequestExpired, got %v", err)
	}
	if err := tgt.DeleteRequest(h); !errors.Is(err, target.ErrRequestExpired) {
		t.Fatalf("expected ErrRequestExpired, got %v", err)
	}
}

func TestImmutableSuspendPolicy(t *testing.T) {
	tgt := New(FullCapabilities())
	typ, _ := tgt.LoadType(TypeSpec{Name: "p.A"})
	h, err := tgt.CreateProbeRequest(target.RequestMethodEntry, target.ProbeParams{Type: typ, Enabled: true})
	assertNoError(err, t, "CreateProbeRequest")
	all := target.SuspendAll
	if err := tgt.UpdateRequest(h, target.RequestUpdate{SuspendPolicy: &all}); !errors.Is(err, target.ErrNotMutable) {
		t.Fatalf("expected ErrNotMutable, got %v", err)
	}
	off := false
	assertNoError(tgt.UpdateRequest(h, target.RequestUpdate{Enabled: &off}), t, "UpdateRequest")
	if evs := tgt.EnterMethod(2, "p.A", "run", "()V", 0); len(evs) != 0 {
		t.Fatalf("disabled request fired: %v", evs)
	}
}

func TestRedefineObsoletesRequests(t *testing.T) {
	tgt := New(FullCapabilities())
	typ, _ := tgt.LoadType(TypeSpec{Name: "p.A", Lines: []int{5}})
	_, err := tgt.CreateProbeRequest(target.RequestLine, target.ProbeParams{Type: typ, Line: 5, Enabled: true})
	assertNoError(err, t, "CreateProbeRequest")

	redef, err := tgt.Redefine("p.A", []int{5, 6})
	assertNoError(err, t, "Redefine")
	if redef.ID != typ.ID || redef.Version != typ.Version+1 {
		t.Fatalf("unexpected redefined type %v (was %v)", redef, typ)
	}
	if evs := tgt.HitLine(2, "p.A", 5, 0); len(evs) != 0 {
		t.Fatalf("obsolete request fired: %v", evs)
	}
	if _, err := tgt.CreateProbeRequest(target.RequestLine, target.ProbeParams{Type: typ, Line: 5}); !errors.Is(err, target.ErrNotPrepared) {
		t.Fatalf("expected ErrNotPrepared for the old version, got %v", err)
	}
	_, err = tgt.CreateProbeRequest(target.RequestLine, target.ProbeParams{Type: redef, Line: 6, Enabled: true})
	assertNoError(err, t, "CreateProbeRequest(redefined)")
}

func TestThrowRoles(t *testing.T) {
	tgt := New(FullCapabilities())
	ex, _ := tgt.LoadType(TypeSpec{Name: "p.Boom"})
	tgt.LoadType(TypeSpec{Name: "p.A", Lines: []int{5}})
	_, err := tgt.CreateProbeRequest(target.RequestException, target.ProbeParams{Type: ex, Uncaught: true, Enabled: true})
	assertNoError(err, t, "CreateProbeRequest")

	if evs := tgt.Throw(2, "p.Boom", "p.A", 5, true); len(evs) != 0 {
		t.Fatalf("caught exception fired an uncaught-only request: %v", evs)
	}
	evs := tgt.Throw(2, "p.Boom", "p.A", 5, false)
	if len(evs) != 1 || evs[0].CatchLocation != nil || evs[0].Exception.ID != ex.ID {
		t.Fatalf("unexpected events %v", evs)
	}
}

func TestEventsClosedOnDisconnect(t *testing.T) {
	tgt := New(FullCapabilities())
	ch := tgt.Events()
	_, evs := tgt.LoadType(TypeSpec{Name: "p.A"})
	if len(evs) != 0 {
		t.Fatalf("no class-prepare request, got %v", evs)
	}
	_, err := tgt.CreateClassPrepareRequest("p.*", target.SuspendThread)
	assertNoError(err, t, "CreateClassPrepareRequest")
	_, evs = tgt.LoadType(TypeSpec{Name: "p.B"})
	if len(evs) != 1 || evs[0].Thread != LoaderThread {
		t.Fatalf("unexpected class-prepare events %v", evs)
	}
	tgt.Disconnect()

	var got []target.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				if len(got) != 1 || got[0].Type.Name != "p.B" {
					t.Fatalf("unexpected delivered events %v", got)
				}
				if tgt.Available() {
					t.Fatal("target still available after Disconnect")
				}
				return
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("event channel was not closed")
		}
	}
}

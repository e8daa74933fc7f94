package breakpoint

import (
	"sort"
	"sync"
	"testing"

	"github.com/go-delve/bpengine/pkg/target"
)

// mapStore is a minimal AttributeStore for the tests of this package.
type mapStore struct {
	mu sync.Mutex
	m  map[string]interface{}
}

func (s *mapStore) Attribute(key string, def interface{}) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return v
	}
	return def
}

func (s *mapStore) SetAttributes(attrs map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]interface{})
	}
	for k, v := range attrs {
		s.m[k] = v
	}
	return nil
}

func names(types []target.TypeRef) []string {
	r := make([]string, 0, len(types))
	for _, typ := range types {
		r = append(r, typ.Name)
	}
	sort.Strings(r)
	return r
}

func sameNames(t *testing.T, got []target.TypeRef, want ...string) {
	t.Helper()
	g := names(got)
	sort.Strings(want)
	if len(g) != len(want) {
		t.Fatalf("got %v, want %v", g, want)
	}
	for i := range g {
		if g[i] != want[i] {
			t.Fatalf("got %v, want %v", g, want)
		}
	}
}

func testIndex() *typeIndex {
	ix := newTypeIndex()
	ix.addAll([]target.TypeRef{
		{ID: 1, Name: "a.b.C", SourceName: "C.java"},
		{ID: 2, Name: "a.b.D.Inner", SourceName: "D.java"},
		{ID: 3, Name: "a.c.E", SourceName: "E.java"},
		{ID: 4, Name: "a.b.I", Interface: true},
		{ID: 5, Name: "a.b.C$1", SourceName: "C.java"},
	})
	return ix
}

func TestTypeIndex(t *testing.T) {
	ix := testIndex()
	sameNames(t, ix.named("a.b.C"), "a.b.C")
	sameNames(t, ix.withPrefix("a.b."), "a.b.C", "a.b.D.Inner", "a.b.I", "a.b.C$1")
	sameNames(t, ix.matching("*Inner"), "a.b.D.Inner")
	sameNames(t, ix.matching("a.c.*"), "a.c.E")
	sameNames(t, ix.named("a.b.Missing"))

	ix.add(target.TypeRef{ID: 1, Name: "a.b.C", Version: 1})
	got := ix.named("a.b.C")
	if len(got) != 1 || got[0].Version != 1 {
		t.Fatalf("redefinition not recorded: %v", got)
	}
}

func TestPatternCandidates(t *testing.T) {
	s, err := NewPatternBreakpoint(&mapStore{}, "", "a.b.*", 10)
	if err != nil {
		t.Fatal(err)
	}
	sameNames(t, candidates(s, "t", testIndex()), "a.b.C", "a.b.D.Inner", "a.b.C$1")

	s, err = NewPatternBreakpoint(&mapStore{}, "C.java", "a.b.*", 10)
	if err != nil {
		t.Fatal(err)
	}
	sameNames(t, candidates(s, "t", testIndex()), "a.b.C", "a.b.C$1")
}

func TestNestedPatternCandidates(t *testing.T) {
	ix := testIndex()
	ix.addAll([]target.TypeRef{
		{ID: 10, Name: "a.b.C$Inner"},
		{ID: 11, Name: "a.b.C$Inner$1"},
		{ID: 12, Name: "a.b.C$InnerHelper"},
	})
	s, err := NewPatternBreakpoint(&mapStore{}, "", "a.b.C$Inner*", 10)
	if err != nil {
		t.Fatal(err)
	}
	sameNames(t, candidates(s, "t", ix), "a.b.C$Inner", "a.b.C$Inner$1")
	if l := listenerPatterns(s, "t"); len(l) != 2 || l[0] != "a.b.C$Inner" || l[1] != "a.b.C$Inner$*" {
		t.Fatalf("unexpected listeners %v", l)
	}
	if acceptsType(s, "t", target.TypeRef{Name: "a.b.C$InnerHelper$2"}) {
		t.Fatal("sibling nested type accepted")
	}

	s, err = NewTargetPatternBreakpoint(&mapStore{}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	s.SetTargetPattern("t", "a.b.C$Inner")
	sameNames(t, candidates(s, "t", ix), "a.b.C$Inner", "a.b.C$Inner$1")
	if l := listenerPatterns(s, "t"); len(l) != 2 || l[1] != "a.b.C$Inner$*" {
		t.Fatalf("unexpected listeners %v", l)
	}
}

func TestAddRejectsUnknownKind(t *testing.T) {
	e, err := New(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	s, err := newSpec(&mapStore{}, &Spec{Kind: Kind(200), TypeName: "a.Main"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Add(s); err == nil {
		t.Fatal("breakpoint of unknown kind added")
	}
	if len(e.Breakpoints()) != 0 {
		t.Fatal("rejected breakpoint registered")
	}
}

func TestTargetPatternCandidates(t *testing.T) {
	s, err := NewTargetPatternBreakpoint(&mapStore{}, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if c := candidates(s, "t1", testIndex()); len(c) != 0 {
		t.Fatalf("candidates without a pattern: %v", names(c))
	}
	s.SetTargetPattern("t1", "a.c")
	sameNames(t, candidates(s, "t1", testIndex()), "a.c.E")
	if c := candidates(s, "t2", testIndex()); len(c) != 0 {
		t.Fatalf("pattern leaked to another target: %v", names(c))
	}
}

func TestStratumCandidates(t *testing.T) {
	s, err := NewStratumLineBreakpoint(&mapStore{}, "JSP", "page.jsp", "web/page.jsp", []string{"*Inner", "a.c.E"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	sameNames(t, candidates(s, "t", testIndex()), "a.b.D.Inner", "a.c.E")
}

func TestLineAcceptsNested(t *testing.T) {
	s, err := NewLineBreakpoint(&mapStore{}, "a.b.C", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, tc := range []struct {
		typ  target.TypeRef
		want bool
	}{
		{target.TypeRef{Name: "a.b.C"}, true},
		{target.TypeRef{Name: "a.b.C$1"}, true},
		{target.TypeRef{Name: "a.b.CD"}, false},
		{target.TypeRef{Name: "a.b.C", Interface: true}, false},
	} {
		if got := acceptsType(s, "t", tc.typ); got != tc.want {
			t.Errorf("acceptsType(%s) = %v, want %v", tc.typ.Name, got, tc.want)
		}
	}
	if l := listenerPatterns(s, "t"); len(l) != 2 || l[1] != "a.b.C$*" {
		t.Fatalf("unexpected listeners %v", l)
	}

	s, err = NewLineBreakpoint(&mapStore{}, "a.b.C$1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if acceptsType(s, "t", target.TypeRef{Name: "a.b.C$1$2"}) {
		t.Fatal("qualified location accepted a nested type")
	}
	if l := listenerPatterns(s, "t"); len(l) != 1 {
		t.Fatalf("unexpected listeners %v", l)
	}
}

func TestRegistryInstallCount(t *testing.T) {
	s, err := NewLineBreakpoint(&mapStore{}, "a.b.C", 10)
	if err != nil {
		t.Fatal(err)
	}
	reg := newRegistry()
	listener := &probe{spec: s, handle: 1, listener: true}
	p1 := &probe{spec: s, handle: 2, role: roleLine}
	p2 := &probe{spec: s, handle: 3, role: roleLine}
	for _, p := range []*probe{listener, p1, p2} {
		if err := reg.register(p); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.InstallCount(); n != 2 {
		t.Fatalf("install count %d, listeners must not count", n)
	}

	s.expire()
	if reg.deregister(p1) {
		t.Fatal("re-armed with a probe left")
	}
	if !s.Expired() || s.Enabled() {
		t.Fatal("expired state lost")
	}
	p3 := &probe{spec: s, handle: 4, role: roleLine}
	if !reg.swap(p2, p3) || reg.lookup(3) != nil || reg.lookup(4) != p3 {
		t.Fatal("swap did not replace the probe")
	}
	if s.InstallCount() != 1 {
		t.Fatalf("swap changed the install count to %d", s.InstallCount())
	}
	if !reg.deregister(p3) {
		t.Fatal("not re-armed when the install count reached zero")
	}
	if s.Expired() || !s.Enabled() || s.InstallCount() != 0 {
		t.Fatalf("bad state after re-arm: expired=%v enabled=%v count=%d", s.Expired(), s.Enabled(), s.InstallCount())
	}
	if reg.deregister(p3) {
		t.Fatal("double deregister")
	}

	specs, rearmed := reg.tearDown()
	if len(specs) != 0 || len(rearmed) != 0 {
		t.Fatalf("spec was never marked added: %v %v", specs, rearmed)
	}
	if err := reg.register(p1); err == nil {
		t.Fatal("register succeeded on a closed registry")
	}
}

func TestSimulatedCounter(t *testing.T) {
	p := &probe{}
	p.resetCounter(3)
	var wg sync.WaitGroup
	var mu sync.Mutex
	fired := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.countHit() {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if fired != 1 {
		t.Fatalf("counter fired %d times", fired)
	}
}

package breakpoint

import (
	"sort"
	"strings"
	"sync"

	"github.com/derekparker/trie"

	"github.com/go-delve/bpengine/pkg/target"
)

// typeIndex indexes the names of the types loaded in a target so that
// pattern breakpoints can find their candidates by prefix.
type typeIndex struct {
	mu    sync.Mutex
	names *trie.Trie
}

type typeEntry struct {
	refs map[uint64]target.TypeRef
}

func newTypeIndex() *typeIndex {
	return &typeIndex{names: trie.New()}
}

// add records typ, replacing the previous version of the same type.
func (ix *typeIndex) add(typ target.TypeRef) {
	if typ.Name == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if n, ok := ix.names.Find(typ.Name); ok {
		n.Meta().(*typeEntry).refs[typ.ID] = typ
		return
	}
	ix.names.Add(typ.Name, &typeEntry{refs: map[uint64]target.TypeRef{typ.ID: typ}})
}

func (ix *typeIndex) addAll(types []target.TypeRef) {
	for _, typ := range types {
		ix.add(typ)
	}
}

func (ix *typeIndex) collect(keys []string) []target.TypeRef {
	var r []target.TypeRef
	for _, k := range keys {
		n, ok := ix.names.Find(k)
		if !ok {
			continue
		}
		for _, typ := range n.Meta().(*typeEntry).refs {
			r = append(r, typ)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

// named returns the loaded types called name.
func (ix *typeIndex) named(name string) []target.TypeRef {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.collect([]string{name})
}

// withPrefix returns the loaded types whose name starts with prefix.
func (ix *typeIndex) withPrefix(prefix string) []target.TypeRef {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if prefix == "" {
		return ix.collect(ix.names.Keys())
	}
	return ix.collect(ix.names.PrefixSearch(prefix))
}

// matching returns the loaded types matching pattern (see
// target.MatchPattern).
func (ix *typeIndex) matching(pattern string) []target.TypeRef {
	switch {
	case pattern == "":
		return nil
	case strings.HasSuffix(pattern, "*"):
		return ix.withPrefix(strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		var r []target.TypeRef
		for _, typ := range ix.withPrefix("") {
			if target.MatchPattern(pattern, typ.Name) {
				r = append(r, typ)
			}
		}
		return r
	}
	return ix.named(pattern)
}

// patternPrefix returns the name prefix of a pattern breakpoint.
func patternPrefix(p string) string {
	return strings.TrimSuffix(p, "*")
}

// patternAccepts returns true if name is matched by pattern. A pattern
// naming a nested type, such as "a.b.C$Inner*", matches that type and the
// types nested in it, never a sibling sharing its prefix.
func patternAccepts(pattern, name string) bool {
	p := patternPrefix(pattern)
	if !strings.Contains(p, "$") {
		return strings.HasPrefix(name, p)
	}
	return name == p || strings.HasPrefix(name, p+"$")
}

// patternListeners returns the class-prepare patterns announcing the types
// matched by pattern.
func patternListeners(pattern string) []string {
	p := patternPrefix(pattern)
	if !strings.Contains(p, "$") {
		return []string{p + "*"}
	}
	return []string{p, p + "$*"}
}

// topLevel returns the name of the outermost type enclosing name.
func topLevel(name string) string {
	if i := strings.Index(name, "$"); i > 0 {
		return name[:i]
	}
	return name
}

// listenerPatterns returns the class-prepare patterns announcing the types
// s can be installed in.
func listenerPatterns(s *Spec, tid target.ID) []string {
	switch s.Kind {
	case LineBreakpoint:
		if strings.Contains(s.TypeName, "$") {
			return []string{s.TypeName}
		}
		return []string{s.TypeName, s.TypeName + "$*"}
	case MethodBreakpoint, Watchpoint, ExceptionBreakpoint:
		return []string{s.TypeName}
	case PatternBreakpoint:
		return patternListeners(s.Pattern)
	case TargetPatternBreakpoint:
		if p := s.TargetPattern(tid); p != "" {
			return patternListeners(p)
		}
	case StratumLineBreakpoint:
		return append([]string(nil), s.ClassPatterns...)
	}
	return nil
}

// candidates returns the loaded types s should be installed in right away.
func candidates(s *Spec, tid target.ID, ix *typeIndex) []target.TypeRef {
	var r []target.TypeRef
	switch s.Kind {
	case LineBreakpoint, MethodBreakpoint, Watchpoint, ExceptionBreakpoint:
		r = ix.named(s.TypeName)
	case PatternBreakpoint:
		r = ix.withPrefix(patternPrefix(s.Pattern))
	case TargetPatternBreakpoint:
		if p := s.TargetPattern(tid); p != "" {
			r = ix.withPrefix(patternPrefix(p))
		}
	case StratumLineBreakpoint:
		seen := make(map[uint64]bool)
		for _, p := range s.ClassPatterns {
			for _, typ := range ix.matching(p) {
				if !seen[typ.ID] {
					seen[typ.ID] = true
					r = append(r, typ)
				}
			}
		}
	}
	var accepted []target.TypeRef
	for _, typ := range r {
		if acceptsType(s, tid, typ) {
			accepted = append(accepted, typ)
		}
	}
	return accepted
}

// acceptsType returns true if s may be installed in typ. Interfaces are
// never installable.
func acceptsType(s *Spec, tid target.ID, typ target.TypeRef) bool {
	if typ.Interface {
		return false
	}
	switch s.Kind {
	case LineBreakpoint:
		if typ.Name == s.TypeName {
			return true
		}
		return !strings.Contains(s.TypeName, "$") && strings.HasPrefix(typ.Name, s.TypeName+"$")
	case MethodBreakpoint, Watchpoint, ExceptionBreakpoint:
		return typ.Name == s.TypeName
	case PatternBreakpoint:
		return patternAccepts(s.Pattern, typ.Name) && sourceMatches(s, typ)
	case TargetPatternBreakpoint:
		p := s.TargetPattern(tid)
		return p != "" && patternAccepts(p, typ.Name) && sourceMatches(s, typ)
	case StratumLineBreakpoint:
		for _, p := range s.ClassPatterns {
			if target.MatchPattern(p, typ.Name) {
				return true
			}
		}
	}
	return false
}

// sourceMatches returns false if typ declares a source name different
// from the one of s.
func sourceMatches(s *Spec, typ target.TypeRef) bool {
	return s.SourceName == "" || typ.SourceName == "" || s.SourceName == typ.SourceName
}

package breakpoint

import (
	"fmt"

	"github.com/go-delve/bpengine/pkg/target"
)

// Kind is the kind of a breakpoint specification.
type Kind uint8

const (
	// LineBreakpoint suspends when a line of a named type is executed.
	LineBreakpoint Kind = iota
	// MethodBreakpoint suspends on entry to and/or exit from a method.
	MethodBreakpoint
	// Watchpoint suspends on access to and/or modification of a field.
	Watchpoint
	// ExceptionBreakpoint suspends when an exception is thrown.
	ExceptionBreakpoint
	// ClassPrepareBreakpoint suspends when a type is prepared.
	ClassPrepareBreakpoint
	// PatternBreakpoint is a line breakpoint installed in every type whose
	// name starts with a pattern.
	PatternBreakpoint
	// TargetPatternBreakpoint is a pattern breakpoint whose pattern is
	// chosen per target.
	TargetPatternBreakpoint
	// StratumLineBreakpoint is a line breakpoint expressed in a source
	// stratum other than the default one.
	StratumLineBreakpoint
)

func (k Kind) String() string {
	switch k {
	case LineBreakpoint:
		return "line"
	case MethodBreakpoint:
		return "method"
	case Watchpoint:
		return "watchpoint"
	case ExceptionBreakpoint:
		return "exception"
	case ClassPrepareBreakpoint:
		return "class-prepare"
	case PatternBreakpoint:
		return "pattern"
	case TargetPatternBreakpoint:
		return "target-pattern"
	case StratumLineBreakpoint:
		return "stratum-line"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// lineLike returns true for the kinds that install line requests and may
// carry a condition.
func (k Kind) lineLike() bool {
	switch k {
	case LineBreakpoint, PatternBreakpoint, TargetPatternBreakpoint, StratumLineBreakpoint:
		return true
	}
	return false
}

// role is what a single probe of a specification listens for. Dual-role
// kinds install one probe per role.
type role uint8

const (
	roleListener role = iota
	roleLine
	roleEntry
	roleExit
	roleAccess
	roleModification
	roleException
	roleClassPrepare
)

func (r role) String() string {
	switch r {
	case roleListener:
		return "listener"
	case roleLine:
		return "line"
	case roleEntry:
		return "entry"
	case roleExit:
		return "exit"
	case roleAccess:
		return "access"
	case roleModification:
		return "modification"
	case roleException:
		return "exception"
	case roleClassPrepare:
		return "class-prepare"
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

func (r role) requestKind() target.RequestKind {
	switch r {
	case roleLine:
		return target.RequestLine
	case roleEntry:
		return target.RequestMethodEntry
	case roleExit:
		return target.RequestMethodExit
	case roleAccess:
		return target.RequestFieldAccess
	case roleModification:
		return target.RequestFieldModification
	case roleException:
		return target.RequestException
	}
	return target.RequestClassPrepare
}

// kindOps is the capability table of a Kind.
type kindOps struct {
	// roles lists the probes installed per matching type.
	roles []role
	// nativeHitCount is true if the kind can delegate its hit count to the
	// count filter of its native request.
	nativeHitCount bool
	// nestedSearch enables the local/anonymous type fallback.
	nestedSearch bool
	// params fills the kind specific part of the request parameters.
	params func(s *Spec, typ target.TypeRef, r role) target.ProbeParams
	// matchesEvent applies the filters the native request can not express.
	matchesEvent func(s *Spec, r role, ev *target.Event) bool
	// roleEnabled reports whether the probe of role r should be enabled.
	roleEnabled func(s *Spec, r role) bool
}

var kindTable = map[Kind]*kindOps{
	LineBreakpoint:          lineOps,
	PatternBreakpoint:       lineOps,
	TargetPatternBreakpoint: lineOps,
	StratumLineBreakpoint:   lineOps,
	MethodBreakpoint: {
		roles:        []role{roleEntry, roleExit},
		params:       typeParams,
		matchesEvent: matchMethod,
		roleEnabled: func(s *Spec, r role) bool {
			if r == roleEntry {
				return s.Entry()
			}
			return s.Exit()
		},
	},
	Watchpoint: {
		roles:          []role{roleAccess, roleModification},
		nativeHitCount: true,
		params: func(s *Spec, typ target.TypeRef, r role) target.ProbeParams {
			return target.ProbeParams{Type: typ, Field: s.Field}
		},
		matchesEvent: func(s *Spec, r role, ev *target.Event) bool {
			return ev.Field == s.Field
		},
		roleEnabled: func(s *Spec, r role) bool {
			if r == roleAccess {
				return s.Access()
			}
			return s.Modification()
		},
	},
	ExceptionBreakpoint: {
		roles:          []role{roleException},
		nativeHitCount: true,
		params: func(s *Spec, typ target.TypeRef, r role) target.ProbeParams {
			return target.ProbeParams{Type: typ, Caught: s.Caught(), Uncaught: s.Uncaught()}
		},
		matchesEvent: matchException,
		roleEnabled: func(s *Spec, r role) bool {
			return s.Caught() || s.Uncaught()
		},
	},
	ClassPrepareBreakpoint: {
		roles:        []role{roleClassPrepare},
		params:       typeParams,
		matchesEvent: func(s *Spec, r role, ev *target.Event) bool { return ev.Kind == target.EventClassPrepare },
		roleEnabled:  func(s *Spec, r role) bool { return true },
	},
}

var lineOps = &kindOps{
	roles:          []role{roleLine},
	nativeHitCount: true,
	nestedSearch:   true,
	params: func(s *Spec, typ target.TypeRef, r role) target.ProbeParams {
		return target.ProbeParams{Type: typ, Line: s.Line, Stratum: s.Stratum, SourcePath: s.SourcePath}
	},
	matchesEvent: func(s *Spec, r role, ev *target.Event) bool { return true },
	roleEnabled:  func(s *Spec, r role) bool { return true },
}

func typeParams(s *Spec, typ target.TypeRef, r role) target.ProbeParams {
	return target.ProbeParams{Type: typ}
}

// matchMethod filters method entry/exit events, the native requests are
// only filtered by declaring type.
func matchMethod(s *Spec, r role, ev *target.Event) bool {
	if !target.MatchPattern(s.Method, ev.Location.Method) {
		return false
	}
	return s.Signature == "" || s.Signature == ev.Location.Signature
}

// matchException applies the caught/uncaught switches and the class
// filters of s to ev. Exclusion filters win over inclusion filters.
func matchException(s *Spec, r role, ev *target.Event) bool {
	if ev.CatchLocation != nil && !s.Caught() {
		return false
	}
	if ev.CatchLocation == nil && !s.Uncaught() {
		return false
	}
	where := ev.Location.Type.Name
	for _, p := range s.ExclusionFilters() {
		if target.MatchPattern(p, where) {
			return false
		}
	}
	incl := s.InclusionFilters()
	if len(incl) == 0 {
		return true
	}
	for _, p := range incl {
		if target.MatchPattern(p, where) {
			return true
		}
	}
	return false
}

func opsFor(k Kind) *kindOps {
	if ops, ok := kindTable[k]; ok {
		return ops
	}
	panic(fmt.Sprintf("internal error: no operations for breakpoint kind %v", k))
}

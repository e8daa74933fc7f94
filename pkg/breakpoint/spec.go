package breakpoint

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-delve/bpengine/pkg/target"
)

// change describes what part of a Spec was edited.
type change uint8

const (
	// changePolicy covers enablement, suspend policy, hit count, roles and
	// dispatcher side filters.
	changePolicy change = iota
	// changeCondition covers the condition text and switches.
	changeCondition
	// changeInstall covers anything that changes where probes go in one
	// target: thread and instance filters, target patterns.
	changeInstall
)

// specOwner is notified after every user edit of a Spec.
type specOwner interface {
	specChanged(s *Spec, c change, tid target.ID)
}

// Spec is a declarative breakpoint. Its shape (kind and location) is fixed
// at creation, its policy lives in an AttributeStore so that it can be
// persisted and edited concurrently with the engine.
type Spec struct {
	// ID is assigned by Engine.Add.
	ID   int
	Kind Kind

	// TypeName is the declared type, nested types use '$'. For
	// ClassPrepareBreakpoint it may be a pattern.
	TypeName string
	Line     int

	// Method and Signature are used by MethodBreakpoint, Method may start
	// or end with '*'.
	Method    string
	Signature string

	Field string

	// Pattern is the type name prefix of a PatternBreakpoint, with or
	// without a trailing '*'.
	Pattern       string
	SourceName    string
	Stratum       string
	SourcePath    string
	ClassPatterns []string

	store AttributeStore

	// mu serializes read-modify-write sequences on the store and guards
	// the fields below.
	mu              sync.Mutex
	owner           specOwner
	threadFilters   map[target.ID]target.ThreadID
	instanceFilters map[target.ID][]target.ObjectID
	targetPatterns  map[target.ID]string
	condValues      map[target.ID]interface{}
}

func newSpec(store AttributeStore, s *Spec, defaults map[string]interface{}) (*Spec, error) {
	if store == nil {
		return nil, errors.New("nil attribute store")
	}
	s.store = store
	attrs := map[string]interface{}{AttrInstallCount: 0}
	if store.Attribute(AttrEnabled, nil) == nil {
		attrs[AttrEnabled] = true
		attrs[AttrHitCount] = 0
		attrs[AttrExpired] = false
		for k, v := range defaults {
			attrs[k] = v
		}
	} else if boolAttr(store, AttrExpired, false) {
		// nothing can be installed yet, an expired breakpoint re-arms
		attrs[AttrExpired] = false
		attrs[AttrEnabled] = true
	}
	if err := store.SetAttributes(attrs); err != nil {
		return nil, err
	}
	return s, nil
}

// NewLineBreakpoint returns a breakpoint on line of typeName.
func NewLineBreakpoint(store AttributeStore, typeName string, line int) (*Spec, error) {
	if typeName == "" || line <= 0 {
		return nil, fmt.Errorf("invalid line breakpoint location %s:%d", typeName, line)
	}
	return newSpec(store, &Spec{Kind: LineBreakpoint, TypeName: typeName, Line: line}, nil)
}

// NewMethodBreakpoint returns a breakpoint on entry to and/or exit from
// method of typeName. An empty signature matches every overload.
func NewMethodBreakpoint(store AttributeStore, typeName, method, signature string, entry, exit bool) (*Spec, error) {
	if typeName == "" || method == "" {
		return nil, fmt.Errorf("invalid method breakpoint location %s.%s", typeName, method)
	}
	if !entry && !exit {
		entry = true
	}
	return newSpec(store, &Spec{Kind: MethodBreakpoint, TypeName: typeName, Method: method, Signature: signature},
		map[string]interface{}{AttrEntry: entry, AttrExit: exit})
}

// NewWatchpoint returns a breakpoint on access to and/or modification of
// field of typeName.
func NewWatchpoint(store AttributeStore, typeName, field string, access, modification bool) (*Spec, error) {
	if typeName == "" || field == "" {
		return nil, fmt.Errorf("invalid watchpoint location %s.%s", typeName, field)
	}
	if !access && !modification {
		modification = true
	}
	return newSpec(store, &Spec{Kind: Watchpoint, TypeName: typeName, Field: field},
		map[string]interface{}{AttrAccess: access, AttrModification: modification})
}

// NewExceptionBreakpoint returns a breakpoint on exceptions of type
// exceptionType (and its subtypes, as reported by the target).
func NewExceptionBreakpoint(store AttributeStore, exceptionType string, caught, uncaught bool) (*Spec, error) {
	if exceptionType == "" {
		return nil, errors.New("invalid exception breakpoint: no exception type")
	}
	return newSpec(store, &Spec{Kind: ExceptionBreakpoint, TypeName: exceptionType},
		map[string]interface{}{AttrCaught: caught, AttrUncaught: uncaught})
}

// NewClassPrepareBreakpoint returns a breakpoint that suspends when a type
// named typeName is prepared. typeName may be a pattern.
func NewClassPrepareBreakpoint(store AttributeStore, typeName string) (*Spec, error) {
	if typeName == "" {
		return nil, errors.New("invalid class prepare breakpoint: no type name")
	}
	return newSpec(store, &Spec{Kind: ClassPrepareBreakpoint, TypeName: typeName}, nil)
}

// NewPatternBreakpoint returns a line breakpoint installed in every type
// whose name starts with pattern and whose source is sourceName.
func NewPatternBreakpoint(store AttributeStore, sourceName, pattern string, line int) (*Spec, error) {
	if pattern == "" || line <= 0 {
		return nil, fmt.Errorf("invalid pattern breakpoint location %s:%d", pattern, line)
	}
	return newSpec(store, &Spec{Kind: PatternBreakpoint, SourceName: sourceName, Pattern: pattern, Line: line}, nil)
}

// NewTargetPatternBreakpoint returns a pattern breakpoint whose pattern is
// set per target with SetTargetPattern.
func NewTargetPatternBreakpoint(store AttributeStore, sourceName string, line int) (*Spec, error) {
	if line <= 0 {
		return nil, fmt.Errorf("invalid target pattern breakpoint line %d", line)
	}
	return newSpec(store, &Spec{Kind: TargetPatternBreakpoint, SourceName: sourceName, Line: line}, nil)
}

// NewStratumLineBreakpoint returns a line breakpoint in the given stratum,
// installed in the types matching one of classPatterns.
func NewStratumLineBreakpoint(store AttributeStore, stratum, sourceName, sourcePath string, classPatterns []string, line int) (*Spec, error) {
	if line <= 0 || len(classPatterns) == 0 {
		return nil, fmt.Errorf("invalid stratum breakpoint location %s:%d", sourceName, line)
	}
	return newSpec(store, &Spec{
		Kind:          StratumLineBreakpoint,
		Stratum:       stratum,
		SourceName:    sourceName,
		SourcePath:    sourcePath,
		ClassPatterns: append([]string(nil), classPatterns...),
		Line:          line,
	}, nil)
}

func (s *Spec) String() string {
	var loc string
	switch s.Kind {
	case MethodBreakpoint:
		loc = s.TypeName + "." + s.Method + s.Signature
	case Watchpoint:
		loc = s.TypeName + "." + s.Field
	case ExceptionBreakpoint, ClassPrepareBreakpoint:
		loc = s.TypeName
	case PatternBreakpoint:
		loc = fmt.Sprintf("%s:%d", s.Pattern, s.Line)
	case TargetPatternBreakpoint:
		loc = fmt.Sprintf("%s:%d", s.SourceName, s.Line)
	case StratumLineBreakpoint:
		loc = fmt.Sprintf("%s:%s:%d", s.Stratum, s.SourceName, s.Line)
	default:
		loc = fmt.Sprintf("%s:%d", s.TypeName, s.Line)
	}
	return fmt.Sprintf("Breakpoint %d (%s) at %s", s.ID, s.Kind, loc)
}

// Enabled returns true if the breakpoint is enabled.
func (s *Spec) Enabled() bool { return boolAttr(s.store, AttrEnabled, false) }

// Expired returns true if the hit count of the breakpoint was reached.
func (s *Spec) Expired() bool { return boolAttr(s.store, AttrExpired, false) }

// HitCount returns the hit count, zero or less means unlimited.
func (s *Spec) HitCount() int { return intAttr(s.store, AttrHitCount, 0) }

// InstallCount returns the number of live probes, class-prepare listeners
// excluded, across all targets.
func (s *Spec) InstallCount() int { return intAttr(s.store, AttrInstallCount, 0) }

// SuspendPolicy returns the suspend policy of the breakpoint.
func (s *Spec) SuspendPolicy() target.SuspendPolicy {
	p, err := target.ParseSuspendPolicy(stringAttr(s.store, AttrSuspendPolicy, ""))
	if err != nil {
		return target.SuspendThread
	}
	return p
}

// Condition returns the condition text.
func (s *Spec) Condition() string { return stringAttr(s.store, AttrCondition, "") }

// ConditionEnabled returns true if the condition is enabled.
func (s *Spec) ConditionEnabled() bool { return boolAttr(s.store, AttrConditionEnabled, false) }

// ConditionSuspendOnTrue returns true if the breakpoint suspends when the
// condition is true, false if it suspends when its value changes.
func (s *Spec) ConditionSuspendOnTrue() bool {
	return boolAttr(s.store, AttrConditionSuspendOnTrue, true)
}

// HasCondition returns true if hits must be confirmed by evaluating the
// condition.
func (s *Spec) HasCondition() bool {
	return s.Kind.lineLike() && s.ConditionEnabled() && strings.TrimSpace(s.Condition()) != ""
}

func (s *Spec) Access() bool       { return boolAttr(s.store, AttrAccess, false) }
func (s *Spec) Modification() bool { return boolAttr(s.store, AttrModification, false) }
func (s *Spec) Entry() bool        { return boolAttr(s.store, AttrEntry, false) }
func (s *Spec) Exit() bool         { return boolAttr(s.store, AttrExit, false) }
func (s *Spec) Caught() bool       { return boolAttr(s.store, AttrCaught, false) }
func (s *Spec) Uncaught() bool     { return boolAttr(s.store, AttrUncaught, false) }

// InclusionFilters returns the class patterns an exception must be thrown
// in to suspend.
func (s *Spec) InclusionFilters() []string { return listAttr(s.store, AttrInclusionFilters) }

// ExclusionFilters returns the class patterns an exception must not be
// thrown in to suspend.
func (s *Spec) ExclusionFilters() []string { return listAttr(s.store, AttrExclusionFilters) }

// ThreadFilter returns the thread the breakpoint is restricted to in tid.
func (s *Spec) ThreadFilter(tid target.ID) (target.ThreadID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threadFilters[tid]
	return th, ok
}

// InstanceFilters returns the receivers the breakpoint is restricted to in
// tid.
func (s *Spec) InstanceFilters(tid target.ID) []target.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]target.ObjectID(nil), s.instanceFilters[tid]...)
}

// TargetPattern returns the pattern of a TargetPatternBreakpoint in tid.
func (s *Spec) TargetPattern(tid target.ID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetPatterns[tid]
}

func (s *Spec) mutate(c change, tid target.ID, fill func(attrs map[string]interface{}) error) error {
	s.mu.Lock()
	attrs := make(map[string]interface{})
	err := fill(attrs)
	if err == nil && len(attrs) > 0 {
		err = s.store.SetAttributes(attrs)
	}
	owner := s.owner
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if owner != nil {
		owner.specChanged(s, c, tid)
	}
	return nil
}

// defaultRole selects the canonical role of a dual-role breakpoint that is
// being enabled with no role set.
func (s *Spec) defaultRole(attrs map[string]interface{}) {
	switch s.Kind {
	case Watchpoint:
		if !s.Access() && !s.Modification() {
			attrs[AttrModification] = true
		}
	case MethodBreakpoint:
		if !s.Entry() && !s.Exit() {
			attrs[AttrEntry] = true
		}
	}
}

// SetEnabled enables or disables the breakpoint. Enabling an expired
// breakpoint clears its expired state in the same update.
func (s *Spec) SetEnabled(enabled bool) error {
	return s.mutate(changePolicy, "", func(attrs map[string]interface{}) error {
		attrs[AttrEnabled] = enabled
		if enabled {
			if s.Expired() {
				attrs[AttrExpired] = false
			}
			s.defaultRole(attrs)
		}
		return nil
	})
}

// SetHitCount sets the hit count, zero means unlimited. Changing the hit
// count of an expired breakpoint re-enables it.
func (s *Spec) SetHitCount(count int) error {
	if count < 0 {
		count = 0
	}
	return s.mutate(changePolicy, "", func(attrs map[string]interface{}) error {
		attrs[AttrHitCount] = count
		if s.Expired() {
			attrs[AttrExpired] = false
			attrs[AttrEnabled] = true
		}
		return nil
	})
}

// SetSuspendPolicy sets the suspend policy.
func (s *Spec) SetSuspendPolicy(p target.SuspendPolicy) error {
	return s.mutate(changePolicy, "", func(attrs map[string]interface{}) error {
		attrs[AttrSuspendPolicy] = p.String()
		return nil
	})
}

// SetCondition sets the condition text of a line breakpoint.
func (s *Spec) SetCondition(text string) error {
	if !s.Kind.lineLike() {
		return fmt.Errorf("%v breakpoints do not support conditions", s.Kind)
	}
	return s.mutate(changeCondition, "", func(attrs map[string]interface{}) error {
		if s.Condition() != text {
			attrs[AttrCondition] = text
			s.condValues = nil
		}
		return nil
	})
}

// SetConditionEnabled enables or disables the condition.
func (s *Spec) SetConditionEnabled(enabled bool) error {
	if !s.Kind.lineLike() {
		return fmt.Errorf("%v breakpoints do not support conditions", s.Kind)
	}
	return s.mutate(changeCondition, "", func(attrs map[string]interface{}) error {
		attrs[AttrConditionEnabled] = enabled
		return nil
	})
}

// SetConditionSuspendOnTrue chooses between suspending when the condition
// is true and suspending when its value changes.
func (s *Spec) SetConditionSuspendOnTrue(onTrue bool) error {
	if !s.Kind.lineLike() {
		return fmt.Errorf("%v breakpoints do not support conditions", s.Kind)
	}
	return s.mutate(changeCondition, "", func(attrs map[string]interface{}) error {
		attrs[AttrConditionSuspendOnTrue] = onTrue
		s.condValues = nil
		return nil
	})
}

// SetWatchRoles selects access and modification for a watchpoint. Clearing
// both disables the watchpoint.
func (s *Spec) SetWatchRoles(access, modification bool) error {
	if s.Kind != Watchpoint {
		return fmt.Errorf("%v breakpoints have no access/modification roles", s.Kind)
	}
	return s.mutate(changePolicy, "", func(attrs map[string]interface{}) error {
		attrs[AttrAccess] = access
		attrs[AttrModification] = modification
		if !access && !modification {
			attrs[AttrEnabled] = false
		}
		return nil
	})
}

// SetMethodRoles selects entry and exit for a method breakpoint. Clearing
// both disables the breakpoint.
func (s *Spec) SetMethodRoles(entry, exit bool) error {
	if s.Kind != MethodBreakpoint {
		return fmt.Errorf("%v breakpoints have no entry/exit roles", s.Kind)
	}
	return s.mutate(changePolicy, "", func(attrs map[string]interface{}) error {
		attrs[AttrEntry] = entry
		attrs[AttrExit] = exit
		if !entry && !exit {
			attrs[AttrEnabled] = false
		}
		return nil
	})
}

// SetExceptionRoles selects whether caught and uncaught exceptions suspend.
func (s *Spec) SetExceptionRoles(caught, uncaught bool) error {
	if s.Kind != ExceptionBreakpoint {
		return fmt.Errorf("%v breakpoints have no caught/uncaught roles", s.Kind)
	}
	return s.mutate(changePolicy, "", func(attrs map[string]interface{}) error {
		attrs[AttrCaught] = caught
		attrs[AttrUncaught] = uncaught
		return nil
	})
}

// SetExceptionFilters sets the inclusion and exclusion class patterns of an
// exception breakpoint.
func (s *Spec) SetExceptionFilters(inclusion, exclusion []string) error {
	if s.Kind != ExceptionBreakpoint {
		return fmt.Errorf("%v breakpoints have no class filters", s.Kind)
	}
	return s.mutate(changePolicy, "", func(attrs map[string]interface{}) error {
		attrs[AttrInclusionFilters] = strings.Join(inclusion, ",")
		attrs[AttrExclusionFilters] = strings.Join(exclusion, ",")
		return nil
	})
}

// SetThreadFilter restricts the breakpoint to thread in tid.
func (s *Spec) SetThreadFilter(tid target.ID, thread target.ThreadID) error {
	return s.mutate(changeInstall, tid, func(map[string]interface{}) error {
		if s.threadFilters == nil {
			s.threadFilters = make(map[target.ID]target.ThreadID)
		}
		s.threadFilters[tid] = thread
		return nil
	})
}

// ClearThreadFilter removes the thread restriction in tid.
func (s *Spec) ClearThreadFilter(tid target.ID) error {
	return s.mutate(changeInstall, tid, func(map[string]interface{}) error {
		delete(s.threadFilters, tid)
		return nil
	})
}

// AddInstanceFilter restricts the breakpoint to receiver obj in tid.
func (s *Spec) AddInstanceFilter(tid target.ID, obj target.ObjectID) error {
	switch s.Kind {
	case ExceptionBreakpoint, ClassPrepareBreakpoint:
		return fmt.Errorf("%v breakpoints do not support instance filters", s.Kind)
	}
	return s.mutate(changeInstall, tid, func(map[string]interface{}) error {
		if s.instanceFilters == nil {
			s.instanceFilters = make(map[target.ID][]target.ObjectID)
		}
		for _, o := range s.instanceFilters[tid] {
			if o == obj {
				return nil
			}
		}
		s.instanceFilters[tid] = append(s.instanceFilters[tid], obj)
		return nil
	})
}

// SetTargetPattern sets the type name pattern of a TargetPatternBreakpoint
// in tid.
func (s *Spec) SetTargetPattern(tid target.ID, pattern string) error {
	if s.Kind != TargetPatternBreakpoint {
		return fmt.Errorf("%v breakpoints have no per-target pattern", s.Kind)
	}
	return s.mutate(changeInstall, tid, func(map[string]interface{}) error {
		if s.targetPatterns == nil {
			s.targetPatterns = make(map[target.ID]string)
		}
		s.targetPatterns[tid] = pattern
		return nil
	})
}

// expire marks the breakpoint expired and disabled in one update.
func (s *Spec) expire() error {
	return s.mutate(changePolicy, "", func(attrs map[string]interface{}) error {
		attrs[AttrExpired] = true
		attrs[AttrEnabled] = false
		return nil
	})
}

func (s *Spec) incrementInstallCount() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SetAttributes(map[string]interface{}{AttrInstallCount: s.InstallCount() + 1})
}

// decrementInstallCount decrements the install count and re-arms an
// expired breakpoint when the count reaches zero.
func (s *Spec) decrementInstallCount() (rearmed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.InstallCount() - 1
	if n < 0 {
		n = 0
	}
	attrs := map[string]interface{}{AttrInstallCount: n}
	if n == 0 && s.Expired() {
		attrs[AttrExpired] = false
		attrs[AttrEnabled] = true
		rearmed = true
	}
	if err := s.store.SetAttributes(attrs); err != nil {
		return false, err
	}
	return rearmed, nil
}

// swapConditionValue records v as the last condition value seen in tid and
// reports whether it differs from the previous one. The first value seen
// is never a change.
func (s *Spec) swapConditionValue(tid target.ID, v interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.condValues == nil {
		s.condValues = make(map[target.ID]interface{})
	}
	old, seen := s.condValues[tid]
	s.condValues[tid] = v
	return seen && !reflect.DeepEqual(old, v)
}

func (s *Spec) setOwner(o specOwner) {
	s.mu.Lock()
	s.owner = o
	s.mu.Unlock()
}

// forgetTarget drops the per-target state kept for tid.
func (s *Spec) forgetTarget(tid target.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threadFilters, tid)
	delete(s.instanceFilters, tid)
	delete(s.targetPatterns, tid)
	delete(s.condValues, tid)
}

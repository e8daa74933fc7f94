package cmds

import (
	"fmt"
	"io/ioutil"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/bpengine/pkg/attrstore"
	"github.com/go-delve/bpengine/pkg/breakpoint"
	"github.com/go-delve/bpengine/pkg/config"
	"github.com/go-delve/bpengine/pkg/target"
	"github.com/go-delve/bpengine/pkg/target/memtarget"
)

// Scenario describes a replay: the capabilities of the simulated target,
// the types it can load, the breakpoints to set and the steps executed by
// the target.
type Scenario struct {
	Capabilities *Capabilities   `yaml:"capabilities,omitempty"`
	Types        []TypeDef       `yaml:"types"`
	Breakpoints  []BreakpointDef `yaml:"breakpoints"`
	Steps        []string        `yaml:"steps"`
	Config       *config.Config  `yaml:"config,omitempty"`
	// Store is the path of a file where breakpoint attributes persist.
	Store string `yaml:"store,omitempty"`

	types map[string]*TypeDef
}

// Capabilities overrides memtarget.FullCapabilities.
type Capabilities struct {
	FieldAccess          *bool `yaml:"field-access,omitempty"`
	FieldModification    *bool `yaml:"field-modification,omitempty"`
	InstanceFilters      *bool `yaml:"instance-filters,omitempty"`
	CountFilters         *bool `yaml:"count-filters,omitempty"`
	MutableCountFilters  *bool `yaml:"mutable-count-filters,omitempty"`
	MutableSuspendPolicy *bool `yaml:"mutable-suspend-policy,omitempty"`
	Redefine             *bool `yaml:"redefine,omitempty"`
}

// TypeDef is a type that a "load" step can prepare.
type TypeDef struct {
	Name       string   `yaml:"name"`
	Source     string   `yaml:"source,omitempty"`
	Interface  bool     `yaml:"interface,omitempty"`
	Lines      []int    `yaml:"lines,omitempty"`
	NoLineInfo bool     `yaml:"no-line-info,omitempty"`
	Fields     []string `yaml:"fields,omitempty"`
}

// BreakpointDef is a breakpoint set before the first step. Name is used
// by steps to refer to it.
type BreakpointDef struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Type      string `yaml:"type,omitempty"`
	Line      int    `yaml:"line,omitempty"`
	Method    string `yaml:"method,omitempty"`
	Signature string `yaml:"signature,omitempty"`
	Field     string `yaml:"field,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`
	Source    string `yaml:"source,omitempty"`
	Stratum   string `yaml:"stratum,omitempty"`
	Path      string `yaml:"path,omitempty"`

	// Roles is a comma separated list among entry, exit, access,
	// modification, caught and uncaught.
	Roles string `yaml:"roles,omitempty"`

	HitCount      int    `yaml:"hit-count,omitempty"`
	Condition     string `yaml:"condition,omitempty"`
	OnChange      bool   `yaml:"on-change,omitempty"`
	SuspendPolicy string `yaml:"suspend-policy,omitempty"`
	Disabled      bool   `yaml:"disabled,omitempty"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, err
	}
	s.types = make(map[string]*TypeDef)
	for i := range s.Types {
		td := &s.Types[i]
		if td.Name == "" {
			return nil, fmt.Errorf("type %d has no name", i)
		}
		s.types[td.Name] = td
	}
	seen := make(map[string]bool)
	for i, bd := range s.Breakpoints {
		if bd.Name == "" {
			return nil, fmt.Errorf("breakpoint %d has no name", i)
		}
		if seen[bd.Name] {
			return nil, fmt.Errorf("duplicate breakpoint name %q", bd.Name)
		}
		seen[bd.Name] = true
	}
	for i, line := range s.Steps {
		if _, err := ParseStep(line); err != nil {
			return nil, fmt.Errorf("step %d: %v", i+1, err)
		}
	}
	return &s, nil
}

func (c *Capabilities) apply(caps *target.Capabilities) {
	if c == nil {
		return
	}
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&caps.CanWatchFieldAccess, c.FieldAccess)
	set(&caps.CanWatchFieldModification, c.FieldModification)
	set(&caps.CanUseInstanceFilters, c.InstanceFilters)
	set(&caps.CanUseCountFilters, c.CountFilters)
	set(&caps.MutableCountFilters, c.MutableCountFilters)
	set(&caps.MutableSuspendPolicy, c.MutableSuspendPolicy)
	set(&caps.CanRedefineTypes, c.Redefine)
}

func (td *TypeDef) spec() memtarget.TypeSpec {
	return memtarget.TypeSpec{
		Name:       td.Name,
		SourceName: td.Source,
		Interface:  td.Interface,
		Lines:      td.Lines,
		NoLineInfo: td.NoLineInfo,
		Fields:     td.Fields,
	}
}

func (bd *BreakpointDef) roles() map[string]bool {
	r := make(map[string]bool)
	for _, role := range strings.Split(bd.Roles, ",") {
		if role = strings.TrimSpace(role); role != "" {
			r[role] = true
		}
	}
	return r
}

// newSpec creates the breakpoint described by bd, its attributes are kept
// in store.
func (bd *BreakpointDef) newSpec(store breakpoint.AttributeStore) (*breakpoint.Spec, error) {
	roles := bd.roles()
	var (
		s   *breakpoint.Spec
		err error
	)
	switch bd.Kind {
	case "line", "":
		s, err = breakpoint.NewLineBreakpoint(store, bd.Type, bd.Line)
	case "method":
		s, err = breakpoint.NewMethodBreakpoint(store, bd.Type, bd.Method, bd.Signature, roles["entry"], roles["exit"])
	case "watch", "watchpoint":
		s, err = breakpoint.NewWatchpoint(store, bd.Type, bd.Field, roles["access"], roles["modification"])
	case "exception":
		caught, uncaught := roles["caught"], roles["uncaught"]
		if !caught && !uncaught {
			caught, uncaught = true, true
		}
		s, err = breakpoint.NewExceptionBreakpoint(store, bd.Type, caught, uncaught)
	case "class-prepare":
		s, err = breakpoint.NewClassPrepareBreakpoint(store, bd.Type)
	case "pattern":
		s, err = breakpoint.NewPatternBreakpoint(store, bd.Source, bd.Pattern, bd.Line)
	case "target-pattern":
		s, err = breakpoint.NewTargetPatternBreakpoint(store, bd.Source, bd.Line)
	case "stratum":
		var patterns []string
		if bd.Pattern != "" {
			patterns = strings.Split(bd.Pattern, ",")
		}
		s, err = breakpoint.NewStratumLineBreakpoint(store, bd.Stratum, bd.Source, bd.Path, patterns, bd.Line)
	default:
		return nil, fmt.Errorf("breakpoint %s: unknown kind %q", bd.Name, bd.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("breakpoint %s: %v", bd.Name, err)
	}
	if bd.HitCount > 0 {
		if err := s.SetHitCount(bd.HitCount); err != nil {
			return nil, err
		}
	}
	if bd.SuspendPolicy != "" {
		p, err := target.ParseSuspendPolicy(bd.SuspendPolicy)
		if err != nil {
			return nil, fmt.Errorf("breakpoint %s: %v", bd.Name, err)
		}
		if err := s.SetSuspendPolicy(p); err != nil {
			return nil, err
		}
	}
	if bd.Condition != "" {
		if err := s.SetCondition(bd.Condition); err != nil {
			return nil, err
		}
		if err := s.SetConditionEnabled(true); err != nil {
			return nil, err
		}
		if bd.OnChange {
			if err := s.SetConditionSuspendOnTrue(false); err != nil {
				return nil, err
			}
		}
	}
	if bd.Disabled {
		if err := s.SetEnabled(false); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// openStore returns a factory of attribute stores for the breakpoints of
// the scenario. Attributes persist in the scenario's store file if one is
// named.
func (s *Scenario) openStore() (func(name string) breakpoint.AttributeStore, error) {
	if s.Store == "" {
		return func(string) breakpoint.AttributeStore { return attrstore.NewMemStore() }, nil
	}
	f, err := attrstore.OpenFile(s.Store)
	if err != nil {
		return nil, err
	}
	return func(name string) breakpoint.AttributeStore { return f.Store(name) }, nil
}

// Step is a single action performed by the simulated target or by the
// user of the engine.
type Step struct {
	Verb string
	Args []string
}

var stepArity = map[string][2]int{
	"load":     {1, 1},
	"hit":      {3, 4},
	"enter":    {3, 5},
	"exit":     {3, 5},
	"access":   {3, 4},
	"modify":   {3, 4},
	"throw":    {5, 5},
	"frame":    {1, -1},
	"redefine": {1, -1},
	"enable":   {1, 1},
	"disable":  {1, 1},
	"hitcount": {2, 2},
	"cond":     {2, 2},
	"policy":   {2, 2},
	"thread":   {2, 2},
	"instance": {2, 2},
	"ignore":   {2, 2},
	"remove":   {1, 1},
	"detach":   {0, 0},
}

// ParseStep parses a step line, e.g.:
//
//	hit 2 p.Main 7
//	cond bp1 "x > 5"
func ParseStep(line string) (Step, error) {
	fields, err := config.SplitFields(line)
	if err != nil {
		return Step{}, err
	}
	if len(fields) == 0 {
		return Step{}, fmt.Errorf("empty step")
	}
	st := Step{Verb: fields[0], Args: fields[1:]}
	arity, ok := stepArity[st.Verb]
	if !ok {
		return Step{}, fmt.Errorf("unknown step %q", st.Verb)
	}
	if len(st.Args) < arity[0] || (arity[1] >= 0 && len(st.Args) > arity[1]) {
		return Step{}, fmt.Errorf("wrong number of arguments for %q", st.Verb)
	}
	return st, nil
}

func (st Step) String() string {
	return strings.Join(append([]string{st.Verb}, st.Args...), " ")
}

func (st Step) intArg(i int) (int, error) {
	n, err := strconv.Atoi(st.Args[i])
	if err != nil {
		return 0, fmt.Errorf("%s: argument %d: %v", st.Verb, i+1, err)
	}
	return n, nil
}

// parseValue converts a frame local written in a step into a Go value.
func parseValue(s string) interface{} {
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

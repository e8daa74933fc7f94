package target

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected is returned by any operation on a target whose
	// connection has gone away.
	ErrDisconnected = errors.New("target disconnected")

	// ErrAbsentInformation is returned when a type carries no line number
	// information for the requested location.
	ErrAbsentInformation = errors.New("absent line number information")

	// ErrNativeMethod is returned when a location falls in a native method.
	ErrNativeMethod = errors.New("native method")

	// ErrNotPrepared is returned when a type is loaded but not prepared yet.
	ErrNotPrepared = errors.New("type not prepared")

	// ErrNoLocation is returned when the requested line or member does not
	// exist in the type.
	ErrNoLocation = errors.New("no executable location")

	// ErrNotMutable is returned by UpdateRequest when the native request
	// can not apply the change in place.
	ErrNotMutable = errors.New("request attribute is not mutable")

	// ErrRequestExpired is returned when a count-filtered request already
	// fired and the target refuses to touch it.
	ErrRequestExpired = errors.New("request expired")

	// ErrUnsupported is returned when the target lacks the capability for a
	// request.
	ErrUnsupported = errors.New("operation not supported by target")
)

// ID identifies one attached target connection.
type ID string

// ThreadID identifies a thread inside a target.
type ThreadID uint64

// ObjectID identifies an object inside a target.
type ObjectID uint64

// Handle is the handle of a native event request. The zero Handle is never
// returned by a successful request creation.
type Handle uint64

// SuspendPolicy describes what a target halts when a request fires.
type SuspendPolicy uint8

const (
	// SuspendThread halts only the event thread.
	SuspendThread SuspendPolicy = iota
	// SuspendAll halts every thread of the target.
	SuspendAll
)

func (p SuspendPolicy) String() string {
	switch p {
	case SuspendThread:
		return "thread"
	case SuspendAll:
		return "all"
	default:
		return fmt.Sprintf("SuspendPolicy(%d)", uint8(p))
	}
}

// ParseSuspendPolicy converts "thread" or "all" into a SuspendPolicy.
func ParseSuspendPolicy(s string) (SuspendPolicy, error) {
	switch s {
	case "thread", "":
		return SuspendThread, nil
	case "all":
		return SuspendAll, nil
	}
	return SuspendThread, fmt.Errorf("unknown suspend policy %q", s)
}

// TypeRef describes a loaded type.
type TypeRef struct {
	ID         uint64
	Name       string // fully qualified, nested types use '$'
	SourceName string // base name of the source file, may be empty
	Interface  bool
	// Version is incremented every time the type is redefined.
	Version int
}

func (t TypeRef) String() string {
	return fmt.Sprintf("%s#%d.%d", t.Name, t.ID, t.Version)
}

// Location is a code position inside a loaded type.
type Location struct {
	Type      TypeRef
	Method    string
	Signature string
	Line      int
}

// Frame is the top stack frame of a halted thread, used as evaluation context.
type Frame struct {
	Thread   ThreadID
	Location Location
	Locals   map[string]interface{}
}

// RequestKind is the kind of a native event request.
type RequestKind uint8

const (
	RequestClassPrepare RequestKind = iota
	RequestLine
	RequestMethodEntry
	RequestMethodExit
	RequestFieldAccess
	RequestFieldModification
	RequestException
)

func (k RequestKind) String() string {
	switch k {
	case RequestClassPrepare:
		return "class-prepare"
	case RequestLine:
		return "line"
	case RequestMethodEntry:
		return "method-entry"
	case RequestMethodExit:
		return "method-exit"
	case RequestFieldAccess:
		return "field-access"
	case RequestFieldModification:
		return "field-modification"
	case RequestException:
		return "exception"
	default:
		return fmt.Sprintf("RequestKind(%d)", uint8(k))
	}
}

// ProbeParams carries everything a target needs to materialize a probe.
// Fields that do not apply to the request kind are ignored.
type ProbeParams struct {
	Type TypeRef

	// Line requests.
	Line       int
	Stratum    string
	SourcePath string

	// Field requests.
	Field string

	// Exception requests, Type is the exception type.
	Caught   bool
	Uncaught bool

	SuspendPolicy SuspendPolicy
	Enabled       bool
	// CountFilter makes the request fire only on the CountFilter-th
	// occurrence, zero means no filter.
	CountFilter     int
	ThreadFilter    ThreadID // zero means any thread
	InstanceFilters []ObjectID
}

// RequestUpdate describes an in place change of a native request. Nil
// fields are left untouched.
type RequestUpdate struct {
	Enabled       *bool
	SuspendPolicy *SuspendPolicy
	CountFilter   *int
}

// Empty returns true if u changes nothing.
func (u RequestUpdate) Empty() bool {
	return u.Enabled == nil && u.SuspendPolicy == nil && u.CountFilter == nil
}

// Capabilities describes the optional features of a target.
type Capabilities struct {
	CanWatchFieldAccess       bool
	CanWatchFieldModification bool
	CanUseInstanceFilters     bool
	CanUseCountFilters        bool
	// MutableCountFilters is true if UpdateRequest can change the count
	// filter of a live request.
	MutableCountFilters bool
	// MutableSuspendPolicy is true if UpdateRequest can change the suspend
	// policy of a live request.
	MutableSuspendPolicy bool
	CanRedefineTypes     bool
}

// Target represents one attached debuggee.
type Target interface {
	Info
	RequestManipulation
	ThreadManipulation

	// Events returns the event stream of the target. The channel is closed
	// when the target disconnects.
	Events() <-chan Event
}

// Info provides general information on the target and its loaded types.
type Info interface {
	ID() ID
	// Available returns false once the target started disconnecting.
	Available() bool
	Capabilities() Capabilities
	// LoadedTypes returns every type currently prepared in the target.
	LoadedTypes() []TypeRef
	// LoadedTypesNamed returns the prepared types with exactly this name.
	LoadedTypesNamed(name string) []TypeRef
	// NestedTypesOf returns the types directly nested in typ.
	NestedTypesOf(typ TypeRef) []TypeRef
}

// RequestManipulation creates and deletes native event requests.
type RequestManipulation interface {
	// CreateClassPrepareRequest fires whenever a type whose name matches
	// pattern is prepared. The pattern may start or end with '*'.
	CreateClassPrepareRequest(pattern string, policy SuspendPolicy) (Handle, error)
	CreateProbeRequest(kind RequestKind, params ProbeParams) (Handle, error)
	UpdateRequest(h Handle, update RequestUpdate) error
	DeleteRequest(h Handle) error
}

// ThreadManipulation controls halted threads.
type ThreadManipulation interface {
	// ResumeEvent resumes whatever ev suspended.
	ResumeEvent(ev Event) error
	TopFrame(thread ThreadID) (Frame, error)
}

package target

import "fmt"

// EventKind is the kind of an event raised by a target.
type EventKind uint8

const (
	EventClassPrepare EventKind = iota
	EventBreakpoint
	EventMethodEntry
	EventMethodExit
	EventFieldAccess
	EventFieldModification
	EventException
)

func (k EventKind) String() string {
	switch k {
	case EventClassPrepare:
		return "class-prepare"
	case EventBreakpoint:
		return "breakpoint"
	case EventMethodEntry:
		return "method-entry"
	case EventMethodExit:
		return "method-exit"
	case EventFieldAccess:
		return "field-access"
	case EventFieldModification:
		return "field-modification"
	case EventException:
		return "exception"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is raised by a target when one of its requests fires. The event
// thread is halted according to SuspendPolicy until ResumeEvent is called.
type Event struct {
	Kind          EventKind
	Request       Handle
	Thread        ThreadID
	SuspendPolicy SuspendPolicy

	// Location is where the event thread is halted.
	Location Location

	// Type is the prepared type for EventClassPrepare.
	Type TypeRef

	// Field and Object describe field events, Object is also the receiver
	// for method and line events when known.
	Field  string
	Object ObjectID

	// Exception is the thrown type, CatchLocation is nil for uncaught
	// exceptions.
	Exception     TypeRef
	CatchLocation *Location
}

func (ev Event) String() string {
	return fmt.Sprintf("%s request=%d thread=%d at %s:%d", ev.Kind, ev.Request, ev.Thread, ev.Location.Type.Name, ev.Location.Line)
}

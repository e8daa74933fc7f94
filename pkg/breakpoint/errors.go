package breakpoint

import (
	"errors"
	"fmt"

	"github.com/go-delve/bpengine/pkg/target"
)

// NoBreakpointError is returned when trying to
// clear a breakpoint that does not exist.
type NoBreakpointError struct {
	ID int
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint with id %d", nbp.ID)
}

// BreakpointExistsError is returned when trying to set a breakpoint
// at a location where one already exists.
type BreakpointExistsError struct {
	ID       int
	Location string
}

func (bpe BreakpointExistsError) Error() string {
	return fmt.Sprintf("Breakpoint exists at %s (id %d)", bpe.Location, bpe.ID)
}

// isUnresolved returns true for the errors that mean the location can not
// be resolved yet. They are retried on the next class-prepare event.
func isUnresolved(err error) bool {
	return errors.Is(err, target.ErrAbsentInformation) ||
		errors.Is(err, target.ErrNativeMethod) ||
		errors.Is(err, target.ErrNotPrepared) ||
		errors.Is(err, target.ErrNoLocation)
}

// isTransient returns true if err was caused by the target going away.
func isTransient(err error) bool {
	return errors.Is(err, target.ErrDisconnected)
}

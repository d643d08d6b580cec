package wizard

import (
	"errors"
	"fmt"

	"grandfinale/api/internal/form"
)

var (
	ErrClosed      = errors.New("wizard: screen closed")
	ErrUnknownList = errors.New("wizard: unknown list")
	ErrUnknownItem = errors.New("wizard: unknown item")
	ErrAtMinimum   = errors.New("wizard: list is at its minimum size")
	ErrAtMaximum   = errors.New("wizard: list is at its maximum size")
	ErrNoPrimary   = errors.New("wizard: list has no primary flag")
	ErrAutosaveOn  = errors.New("wizard: autosave already running")
)

// ValidationError is returned by Submit when the policy rejects the state.
type ValidationError struct {
	Section   string
	Violation form.Violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Section, e.Violation.Reason)
}

// SaveError is returned when the adapter fails to persist a snapshot. The
// in-memory state is left untouched.
type SaveError struct {
	Section string
	Err     error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %s: %v", e.Section, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

package unit

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownUnit is wrapped by every LoadError.
	ErrUnknownUnit = errors.New("unit: unknown unit")

	// ErrNoStep is returned by Handle.Step for units without the Step capability.
	ErrNoStep = errors.New("unit: step not supported")

	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("unit: already registered")

	// ErrParam indicates a parameter that is present but has the wrong type.
	ErrParam = errors.New("unit: invalid parameter")
)

// LoadError reports an identifier that does not resolve to a registered unit.
type LoadError struct {
	Identifier string
	Name       string
}

func (e *LoadError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("unit: cannot load %q: empty unit name", e.Identifier)
	}
	return fmt.Sprintf("unit: cannot load %q: no unit named %q", e.Identifier, e.Name)
}

func (e *LoadError) Unwrap() error {
	return ErrUnknownUnit
}

// Error is a failure raised by a unit while running one of its operations.
// Panics are recovered into an Error with Panicked set.
type Error struct {
	Unit     string
	Op       string
	Err      error
	Panicked bool
}

func (e *Error) Error() string {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s failed", e.Unit, e.Op)
	}
	if e.Panicked {
		return fmt.Sprintf("%s: %s panicked: %s", e.Unit, e.Op, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Unit, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

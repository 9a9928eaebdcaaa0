package mixin

import (
	"errors"
	"fmt"
)

var (
	// ErrInactive matches every *InactiveError.
	ErrInactive = errors.New("mixin: engine is not active")
	// ErrUnknownTarget matches every *UnknownTargetError.
	ErrUnknownTarget = errors.New("mixin: unknown target class")
	// ErrAdapterUnavailable matches every *AdapterUnavailableError.
	ErrAdapterUnavailable = errors.New("mixin: access adapter unavailable")
	// ErrMissingClass matches every *MissingClassError.
	ErrMissingClass = errors.New("mixin: access adapter has no image for class")
	// ErrTargetMismatch is returned when a descriptor names a different
	// target than the one it is registered against.
	ErrTargetMismatch = errors.New("mixin: descriptor target mismatch")
	// ErrAlreadyLoaded is returned by OnLoad outside the Unloaded state.
	ErrAlreadyLoaded = errors.New("mixin: engine already loaded")
	// ErrNothingToCompose is returned by Compose for an empty list.
	ErrNothingToCompose = errors.New("mixin: nothing to compose")
)

// InactiveReason tells configuration absence apart from lifecycle ordering bugs.
type InactiveReason string

const (
	// ReasonNotLoaded: the host has not loaded or launched the engine yet.
	ReasonNotLoaded InactiveReason = "not yet loaded"
	// ReasonNotCompliant: the application ships no compliance descriptor.
	ReasonNotCompliant InactiveReason = "application not compliant"
)

// InactiveError is returned by register and flush outside the Active state.
type InactiveError struct {
	Operation string
	State     State
	Reason    InactiveReason
}

func (e *InactiveError) Error() string {
	return fmt.Sprintf("mixin: cannot %s: %s (state %s)", e.Operation, e.Reason, e.State)
}

func (e *InactiveError) Is(target error) bool { return target == ErrInactive }

// UnknownTargetError is returned when the archive has no class for Target.
type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("mixin: class %q does not exist in the application archive", e.Target)
}

func (e *UnknownTargetError) Is(target error) bool { return target == ErrUnknownTarget }

// AdapterUnavailableError covers every way the host can fail to supply the
// adapter named by the compliance descriptor.
type AdapterUnavailableError struct {
	Name string
	Err  error
}

func (e *AdapterUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mixin: access adapter %q unavailable", e.Name)
	}
	return fmt.Sprintf("mixin: access adapter %q unavailable: %v", e.Name, e.Err)
}

func (e *AdapterUnavailableError) Is(target error) bool { return target == ErrAdapterUnavailable }

func (e *AdapterUnavailableError) Unwrap() error { return e.Err }

// MissingClassError is returned when the adapter cannot read a registered target.
type MissingClassError struct {
	Target string
}

func (e *MissingClassError) Error() string {
	return fmt.Sprintf("mixin: failed to inject into class %q: adapter has no image for it", e.Target)
}

func (e *MissingClassError) Is(target error) bool { return target == ErrMissingClass }

// TargetError attributes a flush failure to its target.
type TargetError struct {
	Target string
	Err    error
}

func (e *TargetError) Error() string { return fmt.Sprintf("mixin: %s: %v", e.Target, e.Err) }

func (e *TargetError) Unwrap() error { return e.Err }

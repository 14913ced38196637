package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed session or tunnel fields.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateName is returned when a session name is already taken.
	ErrDuplicateName = errors.New("duplicate session name")
	// ErrIndexOutOfRange is returned for tunnel positions that do not exist.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrSessionNotFound is returned when a session is not registered.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoSessionSelected is returned by SelectTunnel without a selected session.
	ErrNoSessionSelected = errors.New("no session selected")
	// ErrListener marks failures reported by listeners after a committed mutation.
	ErrListener = errors.New("listener failed")
)

// ValidationError describes the first invalid field of a session or tunnel.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s (got %v)", ErrValidation, e.Field, e.Reason, e.Value)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IndexError reports a tunnel index outside [0, Len).
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s: tunnel index %d (have %d)", ErrIndexOutOfRange, e.Index, e.Len)
}

func (e *IndexError) Unwrap() error { return ErrIndexOutOfRange }

// ListenerError wraps a failure returned by one listener callback.
type ListenerError struct {
	Event string
	Err   error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrListener, e.Event, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

func (e *ListenerError) Is(target error) bool { return target == ErrListener }

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return &IndexError{Index: i, Len: n}
	}
	return nil
}

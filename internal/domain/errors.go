package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRunTerminal is returned when a completed or failed run is asked to finish again.
	ErrRunTerminal = errors.New("run already finished")
	// ErrInvalidTransition is returned for status changes outside the ledger state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnauthenticated marks missing or rejected credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ValidationError indicates malformed input; nothing was persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError indicates that an addressed entity does not resolve for the caller.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	From string
	To   string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e TransitionError) Unwrap() error { return ErrInvalidTransition }

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable covers transport failures and timeouts.
	ErrUnavailable = errors.New("backend unavailable")
	ErrNotFound    = errors.New("not found")
)

// ValidationError rejects user input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// MalformedError reports a backend record that could not be turned into a
// view model.
type MalformedError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *MalformedError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("malformed %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("malformed %s %s: %s", e.Kind, e.ID, e.Reason)
}

func Malformed(kind, id, reason string) *MalformedError {
	return &MalformedError{Kind: kind, ID: id, Reason: reason}
}

// StepError is returned by compound mutations. Steps that completed before
// the failure are not rolled back; their ids are kept here.
type StepError struct {
	Op     string
	Step   string
	TaskID string
	JobID  string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Op, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func AsValidation(err error) (*ValidationError, bool) {
	var typed *ValidationError
	ok := errors.As(err, &typed)
	return typed, ok
}

package asl

import (
	"errors"
	"fmt"
)

// Well-known error names. Resource invokers may raise custom names; these are
// the ones the interpreter itself produces. ErrorWildcard is match-only: a
// Retry/Catch rule may declare it, but it is never raised.
const (
	ErrorWildcard         = "States.ALL"
	ErrorRuntime          = "States.Runtime"
	ErrorTimeout          = "States.Timeout"
	ErrorHeartbeatTimeout = "States.HeartbeatTimeout"
	ErrorTaskFailed       = "States.TaskFailed"
	ErrorBranchFailed     = "States.BranchFailed"
	ErrorNoChoiceMatched  = "States.NoChoiceMatched"
	ErrorPermissions      = "States.Permissions"
)

// StatesError is the structured error walked through Retry/Catch. Name is the
// classification used for rule matching; Cause is free-form detail.
type StatesError struct {
	Name    string `json:"Error"`
	Cause   string `json:"Cause,omitempty"`
	State   string `json:"-"`
	Wrapped error  `json:"-"`
}

func (e *StatesError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("[%s] state %s: %s", e.Name, e.State, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Name, e.Cause)
}

func (e *StatesError) Unwrap() error {
	return e.Wrapped
}

// NewStatesError creates a StatesError with the given name and cause.
func NewStatesError(name, cause string) *StatesError {
	return &StatesError{Name: name, Cause: cause}
}

// NewStatesErrorf creates a StatesError with a formatted cause.
func NewStatesErrorf(name, format string, args ...any) *StatesError {
	return &StatesError{Name: name, Cause: fmt.Sprintf(format, args...)}
}

// WithState attaches the name of the state that raised the error.
func (e *StatesError) WithState(state string) *StatesError {
	e.State = state
	return e
}

// WithWrapped attaches an underlying cause for errors.Is/As chains.
func (e *StatesError) WithWrapped(err error) *StatesError {
	e.Wrapped = err
	return e
}

// Object returns the error as a document fragment, the shape written at a
// Catcher's ResultPath.
func (e *StatesError) Object() map[string]any {
	obj := map[string]any{"Error": e.Name}
	if e.Cause != "" {
		obj["Cause"] = e.Cause
	}
	return obj
}

// AsStatesError converts any error into a StatesError. StatesErrors pass
// through unchanged; everything else is wrapped under the given default name.
func AsStatesError(err error, defaultName string) *StatesError {
	if err == nil {
		return nil
	}
	var se *StatesError
	if errors.As(err, &se) {
		return se
	}
	return NewStatesError(defaultName, err.Error()).WithWrapped(err)
}

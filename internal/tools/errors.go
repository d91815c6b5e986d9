package tools

// This file defines the error types for tool execution.

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when a tool call names a tool that is not
// present in the registry.
type ErrUnknownTool struct {
	Name string
}

// Error implements the error interface.
func (e *ErrUnknownTool) Error() string {
	return "Unknown tool " + e.Name
}

// ErrorKind classifies an executor failure.
type ErrorKind string

const (
	InvalidArgument ErrorKind = "invalid_argument"
	NotFound        ErrorKind = "not_found"
	Upstream        ErrorKind = "upstream"
)

// ExecError is the error executors return. It never crosses the
// dispatch loop; the loop turns it into an error payload.
type ExecError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ExecError) Unwrap() error { return e.Err }

func invalidArgument(format string, args ...any) *ExecError {
	return &ExecError{Kind: InvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func notFound(err error, format string, args ...any) *ExecError {
	return &ExecError{Kind: NotFound, Message: fmt.Sprintf(format, args...), Err: err}
}

func upstream(err error, format string, args ...any) *ExecError {
	return &ExecError{Kind: Upstream, Message: fmt.Sprintf(format, args...), Err: err}
}

// ErrorPayload converts any executor error into the payload returned to
// the assistant: {"error": message, "kind": kind}.
func ErrorPayload(err error) map[string]any {
	var unknown *ErrUnknownTool
	if errors.As(err, &unknown) {
		return map[string]any{"error": unknown.Error()}
	}

	kind := Upstream
	var execErr *ExecError
	if errors.As(err, &execErr) {
		kind = execErr.Kind
	}
	return map[string]any{"error": err.Error(), "kind": string(kind)}
}

// IsKind reports whether err is an [*ExecError] of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Kind == kind
}

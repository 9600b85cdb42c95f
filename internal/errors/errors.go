package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing failures across the workflow engine.
const (
	ErrConfig   = "CONFIG"   // parameter trees: missing dirs, bad YAML, unresolved paths
	ErrLoop     = "LOOP"     // loop specs: missing fields, non-list references, depth
	ErrExec     = "EXEC"     // local command execution
	ErrSSH      = "SSH"      // remote connection, auth, and streaming
	ErrWorkflow = "WORKFLOW" // workflow document shape problems
)

// Error is a structured error carrying a code, a human message, and an
// optional suggestion for fixing the problem. Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error
}

// New creates a structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrExec code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrExec,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Code == code
	}
	return false
}

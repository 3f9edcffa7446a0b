// Package apperr provides the error taxonomy shared by the card engine.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an error outside the taxonomy.
	CodeUnknown Code = "UNKNOWN"

	// CodeValidation marks malformed input (bad enum value, missing field).
	CodeValidation Code = "VALIDATION"
	// CodeNotFound marks a reference to an id that does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeImmutableCard marks an edit or delete of a system/default card.
	CodeImmutableCard Code = "IMMUTABLE_CARD"
	// CodeCycle marks a parent edge that would close a cycle in the card DAG.
	CodeCycle Code = "CYCLE"
	// CodeGeneration marks a failure of the LLM collaborator.
	CodeGeneration Code = "GENERATION"
)

// HTTPStatus maps a code to its transport status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeImmutableCard:
		return http.StatusForbidden
	case CodeCycle:
		return http.StatusConflict
	case CodeGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error type with structured metadata.
type Error struct {
	Code     Code              // Machine-readable error code
	Message  string            // Human-readable message, safe to show callers
	Metadata map[string]string // Additional context (ids, field names)
	Cause    error             // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation reports malformed input.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

// NotFound reports a missing entity.
func NotFound(kind string, id any) *Error {
	return &Error{
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s %v not found", kind, id),
		Metadata: map[string]string{"kind": kind, "id": fmt.Sprint(id)},
	}
}

// Immutable reports an attempted edit of a protected card.
func Immutable(id int64, message string) *Error {
	return &Error{
		Code:     CodeImmutableCard,
		Message:  message,
		Metadata: map[string]string{"id": fmt.Sprint(id)},
	}
}

// Cycle reports a parent edge that would create a cycle.
func Cycle(id, parentID int64) *Error {
	return &Error{
		Code:    CodeCycle,
		Message: fmt.Sprintf("adding parent %d to card %d would create a cycle", parentID, id),
		Metadata: map[string]string{
			"id":        fmt.Sprint(id),
			"parent_id": fmt.Sprint(parentID),
		},
	}
}

// Generation wraps a failure of the LLM collaborator.
func Generation(cause error) *Error {
	return Wrap(CodeGeneration, "failed to generate response", cause)
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

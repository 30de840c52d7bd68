package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies failures on the dispatch path.
type ErrorKind string

const (
	// KindSessionNotFound means a message named a session that is not registered.
	KindSessionNotFound ErrorKind = "session_not_found"
	// KindMissingCredential means no credential is bound to the current session.
	KindMissingCredential ErrorKind = "missing_credential"
	// KindInvalidArgument means capability input validation failed.
	KindInvalidArgument ErrorKind = "invalid_argument"
	// KindUpstreamFailure means the health-data API call failed.
	KindUpstreamFailure ErrorKind = "upstream_failure"
	// KindUnknownCapability means the requested tool is not one we serve.
	KindUnknownCapability ErrorKind = "unknown_capability"
	// KindUnauthorized means a presented credential was rejected.
	KindUnauthorized ErrorKind = "unauthorized"
)

// Common domain errors
var (
	ErrSessionNotFound   = NewError(KindSessionNotFound, "no active connection for this session, reconnect", 404)
	ErrMissingCredential = NewError(KindMissingCredential, "authentication required: no credential is bound to this session, re-authenticate and reconnect", 401)
	ErrNotFound          = NewError(KindUpstreamFailure, "not found", 404)
	ErrUnauthorized      = NewError(KindUnauthorized, "unauthorized", 401)
)

// Error represents a domain error with a kind and an HTTP-equivalent code.
type Error struct {
	Kind    ErrorKind
	Message string
	Code    int
}

// Error returns the error message.
func (e *Error) Error() string {
	return e.Message
}

// Is matches errors of the same kind and code so wrapped sentinels compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// NewError creates a new domain error.
func NewError(kind ErrorKind, message string, code int) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Code:    code,
	}
}

// NewNotFoundError creates an error that matches ErrNotFound with a specific message.
func NewNotFoundError(format string, args ...interface{}) *Error {
	return NewError(KindUpstreamFailure, fmt.Sprintf(format, args...), 404)
}

// SessionNotFoundError indicates that a message addressed an unknown session.
type SessionNotFoundError struct {
	ID  string
	Err *Error
}

// Error returns the error message.
func (e *SessionNotFoundError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the sentinel.
func (e *SessionNotFoundError) Unwrap() error {
	return ErrSessionNotFound
}

// NewSessionNotFoundError creates a new SessionNotFoundError.
func NewSessionNotFoundError(id string) *SessionNotFoundError {
	return &SessionNotFoundError{
		ID: id,
		Err: NewError(
			KindSessionNotFound,
			fmt.Sprintf("no active connection for session %s, reconnect", id),
			404,
		),
	}
}

// ValidationError indicates that capability input validation failed.
type ValidationError struct {
	Field   string
	Message string
	Err     *Error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return e.Err.Error()
}

// NewInvalidArgumentError creates a new ValidationError.
func NewInvalidArgumentError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err: NewError(
			KindInvalidArgument,
			fmt.Sprintf("invalid argument %s: %s", field, message),
			400,
		),
	}
}

// UnknownCapabilityError indicates that a tool name is not served.
type UnknownCapabilityError struct {
	Name string
}

// Error returns the error message.
func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("Unknown tool: %s", e.Name)
}

// UpstreamError indicates that a call to the health-data API failed.
type UpstreamError struct {
	Op         string
	StatusCode int
	Cause      error
}

// Error returns the error message.
func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("health-data API %s failed with status %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("health-data API %s failed: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// KindOf reports the taxonomy member of err. Errors outside the taxonomy are
// treated as upstream failures since they can only come from collaborator calls.
func KindOf(err error) ErrorKind {
	var (
		snf *SessionNotFoundError
		ve  *ValidationError
		uce *UnknownCapabilityError
		ue  *UpstreamError
		de  *Error
	)
	switch {
	case errors.As(err, &snf):
		return KindSessionNotFound
	case errors.As(err, &ve):
		return KindInvalidArgument
	case errors.As(err, &uce):
		return KindUnknownCapability
	case errors.As(err, &ue):
		return KindUpstreamFailure
	case errors.As(err, &de):
		return de.Kind
	default:
		return KindUpstreamFailure
	}
}

// IsNotFound reports whether err means the requested data does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSessionNotFound reports whether err is a routing miss.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

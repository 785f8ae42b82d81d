package service

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies failures raised by the registry, factory, and resolver.
type ErrorCode uint8

// Error codes reported by the orchestration core.
const (
	CodeUnknown ErrorCode = iota
	CodeNotFound
	CodeMissingDependencies
	CodeCircularDependency
	CodeCreationFailed
	CodeTimeout
	CodeValidationFailed
	CodeRegistrationFailed
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:             "UNKNOWN",
	CodeNotFound:            "NOT_FOUND",
	CodeMissingDependencies: "MISSING_DEPENDENCIES",
	CodeCircularDependency:  "CIRCULAR_DEPENDENCY",
	CodeCreationFailed:      "CREATION_FAILED",
	CodeTimeout:             "TIMEOUT",
	CodeValidationFailed:    "VALIDATION_FAILED",
	CodeRegistrationFailed:  "REGISTRATION_FAILED",
}

// String returns the stable symbolic name for the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", c)
}

// Error is the coded error shape shared by all core components. Path carries
// the dependency chain for cycle errors and the offender list for missing
// dependency errors.
type Error struct {
	Code    ErrorCode
	Message string
	Service string
	Path    []string
	Cause   error
}

// Error renders the code, service, message, path, and cause.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Code)
	if e.Service != "" {
		fmt.Fprintf(&b, " service=%q:", e.Service)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if len(e.Path) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Path, " -> "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on error code so callers can compare against sentinel shapes.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func newError(code ErrorCode, name, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Service: name, Cause: cause}
}

// NewNotFound reports a lookup for an unregistered service name.
func NewNotFound(name string) *Error {
	return newError(CodeNotFound, name, fmt.Sprintf("service %q is not registered", name), nil)
}

// NewMissingDependencies reports every unresolvable reference in a batch.
func NewMissingDependencies(offenders []string) *Error {
	e := newError(CodeMissingDependencies, "",
		fmt.Sprintf("unresolvable dependencies: %s", strings.Join(offenders, ", ")), nil)
	e.Path = offenders
	return e
}

// NewCircularDependency reports a dependency cycle with its full path.
func NewCircularDependency(path []string) *Error {
	e := newError(CodeCircularDependency, "",
		fmt.Sprintf("circular dependency detected: %s", strings.Join(path, " -> ")), nil)
	e.Path = path
	return e
}

// NewCreationFailed wraps any construction, validation, or initializer failure.
func NewCreationFailed(name string, kind Kind, cause error) *Error {
	return newError(CodeCreationFailed, name,
		fmt.Sprintf("service creation failed (kind=%s)", kind), cause)
}

// NewTimeout reports an operation exceeding its bound.
func NewTimeout(name, op string, cause error) *Error {
	return newError(CodeTimeout, name, fmt.Sprintf("%s timed out", op), cause)
}

// NewValidationFailed reports an invalid definition or instance shape.
func NewValidationFailed(name, message string, cause error) *Error {
	return newError(CodeValidationFailed, name, message, cause)
}

// NewRegistrationFailed reports a per-service registration failure after
// retries are exhausted.
func NewRegistrationFailed(name string, cause error) *Error {
	return newError(CodeRegistrationFailed, name, "service registration failed", cause)
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeNotFound
}

// IsMissingDependencies reports whether err carries CodeMissingDependencies.
func IsMissingDependencies(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeMissingDependencies
}

// IsCircularDependency reports whether err carries CodeCircularDependency.
func IsCircularDependency(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeCircularDependency
}

// IsCreationFailed reports whether err carries CodeCreationFailed.
func IsCreationFailed(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeCreationFailed
}

// IsTimeout reports whether err carries CodeTimeout.
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == CodeTimeout
}

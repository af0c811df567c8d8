package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it
type Kind string

const (
	// KindValidation is raised before any I/O for missing or malformed input
	KindValidation Kind = "validation"
	// KindTransport covers backend, RPC and network failures
	KindTransport Kind = "transport"
	// KindPrecondition is a user error detected before a flow contacts the network
	KindPrecondition Kind = "precondition"
	// KindNotImplemented marks a capability that exists only as a placeholder
	KindNotImplemented Kind = "not_implemented"
)

// Error is an error with a kind, a stable code and a user-facing message
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same kind and code, so sentinel
// values can be compared with errors.Is even when they carry a cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap returns a copy of e carrying cause
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Cause: cause}
}

// ErrNotImplemented is returned by placeholder capabilities
var ErrNotImplemented = &Error{
	Kind:    KindNotImplemented,
	Code:    "NOT_IMPLEMENTED",
	Message: "capability is not implemented",
}

// Validation creates a validation error
func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// Precondition creates a precondition error
func Precondition(code, message string) *Error {
	return &Error{Kind: KindPrecondition, Code: code, Message: message}
}

// Transport wraps a backend or network failure
func Transport(code, message string, cause error) *Error {
	return &Error{Kind: KindTransport, Code: code, Message: message, Cause: cause}
}

// NotImplemented returns ErrNotImplemented annotated with the capability name
func NotImplemented(capability string) *Error {
	return &Error{
		Kind:    KindNotImplemented,
		Code:    ErrNotImplemented.Code,
		Message: fmt.Sprintf("%s is not implemented", capability),
	}
}

// KindOf reports the kind of the first *Error in err's chain.
// Errors that carry no kind are treated as transport failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// UserMessage returns the message that should be shown to a user.
// Transport failures collapse into a generic message; the detail belongs in logs.
func UserMessage(err error, generic string) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindTransport {
		return e.Message
	}
	return generic
}

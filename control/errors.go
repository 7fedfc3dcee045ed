package control

import "fmt"

// Error codes classify failures per the control plane's handling policy:
// invalid input surfaces to the caller, capacity is absorbed locally,
// collaborator failures are retried and reported, invariant violations
// halt the owning component.
const (
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeCapacity     = "capacity"
	ErrCodeTimeout      = "timeout"
	ErrCodeCollaborator = "collaborator"
	ErrCodeInvariant    = "invariant"
)

// Error is the typed error returned across component boundaries.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a typed error with a formatted message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a typed error.
func WrapError(code string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsCode reports whether err is a control Error with the given code.
func IsCode(err error, code string) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

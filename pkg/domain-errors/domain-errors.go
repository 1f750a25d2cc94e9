package domainerrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code represents an error category independent of the transport layer.
// Codes describe which step of the reporting workflow failed, not HTTP status classes.
type Code string

const (
	CodeInvalidInput  Code = "invalid_input"
	CodeConfiguration Code = "configuration"
	CodeUnauthorized  Code = "unauthorized"
	CodeCreation      Code = "issue_creation"
	CodeCommand       Code = "command_execution"
	CodeTransport     Code = "transport"
	CodeClosed        Code = "closed"
	CodeInternal      Code = "internal_error"
)

// Error wraps workflow or infrastructure failures with a stable code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new error wrapping an existing error.
// If the wrapped error already carries a code, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a coded error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the code of the outermost coded error, or CodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// RemoteError describes a non-success response from the tracker so failures
// can be diagnosed from logs alone.
type RemoteError struct {
	Operation  string
	URL        string
	StatusCode int
	Reason     string
	Body       string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Operation)
	if e.URL != "" {
		b.WriteString(" through ")
		b.WriteString(e.URL)
	}
	fmt.Fprintf(&b, ". Response %d: %s", e.StatusCode, e.Reason)
	if e.Body != "" {
		b.WriteString("\nBody: ")
		b.WriteString(e.Body)
	}
	return b.String()
}

// Remote wraps a RemoteError with the given code.
func Remote(code Code, remote *RemoteError) error {
	return &Error{Code: code, Err: remote}
}

package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch on it without
// parsing message text.
type ErrorKind string

// Error kinds carried on the wire as "error_kind".
const (
	KindTransport    ErrorKind = "transport"    // Endpoint unreachable, malformed frame.
	KindRouting      ErrorKind = "routing"      // Unknown tool or operation.
	KindInvalidArgs  ErrorKind = "invalid_args" // Missing or ill-typed argument.
	KindPrecondition ErrorKind = "precondition" // No active document, empty selection.
	KindNotFound     ErrorKind = "not_found"    // Object or pending operation absent.
	KindDownstream   ErrorKind = "downstream"   // Engine or sandbox fault.
)

// Error is the tagged error returned by every cadbridge component.
// Error() yields Message unchanged so it can be shown to users verbatim.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error // optional cause
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a tagged error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind, prefixing msg when non-empty.
func Wrap(kind ErrorKind, err error, msg string) *Error {
	text := err.Error()
	if msg != "" {
		text = msg + ": " + text
	}
	return &Error{Kind: kind, Message: text, Err: err}
}

// KindOf extracts the kind of err. Untagged errors are downstream faults.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDownstream
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// NoActiveDocument is the precondition failure shared by every
// modification handler.
func NoActiveDocument() *Error {
	return Errorf(KindPrecondition, "No active document")
}

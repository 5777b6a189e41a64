package ovsdb

import "github.com/pkg/errors"

// ErrorKind classifies the failure modes a caller of this package may need
// to branch on, independent of the wrapped cause chain pkg/errors keeps
// around for logging.
type ErrorKind int

const (
	// Parsing indicates an inbound message or schema document was malformed.
	Parsing ErrorKind = iota
	// TypeMismatch indicates a JSON value's concrete kind does not match
	// the BaseType it is being decoded against.
	TypeMismatch
	// InvalidValue indicates a value decoded but failed a range, enum or
	// length constraint.
	InvalidValue
	// UnknownColumnType indicates ColumnType.FromJSON rejected every
	// candidate shape (neither atomic nor key-valued).
	UnknownColumnType
	// MalformedValue indicates a (ColumnType, JSON) pair did not match any
	// accepted wire shape for that column.
	MalformedValue
	// Timeout indicates an RPC deadline was exceeded.
	Timeout
	// ConnectionClosed indicates the session ended before completion.
	ConnectionClosed
	// Unimplemented indicates an operation was accepted but is not yet
	// supported (the lock/steal/unlock family).
	Unimplemented
	// OperationFailed indicates the server returned an "error" object in a
	// transact response slot.
	OperationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case Parsing:
		return "Parsing"
	case TypeMismatch:
		return "TypeMismatch"
	case InvalidValue:
		return "InvalidValue"
	case UnknownColumnType:
		return "UnknownColumnType"
	case MalformedValue:
		return "MalformedValue"
	case Timeout:
		return "Timeout"
	case ConnectionClosed:
		return "ConnectionClosed"
	case Unimplemented:
		return "Unimplemented"
	case OperationFailed:
		return "OperationFailed"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by this module. Kind lets a
// caller branch on the failure mode; the underlying cause chain (accessible
// via errors.Cause) carries the human-readable detail.
type Error struct {
	kind  ErrorKind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

// Unwrap allows errors.Is/errors.As (and pkg/errors.Cause) to see through
// to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Kind reports which of the taxonomy buckets this error belongs to.
func (e *Error) Kind() ErrorKind { return e.kind }

// NewError wraps cause with the given classification. A nil cause is
// replaced with the kind's own description so Error() is never empty.
func NewError(kind ErrorKind, cause error) *Error {
	return &Error{kind: kind, cause: cause}
}

// Errorf builds a classified error from a format string, using pkg/errors
// so the resulting error retains a stack trace for logging at the call site
// that first observed the failure.
func Errorf(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{kind: kind, cause: errors.Errorf(format, args...)}
}

// Wrap classifies an existing error, preserving its cause chain.
func Wrap(kind ErrorKind, cause error, msg string) *Error {
	return &Error{kind: kind, cause: errors.Wrap(cause, msg)}
}

// KindOf extracts the ErrorKind from err if it (or something in its chain)
// is one of ours, returning ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, true
	}
	return 0, false
}

// Package bridgeerr defines the typed error kinds shared by every layer of
// the bridge, so the HTTP and OPC UA boundaries can type-switch on a
// consistent taxonomy instead of matching error strings.
package bridgeerr

import "fmt"

// Kind is one of the error kinds enumerated in the bridge's error model.
type Kind string

const (
	ValidationFailed Kind = "ValidationFailed"
	NotFound         Kind = "NotFound"
	NotWritable      Kind = "NotWritable"
	ConnectFailed    Kind = "ConnectFailed"
	Timeout          Kind = "Timeout"
	TransportError   Kind = "TransportError"
	ProtocolError    Kind = "ProtocolError"
	ValueOutOfRange  Kind = "ValueOutOfRange"
)

// Error wraps an underlying cause with one of the bridge's error kinds.
type Error struct {
	Kind      Kind
	Operation string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(kind Kind, operation, message string) *Error {
	return &Error{Kind: kind, Operation: operation, Message: message}
}

// Wrap creates an Error of the given kind wrapping a cause.
func Wrap(kind Kind, operation, message string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to "" when err is not one
// of ours (or is nil).
func KindOf(err error) Kind {
	var e *Error
	if err == nil {
		return ""
	}
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return ""
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// HTTPStatus maps a Kind to the HTTP status code the admin API returns.
func HTTPStatus(k Kind) int {
	switch k {
	case ValidationFailed, NotWritable, ValueOutOfRange:
		return 400
	case NotFound:
		return 404
	case ConnectFailed, Timeout, TransportError:
		return 500
	default:
		return 500
	}
}

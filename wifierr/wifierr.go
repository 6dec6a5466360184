// Package wifierr defines the error taxonomy surfaced to callers.
// Every terminal failure carries exactly one Kind so callers can react
// without inspecting internal state.
package wifierr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// NotFound signals an unknown device, profile or access point.
	NotFound Kind = iota
	// Busy signals a conflicting in-flight operation.
	Busy
	// Unsupported signals an operation the device cannot perform.
	Unsupported
	// InvalidParams signals a malformed security configuration.
	InvalidParams
	// Conflict signals a concurrent profile mutation.
	Conflict
	// InUse signals a deletion attempt on a profile bound to an activation.
	InUse
	// SecretUnavailable signals that no source yielded a credential.
	SecretUnavailable
	// Timeout signals that no terminal daemon signal arrived within the bound.
	Timeout
	// DaemonError signals an opaque failure surfaced by the transport.
	DaemonError
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Busy:
		return "busy"
	case Unsupported:
		return "unsupported"
	case InvalidParams:
		return "invalid parameters"
	case Conflict:
		return "conflict"
	case InUse:
		return "in use"
	case SecretUnavailable:
		return "secret unavailable"
	case Timeout:
		return "timeout"
	case DaemonError:
		return "daemon error"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with a taxonomy kind.
func E(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Ef builds a taxonomy error from a format string.
func Ef(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the taxonomy kind from err. The second return value
// is false when err carries no kind.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

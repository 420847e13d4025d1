// Package fault defines the error taxonomy shared by all lifecycle
// operations. Every failure surfaced to the CLI carries a Kind so the
// command layer can report the category alongside the remote detail.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a lifecycle failure.
type Kind string

const (
	// NotFound means a named inventory entity does not exist.
	NotFound Kind = "not-found"
	// Ambiguous means a name resolved to more than one entity.
	Ambiguous Kind = "ambiguous"
	// InvalidReference means a malformed datastore path or MAC address.
	InvalidReference Kind = "invalid-reference"
	// DeviceNotFound means the edit target device is absent from the VM.
	DeviceNotFound Kind = "device-not-found"
	// PreconditionFailed means the operation is invalid for the VM's
	// current state (e.g. delete while powered on).
	PreconditionFailed Kind = "precondition-failed"
	// RemoteFailure means the vSphere task reached the error state; the
	// endpoint's fault message is carried verbatim.
	RemoteFailure Kind = "remote-failure"
	// Timeout means the task did not reach a terminal state in time.
	Timeout Kind = "timeout"
	// AuthenticationFailure means session establishment was rejected.
	AuthenticationFailure Kind = "authentication-failure"
)

// Error is a classified lifecycle failure. Action and Target identify
// the operation and the VM/entity it was acting on.
type Error struct {
	Kind   Kind
	Action string // e.g. "create", "clone", "power-on"
	Target string // VM or entity name
	Detail string
	Err    error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %q: %s", e.Action, e.Target, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a formatted detail message.
func New(kind Kind, action, target, format string, args ...any) *Error {
	return &Error{Kind: kind, Action: action, Target: target, Detail: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, action, target string, err error) *Error {
	return &Error{Kind: kind, Action: action, Target: target, Err: err}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

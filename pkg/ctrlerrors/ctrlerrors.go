// Package ctrlerrors defines the error kinds propagated as values across
// every component boundary in the control plane (spec §7). None of these
// are meant to cross a boundary as a panic; component main loops translate
// a Kind into the appropriate upward signal (STATE_UPDATE_FATAL, ERROR
// reply, or process exit).
package ctrlerrors

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from the error-handling design table.
type Kind string

const (
	KindIllegalStateTransition Kind = "illegal-state-transition"
	KindPeerUnresponsive       Kind = "peer-unresponsive"
	KindPayloadLaunch          Kind = "payload-launch"
	KindPayloadCrash           Kind = "payload-crash"
	KindEndpointBind           Kind = "endpoint-bind"
	KindResponseParse          Kind = "response-parse"
)

// Error wraps an underlying cause with a Kind so callers can switch on the
// failure class without string-matching messages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of kind with message, optionally wrapping cause.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

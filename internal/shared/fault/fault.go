// Package fault defines the error taxonomy shared by the bank-connection core.
package fault

import (
	"context"
	"errors"
	"net"
)

// Kind classifies a failure the way the UI layer needs to distinguish them:
// a rejected bank login must never be reported as a connectivity problem.
type Kind string

const (
	// Unauthorized means the aggregator rejected our service credentials.
	Unauthorized Kind = "unauthorized"
	// Unauthenticated means an operation required a session that is missing or expired.
	Unauthenticated Kind = "unauthenticated"
	// InvalidCredentials means the user's bank login was rejected by the institution.
	InvalidCredentials Kind = "invalid_credentials"
	// NetworkUnavailable means a transport-level failure reaching the aggregator.
	NetworkUnavailable Kind = "network_unavailable"
	// Timeout means a bounded wait was exceeded.
	Timeout Kind = "timeout"
	// Conflict means a duplicate submission for an institution already in flight.
	Conflict Kind = "conflict"
)

// Error carries a taxonomy kind and a sanitized message. The message must not
// contain credential material or raw aggregator payloads.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that wraps an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the taxonomy kind carried by err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransportTimeout reports whether err is a context deadline or a
// transport-level timeout, as opposed to any other network failure.
func IsTransportTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

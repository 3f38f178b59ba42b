// Package flowerrors implements the engine's closed error taxonomy. Every
// error surfaced across package boundaries is one of the kinds declared
// here, each wrapping an optional cause so callers can classify failures
// without parsing messages.
package flowerrors

import (
	"errors"
	"fmt"
)

// Kind identifies which of the closed set of error categories an error
// belongs to.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindConfiguration      Kind = "configuration"
	KindConnection         Kind = "connection"
	KindProtocol           Kind = "protocol"
	KindCircuitOpen        Kind = "circuit_open"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindNotFound           Kind = "not_found"
	KindTimeout            Kind = "timeout"
	KindMigration          Kind = "migration"
	KindRuntime            Kind = "runtime"
)

// Error is the concrete error type for every flowerrors.Kind. It carries
// the subsystem that raised it, a human message, and an optional cause.
type Error struct {
	Kind      Kind
	Subsystem string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Subsystem, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Subsystem, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(kind Kind, subsystem, message string, cause error) *Error {
	return &Error{Kind: kind, Subsystem: subsystem, Message: message, Cause: cause}
}

func NewValidation(subsystem, message string) *Error {
	return new_(KindValidation, subsystem, message, nil)
}

func NewConfiguration(subsystem, message string) *Error {
	return new_(KindConfiguration, subsystem, message, nil)
}

func NewConnection(subsystem, message string, cause error) *Error {
	return new_(KindConnection, subsystem, message, cause)
}

func NewProtocol(subsystem, message string) *Error {
	return new_(KindProtocol, subsystem, message, nil)
}

func NewCircuitOpen(subsystem, message string) *Error {
	return new_(KindCircuitOpen, subsystem, message, nil)
}

func NewConcurrencyConflict(subsystem, message string) *Error {
	return new_(KindConcurrencyConflict, subsystem, message, nil)
}

func NewNotFound(subsystem, message string) *Error {
	return new_(KindNotFound, subsystem, message, nil)
}

func NewTimeout(subsystem, message string, cause error) *Error {
	return new_(KindTimeout, subsystem, message, cause)
}

func NewMigration(subsystem, message string, cause error) *Error {
	return new_(KindMigration, subsystem, message, cause)
}

func NewRuntime(subsystem, message string, cause error) *Error {
	return new_(KindRuntime, subsystem, message, cause)
}

// Is reports whether err (or any error it wraps) is a flowerrors.Error of
// the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// IsRetryable reports whether the policy in §7 retries errors of this
// kind: connection failures and timeouts are transient, everything else
// is not.
func IsRetryable(err error) bool {
	return Is(err, KindConnection) || Is(err, KindTimeout)
}

package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying every failure the service can report. Wrap
// them with fmt.Errorf("...: %w", ...) or use the constructors below; the
// Is* predicates then work on any error in the chain.
var (
	// ErrValidation indicates bad user input: size syntax, unknown option,
	// name length or charset, unknown datastore, disallowed policy.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a missing volume or image, or a missing device
	// on detach.
	ErrNotFound = errors.New("not found")

	// ErrCapacity indicates no free controller or unit slot on the VM.
	ErrCapacity = errors.New("out of capacity")

	// ErrConflict indicates an attach attempted while the volume is attached
	// elsewhere, or a reconfiguration fault caused by a collision.
	ErrConflict = errors.New("conflict")

	// ErrInfrastructure indicates an external command or hypervisor call
	// failed; the message carries captured stderr or fault text.
	ErrInfrastructure = errors.New("infrastructure failure")

	// ErrProtocol indicates a malformed request, unknown command, or
	// transport decode failure.
	ErrProtocol = errors.New("protocol error")
)

// Validation returns a validation error with a formatted message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// NotFound returns a not-found error with a formatted message.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Capacity returns a capacity error with a formatted message.
func Capacity(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrCapacity)...)
}

// Conflict returns a conflict error with a formatted message.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Infrastructure returns an infrastructure error with a formatted message.
func Infrastructure(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInfrastructure)...)
}

// Protocol returns a protocol error with a formatted message.
func Protocol(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrProtocol)...)
}

// IsValidation reports whether err is classified as a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err is classified as a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCapacity reports whether err is classified as a capacity error.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}

// IsConflict reports whether err is classified as a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInfrastructure reports whether err is classified as an infrastructure error.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

// IsProtocol reports whether err is classified as a protocol error.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

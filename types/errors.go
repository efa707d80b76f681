package types

import (
	"context"
	"errors"
)

// Sentinel errors for patch attempt failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrFormat indicates a malformed or unexpected binary structure.
	// Always fatal for the attempt; the input archive does not change between retries.
	ErrFormat = errors.New("format error")

	// ErrDependencyUnavailable indicates a step asked for the output of a step
	// that has not completed. This is an ordering bug in the step list.
	ErrDependencyUnavailable = errors.New("dependency not satisfied")

	// ErrInsufficientStorage indicates the pre-flight free space check failed.
	ErrInsufficientStorage = errors.New("insufficient storage")

	// ErrNetwork indicates a remote fetch failed.
	ErrNetwork = errors.New("network error")

	// ErrCancelled indicates the attempt was cancelled by the user or the system.
	ErrCancelled = errors.New("cancelled")
)

// ErrorKind is the stable, serializable name of an error class.
type ErrorKind string

// Error kinds recorded in install logs and completion events.
const (
	ErrorKindNone                  ErrorKind = ""
	ErrorKindFormat                ErrorKind = "format"
	ErrorKindDependencyUnavailable ErrorKind = "dependency_unavailable"
	ErrorKindInsufficientStorage   ErrorKind = "insufficient_storage"
	ErrorKindNetwork               ErrorKind = "network"
	ErrorKindCancelled             ErrorKind = "cancelled"
	ErrorKindInternal              ErrorKind = "internal"
)

// Classify maps an error to its ErrorKind.
// Context cancellation and deadline errors classify as cancelled.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, ErrFormat):
		return ErrorKindFormat
	case errors.Is(err, ErrDependencyUnavailable):
		return ErrorKindDependencyUnavailable
	case errors.Is(err, ErrInsufficientStorage):
		return ErrorKindInsufficientStorage
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindNetwork
	default:
		return ErrorKindInternal
	}
}

// Package errors provides error handling for leaderops.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing messages
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrRebaseConflict) {
//	    // handled outcome, not an exception path
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors for the verification pipeline.
// Use these with errors.Is() for type-safe checking; wrap them with
// errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested record or resource does not exist
	ErrNotFound = New("not found")

	// ErrRemoteBranchNotFound indicates the branch has no upstream ref.
	// Fatal for that PR's run only.
	ErrRemoteBranchNotFound = New("remote branch not found")

	// ErrRebaseConflict indicates the branch could not be replayed cleanly
	// onto the base. An expected outcome, never force-pushed.
	ErrRebaseConflict = New("rebase conflict")

	// ErrPushRejected indicates the remote refused a force-push, usually a
	// race with another writer. Surfaced for manual retry.
	ErrPushRejected = New("push rejected")

	// ErrWorkspaceBusy indicates a workspace for the same branch is already
	// leased by another pipeline run.
	ErrWorkspaceBusy = New("workspace busy")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

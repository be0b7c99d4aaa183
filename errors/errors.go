// Package errors provides error handling for the provenance pipeline.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Typed sentinel errors for the pipeline error taxonomy
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
//	if errors.Is(err, errors.ErrNoViewWithName) {
//	    // handle unknown view
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

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Pipeline error taxonomy. Each sentinel marks one error class from the
// engine contract; wrap them with errors.Wrap to add context while
// preserving the class for errors.Is checks.
var (
	// ErrConfig indicates a structurally invalid configuration. Fatal to
	// engine construction under strict mode.
	ErrConfig = New("invalid configuration")

	// ErrInvalidState indicates an operation called in the wrong lifecycle
	// state. Fatal to that call only; the engine remains usable.
	ErrInvalidState = New("invalid pipeline state")

	// ErrNotRunning indicates ingestion was requested while the pipeline
	// is not in the Running state.
	ErrNotRunning = New("pipeline not running")

	// ErrAmbiguousViewName indicates a view name resolved to more than one
	// registered descriptor.
	ErrAmbiguousViewName = New("ambiguous view name")

	// ErrNoViewWithName indicates a view name resolved to no descriptor.
	ErrNoViewWithName = New("no view with name")

	// ErrInvalidArgument indicates a malformed view activation request,
	// such as a missing required parameter or an unknown parameter key.
	ErrInvalidArgument = New("invalid argument")

	// ErrCorruptRecord indicates a single undecodable record in the input
	// stream. Recoverable: the record is skipped and counted.
	ErrCorruptRecord = New("corrupt record")

	// ErrStreamIO indicates an I/O failure on the input stream. Fatal to
	// the current ingest call only.
	ErrStreamIO = New("stream I/O failure")

	// ErrPersistenceUnavailable indicates the persistence backend could
	// not be reached within the bounded retry budget.
	ErrPersistenceUnavailable = New("persistence backend unavailable")
)

// IsRecoverable reports whether an error belongs to the recoverable part of
// the taxonomy: the caller may retry with corrected input and no component
// other than the failed call is affected.
func IsRecoverable(err error) bool {
	return IsAny(err,
		ErrAmbiguousViewName,
		ErrNoViewWithName,
		ErrInvalidArgument,
		ErrCorruptRecord,
	)
}

// Package errors provides centralized error definitions and error handling utilities
// for zektor. It defines the sentinel errors of the session lifecycle, typed errors
// carrying command context, and classification helpers.
//
// # Error Kinds
//
// Caller errors are returned when a command is not legal for the current state.
// They never change state and are never retried:
//   - ErrNotFound: unknown session id
//   - ErrNotActive: the command needs an active session
//   - ErrSlotOccupied: the destination stage already holds a session
//   - ErrInvalidStage: stage ordinal outside 1..N
//   - ErrInvalidTransition: a store transition that the state machine forbids
//   - ErrStageEmpty: a stage-addressed command found no session in the stage
//   - ErrInvalidArgument: a malformed operator command
//
// Collaborator errors come from the persistence adapter:
//   - ErrPersistence: a durable read or write failed
//
// # Usage
//
//	err := errors.NewLifecycleError("advance", errors.ErrSlotOccupied).
//	    WithSessionID(3).WithStage(2)
//
//	if errors.Is(err, errors.ErrSlotOccupied) { ... }
//
//	var lerr *errors.LifecycleError
//	if errors.As(err, &lerr) { fmt.Println(lerr.SessionID) }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Lifecycle sentinel errors
var (
	// ErrNotFound indicates that a session id is unknown.
	ErrNotFound = New("session not found")
	// ErrNotActive indicates that a command requires an active session.
	ErrNotActive = New("session is not active")
	// ErrSlotOccupied indicates that the destination stage already holds a session.
	ErrSlotOccupied = New("stage is occupied")
	// ErrInvalidStage indicates a stage ordinal outside the configured pipeline.
	ErrInvalidStage = New("invalid stage")
	// ErrInvalidTransition indicates a store transition the state machine forbids.
	ErrInvalidTransition = New("invalid status transition")
	// ErrStageEmpty indicates that a stage-addressed command found no session there.
	ErrStageEmpty = New("stage is empty")
	// ErrInvalidArgument indicates a malformed operator command, such as a
	// non-numeric session id.
	ErrInvalidArgument = New("invalid argument")
)

// Persistence sentinel errors
var (
	// ErrPersistence indicates that a durable read or write failed.
	ErrPersistence = New("persistence failure")
	// ErrCorruptState indicates that a persisted snapshot violates the state invariants.
	ErrCorruptState = New("persisted state is inconsistent")
	// ErrLocked indicates that the data directory is held by another process.
	ErrLocked = New("data directory is locked")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ZektorError is the base interface for typed errors in this module.
type ZektorError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the operation may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to an operator.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// LifecycleError
// -----------------------------------------------------------------------------

// LifecycleError is returned by lifecycle commands. The cause is one of the
// lifecycle sentinels, so errors.Is works against them directly.
//
// Example:
//
//	err := errors.NewLifecycleError("advance", errors.ErrSlotOccupied).WithSessionID(3).WithStage(2)
//	fmt.Println(err) // "advance [session=3, stage=2]: stage is occupied"
type LifecycleError struct {
	baseError
	Op        string
	SessionID int
	Stage     int
}

// NewLifecycleError creates a LifecycleError for the named command. An
// empty stage is routine (debug) and an occupied one is expected traffic
// (info); every other refusal is a warning.
func NewLifecycleError(op string, cause error) *LifecycleError {
	severity := SeverityWarning
	switch {
	case errors.Is(cause, ErrStageEmpty):
		severity = SeverityDebug
	case errors.Is(cause, ErrSlotOccupied):
		severity = SeverityInfo
	}
	return &LifecycleError{
		baseError: baseError{
			message:    op,
			cause:      cause,
			severity:   severity,
			retryable:  false,
			userFacing: true,
		},
		Op: op,
	}
}

// WithSessionID adds a session id to the error context.
func (e *LifecycleError) WithSessionID(id int) *LifecycleError {
	e.SessionID = id
	return e
}

// WithStage adds a stage ordinal to the error context.
func (e *LifecycleError) WithStage(stage int) *LifecycleError {
	e.Stage = stage
	return e
}

// Error returns the formatted error message.
func (e *LifecycleError) Error() string {
	var parts []string
	if e.SessionID != 0 {
		parts = append(parts, fmt.Sprintf("session=%d", e.SessionID))
	}
	if e.Stage != 0 {
		parts = append(parts, fmt.Sprintf("stage=%d", e.Stage))
	}

	prefix := e.Op
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", e.Op, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// -----------------------------------------------------------------------------
// PersistenceError
// -----------------------------------------------------------------------------

// PersistenceError wraps a failure of the persistence adapter. It always
// matches ErrPersistence in addition to its cause.
type PersistenceError struct {
	baseError
	Backend string
	Op      string
	Path    string
}

// NewPersistenceError creates a PersistenceError for a backend operation.
func NewPersistenceError(backend, op string, cause error) *PersistenceError {
	return &PersistenceError{
		baseError: baseError{
			message:    op,
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		Backend: backend,
		Op:      op,
	}
}

// WithPath adds the storage location to the error context.
func (e *PersistenceError) WithPath(path string) *PersistenceError {
	e.Path = path
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *PersistenceError) WithRetryable(r bool) *PersistenceError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *PersistenceError) Error() string {
	parts := []string{fmt.Sprintf("backend=%s", e.Backend)}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	msg := fmt.Sprintf("persistence error [%s]: %s", strings.Join(parts, ", "), e.Op)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Is reports whether target is ErrPersistence or matches the cause.
func (e *PersistenceError) Is(target error) bool {
	if target == ErrPersistence {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsCallerError returns true for errors caused by an illegal command rather
// than a collaborator failure. Caller errors leave state unchanged.
func IsCallerError(err error) bool {
	return Is(err, ErrNotFound) || Is(err, ErrNotActive) ||
		Is(err, ErrSlotOccupied) || Is(err, ErrInvalidStage) ||
		Is(err, ErrInvalidTransition) || Is(err, ErrStageEmpty) ||
		Is(err, ErrInvalidArgument)
}

// IsRetryable returns true if the error is transient and the operation
// may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var zerr ZektorError
	if As(err, &zerr) {
		return zerr.IsRetryable()
	}
	return false
}

// IsUserFacing returns true if the error message is safe to display to an operator.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var zerr ZektorError
	if As(err, &zerr) {
		return zerr.IsUserFacing()
	}
	return IsCallerError(err)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ZektorError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var zerr ZektorError
	if As(err, &zerr) {
		return zerr.Severity()
	}
	return SeverityError
}

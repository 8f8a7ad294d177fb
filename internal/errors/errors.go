// Package errors provides centralized error definitions for the hive
// scheduler. It defines the scheduling error taxonomy, constructors with
// context, and classification helpers used by the dispatcher and retry
// manager to decide whether a failure is retryable.
//
// The taxonomy:
//   - ValidationError: malformed task spec; surfaced to the caller, never retried.
//   - ErrInvalidTransition: an illegal lifecycle transition; a programming error.
//   - NoCapacityError: no eligible team at dispatch time; the task stays pending.
//   - ExecutionError: the work executor reported a failure; routed through retry.
//   - TimeoutError: the executor exceeded its deadline; retryable like any failure.
//   - TeamUnhealthyError: internal health-monitor signal; never surfaced to callers.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors returned by registry and scheduler operations.
var (
	// ErrTaskNotFound indicates that a task could not be found.
	ErrTaskNotFound = New("task not found")
	// ErrTeamNotFound indicates that a team could not be found.
	ErrTeamNotFound = New("team not found")
	// ErrInvalidTransition indicates an illegal task lifecycle transition.
	// This is a programming error, not a runtime condition; tests assert
	// against it with errors.Is.
	ErrInvalidTransition = New("invalid status transition")
	// ErrAtCapacity indicates a team's load counter is at its capacity limit.
	ErrAtCapacity = New("team at capacity")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCancelled indicates that a task was cancelled by the caller.
	ErrCancelled = New("task cancelled")
	// ErrSchedulerStopped indicates the scheduler has been shut down.
	ErrSchedulerStopped = New("scheduler stopped")
)

// ValidationError represents a malformed task spec or team descriptor.
// Validation failures are surfaced immediately and never retried.
type ValidationError struct {
	Field   string
	Value   any
	message string
}

// NewValidationError creates a ValidationError with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{message: message}
}

// WithField adds the offending field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [field=%s]: %s (got: %v)", e.Field, e.message, e.Value)
	}
	return fmt.Sprintf("validation error: %s", e.message)
}

// Is reports whether target is a ValidationError.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// NoCapacityError indicates no eligible team existed at dispatch time.
// The task remains pending and is retried on the next dispatch cycle.
type NoCapacityError struct {
	TaskID   string
	TaskType string
}

// NewNoCapacityError creates a NoCapacityError for the given task.
func NewNoCapacityError(taskID, taskType string) *NoCapacityError {
	return &NoCapacityError{TaskID: taskID, TaskType: taskType}
}

// Error returns the formatted error message.
func (e *NoCapacityError) Error() string {
	return fmt.Sprintf("no eligible team for task %s (type %q)", e.TaskID, e.TaskType)
}

// Is reports whether target is a NoCapacityError.
func (e *NoCapacityError) Is(target error) bool {
	_, ok := target.(*NoCapacityError)
	return ok
}

// ExecutionError represents a failure reported by the work executor.
// Execution errors are retryable until the task exhausts its retries.
type ExecutionError struct {
	TaskID string
	TeamID string
	Kind   string // executor-supplied error kind, e.g. "crash", "rejected"
	cause  error
}

// NewExecutionError creates an ExecutionError for the given task and team.
func NewExecutionError(taskID, teamID, kind string, cause error) *ExecutionError {
	return &ExecutionError{TaskID: taskID, TeamID: teamID, Kind: kind, cause: cause}
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("execution failed [task=%s, team=%s]", e.TaskID, e.TeamID)
	if e.Kind != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Kind)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *ExecutionError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	if _, ok := target.(*ExecutionError); ok {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// TimeoutError represents an executor call that exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a TimeoutError for the given operation.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

// Is reports whether target is a TimeoutError or wraps ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return errors.Is(target, ErrTimeout)
}

// TeamUnhealthyError is an internal signal produced by the health monitor
// when a team drops below its health threshold. It only drives eligibility
// exclusion and is never surfaced to task callers.
type TeamUnhealthyError struct {
	TeamID      string
	SuccessRate float64
}

// NewTeamUnhealthyError creates a TeamUnhealthyError for the given team.
func NewTeamUnhealthyError(teamID string, successRate float64) *TeamUnhealthyError {
	return &TeamUnhealthyError{TeamID: teamID, SuccessRate: successRate}
}

// Error returns the formatted error message.
func (e *TeamUnhealthyError) Error() string {
	return fmt.Sprintf("team %s unhealthy (success rate %.2f)", e.TeamID, e.SuccessRate)
}

// Is reports whether target is a TeamUnhealthyError.
func (e *TeamUnhealthyError) Is(target error) bool {
	_, ok := target.(*TeamUnhealthyError)
	return ok
}

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Execution failures and timeouts are retryable;
// validation failures and transition errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var execErr *ExecutionError
	var timeoutErr *TimeoutError
	if As(err, &execErr) || As(err, &timeoutErr) {
		return true
	}

	return Is(err, ErrTimeout)
}

// IsValidation returns true if the error is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return As(err, &ve)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels shared by the pool, the scheduler and the result stores.
var (
	// ErrClosed indicates that the pool or store was already disposed
	ErrClosed = errors.New("resource is closed")

	// ErrCapacityExceeded indicates that a capacity limit was exceeded
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrCycleDetected indicates that a relation would introduce a cycle
	// into a dependency or group graph
	ErrCycleDetected = errors.New("cycle detected")

	// ErrDuplicateWorkID indicates that a caller-supplied work ID is already in use
	ErrDuplicateWorkID = errors.New("duplicate work id")

	// ErrWorkRejected indicates that the pool was saturated and the
	// configured rejection policy refused the work
	ErrWorkRejected = errors.New("work rejected")

	// ErrWorkNotFound indicates that no work or result exists for an ID
	ErrWorkNotFound = errors.New("work not found")

	// ErrWorkPending indicates that a work item has not produced a result yet
	ErrWorkPending = errors.New("work result pending")

	// ErrDependencyFailed indicates that a prerequisite of a work item did
	// not succeed, so the work item was never executed
	ErrDependencyFailed = errors.New("dependency failed")
)

// ValidationError describes a configuration value that failed validation.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError without a hint.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the same error for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap returns ErrInvalidConfiguration so errors.Is works on validation failures.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// OperationError wraps the cause of a failed operation with its origin.
type OperationError struct {
	Module    string
	Operation string
	Cause     error
	Context   string
}

// NewOperationError creates an OperationError without additional context.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

// WithContext attaches context and returns the same error for chaining.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// CycleError reports the path that would close a cycle in a graph.
type CycleError struct {
	// Graph names the graph kind, e.g. "dependency" or "group".
	Graph string

	// Path lists the nodes from the new node back to itself.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s graph: %v: %s", e.Graph, ErrCycleDetected, strings.Join(e.Path, " -> "))
}

// Unwrap returns ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// IsRetryable reports whether err comes from a saturated pool or a result
// that is not ready yet, so the same call may succeed later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrWorkRejected) ||
		errors.Is(err, ErrWorkPending) ||
		errors.Is(err, ErrCapacityExceeded)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsCycleError reports whether err is or wraps a CycleError.
func IsCycleError(err error) bool {
	var cerr *CycleError
	return errors.As(err, &cerr)
}

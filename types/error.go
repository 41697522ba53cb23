// Package types holds shared types used across the orchestration core:
// the unified error taxonomy and the stage input/output documents.
package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the orchestrator.
type ErrorCode string

// Workflow error codes
const (
	// ErrNodeExecution indicates a pipeline node exhausted its agent
	// attempts and could not produce a stage output.
	ErrNodeExecution ErrorCode = "NODE_EXECUTION"

	// ErrContentUnit indicates a single content unit failed. This error
	// is recorded against the unit and never aborts sibling units.
	ErrContentUnit ErrorCode = "CONTENT_UNIT"

	// ErrFatal indicates an unexpected failure (panic, config error,
	// store unavailable) that aborts the whole workflow.
	ErrFatal ErrorCode = "FATAL"

	// ErrWorkflowNotFound indicates no checkpoint exists for a workflow id.
	ErrWorkflowNotFound ErrorCode = "WORKFLOW_NOT_FOUND"

	// ErrWorkflowTerminal indicates an operation on an already-finished
	// workflow.
	ErrWorkflowTerminal ErrorCode = "WORKFLOW_TERMINAL"

	// ErrCheckpointStale indicates an optimistic-concurrency conflict:
	// another writer persisted a newer revision of the same workflow.
	ErrCheckpointStale ErrorCode = "CHECKPOINT_STALE"

	// ErrCheckpointSchema indicates a checkpoint with an unsupported
	// schema version was loaded.
	ErrCheckpointSchema ErrorCode = "CHECKPOINT_SCHEMA"
)

// Agent error codes
const (
	// ErrAgentTimeout indicates an agent call exceeded its deadline.
	ErrAgentTimeout ErrorCode = "AGENT_TIMEOUT"

	// ErrAgentMalformedOutput indicates an agent returned output that
	// could not be decoded into the stage's output type.
	ErrAgentMalformedOutput ErrorCode = "AGENT_MALFORMED_OUTPUT"

	// ErrAgentRateLimited indicates the upstream model rejected the call
	// due to rate limiting.
	ErrAgentRateLimited ErrorCode = "AGENT_RATE_LIMITED"

	// ErrAgentUpstream indicates a generic upstream model failure.
	ErrAgentUpstream ErrorCode = "AGENT_UPSTREAM"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Step      string    `json:"step,omitempty"`
	UnitID    string    `json:"unit_id,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithStep tags the error with the pipeline step that produced it.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithUnit tags the error with the content unit it belongs to.
func (e *Error) WithUnit(unitID string) *Error {
	e.UnitID = unitID
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsFatal reports whether the error aborts the whole workflow. Unknown
// error values are treated as fatal; only explicitly classified content
// unit failures are absorbed at the unit boundary.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return GetErrorCode(err) != ErrContentUnit
}

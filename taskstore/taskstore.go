// Package taskstore mirrors workflow status into a durable task record
// for outside observers. The orchestration core treats updates as
// fire-and-forget: a failed status write is logged by the caller and
// never aborts the workflow.
package taskstore

import (
	"context"
	"time"
)

// Status is the externally visible workflow status.
type Status string

const (
	// StatusPending indicates the workflow has been created but not run.
	StatusPending Status = "pending"

	// StatusRunning indicates a node is executing.
	StatusRunning Status = "running"

	// StatusSuspended indicates the workflow is parked at human review.
	StatusSuspended Status = "suspended"

	// StatusCompleted indicates every content unit succeeded.
	StatusCompleted Status = "completed"

	// StatusPartialFailure indicates some content units failed.
	StatusPartialFailure Status = "partial_failure"

	// StatusFailed indicates the workflow aborted on a fatal error.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartialFailure, StatusFailed:
		return true
	default:
		return false
	}
}

// Task is the persisted status record for one workflow.
type Task struct {
	// WorkflowID keys the record.
	WorkflowID string `json:"workflow_id"`

	// Status is the current externally visible status.
	Status Status `json:"status"`

	// CurrentStep is the pipeline step the workflow is at.
	CurrentStep string `json:"current_step"`

	// Error carries the last error message when Status is failed.
	Error string `json:"error,omitempty"`

	// CreatedAt is when the record was first written.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists task status records.
type Store interface {
	// UpdateStatus upserts the record for workflowID.
	UpdateStatus(ctx context.Context, workflowID string, status Status, currentStep, errMsg string) error

	// Get returns the record for workflowID.
	Get(ctx context.Context, workflowID string) (*Task, error)
}

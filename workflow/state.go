// Package workflow implements the durable, resumable orchestration core:
// a state machine that sequences the curriculum pipeline, retries the
// bounded validation loop, suspends indefinitely for human approval, fans
// content generation out across independent units with partial-failure
// semantics, and survives process restarts by resuming from persisted
// checkpoints.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/coursecraft/coursecraft/types"
)

// Step identifies one pipeline node.
type Step string

const (
	// StepStart is the pseudo-step a freshly created workflow sits at.
	StepStart Step = "start"

	// StepIntentAnalysis turns the learner request into a structured intent.
	StepIntentAnalysis Step = "intent_analysis"

	// StepCurriculumDesign produces the multi-stage framework.
	StepCurriculumDesign Step = "curriculum_design"

	// StepStructureValidation checks the framework's structure.
	StepStructureValidation Step = "structure_validation"

	// StepEditor revises the framework from validation issues or reviewer
	// feedback.
	StepEditor Step = "editor"

	// StepHumanReview is the indefinite suspension point awaiting an
	// out-of-band reviewer decision.
	StepHumanReview Step = "human_review"

	// StepContentGeneration fans out per-concept content jobs.
	StepContentGeneration Step = "content_generation"
)

// TerminalStatus is the final, immutable outcome of a workflow.
type TerminalStatus string

const (
	// StatusCompleted means every content unit succeeded.
	StatusCompleted TerminalStatus = "completed"

	// StatusPartialFailure means the workflow finished but some content
	// units failed, or validation retries were exhausted fail-open with
	// human review disabled.
	StatusPartialFailure TerminalStatus = "partial_failure"

	// StatusFailed means a fatal error aborted the workflow.
	StatusFailed TerminalStatus = "failed"
)

// UnitStatus is the lifecycle status of one content unit. Units move
// strictly forward: pending → generating → completed|failed.
type UnitStatus string

const (
	UnitPending    UnitStatus = "pending"
	UnitGenerating UnitStatus = "generating"
	UnitCompleted  UnitStatus = "completed"
	UnitFailed     UnitStatus = "failed"
)

// ContentUnit is one per-concept fan-out work item.
type ContentUnit struct {
	// ID is the concept id the unit generates content for.
	ID string `json:"id"`

	// Concept is the concept this unit covers.
	Concept types.Concept `json:"concept"`

	// Status is the unit's lifecycle status.
	Status UnitStatus `json:"status"`

	// Content holds the generated artifacts when Status is completed.
	Content *types.UnitContent `json:"content,omitempty"`

	// Error carries the failure detail when Status is failed, with enough
	// context for a caller to issue a scoped redo.
	Error string `json:"error,omitempty"`
}

// HistoryEntry is one append-only execution log record.
type HistoryEntry struct {
	Step    Step      `json:"step"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

// State is the single mutable document threaded through the pipeline. It
// is exclusively owned by the Executor for the duration of one Run or
// Resume call; node runners receive it as a read view and return a Delta.
type State struct {
	// WorkflowID is the stable external identifier, immutable once created.
	WorkflowID string `json:"workflow_id"`

	// Request is the learner's original ask.
	Request *types.Request `json:"request"`

	// CurrentStep is the last node that completed (or human_review while
	// suspended).
	CurrentStep Step `json:"current_step"`

	// RetryCountValidation counts editor round-trips triggered by failed
	// validation. Reviewer-rejection edits do not count against it.
	RetryCountValidation int `json:"retry_count_validation"`

	// Intent is the intent analysis output.
	Intent *types.Intent `json:"intent,omitempty"`

	// Framework is the curriculum framework; only the editor overwrites it
	// after the design stage.
	Framework *types.Framework `json:"framework,omitempty"`

	// ValidationResult is the latest structure validation verdict.
	ValidationResult *types.ValidationResult `json:"validation_result,omitempty"`

	// ReviewDecision is the injected human decision; nil while awaiting
	// review. The editor clears it when consuming rejection feedback.
	ReviewDecision *types.ReviewDecision `json:"review_decision,omitempty"`

	// ContentUnits is the ordered fan-out work list; the count is fixed
	// once content generation starts and ordering follows the framework's
	// concept order.
	ContentUnits []ContentUnit `json:"content_units,omitempty"`

	// History is the append-only execution log.
	History []HistoryEntry `json:"history,omitempty"`

	// TerminalStatus is set exactly once by the Executor.
	TerminalStatus TerminalStatus `json:"terminal_status,omitempty"`

	// CreatedAt is when the workflow was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every persisted transition.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates the initial state for a learner request. An empty
// workflowID gets a generated UUID.
func NewState(workflowID string, req *types.Request) *State {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &State{
		WorkflowID:  workflowID,
		Request:     req,
		CurrentStep: StepStart,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsTerminal reports whether the workflow has finished.
func (s *State) IsTerminal() bool {
	return s.TerminalStatus != ""
}

// appendHistory records a step outcome.
func (s *State) appendHistory(step Step, outcome string) {
	s.History = append(s.History, HistoryEntry{
		Step:    step,
		Outcome: outcome,
		At:      time.Now().UTC(),
	})
}

// FailedUnits counts content units that ended failed.
func (s *State) FailedUnits() int {
	n := 0
	for i := range s.ContentUnits {
		if s.ContentUnits[i].Status == UnitFailed {
			n++
		}
	}
	return n
}

// CompletedUnits counts content units that ended completed.
func (s *State) CompletedUnits() int {
	n := 0
	for i := range s.ContentUnits {
		if s.ContentUnits[i].Status == UnitCompleted {
			n++
		}
	}
	return n
}

// Delta is the partial state update a node runner returns. The Executor
// merges it into the state; runners never mutate the state directly.
type Delta struct {
	// Intent replaces the state's intent when set.
	Intent *types.Intent

	// Framework replaces the state's framework when set.
	Framework *types.Framework

	// ValidationResult replaces the state's validation verdict when set.
	ValidationResult *types.ValidationResult

	// ContentUnits replaces the fan-out work list when set.
	ContentUnits []ContentUnit

	// ClearReview drops the consumed review decision so a later pass
	// through human review suspends again.
	ClearReview bool

	// Suspend tells the Executor to park the workflow instead of
	// advancing. Only the review runner sets it.
	Suspend bool
}

// apply merges the delta into the state.
func (d *Delta) apply(s *State) {
	if d == nil {
		return
	}
	if d.Intent != nil {
		s.Intent = d.Intent
	}
	if d.Framework != nil {
		s.Framework = d.Framework
	}
	if d.ValidationResult != nil {
		s.ValidationResult = d.ValidationResult
	}
	if d.ContentUnits != nil {
		s.ContentUnits = d.ContentUnits
	}
	if d.ClearReview {
		s.ReviewDecision = nil
	}
}

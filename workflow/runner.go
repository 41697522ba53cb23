package workflow

import (
	"context"
	"time"

	"github.com/coursecraft/coursecraft/agents"
	"github.com/coursecraft/coursecraft/types"
)

// NodeRunner executes one pipeline stage. Runners receive the state as a
// read view and must not mutate it; all updates flow back through the
// returned Delta. Every runner must be safely re-enterable from a freshly
// deserialized state.
type NodeRunner interface {
	// Step names the node the runner implements.
	Step() Step

	// Run executes the stage. A non-nil Delta alongside a non-nil error
	// carries partial progress the Executor persists before failing.
	Run(ctx context.Context, s *State) (*Delta, error)
}

// agentCtx applies the per-agent-call deadline.
func agentCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// nodeErr wraps an agent failure as a node execution error.
func nodeErr(step Step, err error) error {
	return types.NewError(types.ErrNodeExecution, "node execution failed").
		WithStep(string(step)).
		WithCause(err)
}

// IntentRunner runs the intent analysis stage.
type IntentRunner struct {
	agent   agents.IntentAgent
	timeout time.Duration
}

var _ NodeRunner = (*IntentRunner)(nil)

// NewIntentRunner creates the intent analysis runner.
func NewIntentRunner(agent agents.IntentAgent, timeout time.Duration) *IntentRunner {
	return &IntentRunner{agent: agent, timeout: timeout}
}

// Step implements NodeRunner.
func (r *IntentRunner) Step() Step { return StepIntentAnalysis }

// Run implements NodeRunner.
func (r *IntentRunner) Run(ctx context.Context, s *State) (*Delta, error) {
	if s.Request == nil {
		return nil, types.NewError(types.ErrFatal, "state has no request").WithStep(string(r.Step()))
	}

	callCtx, cancel := agentCtx(ctx, r.timeout)
	defer cancel()

	intent, err := r.agent.AnalyzeIntent(callCtx, s.Request)
	if err != nil {
		return nil, nodeErr(r.Step(), err)
	}
	return &Delta{Intent: intent}, nil
}

// CurriculumRunner runs the curriculum design stage.
type CurriculumRunner struct {
	agent   agents.CurriculumAgent
	timeout time.Duration
}

var _ NodeRunner = (*CurriculumRunner)(nil)

// NewCurriculumRunner creates the curriculum design runner.
func NewCurriculumRunner(agent agents.CurriculumAgent, timeout time.Duration) *CurriculumRunner {
	return &CurriculumRunner{agent: agent, timeout: timeout}
}

// Step implements NodeRunner.
func (r *CurriculumRunner) Step() Step { return StepCurriculumDesign }

// Run implements NodeRunner.
func (r *CurriculumRunner) Run(ctx context.Context, s *State) (*Delta, error) {
	if s.Intent == nil {
		return nil, types.NewError(types.ErrFatal, "state has no intent").WithStep(string(r.Step()))
	}

	callCtx, cancel := agentCtx(ctx, r.timeout)
	defer cancel()

	framework, err := r.agent.DesignFramework(callCtx, s.Intent)
	if err != nil {
		return nil, nodeErr(r.Step(), err)
	}
	return &Delta{Framework: framework}, nil
}

// ValidationRunner runs the structure validation stage. An invalid
// framework is a normal outcome carried in the result; the Router, not
// this runner, decides what happens next.
type ValidationRunner struct {
	agent   agents.ValidatorAgent
	timeout time.Duration
}

var _ NodeRunner = (*ValidationRunner)(nil)

// NewValidationRunner creates the structure validation runner.
func NewValidationRunner(agent agents.ValidatorAgent, timeout time.Duration) *ValidationRunner {
	return &ValidationRunner{agent: agent, timeout: timeout}
}

// Step implements NodeRunner.
func (r *ValidationRunner) Step() Step { return StepStructureValidation }

// Run implements NodeRunner.
func (r *ValidationRunner) Run(ctx context.Context, s *State) (*Delta, error) {
	if s.Framework == nil {
		return nil, types.NewError(types.ErrFatal, "state has no framework").WithStep(string(r.Step()))
	}

	callCtx, cancel := agentCtx(ctx, r.timeout)
	defer cancel()

	result, err := r.agent.ValidateStructure(callCtx, s.Framework)
	if err != nil {
		return nil, nodeErr(r.Step(), err)
	}
	return &Delta{ValidationResult: result}, nil
}

// EditorRunner revises the framework from validator issues and, after a
// rejected review, reviewer feedback. It consumes the rejection so a
// later pass through human review suspends for a fresh decision.
type EditorRunner struct {
	agent   agents.EditorAgent
	timeout time.Duration
}

var _ NodeRunner = (*EditorRunner)(nil)

// NewEditorRunner creates the editor runner.
func NewEditorRunner(agent agents.EditorAgent, timeout time.Duration) *EditorRunner {
	return &EditorRunner{agent: agent, timeout: timeout}
}

// Step implements NodeRunner.
func (r *EditorRunner) Step() Step { return StepEditor }

// Run implements NodeRunner.
func (r *EditorRunner) Run(ctx context.Context, s *State) (*Delta, error) {
	if s.Framework == nil {
		return nil, types.NewError(types.ErrFatal, "state has no framework").WithStep(string(r.Step()))
	}

	var issues []string
	if s.ValidationResult != nil && !s.ValidationResult.Valid {
		issues = s.ValidationResult.Issues
	}
	var feedback string
	if s.ReviewDecision != nil && !s.ReviewDecision.Approved {
		feedback = s.ReviewDecision.Feedback
	}
	if len(issues) == 0 && feedback == "" {
		return nil, types.NewError(types.ErrFatal, "editor invoked with nothing to fix").WithStep(string(r.Step()))
	}

	callCtx, cancel := agentCtx(ctx, r.timeout)
	defer cancel()

	revised, err := r.agent.ReviseFramework(callCtx, s.Framework, issues, feedback)
	if err != nil {
		return nil, nodeErr(r.Step(), err)
	}
	if revised.Revision <= s.Framework.Revision {
		revised.Revision = s.Framework.Revision + 1
	}
	return &Delta{Framework: revised, ClearReview: true}, nil
}

// ReviewRunner implements the human review suspension point. It calls no
// agent: with no decision in state it signals suspension, otherwise it
// lets the Router branch on the decision.
type ReviewRunner struct{}

var _ NodeRunner = (*ReviewRunner)(nil)

// NewReviewRunner creates the human review runner.
func NewReviewRunner() *ReviewRunner { return &ReviewRunner{} }

// Step implements NodeRunner.
func (r *ReviewRunner) Step() Step { return StepHumanReview }

// Run implements NodeRunner.
func (r *ReviewRunner) Run(_ context.Context, s *State) (*Delta, error) {
	if s.ReviewDecision == nil {
		return &Delta{Suspend: true}, nil
	}
	return &Delta{}, nil
}

// decisionOutcome renders a review decision for the execution history.
func decisionOutcome(d *types.ReviewDecision) string {
	if d.Approved {
		return "approved"
	}
	return "rejected"
}

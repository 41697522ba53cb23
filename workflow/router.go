package workflow

// DecisionKind classifies a routing decision.
type DecisionKind int

const (
	// DecideRun executes the node named by Decision.Step next.
	DecideRun DecisionKind = iota

	// DecideSuspend parks the workflow awaiting an external decision.
	DecideSuspend

	// DecideFinish ends the workflow with Decision.Status.
	DecideFinish
)

// Decision is the Router's verdict on what happens next.
type Decision struct {
	// Kind selects run, suspend, or finish.
	Kind DecisionKind

	// Step names the node to run (or the suspension step).
	Step Step

	// Status is the terminal status when Kind is DecideFinish.
	Status TerminalStatus

	// IncrementRetry is set when the editor runs because validation
	// failed; the Executor bumps the retry counter before the node runs.
	// Editor passes triggered by reviewer rejection leave it unset.
	IncrementRetry bool
}

// RouterConfig holds the branching knobs.
type RouterConfig struct {
	// MaxValidationRetries bounds the validation/editor loop.
	MaxValidationRetries int

	// SkipHumanReview routes validated frameworks straight to content
	// generation.
	SkipHumanReview bool

	// FailClosed finishes the workflow as failed (instead of
	// partial_failure) when validation retries are exhausted and human
	// review is disabled.
	FailClosed bool
}

// Next is the pure routing function: no I/O, fully determined by the
// current step and the relevant stage output.
//
// The validation branch fails open: when retries are exhausted and the
// framework is still invalid, the workflow routes to human review anyway
// so a person gets the final say. With human review disabled it must
// still terminate, as partial_failure by default or failed under
// FailClosed. There is never an unconditional edge back to the editor.
func Next(cfg RouterConfig, s *State) Decision {
	if s.IsTerminal() {
		return Decision{Kind: DecideFinish, Status: s.TerminalStatus}
	}

	switch s.CurrentStep {
	case StepStart:
		return Decision{Kind: DecideRun, Step: StepIntentAnalysis}

	case StepIntentAnalysis:
		return Decision{Kind: DecideRun, Step: StepCurriculumDesign}

	case StepCurriculumDesign:
		return Decision{Kind: DecideRun, Step: StepStructureValidation}

	case StepStructureValidation:
		if s.ValidationResult != nil && s.ValidationResult.Valid {
			if cfg.SkipHumanReview {
				return Decision{Kind: DecideRun, Step: StepContentGeneration}
			}
			return Decision{Kind: DecideRun, Step: StepHumanReview}
		}
		if s.RetryCountValidation < cfg.MaxValidationRetries {
			return Decision{Kind: DecideRun, Step: StepEditor, IncrementRetry: true}
		}
		if cfg.SkipHumanReview {
			if cfg.FailClosed {
				return Decision{Kind: DecideFinish, Status: StatusFailed}
			}
			return Decision{Kind: DecideFinish, Status: StatusPartialFailure}
		}
		return Decision{Kind: DecideRun, Step: StepHumanReview}

	case StepEditor:
		return Decision{Kind: DecideRun, Step: StepStructureValidation}

	case StepHumanReview:
		if s.ReviewDecision == nil {
			return Decision{Kind: DecideSuspend, Step: StepHumanReview}
		}
		if s.ReviewDecision.Approved {
			return Decision{Kind: DecideRun, Step: StepContentGeneration}
		}
		return Decision{Kind: DecideRun, Step: StepEditor}

	case StepContentGeneration:
		if s.FailedUnits() == 0 {
			return Decision{Kind: DecideFinish, Status: StatusCompleted}
		}
		return Decision{Kind: DecideFinish, Status: StatusPartialFailure}

	default:
		// Unknown step in a persisted state; refuse to guess.
		return Decision{Kind: DecideFinish, Status: StatusFailed}
	}
}

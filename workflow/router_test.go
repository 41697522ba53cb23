package workflow

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/coursecraft/coursecraft/types"
)

func validState(step Step) *State {
	s := NewState("wf-router", &types.Request{Goal: "learn go"})
	s.CurrentStep = step
	return s
}

func TestRouterLinearPrefix(t *testing.T) {
	cfg := RouterConfig{MaxValidationRetries: 3}

	d := Next(cfg, validState(StepStart))
	assert.Equal(t, DecideRun, d.Kind)
	assert.Equal(t, StepIntentAnalysis, d.Step)

	d = Next(cfg, validState(StepIntentAnalysis))
	assert.Equal(t, StepCurriculumDesign, d.Step)

	d = Next(cfg, validState(StepCurriculumDesign))
	assert.Equal(t, StepStructureValidation, d.Step)
}

func TestRouterAfterValidation(t *testing.T) {
	t.Run("valid routes to human review", func(t *testing.T) {
		s := validState(StepStructureValidation)
		s.ValidationResult = &types.ValidationResult{Valid: true}

		d := Next(RouterConfig{MaxValidationRetries: 3}, s)
		assert.Equal(t, DecideRun, d.Kind)
		assert.Equal(t, StepHumanReview, d.Step)
	})

	t.Run("valid skips review when configured off", func(t *testing.T) {
		s := validState(StepStructureValidation)
		s.ValidationResult = &types.ValidationResult{Valid: true}

		d := Next(RouterConfig{MaxValidationRetries: 3, SkipHumanReview: true}, s)
		assert.Equal(t, StepContentGeneration, d.Step)
	})

	t.Run("invalid with budget routes to editor and increments", func(t *testing.T) {
		s := validState(StepStructureValidation)
		s.ValidationResult = &types.ValidationResult{Valid: false, Issues: []string{"empty stage"}}
		s.RetryCountValidation = 2

		d := Next(RouterConfig{MaxValidationRetries: 3}, s)
		assert.Equal(t, StepEditor, d.Step)
		assert.True(t, d.IncrementRetry)
	})

	t.Run("exhausted budget fails open to human review", func(t *testing.T) {
		s := validState(StepStructureValidation)
		s.ValidationResult = &types.ValidationResult{Valid: false}
		s.RetryCountValidation = 3

		d := Next(RouterConfig{MaxValidationRetries: 3}, s)
		assert.Equal(t, DecideRun, d.Kind)
		assert.Equal(t, StepHumanReview, d.Step)
		assert.False(t, d.IncrementRetry)
	})

	t.Run("exhausted budget without review terminates partial", func(t *testing.T) {
		s := validState(StepStructureValidation)
		s.ValidationResult = &types.ValidationResult{Valid: false}
		s.RetryCountValidation = 3

		d := Next(RouterConfig{MaxValidationRetries: 3, SkipHumanReview: true}, s)
		assert.Equal(t, DecideFinish, d.Kind)
		assert.Equal(t, StatusPartialFailure, d.Status)
	})

	t.Run("exhausted budget fail-closed terminates failed", func(t *testing.T) {
		s := validState(StepStructureValidation)
		s.ValidationResult = &types.ValidationResult{Valid: false}
		s.RetryCountValidation = 3

		d := Next(RouterConfig{MaxValidationRetries: 3, SkipHumanReview: true, FailClosed: true}, s)
		assert.Equal(t, DecideFinish, d.Kind)
		assert.Equal(t, StatusFailed, d.Status)
	})
}

func TestRouterAfterHumanReview(t *testing.T) {
	t.Run("no decision suspends", func(t *testing.T) {
		s := validState(StepHumanReview)
		d := Next(RouterConfig{}, s)
		assert.Equal(t, DecideSuspend, d.Kind)
	})

	t.Run("approval routes to content generation", func(t *testing.T) {
		s := validState(StepHumanReview)
		s.ReviewDecision = &types.ReviewDecision{Approved: true, DecidedAt: time.Now()}
		d := Next(RouterConfig{}, s)
		assert.Equal(t, StepContentGeneration, d.Step)
	})

	t.Run("rejection routes to editor without retry increment", func(t *testing.T) {
		s := validState(StepHumanReview)
		s.ReviewDecision = &types.ReviewDecision{Approved: false, Feedback: "too shallow"}
		d := Next(RouterConfig{}, s)
		assert.Equal(t, StepEditor, d.Step)
		assert.False(t, d.IncrementRetry)
	})
}

func TestRouterAfterContentGeneration(t *testing.T) {
	s := validState(StepContentGeneration)
	s.ContentUnits = []ContentUnit{
		{ID: "c1", Status: UnitCompleted},
		{ID: "c2", Status: UnitCompleted},
	}
	d := Next(RouterConfig{}, s)
	assert.Equal(t, DecideFinish, d.Kind)
	assert.Equal(t, StatusCompleted, d.Status)

	s.ContentUnits[1].Status = UnitFailed
	d = Next(RouterConfig{}, s)
	assert.Equal(t, StatusPartialFailure, d.Status)
}

func TestRouterTerminalStateShortCircuits(t *testing.T) {
	s := validState(StepContentGeneration)
	s.TerminalStatus = StatusCompleted
	d := Next(RouterConfig{}, s)
	assert.Equal(t, DecideFinish, d.Kind)
	assert.Equal(t, StatusCompleted, d.Status)
}

// simulateRouting walks the graph applying each decision's abstract node
// effect, and reports whether the walk reached a terminal status or a
// suspension within maxTransitions.
func simulateRouting(cfg RouterConfig, verdicts []bool, maxTransitions int) bool {
	s := validState(StepStart)
	vi := 0
	for i := 0; i < maxTransitions; i++ {
		d := Next(cfg, s)
		switch d.Kind {
		case DecideFinish, DecideSuspend:
			return true
		case DecideRun:
			if d.IncrementRetry {
				s.RetryCountValidation++
			}
			switch d.Step {
			case StepStructureValidation:
				verdict := verdicts[len(verdicts)-1]
				if vi < len(verdicts) {
					verdict = verdicts[vi]
					vi++
				}
				s.ValidationResult = &types.ValidationResult{Valid: verdict}
			case StepEditor:
				s.ReviewDecision = nil
			}
			s.CurrentStep = d.Step
		}
	}
	return false
}

func TestRouterTerminatesWithinBoundedTransitions(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300

	properties := gopter.NewProperties(params)
	properties.Property("every routing walk terminates or suspends", prop.ForAll(
		func(maxRetries int, skipReview, failClosed bool, verdicts []bool) bool {
			cfg := RouterConfig{
				MaxValidationRetries: maxRetries,
				SkipHumanReview:      skipReview,
				FailClosed:           failClosed,
			}
			// Each validation retry costs two transitions (editor +
			// re-validation) on top of the linear pipeline.
			bound := 2*maxRetries + 12
			return simulateRouting(cfg, verdicts, bound)
		},
		gen.IntRange(0, 5),
		gen.Bool(),
		gen.Bool(),
		gen.SliceOfN(8, gen.Bool()),
	))
	properties.TestingRun(t)
}

// Package agents defines the stage agent contracts consumed by the
// workflow core, plus the OpenAI-backed production implementations.
//
// Each pipeline stage owns one narrow interface with a single typed
// input/output method. Implementations own their transient-error retry and
// rate limiting; the workflow core only ever sees the final outcome of a
// call.
package agents

import (
	"context"
	"fmt"

	"github.com/coursecraft/coursecraft/types"
)

// IntentAgent interprets a raw learner request into a structured intent.
type IntentAgent interface {
	AnalyzeIntent(ctx context.Context, req *types.Request) (*types.Intent, error)
}

// CurriculumAgent designs a multi-stage framework for an intent. Feedback
// is empty on first design and carries reviewer comments on redesign.
type CurriculumAgent interface {
	DesignFramework(ctx context.Context, intent *types.Intent) (*types.Framework, error)
}

// ValidatorAgent checks a framework's structure. An invalid framework is a
// normal business outcome, not an error: the verdict is in the result.
type ValidatorAgent interface {
	ValidateStructure(ctx context.Context, framework *types.Framework) (*types.ValidationResult, error)
}

// EditorAgent revises a framework to address validator issues and, on a
// rejected human review, reviewer feedback.
type EditorAgent interface {
	ReviseFramework(ctx context.Context, framework *types.Framework, issues []string, feedback string) (*types.Framework, error)
}

// TutorialAgent writes the long-form lesson for one concept.
type TutorialAgent interface {
	GenerateTutorial(ctx context.Context, intent *types.Intent, concept *types.Concept) (*types.Tutorial, error)
}

// ResourceAgent curates external references for one concept.
type ResourceAgent interface {
	CurateResources(ctx context.Context, intent *types.Intent, concept *types.Concept) (*types.ResourceList, error)
}

// QuizAgent writes the assessment for one concept.
type QuizAgent interface {
	GenerateQuiz(ctx context.Context, intent *types.Intent, concept *types.Concept) (*types.Quiz, error)
}

// Set bundles one agent per stage; the executor's runners draw from it.
type Set struct {
	Intent     IntentAgent
	Curriculum CurriculumAgent
	Validator  ValidatorAgent
	Editor     EditorAgent
	Tutorial   TutorialAgent
	Resource   ResourceAgent
	Quiz       QuizAgent
}

// Validate checks that every stage has an agent.
func (s *Set) Validate() error {
	switch {
	case s.Intent == nil:
		return fmt.Errorf("agents: intent agent is required")
	case s.Curriculum == nil:
		return fmt.Errorf("agents: curriculum agent is required")
	case s.Validator == nil:
		return fmt.Errorf("agents: validator agent is required")
	case s.Editor == nil:
		return fmt.Errorf("agents: editor agent is required")
	case s.Tutorial == nil:
		return fmt.Errorf("agents: tutorial agent is required")
	case s.Resource == nil:
		return fmt.Errorf("agents: resource agent is required")
	case s.Quiz == nil:
		return fmt.Errorf("agents: quiz agent is required")
	}
	return nil
}

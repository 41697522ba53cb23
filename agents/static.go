package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/coursecraft/coursecraft/types"
)

// StaticAgents is a deterministic, offline agent set. It produces a small
// but structurally complete curriculum and is used by the demo binary and
// as a baseline in tests.
type StaticAgents struct {
	// ConceptsPerStage controls generated framework size (default 3).
	ConceptsPerStage int
	// Stages controls generated stage count (default 2).
	Stages int
}

var (
	_ IntentAgent     = (*StaticAgents)(nil)
	_ CurriculumAgent = (*StaticAgents)(nil)
	_ ValidatorAgent  = (*StaticAgents)(nil)
	_ EditorAgent     = (*StaticAgents)(nil)
	_ TutorialAgent   = (*StaticAgents)(nil)
	_ ResourceAgent   = (*StaticAgents)(nil)
	_ QuizAgent       = (*StaticAgents)(nil)
)

// Set returns the agent set with this implementation in every slot.
func (s *StaticAgents) Set() *Set {
	return &Set{
		Intent:     s,
		Curriculum: s,
		Validator:  s,
		Editor:     s,
		Tutorial:   s,
		Resource:   s,
		Quiz:       s,
	}
}

func (s *StaticAgents) stages() int {
	if s.Stages > 0 {
		return s.Stages
	}
	return 2
}

func (s *StaticAgents) conceptsPerStage() int {
	if s.ConceptsPerStage > 0 {
		return s.ConceptsPerStage
	}
	return 3
}

// AnalyzeIntent implements IntentAgent.
func (s *StaticAgents) AnalyzeIntent(_ context.Context, req *types.Request) (*types.Intent, error) {
	topic := strings.TrimSpace(req.Goal)
	if topic == "" {
		topic = "general study"
	}
	return &types.Intent{
		Topic:      topic,
		Level:      "beginner",
		Objectives: []string{"understand " + topic, "practice " + topic},
		Confidence: 1.0,
	}, nil
}

// DesignFramework implements CurriculumAgent.
func (s *StaticAgents) DesignFramework(_ context.Context, intent *types.Intent) (*types.Framework, error) {
	fw := &types.Framework{Title: "Curriculum: " + intent.Topic}
	for si := 1; si <= s.stages(); si++ {
		stage := types.Stage{Title: fmt.Sprintf("Stage %d", si)}
		for ci := 1; ci <= s.conceptsPerStage(); ci++ {
			stage.Concepts = append(stage.Concepts, types.Concept{
				ID:               fmt.Sprintf("s%d-c%d", si, ci),
				Title:            fmt.Sprintf("%s concept %d.%d", intent.Topic, si, ci),
				EstimatedMinutes: 45,
			})
		}
		fw.Stages = append(fw.Stages, stage)
	}
	return fw, nil
}

// ValidateStructure implements ValidatorAgent; static frameworks always pass.
func (s *StaticAgents) ValidateStructure(_ context.Context, fw *types.Framework) (*types.ValidationResult, error) {
	if len(fw.Stages) == 0 {
		return &types.ValidationResult{Valid: false, Issues: []string{"framework has no stages"}}, nil
	}
	return &types.ValidationResult{Valid: true}, nil
}

// ReviseFramework implements EditorAgent with a revision bump.
func (s *StaticAgents) ReviseFramework(_ context.Context, fw *types.Framework, _ []string, _ string) (*types.Framework, error) {
	revised := *fw
	revised.Revision = fw.Revision + 1
	return &revised, nil
}

// GenerateTutorial implements TutorialAgent.
func (s *StaticAgents) GenerateTutorial(_ context.Context, _ *types.Intent, c *types.Concept) (*types.Tutorial, error) {
	return &types.Tutorial{
		ConceptID: c.ID,
		Title:     c.Title,
		Body:      "An introduction to " + c.Title + ".",
	}, nil
}

// CurateResources implements ResourceAgent.
func (s *StaticAgents) CurateResources(_ context.Context, _ *types.Intent, c *types.Concept) (*types.ResourceList, error) {
	return &types.ResourceList{
		ConceptID: c.ID,
		Items: []types.Resource{
			{Title: c.Title + " reference", URL: "https://example.com/" + c.ID, Kind: "article"},
		},
	}, nil
}

// GenerateQuiz implements QuizAgent.
func (s *StaticAgents) GenerateQuiz(_ context.Context, _ *types.Intent, c *types.Concept) (*types.Quiz, error) {
	return &types.Quiz{
		ConceptID: c.ID,
		Questions: []types.QuizQuestion{
			{
				Prompt:  "Which concept does this quiz cover?",
				Choices: []string{c.Title, "something else"},
				Answer:  0,
			},
		},
	}, nil
}

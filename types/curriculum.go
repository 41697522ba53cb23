package types

import "time"

// Request is the learner's initial ask that seeds a workflow.
type Request struct {
	// LearnerID identifies the requesting learner.
	LearnerID string `json:"learner_id"`

	// Goal is the free-form learning goal ("learn Go concurrency").
	Goal string `json:"goal"`

	// Background describes the learner's prior knowledge.
	Background string `json:"background,omitempty"`

	// WeeklyHours is the time the learner can commit per week.
	WeeklyHours int `json:"weekly_hours,omitempty"`

	// PreferredFormats lists preferred content formats (video, text, ...).
	PreferredFormats []string `json:"preferred_formats,omitempty"`
}

// Intent is the structured interpretation of a Request produced by the
// intent analysis stage.
type Intent struct {
	// Topic is the normalized subject of study.
	Topic string `json:"topic"`

	// Level is the assessed starting level (beginner, intermediate, advanced).
	Level string `json:"level"`

	// Objectives are the concrete learning objectives extracted from the goal.
	Objectives []string `json:"objectives"`

	// Constraints carries scheduling or format constraints.
	Constraints map[string]string `json:"constraints,omitempty"`

	// Confidence is the agent's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence,omitempty"`
}

// Concept is one teachable unit within a curriculum framework. Content
// generation fans out one job per concept.
type Concept struct {
	// ID is stable within a framework and keys the content unit.
	ID string `json:"id"`

	// Title is the concept's display title.
	Title string `json:"title"`

	// Summary is a short description of what the concept covers.
	Summary string `json:"summary,omitempty"`

	// Prerequisites lists concept IDs that should be learned first.
	Prerequisites []string `json:"prerequisites,omitempty"`

	// EstimatedMinutes is the expected study time.
	EstimatedMinutes int `json:"estimated_minutes,omitempty"`
}

// Stage groups concepts into an ordered curriculum stage.
type Stage struct {
	// Title is the stage's display title.
	Title string `json:"title"`

	// Concepts are the stage's concepts in study order.
	Concepts []Concept `json:"concepts"`
}

// Framework is the multi-stage curriculum skeleton produced by the design
// stage and refined by the editor.
type Framework struct {
	// Title is the curriculum title.
	Title string `json:"title"`

	// Stages are the ordered curriculum stages.
	Stages []Stage `json:"stages"`

	// Revision counts editor rewrites; the design stage emits revision 0.
	Revision int `json:"revision"`
}

// Concepts flattens the framework's stages into the ordered concept list
// that content generation fans out over.
func (f *Framework) Concepts() []Concept {
	var out []Concept
	for _, s := range f.Stages {
		out = append(out, s.Concepts...)
	}
	return out
}

// ValidationResult is the structure validator's verdict on a framework.
type ValidationResult struct {
	// Valid reports whether the framework passed structural validation.
	Valid bool `json:"valid"`

	// Issues lists the problems found when Valid is false.
	Issues []string `json:"issues,omitempty"`

	// CheckedAt is when the validation ran.
	CheckedAt time.Time `json:"checked_at"`
}

// ReviewDecision is the human reviewer's out-of-band verdict attached to a
// Resume call.
type ReviewDecision struct {
	// Approved reports whether the reviewer accepted the framework.
	Approved bool `json:"approved"`

	// Feedback carries the reviewer's comments; on rejection it is handed
	// to the editor stage.
	Feedback string `json:"feedback,omitempty"`

	// Reviewer identifies who decided, when known.
	Reviewer string `json:"reviewer,omitempty"`

	// DecidedAt is when the decision was made.
	DecidedAt time.Time `json:"decided_at"`
}

// Tutorial is the long-form lesson generated for one concept.
type Tutorial struct {
	ConceptID string `json:"concept_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

// Resource is one curated external reference for a concept.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Kind  string `json:"kind,omitempty"`
}

// ResourceList is the curated reference set generated for one concept.
type ResourceList struct {
	ConceptID string     `json:"concept_id"`
	Items     []Resource `json:"items"`
}

// QuizQuestion is a single multiple-choice question.
type QuizQuestion struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
	Answer  int      `json:"answer"`
}

// Quiz is the assessment generated for one concept.
type Quiz struct {
	ConceptID string         `json:"concept_id"`
	Questions []QuizQuestion `json:"questions"`
}

// UnitContent bundles the three artifacts generated for one concept.
type UnitContent struct {
	Tutorial  *Tutorial     `json:"tutorial,omitempty"`
	Resources *ResourceList `json:"resources,omitempty"`
	Quiz      *Quiz         `json:"quiz,omitempty"`
}

package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coursecraft/coursecraft/internal/metrics"
	"github.com/coursecraft/coursecraft/types"
)

// OpenAIOptions configures the OpenAI-backed agent set.
type OpenAIOptions struct {
	// APIKey authenticates against the endpoint.
	APIKey string
	// BaseURL overrides the API endpoint; empty uses the default.
	BaseURL string
	// Model is the chat model used for every stage.
	Model string
	// Temperature is the sampling temperature.
	Temperature float64
	// MaxTokens caps completion length per call.
	MaxTokens int
	// RequestsPerSecond is the client-side rate limit; 0 disables.
	RequestsPerSecond float64
	// Burst is the limiter burst size.
	Burst int
	// Retry configures transient-error retry.
	Retry RetryConfig
}

// OpenAIAgents implements every stage agent interface on top of a single
// OpenAI-compatible chat endpoint with JSON-mode outputs.
type OpenAIAgents struct {
	client    *openai.Client
	opts      OpenAIOptions
	limiter   *rate.Limiter
	encoder   *tiktoken.Tiktoken
	logger    *zap.Logger
	collector *metrics.Collector
}

// Interface checks.
var (
	_ IntentAgent     = (*OpenAIAgents)(nil)
	_ CurriculumAgent = (*OpenAIAgents)(nil)
	_ ValidatorAgent  = (*OpenAIAgents)(nil)
	_ EditorAgent     = (*OpenAIAgents)(nil)
	_ TutorialAgent   = (*OpenAIAgents)(nil)
	_ ResourceAgent   = (*OpenAIAgents)(nil)
	_ QuizAgent       = (*OpenAIAgents)(nil)
)

// NewOpenAIAgents creates the OpenAI-backed agent set. The collector is
// optional.
func NewOpenAIAgents(opts OpenAIOptions, logger *zap.Logger, collector *metrics.Collector) (*OpenAIAgents, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai agents: api key is required")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("openai agents: model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientCfg.BaseURL = opts.BaseURL
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	// Token estimation is best-effort: unknown models fall back to the
	// cl100k_base encoding, and a failure there only disables estimates.
	encoder, err := tiktoken.EncodingForModel(opts.Model)
	if err != nil {
		encoder, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warn("token encoder unavailable, estimates disabled", zap.Error(err))
			encoder = nil
		}
	}

	return &OpenAIAgents{
		client:    openai.NewClientWithConfig(clientCfg),
		opts:      opts,
		limiter:   limiter,
		encoder:   encoder,
		logger:    logger.With(zap.String("component", "openai_agents")),
		collector: collector,
	}, nil
}

// Set returns the agent set with this implementation in every slot.
func (a *OpenAIAgents) Set() *Set {
	return &Set{
		Intent:     a,
		Curriculum: a,
		Validator:  a,
		Editor:     a,
		Tutorial:   a,
		Resource:   a,
		Quiz:       a,
	}
}

func (a *OpenAIAgents) estimateTokens(text string) int {
	if a.encoder == nil {
		return 0
	}
	return len(a.encoder.Encode(text, nil, nil))
}

// complete performs one JSON-mode chat completion and decodes the reply
// into out, retrying transient failures per the retry config.
func (a *OpenAIAgents) complete(ctx context.Context, stage, system, user string, out any) error {
	_, err := callWithRetry(ctx, a.opts.Retry, a.logger, a.collector, stage, func(ctx context.Context) (struct{}, error) {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return struct{}{}, err
			}
		}

		if est := a.estimateTokens(system + user); est > 0 {
			a.logger.Debug("agent prompt prepared",
				zap.String("stage", stage),
				zap.Int("estimated_prompt_tokens", est),
			)
		}

		resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       a.opts.Model,
			Temperature: float32(a.opts.Temperature),
			MaxTokens:   a.opts.MaxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return struct{}{}, classifyAPIError(stage, err)
		}

		a.collector.AgentTokens(stage, "prompt", resp.Usage.PromptTokens)
		a.collector.AgentTokens(stage, "completion", resp.Usage.CompletionTokens)

		if len(resp.Choices) == 0 {
			return struct{}{}, types.NewError(types.ErrAgentMalformedOutput, "empty completion").
				WithStep(stage).WithRetryable(true)
		}
		content := resp.Choices[0].Message.Content
		if err := json.Unmarshal([]byte(content), out); err != nil {
			return struct{}{}, types.NewError(types.ErrAgentMalformedOutput, "decode completion").
				WithStep(stage).WithRetryable(true).WithCause(err)
		}
		return struct{}{}, nil
	})
	return err
}

// classifyAPIError maps transport/provider failures onto the agent error
// taxonomy with the right retryable flag.
func classifyAPIError(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrAgentTimeout, "agent call timed out").
			WithStep(stage).WithRetryable(true).WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return types.NewError(types.ErrAgentRateLimited, "rate limited by provider").
				WithStep(stage).WithRetryable(true).WithCause(err)
		case apiErr.HTTPStatusCode >= 500:
			return types.NewError(types.ErrAgentUpstream, "provider error").
				WithStep(stage).WithRetryable(true).WithCause(err)
		default:
			return types.NewError(types.ErrAgentUpstream, "provider rejected request").
				WithStep(stage).WithRetryable(false).WithCause(err)
		}
	}

	// Network-level failures are worth retrying.
	return types.NewError(types.ErrAgentUpstream, "agent call failed").
		WithStep(stage).WithRetryable(true).WithCause(err)
}

const intentSystemPrompt = `You analyze a learner's request and respond with JSON:
{"topic": string, "level": "beginner"|"intermediate"|"advanced",
 "objectives": [string], "constraints": {string: string}, "confidence": number}`

// AnalyzeIntent implements IntentAgent.
func (a *OpenAIAgents) AnalyzeIntent(ctx context.Context, req *types.Request) (*types.Intent, error) {
	user := fmt.Sprintf("Goal: %s\nBackground: %s\nWeekly hours: %d\nPreferred formats: %s",
		req.Goal, req.Background, req.WeeklyHours, strings.Join(req.PreferredFormats, ", "))

	var intent types.Intent
	if err := a.complete(ctx, "intent_analysis", intentSystemPrompt, user, &intent); err != nil {
		return nil, err
	}
	if intent.Topic == "" {
		return nil, types.NewError(types.ErrAgentMalformedOutput, "intent missing topic").
			WithStep("intent_analysis")
	}
	return &intent, nil
}

const curriculumSystemPrompt = `You design a multi-stage curriculum and respond with JSON:
{"title": string, "stages": [{"title": string, "concepts":
 [{"id": string, "title": string, "summary": string,
   "prerequisites": [string], "estimated_minutes": number}]}]}`

// DesignFramework implements CurriculumAgent.
func (a *OpenAIAgents) DesignFramework(ctx context.Context, intent *types.Intent) (*types.Framework, error) {
	payload, _ := json.Marshal(intent)

	var fw types.Framework
	if err := a.complete(ctx, "curriculum_design", curriculumSystemPrompt, string(payload), &fw); err != nil {
		return nil, err
	}
	if err := normalizeFramework(&fw); err != nil {
		return nil, err
	}
	return &fw, nil
}

const validatorSystemPrompt = `You validate a curriculum framework's structure: stage ordering,
prerequisite consistency, concept coverage of the objectives. Respond with JSON:
{"valid": bool, "issues": [string]}`

// ValidateStructure implements ValidatorAgent.
func (a *OpenAIAgents) ValidateStructure(ctx context.Context, framework *types.Framework) (*types.ValidationResult, error) {
	payload, _ := json.Marshal(framework)

	var result types.ValidationResult
	if err := a.complete(ctx, "structure_validation", validatorSystemPrompt, string(payload), &result); err != nil {
		return nil, err
	}
	if !result.Valid && len(result.Issues) == 0 {
		result.Issues = []string{"validator reported an invalid structure without detail"}
	}
	return &result, nil
}

const editorSystemPrompt = `You revise a curriculum framework to fix the listed issues while
preserving its overall shape. Respond with the full corrected framework as JSON in the same
schema you were given.`

// ReviseFramework implements EditorAgent.
func (a *OpenAIAgents) ReviseFramework(ctx context.Context, framework *types.Framework, issues []string, feedback string) (*types.Framework, error) {
	req := map[string]any{
		"framework": framework,
		"issues":    issues,
		"feedback":  feedback,
	}
	payload, _ := json.Marshal(req)

	var fw types.Framework
	if err := a.complete(ctx, "editor", editorSystemPrompt, string(payload), &fw); err != nil {
		return nil, err
	}
	if err := normalizeFramework(&fw); err != nil {
		return nil, err
	}
	fw.Revision = framework.Revision + 1
	return &fw, nil
}

const tutorialSystemPrompt = `You write a complete tutorial lesson for one curriculum concept.
Respond with JSON: {"concept_id": string, "title": string, "body": string}`

// GenerateTutorial implements TutorialAgent.
func (a *OpenAIAgents) GenerateTutorial(ctx context.Context, intent *types.Intent, concept *types.Concept) (*types.Tutorial, error) {
	payload, _ := json.Marshal(map[string]any{"intent": intent, "concept": concept})

	var tut types.Tutorial
	if err := a.complete(ctx, "tutorial", tutorialSystemPrompt, string(payload), &tut); err != nil {
		return nil, err
	}
	tut.ConceptID = concept.ID
	return &tut, nil
}

const resourceSystemPrompt = `You curate external learning resources for one curriculum concept.
Respond with JSON: {"concept_id": string, "items":
 [{"title": string, "url": string, "kind": string}]}`

// CurateResources implements ResourceAgent.
func (a *OpenAIAgents) CurateResources(ctx context.Context, intent *types.Intent, concept *types.Concept) (*types.ResourceList, error) {
	payload, _ := json.Marshal(map[string]any{"intent": intent, "concept": concept})

	var list types.ResourceList
	if err := a.complete(ctx, "resources", resourceSystemPrompt, string(payload), &list); err != nil {
		return nil, err
	}
	list.ConceptID = concept.ID
	return &list, nil
}

const quizSystemPrompt = `You write a short multiple-choice quiz for one curriculum concept.
Respond with JSON: {"concept_id": string, "questions":
 [{"prompt": string, "choices": [string], "answer": number}]}`

// GenerateQuiz implements QuizAgent.
func (a *OpenAIAgents) GenerateQuiz(ctx context.Context, intent *types.Intent, concept *types.Concept) (*types.Quiz, error) {
	payload, _ := json.Marshal(map[string]any{"intent": intent, "concept": concept})

	var quiz types.Quiz
	if err := a.complete(ctx, "quiz", quizSystemPrompt, string(payload), &quiz); err != nil {
		return nil, err
	}
	quiz.ConceptID = concept.ID
	return &quiz, nil
}

// normalizeFramework enforces the structural minimum the core depends on:
// at least one stage with concepts and a unique non-empty id per concept.
func normalizeFramework(fw *types.Framework) error {
	if len(fw.Stages) == 0 {
		return types.NewError(types.ErrAgentMalformedOutput, "framework has no stages").
			WithStep("curriculum_design").WithRetryable(true)
	}
	seen := make(map[string]bool)
	for si := range fw.Stages {
		stage := &fw.Stages[si]
		if len(stage.Concepts) == 0 {
			return types.NewError(types.ErrAgentMalformedOutput,
				fmt.Sprintf("stage %q has no concepts", stage.Title)).
				WithStep("curriculum_design").WithRetryable(true)
		}
		for ci := range stage.Concepts {
			c := &stage.Concepts[ci]
			if c.ID == "" {
				c.ID = fmt.Sprintf("s%d-c%d", si+1, ci+1)
			}
			if seen[c.ID] {
				return types.NewError(types.ErrAgentMalformedOutput,
					fmt.Sprintf("duplicate concept id %q", c.ID)).
					WithStep("curriculum_design").WithRetryable(true)
			}
			seen[c.ID] = true
		}
	}
	return nil
}

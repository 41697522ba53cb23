package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coursecraft/coursecraft/agents"
	"github.com/coursecraft/coursecraft/internal/metrics"
	"github.com/coursecraft/coursecraft/notify"
	"github.com/coursecraft/coursecraft/types"
)

// ProgressSaver checkpoints partial fan-out progress so a crash mid
// generation resumes without re-running completed units. The Executor
// implements it; save failures are logged and generation continues.
type ProgressSaver interface {
	SaveUnitProgress(ctx context.Context, s *State) error
}

// ContentRunnerOptions configures the fan-out runner.
type ContentRunnerOptions struct {
	// Tutorial, Resource, and Quiz are the three per-unit agents.
	Tutorial agents.TutorialAgent
	Resource agents.ResourceAgent
	Quiz     agents.QuizAgent

	// Concurrency bounds how many units generate at once.
	Concurrency int

	// CheckpointEvery is the progress checkpoint cadence in settled units.
	CheckpointEvery int

	// AgentTimeout is the per-agent-call deadline.
	AgentTimeout time.Duration

	// Saver persists partial progress; nil disables incremental
	// checkpointing.
	Saver ProgressSaver

	// Sink receives per-unit progress events; may be nil.
	Sink notify.Sink

	Logger    *zap.Logger
	Collector *metrics.Collector
}

// ContentRunner fans the content generation stage out into one job per
// concept, bounded by a concurrency limit. A unit's failure is recorded
// against that unit only and never aborts its siblings; the aggregated
// unit list preserves the framework's concept order regardless of
// completion order.
type ContentRunner struct {
	tutorial agents.TutorialAgent
	resource agents.ResourceAgent
	quiz     agents.QuizAgent

	concurrency     int
	checkpointEvery int
	agentTimeout    time.Duration

	saver     ProgressSaver
	sink      notify.Sink
	logger    *zap.Logger
	collector *metrics.Collector
}

var _ NodeRunner = (*ContentRunner)(nil)

// NewContentRunner creates the fan-out runner.
func NewContentRunner(opts ContentRunnerOptions) *ContentRunner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.CheckpointEvery < 1 {
		opts.CheckpointEvery = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentRunner{
		tutorial:        opts.Tutorial,
		resource:        opts.Resource,
		quiz:            opts.Quiz,
		concurrency:     opts.Concurrency,
		checkpointEvery: opts.CheckpointEvery,
		agentTimeout:    opts.AgentTimeout,
		saver:           opts.Saver,
		sink:            opts.Sink,
		logger:          logger.With(zap.String("component", "content_runner")),
		collector:       opts.Collector,
	}
}

// Step implements NodeRunner.
func (r *ContentRunner) Step() Step { return StepContentGeneration }

// Run implements NodeRunner. On re-entry after a crash, units already
// completed in the checkpointed state are skipped and only the rest are
// launched. On context cancellation the partial unit list is returned in
// the Delta alongside the context error so the Executor can persist it.
func (r *ContentRunner) Run(ctx context.Context, s *State) (*Delta, error) {
	if s.Framework == nil {
		return nil, types.NewError(types.ErrFatal, "state has no framework").WithStep(string(r.Step()))
	}

	units := cloneUnits(s.ContentUnits)
	if len(units) == 0 {
		units = buildUnits(s.Framework)
	}

	var pending []int
	for i := range units {
		if units[i].Status != UnitCompleted {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return &Delta{ContentUnits: units}, nil
	}

	r.logger.Info("content fan-out started",
		zap.String("workflow_id", s.WorkflowID),
		zap.Int("units", len(units)),
		zap.Int("pending", len(pending)),
		zap.Int("concurrency", r.concurrency),
	)

	type settled struct {
		index int
		unit  ContentUnit
	}
	results := make(chan settled, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	go func() {
		for _, i := range pending {
			unit := units[i]
			index := i
			g.Go(func() error {
				results <- settled{index: index, unit: r.generateUnit(gctx, s, unit)}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	// Single aggregator: each result writes only its own unit's slot, so
	// concurrent jobs never race on shared state.
	done := 0
	for res := range results {
		units[res.index] = res.unit
		if res.unit.Status != UnitCompleted && res.unit.Status != UnitFailed {
			continue // cancelled before settling; stays re-runnable
		}
		done++
		r.observeUnit(ctx, s.WorkflowID, res.unit)
		if r.saver != nil && done%r.checkpointEvery == 0 {
			snapshot := *s
			snapshot.ContentUnits = cloneUnits(units)
			if err := r.saver.SaveUnitProgress(ctx, &snapshot); err != nil {
				r.logger.Warn("unit progress checkpoint failed",
					zap.String("workflow_id", s.WorkflowID),
					zap.Error(err),
				)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return &Delta{ContentUnits: units}, err
	}
	return &Delta{ContentUnits: units}, nil
}

// generateUnit runs the three content agents for one concept. The three
// calls run concurrently; the first failure fails the whole unit. When
// the workflow context is cancelled before the unit settles, the unit is
// returned unsettled so a resume re-launches it.
func (r *ContentRunner) generateUnit(ctx context.Context, s *State, unit ContentUnit) ContentUnit {
	if ctx.Err() != nil {
		return unit
	}
	unit.Status = UnitGenerating
	concept := unit.Concept
	content := &types.UnitContent{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		callCtx, cancel := agentCtx(gctx, r.agentTimeout)
		defer cancel()
		tutorial, err := r.tutorial.GenerateTutorial(callCtx, s.Intent, &concept)
		if err != nil {
			return err
		}
		content.Tutorial = tutorial
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := agentCtx(gctx, r.agentTimeout)
		defer cancel()
		resources, err := r.resource.CurateResources(callCtx, s.Intent, &concept)
		if err != nil {
			return err
		}
		content.Resources = resources
		return nil
	})
	g.Go(func() error {
		callCtx, cancel := agentCtx(gctx, r.agentTimeout)
		defer cancel()
		quiz, err := r.quiz.GenerateQuiz(callCtx, s.Intent, &concept)
		if err != nil {
			return err
		}
		content.Quiz = quiz
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			// Workflow cancelled, not a unit verdict.
			unit.Status = UnitPending
			unit.Content = nil
			return unit
		}
		failure := types.NewError(types.ErrContentUnit, "content generation failed").
			WithUnit(unit.ID).
			WithCause(err)
		unit.Status = UnitFailed
		unit.Content = nil
		unit.Error = failure.Error()
		return unit
	}

	unit.Status = UnitCompleted
	unit.Content = content
	unit.Error = ""
	return unit
}

// observeUnit records one settled unit in logs, metrics, and events.
func (r *ContentRunner) observeUnit(ctx context.Context, workflowID string, unit ContentUnit) {
	r.collector.UnitSettled(string(unit.Status))

	eventType := notify.EventUnitCompleted
	if unit.Status == UnitFailed {
		eventType = notify.EventUnitFailed
		r.logger.Warn("content unit failed",
			zap.String("workflow_id", workflowID),
			zap.String("unit_id", unit.ID),
			zap.String("error", unit.Error),
		)
	} else {
		r.logger.Debug("content unit completed",
			zap.String("workflow_id", workflowID),
			zap.String("unit_id", unit.ID),
		)
	}

	if r.sink == nil {
		return
	}
	if err := r.sink.Publish(ctx, notify.Event{
		Type:       eventType,
		WorkflowID: workflowID,
		Step:       string(StepContentGeneration),
		UnitID:     unit.ID,
		Message:    unit.Error,
		At:         time.Now().UTC(),
	}); err != nil {
		r.logger.Warn("unit event publish failed",
			zap.String("workflow_id", workflowID),
			zap.String("unit_id", unit.ID),
			zap.Error(err),
		)
	}
}

// buildUnits derives the fixed fan-out work list from the framework's
// concept order.
func buildUnits(framework *types.Framework) []ContentUnit {
	concepts := framework.Concepts()
	units := make([]ContentUnit, 0, len(concepts))
	for _, concept := range concepts {
		units = append(units, ContentUnit{
			ID:      concept.ID,
			Concept: concept,
			Status:  UnitPending,
		})
	}
	return units
}

// cloneUnits copies the unit slice so runners never alias state.
func cloneUnits(units []ContentUnit) []ContentUnit {
	if units == nil {
		return nil
	}
	out := make([]ContentUnit, len(units))
	copy(out, units)
	return out
}

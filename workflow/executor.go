package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coursecraft/coursecraft/checkpoint"
	"github.com/coursecraft/coursecraft/config"
	"github.com/coursecraft/coursecraft/internal/metrics"
	"github.com/coursecraft/coursecraft/notify"
	"github.com/coursecraft/coursecraft/taskstore"
	"github.com/coursecraft/coursecraft/types"
)

// ExecutorOptions wires the Executor's collaborators. Checkpoints is
// required; everything else degrades gracefully when nil.
type ExecutorOptions struct {
	// Workflow holds the orchestration knobs.
	Workflow config.WorkflowConfig

	// Checkpoints is the durable state store.
	Checkpoints checkpoint.Store

	// Tasks mirrors status for outside observers; may be nil.
	Tasks taskstore.Store

	// Sink receives best-effort progress events; may be nil.
	Sink notify.Sink

	Logger    *zap.Logger
	Collector *metrics.Collector
}

// Executor drives the workflow graph: it asks the Router for the next
// node, executes it through the ErrorHandler, merges the returned delta,
// and checkpoints after every transition. It returns control entirely at
// suspension; Resume re-enters the same loop from the last checkpoint.
type Executor struct {
	router      RouterConfig
	runners     map[Step]NodeRunner
	handler     *ErrorHandler
	checkpoints checkpoint.Store
	tasks       taskstore.Store
	sink        notify.Sink
	logger      *zap.Logger
	collector   *metrics.Collector

	// revisions tracks the last persisted checkpoint revision per active
	// run, shared with incremental fan-out saves.
	mu        sync.Mutex
	revisions map[string]int64
}

var _ ProgressSaver = (*Executor)(nil)

// NewExecutor creates an Executor. Runners are registered separately so
// the content runner can point its progress saver back at the Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Checkpoints == nil {
		return nil, fmt.Errorf("workflow: checkpoint store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		router: RouterConfig{
			MaxValidationRetries: opts.Workflow.MaxValidationRetries,
			SkipHumanReview:      opts.Workflow.SkipHumanReview,
			FailClosed:           opts.Workflow.FailClosed,
		},
		runners:     make(map[Step]NodeRunner),
		handler:     NewErrorHandler(logger, opts.Collector, opts.Tasks, opts.Sink),
		checkpoints: opts.Checkpoints,
		tasks:       opts.Tasks,
		sink:        opts.Sink,
		logger:      logger.With(zap.String("component", "executor")),
		collector:   opts.Collector,
		revisions:   make(map[string]int64),
	}, nil
}

// Register adds a node runner, keyed by its step.
func (e *Executor) Register(runners ...NodeRunner) {
	for _, r := range runners {
		e.runners[r.Step()] = r
	}
}

// Run executes a fresh workflow until a terminal state or a human review
// suspension. The returned state is non-terminal when suspended.
func (e *Executor) Run(ctx context.Context, s *State) (*State, error) {
	if s == nil || s.WorkflowID == "" {
		return nil, types.NewError(types.ErrFatal, "initial state requires a workflow id")
	}
	if _, found, err := e.checkpoints.Load(ctx, s.WorkflowID); err != nil {
		return nil, types.NewError(types.ErrFatal, "checkpoint store unavailable").WithCause(err)
	} else if found {
		return nil, types.NewError(types.ErrFatal,
			fmt.Sprintf("workflow %s already exists; use Resume", s.WorkflowID))
	}

	e.trackRevision(s.WorkflowID, 0)
	defer e.untrackRevision(s.WorkflowID)

	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	e.updateTask(ctx, s, taskstore.StatusPending, "")
	e.publish(ctx, notify.Event{
		Type:       notify.EventWorkflowStarted,
		WorkflowID: s.WorkflowID,
		At:         time.Now().UTC(),
	})
	e.logger.Info("workflow started", zap.String("workflow_id", s.WorkflowID))

	return e.drive(ctx, s)
}

// Resume reloads a workflow from its last checkpoint, injects the
// reviewer decision when one is awaited, and re-enters the execution
// loop. Resuming an already-terminal workflow returns its final state
// unchanged, which makes a repeated Resume with the same decision a
// no-op.
func (e *Executor) Resume(ctx context.Context, workflowID string, decision *types.ReviewDecision) (*State, error) {
	env, found, err := e.checkpoints.Load(ctx, workflowID)
	if err != nil {
		return nil, types.NewError(types.ErrFatal, "checkpoint store unavailable").WithCause(err)
	}
	if !found {
		return nil, types.NewError(types.ErrWorkflowNotFound,
			fmt.Sprintf("no checkpoint for workflow %s", workflowID))
	}

	var s State
	if err := env.Decode(&s); err != nil {
		return nil, err
	}
	if s.IsTerminal() {
		e.logger.Info("resume on terminal workflow is a no-op",
			zap.String("workflow_id", workflowID),
			zap.String("terminal_status", string(s.TerminalStatus)),
		)
		return &s, nil
	}

	e.trackRevision(workflowID, env.Revision)
	defer e.untrackRevision(workflowID)

	if decision != nil && s.CurrentStep == StepHumanReview && s.ReviewDecision == nil {
		injected := *decision
		if injected.DecidedAt.IsZero() {
			injected.DecidedAt = time.Now().UTC()
		}
		s.ReviewDecision = &injected
		s.appendHistory(StepHumanReview, decisionOutcome(&injected))
	}

	e.collector.WorkflowResumed()
	e.publish(ctx, notify.Event{
		Type:       notify.EventWorkflowResumed,
		WorkflowID: workflowID,
		Step:       string(s.CurrentStep),
		At:         time.Now().UTC(),
	})
	e.logger.Info("workflow resumed",
		zap.String("workflow_id", workflowID),
		zap.String("current_step", string(s.CurrentStep)),
		zap.Int64("revision", env.Revision),
	)

	return e.drive(ctx, &s)
}

// SaveUnitProgress implements ProgressSaver for incremental fan-out
// checkpointing.
func (e *Executor) SaveUnitProgress(ctx context.Context, s *State) error {
	return e.persist(ctx, s)
}

// drive is the main loop: route, execute, merge, checkpoint, repeat.
func (e *Executor) drive(ctx context.Context, s *State) (*State, error) {
	for {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		decision := Next(e.router, s)
		switch decision.Kind {
		case DecideFinish:
			return e.finish(ctx, s, decision.Status)

		case DecideSuspend:
			// Already parked; nothing changed, nothing to persist.
			return s, nil

		case DecideRun:
			runner, ok := e.runners[decision.Step]
			if !ok {
				return e.fail(ctx, s, decision.Step, types.NewError(types.ErrFatal,
					fmt.Sprintf("no runner registered for step %s", decision.Step)))
			}
			if decision.IncrementRetry {
				s.RetryCountValidation++
			}

			delta, err := e.handler.Execute(ctx, runner, s)
			delta.apply(s)
			s.UpdatedAt = time.Now().UTC()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					// Persist partial progress and leave the workflow
					// resumable. The save must outlive the cancelled
					// context.
					s.appendHistory(decision.Step, "interrupted")
					if perr := e.persist(context.WithoutCancel(ctx), s); perr != nil {
						e.logger.Error("checkpoint after cancellation failed",
							zap.String("workflow_id", s.WorkflowID), zap.Error(perr))
					}
					return s, err
				}
				s.appendHistory(decision.Step, "failed")
				return e.fail(ctx, s, decision.Step, err)
			}

			if delta != nil && delta.Suspend {
				s.CurrentStep = decision.Step
				s.appendHistory(decision.Step, "suspended")
				if perr := e.persist(ctx, s); perr != nil {
					return e.fail(ctx, s, decision.Step, perr)
				}
				e.updateTask(ctx, s, taskstore.StatusSuspended, "")
				e.collector.WorkflowSuspended()
				e.publish(ctx, notify.Event{
					Type:       notify.EventWorkflowSuspended,
					WorkflowID: s.WorkflowID,
					Step:       string(decision.Step),
					At:         time.Now().UTC(),
				})
				e.logger.Info("workflow suspended for human review",
					zap.String("workflow_id", s.WorkflowID))
				return s, nil
			}

			s.CurrentStep = decision.Step
			s.appendHistory(decision.Step, "completed")
			if perr := e.persist(ctx, s); perr != nil {
				return e.fail(ctx, s, decision.Step, perr)
			}

		default:
			return e.fail(ctx, s, s.CurrentStep, types.NewError(types.ErrFatal,
				fmt.Sprintf("unknown router decision %d", decision.Kind)))
		}
	}
}

// finish seals the workflow with its terminal status.
func (e *Executor) finish(ctx context.Context, s *State, status TerminalStatus) (*State, error) {
	if s.TerminalStatus == "" {
		s.TerminalStatus = status
		s.UpdatedAt = time.Now().UTC()
		if err := e.persist(ctx, s); err != nil {
			return s, err
		}
	}
	e.updateTask(ctx, s, taskstore.Status(status), "")
	e.collector.WorkflowFinished(string(status))
	e.publish(ctx, notify.Event{
		Type:       notify.EventWorkflowFinished,
		WorkflowID: s.WorkflowID,
		Message:    string(status),
		At:         time.Now().UTC(),
	})
	e.logger.Info("workflow finished",
		zap.String("workflow_id", s.WorkflowID),
		zap.String("terminal_status", string(status)),
		zap.Int("units_completed", s.CompletedUnits()),
		zap.Int("units_failed", s.FailedUnits()),
	)
	return s, nil
}

// fail seals the workflow as failed and propagates the cause. The task
// record was already marked failed by the error handler.
func (e *Executor) fail(ctx context.Context, s *State, step Step, cause error) (*State, error) {
	s.TerminalStatus = StatusFailed
	s.UpdatedAt = time.Now().UTC()
	if perr := e.persist(context.WithoutCancel(ctx), s); perr != nil {
		e.logger.Error("failed-state checkpoint write failed",
			zap.String("workflow_id", s.WorkflowID), zap.Error(perr))
	}
	e.collector.WorkflowFinished(string(StatusFailed))
	e.publish(ctx, notify.Event{
		Type:       notify.EventWorkflowFinished,
		WorkflowID: s.WorkflowID,
		Step:       string(step),
		Message:    cause.Error(),
		At:         time.Now().UTC(),
	})
	e.logger.Error("workflow failed",
		zap.String("workflow_id", s.WorkflowID),
		zap.String("step", string(step)),
		zap.Error(cause),
	)
	return s, cause
}

// persist writes the next checkpoint revision for the workflow.
func (e *Executor) persist(ctx context.Context, s *State) error {
	e.mu.Lock()
	next := e.revisions[s.WorkflowID] + 1
	e.mu.Unlock()

	env, err := checkpoint.NewEnvelope(s.WorkflowID, next, s)
	if err != nil {
		e.collector.CheckpointSaved("error")
		return types.NewError(types.ErrFatal, "checkpoint encode failed").WithCause(err)
	}
	if err := e.checkpoints.Save(ctx, env); err != nil {
		if types.GetErrorCode(err) == types.ErrCheckpointStale {
			e.collector.CheckpointSaved("stale")
			return err
		}
		e.collector.CheckpointSaved("error")
		return types.NewError(types.ErrFatal, "checkpoint save failed").WithCause(err)
	}

	e.mu.Lock()
	e.revisions[s.WorkflowID] = next
	e.mu.Unlock()
	e.collector.CheckpointSaved("ok")
	return nil
}

func (e *Executor) trackRevision(workflowID string, revision int64) {
	e.mu.Lock()
	e.revisions[workflowID] = revision
	e.mu.Unlock()
}

func (e *Executor) untrackRevision(workflowID string) {
	e.mu.Lock()
	delete(e.revisions, workflowID)
	e.mu.Unlock()
}

// updateTask mirrors status into the task record, fire-and-forget.
func (e *Executor) updateTask(ctx context.Context, s *State, status taskstore.Status, errMsg string) {
	if e.tasks == nil {
		return
	}
	if err := e.tasks.UpdateStatus(ctx, s.WorkflowID, status, string(s.CurrentStep), errMsg); err != nil {
		e.logger.Warn("task status update failed",
			zap.String("workflow_id", s.WorkflowID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// publish sends a best-effort event, logging and swallowing failures.
func (e *Executor) publish(ctx context.Context, event notify.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ctx, event); err != nil {
		e.logger.Warn("notification publish failed",
			zap.String("workflow_id", event.WorkflowID),
			zap.String("event", string(event.Type)),
			zap.Error(err),
		)
	}
}

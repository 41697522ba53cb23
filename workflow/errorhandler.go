package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/coursecraft/coursecraft/internal/metrics"
	"github.com/coursecraft/coursecraft/notify"
	"github.com/coursecraft/coursecraft/taskstore"
	"github.com/coursecraft/coursecraft/types"
)

const tracerName = "github.com/coursecraft/coursecraft/workflow"

// ErrorHandler is the single point where cross-cutting node concerns
// live: logging, progress notification, metrics, tracing, panic
// conversion, and task status mirroring. Node runners stay free of all
// of it.
type ErrorHandler struct {
	logger    *zap.Logger
	collector *metrics.Collector
	tasks     taskstore.Store
	sink      notify.Sink
	tracer    trace.Tracer
}

// NewErrorHandler creates the wrapper. tasks and sink may be nil; nil
// collaborators are skipped.
func NewErrorHandler(logger *zap.Logger, collector *metrics.Collector, tasks taskstore.Store, sink notify.Sink) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{
		logger:    logger.With(zap.String("component", "error_handler")),
		collector: collector,
		tasks:     tasks,
		sink:      sink,
		tracer:    otel.Tracer(tracerName),
	}
}

// Execute wraps one node execution. Panics inside the node are converted
// to fatal errors. On failure the external task record is marked failed,
// except for per-unit content failures and context cancellation, which
// are not whole-workflow verdicts.
func (h *ErrorHandler) Execute(ctx context.Context, node NodeRunner, s *State) (delta *Delta, err error) {
	step := node.Step()
	start := time.Now()

	ctx, span := h.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("workflow.id", s.WorkflowID),
			attribute.String("workflow.step", string(step)),
		))
	defer span.End()

	h.logger.Info("node started",
		zap.String("workflow_id", s.WorkflowID),
		zap.String("step", string(step)),
	)
	h.publish(ctx, notify.Event{
		Type:       notify.EventStepStarted,
		WorkflowID: s.WorkflowID,
		Step:       string(step),
		At:         start,
	})
	h.updateTask(ctx, s.WorkflowID, taskstore.StatusRunning, step, "")

	defer func() {
		if r := recover(); r != nil {
			delta = nil
			err = types.NewError(types.ErrFatal, fmt.Sprintf("panic in node: %v", r)).
				WithStep(string(step))
		}
		elapsed := time.Since(start)

		if err == nil {
			span.SetStatus(codes.Ok, "")
			h.collector.StepExecuted(string(step), "completed", elapsed)
			h.logger.Info("node completed",
				zap.String("workflow_id", s.WorkflowID),
				zap.String("step", string(step)),
				zap.Duration("elapsed", elapsed),
			)
			h.publish(ctx, notify.Event{
				Type:       notify.EventStepCompleted,
				WorkflowID: s.WorkflowID,
				Step:       string(step),
				At:         time.Now().UTC(),
			})
			return
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.collector.StepExecuted(string(step), "failed", elapsed)
		h.logger.Error("node failed",
			zap.String("workflow_id", s.WorkflowID),
			zap.String("step", string(step)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		h.publish(ctx, notify.Event{
			Type:       notify.EventStepFailed,
			WorkflowID: s.WorkflowID,
			Step:       string(step),
			Message:    err.Error(),
			At:         time.Now().UTC(),
		})
		if taskFailWorthy(err) {
			h.updateTask(ctx, s.WorkflowID, taskstore.StatusFailed, step, err.Error())
		}
	}()

	delta, err = node.Run(ctx, s)
	return delta, err
}

// taskFailWorthy reports whether an error should mark the whole task
// failed. Per-unit failures are recorded on the unit, and cancellation
// leaves the workflow resumable.
func taskFailWorthy(err error) bool {
	if types.GetErrorCode(err) == types.ErrContentUnit {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// publish sends a best-effort notification; failures are logged and
// swallowed so the core never blocks on observers.
func (h *ErrorHandler) publish(ctx context.Context, event notify.Event) {
	if h.sink == nil {
		return
	}
	if err := h.sink.Publish(ctx, event); err != nil {
		h.logger.Warn("notification publish failed",
			zap.String("workflow_id", event.WorkflowID),
			zap.String("event", string(event.Type)),
			zap.Error(err),
		)
	}
}

// updateTask mirrors status into the external task record,
// fire-and-forget.
func (h *ErrorHandler) updateTask(ctx context.Context, workflowID string, status taskstore.Status, step Step, errMsg string) {
	if h.tasks == nil {
		return
	}
	if err := h.tasks.UpdateStatus(ctx, workflowID, status, string(step), errMsg); err != nil {
		h.logger.Warn("task status update failed",
			zap.String("workflow_id", workflowID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// Package notify provides best-effort progress notifications for
// workflow observers. The orchestration core never blocks on a sink and
// swallows publish failures after logging them.
package notify

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType classifies a progress event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventStepStarted       EventType = "step_started"
	EventStepCompleted     EventType = "step_completed"
	EventStepFailed        EventType = "step_failed"
	EventWorkflowSuspended EventType = "workflow_suspended"
	EventWorkflowResumed   EventType = "workflow_resumed"
	EventUnitCompleted     EventType = "unit_completed"
	EventUnitFailed        EventType = "unit_failed"
	EventWorkflowFinished  EventType = "workflow_finished"
)

// Event is one progress notification.
type Event struct {
	// Type classifies the event.
	Type EventType `json:"type"`

	// WorkflowID identifies the workflow.
	WorkflowID string `json:"workflow_id"`

	// Step is the pipeline step the event refers to, when applicable.
	Step string `json:"step,omitempty"`

	// UnitID is the content unit the event refers to, when applicable.
	UnitID string `json:"unit_id,omitempty"`

	// Message carries human-readable detail (e.g. an error message).
	Message string `json:"message,omitempty"`

	// At is when the event occurred.
	At time.Time `json:"at"`
}

// Sink receives progress events. Implementations must be safe for
// concurrent use; they should return quickly and never block on slow
// consumers.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("component", "notify"))}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, event Event) error {
	s.logger.Info("workflow event",
		zap.String("type", string(event.Type)),
		zap.String("workflow_id", event.WorkflowID),
		zap.String("step", event.Step),
		zap.String("unit_id", event.UnitID),
		zap.String("message", event.Message),
	)
	return nil
}

// ChannelSink delivers events to a buffered channel without ever
// blocking: when the buffer is full the event is dropped and counted.
type ChannelSink struct {
	events  chan Event
	dropped atomic.Int64
}

var _ Sink = (*ChannelSink)(nil)

// NewChannelSink creates a channel sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer < 1 {
		buffer = 64
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

// Publish implements Sink.
func (s *ChannelSink) Publish(_ context.Context, event Event) error {
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events were discarded on a full buffer.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// MultiSink fans one event out to several sinks; the first error is
// returned after every sink has been attempted.
type MultiSink struct {
	sinks []Sink
}

var _ Sink = (*MultiSink)(nil)

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Publish implements Sink.
func (s *MultiSink) Publish(ctx context.Context, event Event) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

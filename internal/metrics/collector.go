// Package metrics provides internal Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the orchestrator's Prometheus instruments. A nil
// *Collector is valid and records nothing, so callers never need to guard
// their observation calls.
type Collector struct {
	workflowsTotal   *prometheus.CounterVec
	stepTotal        *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	contentUnits     *prometheus.CounterVec
	checkpointSaves  *prometheus.CounterVec
	agentRetries     *prometheus.CounterVec
	agentTokens      *prometheus.CounterVec
	suspensionsTotal prometheus.Counter
	resumesTotal     prometheus.Counter
}

// NewCollector creates a collector registered against reg. A nil reg uses
// the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		workflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workflows_total",
				Help:      "Workflows finished, by terminal status.",
			},
			[]string{"status"},
		),
		stepTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Pipeline step executions, by step and outcome.",
			},
			[]string{"step", "outcome"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Pipeline step execution duration.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"step"},
		),
		contentUnits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "content_units_total",
				Help:      "Content units settled, by final unit status.",
			},
			[]string{"status"},
		),
		checkpointSaves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoint_saves_total",
				Help:      "Checkpoint save attempts, by outcome.",
			},
			[]string{"outcome"},
		),
		agentRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_retries_total",
				Help:      "Transient-error retries performed inside agents, by stage.",
			},
			[]string{"stage"},
		),
		agentTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_tokens_total",
				Help:      "Tokens consumed by agent calls, by stage and kind.",
			},
			[]string{"stage", "kind"},
		),
		suspensionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suspensions_total",
				Help:      "Workflows suspended for human review.",
			},
		),
		resumesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resumes_total",
				Help:      "Resume calls accepted.",
			},
		),
	}
}

// WorkflowFinished records a terminal workflow outcome.
func (c *Collector) WorkflowFinished(status string) {
	if c == nil {
		return
	}
	c.workflowsTotal.WithLabelValues(status).Inc()
}

// StepExecuted records one pipeline step execution.
func (c *Collector) StepExecuted(step, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.stepTotal.WithLabelValues(step, outcome).Inc()
	c.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// UnitSettled records a settled content unit.
func (c *Collector) UnitSettled(status string) {
	if c == nil {
		return
	}
	c.contentUnits.WithLabelValues(status).Inc()
}

// CheckpointSaved records a checkpoint save attempt.
func (c *Collector) CheckpointSaved(outcome string) {
	if c == nil {
		return
	}
	c.checkpointSaves.WithLabelValues(outcome).Inc()
}

// AgentRetried records a transient-error retry inside an agent.
func (c *Collector) AgentRetried(stage string) {
	if c == nil {
		return
	}
	c.agentRetries.WithLabelValues(stage).Inc()
}

// AgentTokens records token consumption for an agent call.
func (c *Collector) AgentTokens(stage, kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.agentTokens.WithLabelValues(stage, kind).Add(float64(n))
}

// WorkflowSuspended records a human-review suspension.
func (c *Collector) WorkflowSuspended() {
	if c == nil {
		return
	}
	c.suspensionsTotal.Inc()
}

// WorkflowResumed records an accepted resume.
func (c *Collector) WorkflowResumed() {
	if c == nil {
		return
	}
	c.resumesTotal.Inc()
}

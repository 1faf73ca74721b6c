package observability

import (
	"context"

	"github.com/aretw0/recall/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine collectors.
type Metrics struct {
	StepVisits       *prometheus.CounterVec
	StepDuration     *prometheus.HistogramVec
	ToolCalls        *prometheus.CounterVec
	ToolDuration     *prometheus.HistogramVec
	CheckpointWrites *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		StepVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_step_visits_total",
				Help: "Total number of step executions",
			},
			[]string{"step"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recall_step_duration_seconds",
				Help:    "Duration of step executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_tool_calls_total",
				Help: "Total number of tool invocations by outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recall_tool_duration_seconds",
				Help:    "Duration of tool invocations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		CheckpointWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recall_checkpoint_writes_total",
				Help: "Total number of checkpoint writes by outcome",
			},
			[]string{"outcome"},
		),
	}

	for _, c := range []prometheus.Collector{m.StepVisits, m.StepDuration, m.ToolCalls, m.ToolDuration, m.CheckpointWrites} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks recording into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(_ context.Context, e *domain.StepEvent) {
			m.StepVisits.WithLabelValues(e.Step).Inc()
		},
		OnStepLeave: func(_ context.Context, e *domain.StepEvent) {
			m.StepDuration.WithLabelValues(e.Step).Observe(e.Duration.Seconds())
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			outcome := "ok"
			if e.IsError {
				outcome = "error"
			}
			m.ToolCalls.WithLabelValues(e.ToolName, outcome).Inc()
			m.ToolDuration.WithLabelValues(e.ToolName).Observe(e.Duration.Seconds())
		},
		OnCheckpoint: func(_ context.Context, e *domain.CheckpointEvent) {
			outcome := "ok"
			switch {
			case e.Conflict:
				outcome = "conflict"
			case e.Err != nil:
				outcome = "error"
			}
			m.CheckpointWrites.WithLabelValues(outcome).Inc()
		},
	}
}

package controller

import (
	"fmt"
	"time"

	"github.com/nomis52/provisiond/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records attempt and task outcomes.
type Metrics struct {
	attempts     metrics.CounterVec
	tasks        metrics.CounterVec
	taskDuration metrics.GaugeVec
	lastAttempt  metrics.GaugeVec
}

// NewMetrics registers the controller metrics with reg.
func NewMetrics(reg metrics.Registry) (*Metrics, error) {
	attempts, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "attempts_total",
		Help: "Provisioning attempts by flow variant and terminal state.",
	}, []string{"variant", "state"})
	if err != nil {
		return nil, fmt.Errorf("attempts counter: %w", err)
	}
	taskRuns, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "task_runs_total",
		Help: "Task runs by outcome. Category is empty for successes.",
	}, []string{"task", "outcome", "category"})
	if err != nil {
		return nil, fmt.Errorf("task counter: %w", err)
	}
	duration, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "task_duration_seconds",
		Help: "Duration of the latest run of each task.",
	}, []string{"task"})
	if err != nil {
		return nil, fmt.Errorf("task duration gauge: %w", err)
	}
	last, err := reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "last_attempt_timestamp_seconds",
		Help: "Unix time the latest attempt of each variant ended.",
	}, []string{"variant"})
	if err != nil {
		return nil, fmt.Errorf("last attempt gauge: %w", err)
	}
	return &Metrics{attempts: attempts, tasks: taskRuns, taskDuration: duration, lastAttempt: last}, nil
}

func (m *Metrics) taskDone(name, outcome, category string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasks.With(prometheus.Labels{"task": name, "outcome": outcome, "category": category}).Inc()
	m.taskDuration.With(prometheus.Labels{"task": name}).Set(elapsed.Seconds())
}

func (m *Metrics) attemptDone(variant string, state State, at time.Time) {
	if m == nil {
		return
	}
	m.attempts.With(prometheus.Labels{"variant": variant, "state": string(state)}).Inc()
	m.lastAttempt.With(prometheus.Labels{"variant": variant}).Set(float64(at.Unix()))
}

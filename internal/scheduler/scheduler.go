package scheduler

import (
	"context"
	"errors"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/graph"
	"github.com/kination/kpiwatch/internal/metrics"
	ctrl "sigs.k8s.io/controller-runtime"
)

var log = ctrl.Log.WithName("scheduler")

// DefaultScheduler implements the Scheduler interface with a bounded number of active tasks.
type DefaultScheduler struct {
	config SchedulerConfig
}

// NewScheduler creates a new DefaultScheduler with the given configuration
func NewScheduler(config SchedulerConfig) *DefaultScheduler {
	if config.MaxActiveTasks <= 0 {
		config.MaxActiveTasks = 1
	}
	return &DefaultScheduler{
		config: config,
	}
}

// NewDefaultScheduler creates a scheduler with default configuration
func NewDefaultScheduler() *DefaultScheduler {
	return NewScheduler(DefaultSchedulerConfig())
}

// Name returns the scheduler name
func (s *DefaultScheduler) Name() string {
	return "default-scheduler"
}

// Config returns the scheduler configuration
func (s *DefaultScheduler) Config() SchedulerConfig {
	return s.config
}

// FreeSlots returns how many more tasks of a run may be dispatched now.
// Only QUEUED and RUNNING tasks hold a slot; a task waiting out a retry
// backoff does not.
func (s *DefaultScheduler) FreeSlots(states map[string]workflowv1.TaskState) int {
	occupied := 0
	for _, st := range states {
		if st == workflowv1.StateQueued || st == workflowv1.StateRunning {
			occupied++
		}
	}
	if free := int(s.config.MaxActiveTasks) - occupied; free > 0 {
		return free
	}
	return 0
}

// Schedule determines which tasks should be executed next for a given graph.
func (s *DefaultScheduler) Schedule(ctx context.Context, g *graph.Graph, states map[string]workflowv1.TaskState) (Decision, error) {
	if g == nil {
		return Decision{}, errors.New("nil graph")
	}

	var decision Decision
	var candidates []string

	// TaskIDs is sorted, so candidates come out in ascending id order
	for _, id := range g.TaskIDs() {
		if states[id] != workflowv1.StatePending {
			continue
		}
		task, _ := g.Task(id)

		allDepsCompleted := true
		upstreamFailed := false
		for _, dep := range task.Upstream {
			switch st := states[dep]; {
			case st.IsFailure():
				upstreamFailed = true
			case st != workflowv1.StateSuccess:
				allDepsCompleted = false
			}
		}

		switch {
		case upstreamFailed:
			decision.UpstreamFailed = append(decision.UpstreamFailed, id)
		case allDepsCompleted:
			candidates = append(candidates, id)
		}
	}

	// Apply concurrency limit
	availableSlots := s.FreeSlots(states)
	if availableSlots == 0 {
		if len(candidates) > 0 {
			log.V(1).Info("No free slots", "graph", g.ID, "waiting", len(candidates))
		}
		return decision, nil
	}
	if len(candidates) > availableSlots {
		candidates = candidates[:availableSlots]
	}
	decision.Ready = candidates

	return decision, nil
}

// NotifyTaskStarted records that a task of graphID took a slot.
func (s *DefaultScheduler) NotifyTaskStarted(graphID, taskID string) {
	metrics.ActiveTasks.WithLabelValues(graphID).Inc()
}

// NotifyTaskCompleted records that a task of graphID released its slot.
func (s *DefaultScheduler) NotifyTaskCompleted(graphID, taskID string) {
	metrics.ActiveTasks.WithLabelValues(graphID).Dec()
}

// Package scheduler decides which tasks of a run may start next.
package scheduler

import (
	"context"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/graph"
)

// Decision is the outcome of one scheduling pass.
type Decision struct {
	// Ready lists PENDING tasks whose upstream tasks all succeeded, ascending by id
	// and capped by the free worker slots.
	Ready []string

	// UpstreamFailed lists PENDING tasks with at least one FAILED or UPSTREAM_FAILED upstream.
	UpstreamFailed []string
}

// Scheduler defines the interface for task scheduling.
type Scheduler interface {
	// Name returns the scheduler name
	Name() string

	// Schedule determines which tasks should be executed next, given the current task states.
	Schedule(ctx context.Context, g *graph.Graph, states map[string]workflowv1.TaskState) (Decision, error)

	// FreeSlots returns how many more tasks may be dispatched given the current task states.
	FreeSlots(states map[string]workflowv1.TaskState) int

	// NotifyTaskStarted is called when a task is handed to a worker
	NotifyTaskStarted(graphID, taskID string)

	// NotifyTaskCompleted is called when a worker gives the task's slot back
	NotifyTaskCompleted(graphID, taskID string)
}

// SchedulerConfig holds common configuration for schedulers
type SchedulerConfig struct {
	// MaxActiveTasks bounds the QUEUED and RUNNING tasks of a single run.
	MaxActiveTasks int32
}

// DefaultSchedulerConfig returns the default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxActiveTasks: 8,
	}
}

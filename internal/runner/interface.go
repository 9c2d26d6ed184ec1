// Package runner provides task execution capabilities.
// Runner is responsible for executing a run of a validated graph: it starts
// ready tasks, applies retry policies and propagates failures downstream.
package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/kination/kpiwatch/internal/graph"
)

var (
	// ErrGraphNotValidated is returned when a run is requested for a graph that did not pass Validate.
	ErrGraphNotValidated = errors.New("graph is not validated")

	// ErrRunCancelled is the representative error of a run cancelled before finishing.
	ErrRunCancelled = errors.New("run cancelled")
)

// Runner defines the interface for graph execution.
type Runner interface {
	// Run executes every task of g and finalizes run. Task failures are reported
	// through the run, never as the returned error.
	Run(ctx context.Context, g *graph.Graph, run *Run) error
}

// TaskFailedError carries the terminal error of a task.
type TaskFailedError struct {
	TaskID string
	Err    error
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskFailedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether err should lead to another attempt.
// Errors opt out by implementing Retryable() bool.
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// RunnerConfig holds configuration for the runner
type RunnerConfig struct {
	// Clock stamps task and run transitions
	Clock clock.Clock
}

// DefaultRunnerConfig returns the default runner configuration
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Clock: clock.New(),
	}
}

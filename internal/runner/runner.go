package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/graph"
	"github.com/kination/kpiwatch/internal/metrics"
	"github.com/kination/kpiwatch/internal/scheduler"
)

var log = ctrl.Log.WithName("runner")

// DefaultRunner implements the Runner interface on top of a scheduler.
//
// The goroutine calling Run is the only writer of task states. Workers execute
// single attempts and report the outcome back over a channel; retry waits are
// timers owned by the same goroutine, so a task in backoff holds no worker slot.
type DefaultRunner struct {
	scheduler scheduler.Scheduler
	config    RunnerConfig
}

// taskEvent is a transition reported by a worker. A FAILED event is the
// outcome of one attempt, the coordinator decides whether it is terminal.
type taskEvent struct {
	taskID  string
	state   workflowv1.TaskState
	attempt int
	err     error
}

// retryState tracks the attempts of one task within a run.
type retryState struct {
	task    *graph.Task
	backoff backoff.BackOff
	attempt int
	timer   *clock.Timer
}

// NewRunner creates a new DefaultRunner with the given scheduler
func NewRunner(s scheduler.Scheduler, config RunnerConfig) *DefaultRunner {
	if config.Clock == nil {
		config.Clock = DefaultRunnerConfig().Clock
	}
	return &DefaultRunner{
		scheduler: s,
		config:    config,
	}
}

// NewDefaultRunner creates a runner with default configuration
func NewDefaultRunner() *DefaultRunner {
	return NewRunner(scheduler.NewDefaultScheduler(), DefaultRunnerConfig())
}

// Run executes the graph until no task is pending or active, then finalizes run.
//
// Cancelling ctx stops new tasks and further retries. Attempts already in
// flight complete on a context detached from ctx; only run.Abort cancels them.
func (r *DefaultRunner) Run(ctx context.Context, g *graph.Graph, run *Run) error {
	if g == nil || run == nil {
		return errors.New("nil graph or run")
	}
	if !g.Validated() {
		return fmt.Errorf("graph %s: %w", g.ID, ErrGraphNotValidated)
	}
	if !run.FinishedAt().IsZero() {
		return fmt.Errorf("run %s is already finalized", run.ID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAbort := context.AfterFunc(run.abortCtx, cancel)
	defer stopAbort()

	logger := log.WithValues("graph", g.ID, "run", run.ID)
	logger.Info("Starting run", "tasks", g.Len(), "trigger", run.Trigger)

	// Each task has at most one attempt or one timer outstanding.
	events := make(chan taskEvent, 2*g.Len())
	retries := make(chan string, g.Len())
	var retryCh <-chan string = retries
	tasks := make(map[string]*retryState, g.Len())
	var due []string

	var eg errgroup.Group
	inflight := 0
	cancelled := false
	doneCh := ctx.Done()

	dispatch := func(rs *retryState) {
		rs.attempt++
		id, attempt := rs.task.ID, rs.attempt
		run.transition(id, workflowv1.StateQueued, 0, nil, r.config.Clock.Now())
		r.scheduler.NotifyTaskStarted(g.ID, id)
		eg.Go(func() error {
			r.execute(ctx, run, g.ID, rs.task, attempt, events)
			return nil
		})
	}
	fail := func(id string, err error) {
		run.transition(id, workflowv1.StateFailed, 0, err, r.config.Clock.Now())
		inflight--
		logger.Error(run.TaskError(id), "Task failed", "task", id, "attempts", run.Attempts(id), "blocked", g.Downstream(id))
	}

	for {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			doneCh = nil
			retryCh = nil
			logger.Info("Run cancelled, waiting for in-flight tasks", "inflight", inflight)

			// Retries that have not started keep the error of their last attempt.
			for _, id := range g.TaskIDs() {
				if run.TaskState(id) != workflowv1.StateRetrying {
					continue
				}
				if rs := tasks[id]; rs.timer != nil {
					rs.timer.Stop()
				}
				fail(id, nil)
			}
			due = nil
		}

		if !cancelled {
			// Retries whose wait elapsed go ahead of newly ready tasks.
			if len(due) > 0 {
				slots := r.scheduler.FreeSlots(run.States())
				for slots > 0 && len(due) > 0 {
					dispatch(tasks[due[0]])
					due = due[1:]
					slots--
				}
			}

			decision, err := r.scheduler.Schedule(ctx, g, run.States())
			if err != nil {
				return fmt.Errorf("scheduling run %s: %w", run.ID, err)
			}

			for _, id := range decision.UpstreamFailed {
				logger.Info("Upstream failed, task will not run", "task", id)
				run.transition(id, workflowv1.StateUpstreamFailed, 0, nil, r.config.Clock.Now())
			}
			if len(decision.UpstreamFailed) > 0 {
				// Re-poll so propagation reaches a fixpoint before dispatching.
				continue
			}

			for _, id := range decision.Ready {
				task, _ := g.Task(id)
				rs := &retryState{task: task, backoff: newBackOff(task.Retry)}
				tasks[id] = rs
				inflight++
				dispatch(rs)
			}
		}

		if inflight == 0 {
			break
		}

		select {
		case ev := <-events:
			now := r.config.Clock.Now()
			switch ev.state {
			case workflowv1.StateRunning:
				run.transition(ev.taskID, ev.state, ev.attempt, nil, now)
				continue
			case workflowv1.StateSuccess:
				run.transition(ev.taskID, ev.state, ev.attempt, nil, now)
				inflight--
			case workflowv1.StateSkipped:
				// The attempt never started because the run was cancelled.
				if run.Attempts(ev.taskID) > 0 {
					fail(ev.taskID, nil)
				} else {
					run.transition(ev.taskID, ev.state, 0, nil, now)
					inflight--
				}
			case workflowv1.StateFailed:
				rs := tasks[ev.taskID]
				wait := backoff.Stop
				if ctx.Err() == nil && Retryable(ev.err) {
					wait = rs.backoff.NextBackOff()
				}
				if wait == backoff.Stop {
					fail(ev.taskID, ev.err)
					break
				}
				logger.Info("Task attempt failed, retrying", "task", ev.taskID, "attempt", ev.attempt, "wait", wait.String(), "error", ev.err.Error())
				run.transition(ev.taskID, workflowv1.StateRetrying, ev.attempt, ev.err, now)
				id := ev.taskID
				rs.timer = r.config.Clock.AfterFunc(wait, func() { retries <- id })
			}
			r.scheduler.NotifyTaskCompleted(g.ID, ev.taskID)
		case id := <-retryCh:
			tasks[id].timer = nil
			due = append(due, id)
		case <-doneCh:
		}
	}
	_ = eg.Wait()

	for _, id := range g.TaskIDs() {
		if run.TaskState(id) == workflowv1.StatePending {
			run.transition(id, workflowv1.StateSkipped, 0, nil, r.config.Clock.Now())
		}
	}

	run.finalize(cancelled, r.config.Clock.Now())

	status := run.Status()
	metrics.RunsTotal.WithLabelValues(g.ID, string(status)).Inc()
	metrics.RunDuration.WithLabelValues(g.ID).Observe(run.FinishedAt().Sub(run.StartedAt).Seconds())

	if status == workflowv1.RunFailed {
		logger.Error(run.Err(), "Run failed", "failedTasks", run.FailedTasks(), "reason", run.Reason())
	} else {
		logger.Info("Run succeeded")
	}
	return nil
}

// execute performs one attempt of a task and reports its outcome. An attempt
// that has not started when ctx is cancelled is reported SKIPPED and the action
// is never invoked.
func (r *DefaultRunner) execute(ctx context.Context, run *Run, graphID string, task *graph.Task, attempt int, events chan<- taskEvent) {
	if ctx.Err() != nil {
		events <- taskEvent{taskID: task.ID, state: workflowv1.StateSkipped, attempt: attempt}
		return
	}

	events <- taskEvent{taskID: task.ID, state: workflowv1.StateRunning, attempt: attempt}
	log.V(1).Info("Running task", "graph", graphID, "task", task.ID, "attempt", attempt)

	actx, cancel := run.attemptContext(ctx)
	defer cancel()

	if err := invoke(actx, task.Action); err != nil {
		metrics.TaskAttempts.WithLabelValues(graphID, task.ID, "failure").Inc()
		events <- taskEvent{taskID: task.ID, state: workflowv1.StateFailed, attempt: attempt, err: err}
		return
	}
	metrics.TaskAttempts.WithLabelValues(graphID, task.ID, "success").Inc()
	events <- taskEvent{taskID: task.ID, state: workflowv1.StateSuccess, attempt: attempt}
}

// invoke isolates a task action so a panic becomes an ordinary task error.
func invoke(ctx context.Context, action graph.Action) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return action(ctx)
}

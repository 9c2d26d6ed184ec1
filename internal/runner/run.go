package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/graph"
)

// ReasonCancelled is recorded on runs that were cancelled before finishing.
const ReasonCancelled = "cancelled"

type taskStatus struct {
	state      workflowv1.TaskState
	attempts   int
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// Run is one execution of a graph. Readers may call any exported method
// concurrently; state is only written by the runner executing it.
type Run struct {
	ID        string
	GraphID   string
	Trigger   workflowv1.TriggerKind
	StartedAt time.Time

	mu         sync.RWMutex
	status     workflowv1.RunStatus
	reason     string
	finishedAt time.Time
	tasks      map[string]*taskStatus
	failed     []string
	err        error
	done       chan struct{}

	abortCtx context.Context
	abort    context.CancelFunc
}

// NewRun creates a RUNNING run with every task of g in PENDING.
func NewRun(id string, g *graph.Graph, trigger workflowv1.TriggerKind, now time.Time) *Run {
	tasks := make(map[string]*taskStatus, g.Len())
	for _, taskID := range g.TaskIDs() {
		tasks[taskID] = &taskStatus{state: workflowv1.StatePending}
	}
	r := &Run{
		ID:        id,
		GraphID:   g.ID,
		Trigger:   trigger,
		StartedAt: now,
		status:    workflowv1.RunRunning,
		tasks:     tasks,
		done:      make(chan struct{}),
	}
	r.abortCtx, r.abort = context.WithCancel(context.Background())
	return r
}

// Abort cancels the run and the context handed to every attempt in flight.
// Use it when waiting for attempts to finish on their own is not an option.
func (r *Run) Abort() {
	r.abort()
}

// attemptContext returns the context of one attempt: it ignores cancellation
// of ctx and ends when the run is aborted.
func (r *Run) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(r.abortCtx, cancel)
	return actx, func() {
		stop()
		cancel()
	}
}

// Status returns the run status.
func (r *Run) Status() workflowv1.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Reason returns why a failed run failed, if a specific reason applies.
func (r *Run) Reason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reason
}

// TaskState returns the current state of a task.
func (r *Run) TaskState(taskID string) workflowv1.TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ts, ok := r.tasks[taskID]; ok {
		return ts.state
	}
	return ""
}

// States returns a snapshot of every task state.
func (r *Run) States() map[string]workflowv1.TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]workflowv1.TaskState, len(r.tasks))
	for id, ts := range r.tasks {
		out[id] = ts.state
	}
	return out
}

// Attempts returns how many times a task action was invoked.
func (r *Run) Attempts(taskID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ts, ok := r.tasks[taskID]; ok {
		return ts.attempts
	}
	return 0
}

// TaskError returns the last error of a task.
func (r *Run) TaskError(taskID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ts, ok := r.tasks[taskID]; ok {
		return ts.err
	}
	return nil
}

// FailedTasks returns the ids of tasks that ended FAILED, in ascending order.
func (r *Run) FailedTasks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.failed...)
}

// Err returns the representative error of a failed run.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Done is closed once the run is finalized.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// FinishedAt returns the finalization time, zero while running.
func (r *Run) FinishedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finishedAt
}

// Record returns the audit view of the run.
func (r *Run) Record() workflowv1.RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec := workflowv1.RunRecord{
		RunID:       r.ID,
		GraphID:     r.GraphID,
		Trigger:     r.Trigger,
		Status:      r.status,
		Reason:      r.reason,
		StartedAt:   r.StartedAt,
		FailedTasks: append([]string(nil), r.failed...),
	}
	if !r.finishedAt.IsZero() {
		t := r.finishedAt
		rec.FinishedAt = &t
	}

	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ts := r.tasks[id]
		tr := workflowv1.TaskRecord{TaskID: id, State: ts.state, Attempts: ts.attempts}
		if !ts.startedAt.IsZero() {
			t := ts.startedAt
			tr.StartedAt = &t
		}
		if !ts.finishedAt.IsZero() {
			t := ts.finishedAt
			tr.FinishedAt = &t
		}
		if ts.err != nil {
			tr.Error = ts.err.Error()
		}
		rec.Tasks = append(rec.Tasks, tr)
	}
	return rec
}

func (r *Run) transition(taskID string, state workflowv1.TaskState, attempts int, err error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts, ok := r.tasks[taskID]
	if !ok {
		return
	}
	ts.state = state
	if attempts > ts.attempts {
		ts.attempts = attempts
	}
	if err != nil {
		ts.err = err
	}
	if state == workflowv1.StateRunning && ts.startedAt.IsZero() {
		ts.startedAt = now
	}
	if state.IsTerminal() {
		ts.finishedAt = now
	}
}

// finalize computes the run status. It must be called exactly once.
func (r *Run) finalize(cancelled bool, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	success := !cancelled
	for _, id := range ids {
		ts := r.tasks[id]
		switch ts.state {
		case workflowv1.StateSuccess, workflowv1.StateSkipped:
		case workflowv1.StateFailed:
			success = false
			r.failed = append(r.failed, id)
			if r.err == nil {
				r.err = &TaskFailedError{TaskID: id, Err: ts.err}
			}
		default:
			success = false
		}
	}

	if success {
		r.status = workflowv1.RunSuccess
	} else {
		r.status = workflowv1.RunFailed
		if cancelled {
			r.reason = ReasonCancelled
			if r.err == nil {
				r.err = ErrRunCancelled
			}
		}
	}
	r.finishedAt = now
	close(r.done)
}

package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	ctrl "sigs.k8s.io/controller-runtime"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/graph"
	"github.com/kination/kpiwatch/internal/metrics"
	"github.com/kination/kpiwatch/internal/runner"
	"github.com/kination/kpiwatch/internal/store"
)

var log = ctrl.Log.WithName("controller")

// runHandle tracks a run until its record is saved and callbacks returned.
type runHandle struct {
	run    *runner.Run
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the registered graphs and their runs.
type Controller struct {
	runner runner.Runner
	store  store.Store
	events store.EventStore
	config Config
	cron   *cron.Cron

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	graphs    map[string]*graph.Graph
	active    map[string]*runHandle
	live      map[string]*runHandle
	callbacks []FailureCallback
	started   bool
	stopped   bool
}

// New creates a controller. events may be nil.
func New(r runner.Runner, st store.Store, events store.EventStore, config Config) *Controller {
	if config.Clock == nil {
		config.Clock = DefaultConfig().Clock
	}
	if config.CallbackTimeout <= 0 {
		config.CallbackTimeout = DefaultConfig().CallbackTimeout
	}
	if config.AbortGrace <= 0 {
		config.AbortGrace = DefaultConfig().AbortGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	cronLog := log.WithName("cron")
	return &Controller{
		runner:  r,
		store:   st,
		events:  events,
		config:  config,
		cron:    cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog))),
		baseCtx: ctx,
		cancel:  cancel,
		graphs:  make(map[string]*graph.Graph),
		active:  make(map[string]*runHandle),
		live:    make(map[string]*runHandle),
	}
}

// Register adds a validated graph. Its cadence, when set, must be a valid
// cron expression or descriptor (e.g. "*/15 * * * *", "@daily").
func (c *Controller) Register(g *graph.Graph) error {
	if !g.Validated() {
		return fmt.Errorf("graph %s: %w", g.ID, runner.ErrGraphNotValidated)
	}
	if g.Cadence != "" {
		if _, err := cron.ParseStandard(g.Cadence); err != nil {
			return fmt.Errorf("graph %s: invalid cadence %q: %w", g.ID, g.Cadence, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.graphs[g.ID]; exists {
		return fmt.Errorf("graph %s is already registered", g.ID)
	}
	c.graphs[g.ID] = g
	if c.started {
		return c.schedule(g)
	}
	return nil
}

// Graph returns a registered graph
func (c *Controller) Graph(id string) (*graph.Graph, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.graphs[id]
	return g, ok
}

// Graphs returns all registered graphs ordered by id
func (c *Controller) Graphs() []*graph.Graph {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*graph.Graph, 0, len(c.graphs))
	for _, g := range c.graphs {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnFailure registers a callback invoked once for every run that finishes FAILED.
func (c *Controller) OnFailure(cb FailureCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// Start schedules every graph with a cadence. Runs are cancelled when ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	c.started = true
	registered := len(c.graphs)
	for _, g := range c.graphs {
		if err := c.schedule(g); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.cancel()
		case <-c.baseCtx.Done():
		}
	}()

	c.cron.Start()
	log.Info("Controller started", "graphs", registered, "scheduled", len(c.cron.Entries()))
	return nil
}

// schedule adds the cron entry of g. Callers hold c.mu.
func (c *Controller) schedule(g *graph.Graph) error {
	if g.Cadence == "" {
		return nil
	}
	graphID := g.ID
	if _, err := c.cron.AddFunc(g.Cadence, func() { c.tick(graphID) }); err != nil {
		return fmt.Errorf("scheduling graph %s: %w", graphID, err)
	}
	log.Info("Scheduled graph", "graph", graphID, "cadence", g.Cadence)
	return nil
}

// tick starts a cadence run unless one is still active.
func (c *Controller) tick(graphID string) {
	_, err := c.start(c.baseCtx, graphID, workflowv1.TriggerCadence)
	if err == nil {
		return
	}
	if errors.Is(err, ErrRunActive) {
		metrics.SkippedTicks.WithLabelValues(graphID).Inc()
		log.Info("Previous run still active, skipping tick", "graph", graphID)
		c.publish(c.baseCtx, &store.Event{Type: store.EventTypeTickSkipped, GraphID: graphID})
		return
	}
	log.Error(err, "Failed to start scheduled run", "graph", graphID)
}

// Trigger starts an ad-hoc run. It returns ErrRunActive when the graph already
// has a run in progress.
func (c *Controller) Trigger(ctx context.Context, graphID string) (*runner.Run, error) {
	return c.start(ctx, graphID, workflowv1.TriggerManual)
}

// start checks and claims the single active-run slot under one lock.
func (c *Controller) start(ctx context.Context, graphID string, trigger workflowv1.TriggerKind) (*runner.Run, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	g, ok := c.graphs[graphID]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownGraph, graphID)
	}
	if _, busy := c.active[graphID]; busy {
		c.mu.Unlock()
		return nil, ErrRunActive
	}

	run := runner.NewRun(uuid.NewString(), g, trigger, c.config.Clock.Now())
	runCtx, cancel := context.WithCancel(c.baseCtx)
	h := &runHandle{run: run, ctx: runCtx, cancel: cancel, done: make(chan struct{})}
	c.active[graphID] = h
	c.live[run.ID] = h
	c.wg.Add(1)
	c.mu.Unlock()

	log.Info("Starting run", "graph", graphID, "run", run.ID, "trigger", trigger)
	c.publish(ctx, &store.Event{
		Type:      store.EventTypeRunStarted,
		Timestamp: run.StartedAt,
		GraphID:   graphID,
		RunID:     run.ID,
		Data:      map[string]interface{}{"trigger": string(trigger)},
	})

	go c.execute(g, h)
	return run, nil
}

func (c *Controller) execute(g *graph.Graph, h *runHandle) {
	defer c.wg.Done()
	defer close(h.done)
	defer h.cancel()

	run := h.run
	if err := c.runner.Run(h.ctx, g, run); err != nil {
		log.Error(err, "Run could not execute", "graph", g.ID, "run", run.ID)
	}

	rec := run.Record()
	ctx := context.WithoutCancel(c.baseCtx)
	if err := c.store.SaveRun(ctx, rec); err != nil {
		log.Error(err, "Failed to save run record", "run", run.ID)
	}

	eventType := store.EventTypeRunSucceeded
	if rec.Status == workflowv1.RunFailed {
		eventType = store.EventTypeRunFailed
	}
	finished := c.config.Clock.Now()
	if rec.FinishedAt != nil {
		finished = *rec.FinishedAt
	}
	c.publish(ctx, &store.Event{
		Type:      eventType,
		Timestamp: finished,
		GraphID:   g.ID,
		RunID:     run.ID,
		Data:      map[string]interface{}{"failedTasks": rec.FailedTasks, "reason": rec.Reason},
	})

	c.mu.Lock()
	delete(c.active, g.ID)
	callbacks := append([]FailureCallback(nil), c.callbacks...)
	c.mu.Unlock()

	if rec.Status == workflowv1.RunFailed {
		c.notifyFailure(ctx, callbacks, FailureContext{
			GraphID:     g.ID,
			RunID:       run.ID,
			FailedTasks: rec.FailedTasks,
			Err:         run.Err(),
		})
	}

	c.mu.Lock()
	delete(c.live, run.ID)
	c.mu.Unlock()
}

// notifyFailure invokes every callback once. Errors and panics are collected
// and logged; they never stop the remaining callbacks.
func (c *Controller) notifyFailure(ctx context.Context, callbacks []FailureCallback, fc FailureContext) {
	var errs error
	for i, cb := range callbacks {
		errs = multierr.Append(errs, c.invokeCallback(ctx, i, cb, fc))
	}
	if errs != nil {
		log.Error(errs, "Failure callbacks returned errors", "graph", fc.GraphID, "run", fc.RunID,
			"count", len(multierr.Errors(errs)))
	}
}

func (c *Controller) invokeCallback(ctx context.Context, index int, cb FailureCallback, fc FailureContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("failure callback %d panicked: %v", index, p)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, c.config.CallbackTimeout)
	defer cancel()
	if err := cb(ctx, fc); err != nil {
		return fmt.Errorf("failure callback %d: %w", index, err)
	}
	return nil
}

// ActiveRun returns the RUNNING run of a graph, if any
func (c *Controller) ActiveRun(graphID string) (*runner.Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.active[graphID]
	if !ok {
		return nil, false
	}
	return h.run, true
}

// Run returns the audit record of a run, live or finished.
func (c *Controller) Run(ctx context.Context, runID string) (*workflowv1.RunRecord, error) {
	c.mu.Lock()
	h, ok := c.live[runID]
	c.mu.Unlock()
	if ok {
		rec := h.run.Record()
		return &rec, nil
	}
	return c.store.GetRun(ctx, runID)
}

// Wait blocks until the run is saved and its failure callbacks returned.
func (c *Controller) Wait(ctx context.Context, runID string) (*workflowv1.RunRecord, error) {
	c.mu.Lock()
	h, ok := c.live[runID]
	c.mu.Unlock()
	if ok {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.store.GetRun(ctx, runID)
}

// Cancel cancels a RUNNING run. No new task of the run starts and pending
// retries are dropped; attempts already in flight finish on their own.
// It returns ErrRunNotActive for finished runs and store.ErrNotFound for
// unknown ids.
func (c *Controller) Cancel(ctx context.Context, runID string) error {
	c.mu.Lock()
	h, ok := c.live[runID]
	c.mu.Unlock()
	if ok {
		if !h.run.FinishedAt().IsZero() {
			return fmt.Errorf("run %s: %w", runID, ErrRunNotActive)
		}
		log.Info("Cancelling run", "graph", h.run.GraphID, "run", runID)
		h.cancel()
		return nil
	}

	if _, err := c.store.GetRun(ctx, runID); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	return fmt.Errorf("run %s: %w", runID, ErrRunNotActive)
}

// Stop stops scheduling and waits for in-flight runs. When ctx ends first the
// remaining runs are cancelled and their attempts aborted; Stop then waits at
// most AbortGrace before returning ctx.Err().
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	<-c.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		log.Info("Controller stopped")
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		inflight := make([]*runHandle, 0, len(c.live))
		for _, h := range c.live {
			inflight = append(inflight, h)
		}
		c.mu.Unlock()

		log.Info("Stop deadline reached, aborting in-flight runs", "runs", len(inflight))
		c.cancel()
		for _, h := range inflight {
			h.run.Abort()
		}

		grace, cancel := context.WithTimeout(context.Background(), c.config.AbortGrace)
		defer cancel()
		select {
		case <-done:
		case <-grace.Done():
			log.Info("Runs still in flight after abort, giving up", "grace", c.config.AbortGrace.String())
		}
		return ctx.Err()
	}
}

func (c *Controller) publish(ctx context.Context, event *store.Event) {
	if c.events == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.config.Clock.Now()
	}
	if err := c.events.Publish(ctx, event); err != nil {
		log.Error(err, "Failed to publish event", "type", event.Type, "graph", event.GraphID)
	}
}

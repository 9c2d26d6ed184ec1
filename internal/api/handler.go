package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/controller"
	"github.com/kination/kpiwatch/internal/graph"
	"github.com/kination/kpiwatch/internal/store"
)

// Handler implements the API routes on top of a controller and its stores.
type Handler struct {
	ctl    *controller.Controller
	store  store.Store
	events store.EventStore
}

// NewHandler creates a Handler
func NewHandler(ctl *controller.Controller, st store.Store, events store.EventStore) *Handler {
	return &Handler{ctl: ctl, store: st, events: events}
}

// GraphSummary is the list view of a registered graph
type GraphSummary struct {
	ID        string   `json:"id"`
	Cadence   string   `json:"cadence,omitempty"`
	Tasks     []string `json:"tasks"`
	ActiveRun string   `json:"activeRun,omitempty"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

func (h *Handler) health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listGraphs(c *gin.Context) {
	graphs := h.ctl.Graphs()
	out := make([]GraphSummary, 0, len(graphs))
	for _, g := range graphs {
		summary := GraphSummary{ID: g.ID, Cadence: g.Cadence, Tasks: g.TopologicalOrder()}
		if run, ok := h.ctl.ActiveRun(g.ID); ok {
			summary.ActiveRun = run.ID
		}
		out = append(out, summary)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) lookupGraph(c *gin.Context) (*graph.Graph, bool) {
	id := c.Param("graph")
	g, ok := h.ctl.Graph(id)
	if !ok {
		abortWithError(c, http.StatusNotFound, fmt.Errorf("graph %s: %w", id, controller.ErrUnknownGraph))
		return nil, false
	}
	return g, true
}

func (h *Handler) getGraph(c *gin.Context) {
	g, ok := h.lookupGraph(c)
	if !ok {
		return
	}
	manifest, err := graph.GenerateManifest(g)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, manifest)
}

func (h *Handler) triggerRun(c *gin.Context) {
	run, err := h.ctl.Trigger(c.Request.Context(), c.Param("graph"))
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, run.Record())
	case errors.Is(err, controller.ErrUnknownGraph):
		abortWithError(c, http.StatusNotFound, err)
	case errors.Is(err, controller.ErrRunActive):
		abortWithError(c, http.StatusConflict, err)
	case errors.Is(err, controller.ErrStopped):
		abortWithError(c, http.StatusServiceUnavailable, err)
	default:
		abortWithError(c, http.StatusInternalServerError, err)
	}
}

func (h *Handler) listRuns(c *gin.Context) {
	g, ok := h.lookupGraph(c)
	if !ok {
		return
	}
	opts, err := listOptions(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	opts.Status = workflowv1.RunStatus(c.Query("status"))

	runs, err := h.store.ListRuns(c.Request.Context(), g.ID, opts)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) getRun(c *gin.Context) {
	rec, err := h.ctl.Run(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// cancelRun stops a RUNNING run from starting further tasks.
func (h *Handler) cancelRun(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	err := h.ctl.Cancel(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		abortWithError(c, http.StatusNotFound, err)
		return
	case errors.Is(err, controller.ErrRunNotActive):
		abortWithError(c, http.StatusConflict, err)
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	rec, err := h.ctl.Run(ctx, id)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, rec)
}

func (h *Handler) listEvents(c *gin.Context) {
	opts, err := listOptions(c)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	filter := store.EventFilter{
		GraphID: c.Query("graph"),
		RunID:   c.Query("run"),
	}
	for _, t := range c.QueryArray("type") {
		filter.Types = append(filter.Types, store.EventType(t))
	}
	if since := c.Query("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		filter.Since = &ts
	}

	events, err := h.events.GetEvents(c.Request.Context(), filter, opts)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func listOptions(c *gin.Context) (store.ListOptions, error) {
	var opts store.ListOptions
	var err error
	if v := c.Query("limit"); v != "" {
		if opts.Limit, err = strconv.Atoi(v); err != nil || opts.Limit < 0 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
	}
	if v := c.Query("offset"); v != "" {
		if opts.Offset, err = strconv.Atoi(v); err != nil || opts.Offset < 0 {
			return opts, fmt.Errorf("invalid offset %q", v)
		}
	}
	return opts, nil
}

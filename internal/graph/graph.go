// Package graph provides the task graph: tasks, precedence edges, validation and
// deterministic topological scheduling.
package graph

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// Action is the unit of work a task performs. A returned error counts as a failed attempt.
type Action func(ctx context.Context) error

// Task is a node of the graph. Tasks are immutable once added and reused across runs.
type Task struct {
	ID       string
	Action   Action
	Retry    workflowv1.RetryPolicy
	Upstream []string
}

// Graph is a directed acyclic graph of tasks.
// It is safe for concurrent reads once validated.
type Graph struct {
	ID string

	// Cadence is a cron expression. Empty means manual trigger only.
	Cadence string

	// MaxConcurrentRuns is fixed at 1 for every workflow in scope.
	MaxConcurrentRuns int

	tasks      map[string]*Task
	downstream map[string][]string
	order      []string
	validated  bool
}

// New creates an empty graph.
func New(id, cadence string) *Graph {
	return &Graph{
		ID:                id,
		Cadence:           cadence,
		MaxConcurrentRuns: 1,
		tasks:             make(map[string]*Task),
	}
}

// AddTask registers a task. Upstream ids may reference tasks registered later;
// they are resolved by Validate.
func (g *Graph) AddTask(task Task) error {
	if task.ID == "" {
		return errors.New("task id is required")
	}
	if task.Action == nil {
		return fmt.Errorf("task %q has no action", task.ID)
	}
	if _, exists := g.tasks[task.ID]; exists {
		return &DuplicateTaskError{TaskID: task.ID}
	}

	t := task
	t.Upstream = append([]string(nil), task.Upstream...)
	sort.Strings(t.Upstream)
	g.tasks[t.ID] = &t
	g.validated = false
	return nil
}

// Validate checks that every upstream id exists and that the graph is acyclic.
// A successful validation freezes the topological order.
func (g *Graph) Validate() error {
	if len(g.tasks) == 0 {
		return fmt.Errorf("graph %q has no tasks", g.ID)
	}

	for _, id := range g.sortedIDs() {
		for _, up := range g.tasks[id].Upstream {
			if _, ok := g.tasks[up]; !ok {
				return &UnknownUpstreamError{TaskID: id, Upstream: up}
			}
		}
	}

	downstream := make(map[string][]string, len(g.tasks))
	for _, id := range g.sortedIDs() {
		for _, up := range g.tasks[id].Upstream {
			downstream[up] = append(downstream[up], id)
		}
	}
	g.downstream = downstream

	order := g.kahn()
	if len(order) != len(g.tasks) {
		return &CycleError{Path: g.findCycle()}
	}

	g.order = order
	g.validated = true
	return nil
}

// Validated reports whether the graph passed Validate since its last mutation.
func (g *Graph) Validated() bool {
	return g.validated
}

// TopologicalOrder returns the deterministic execution order computed by Validate.
func (g *Graph) TopologicalOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Schedule validates the graph and returns its topological order.
// Calling it repeatedly on the same graph yields the identical order.
func (g *Graph) Schedule() ([]string, error) {
	if !g.validated {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}
	return g.TopologicalOrder(), nil
}

// Task returns a task by id.
func (g *Graph) Task(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// TaskIDs returns all task ids in ascending order.
func (g *Graph) TaskIDs() []string {
	return g.sortedIDs()
}

// Downstream returns the direct dependents of id, in ascending order.
func (g *Graph) Downstream(id string) []string {
	return append([]string(nil), g.downstream[id]...)
}

// Len returns the number of tasks.
func (g *Graph) Len() int {
	return len(g.tasks)
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.tasks))
	for id := range g.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type idMinHeap []string

func (h idMinHeap) Len() int           { return len(h) }
func (h idMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idMinHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// kahn returns a topological order using a min-heap ready set, so ties among
// ready tasks are broken by ascending id. Tasks on a cycle are left out.
func (g *Graph) kahn() []string {
	indeg := make(map[string]int, len(g.tasks))
	for id, t := range g.tasks {
		indeg[id] = len(t.Upstream)
	}

	ready := &idMinHeap{}
	for id, d := range indeg {
		if d == 0 {
			*ready = append(*ready, id)
		}
	}
	heap.Init(ready)

	out := make([]string, 0, len(g.tasks))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		out = append(out, id)
		for _, next := range g.downstream[id] {
			indeg[next]--
			if indeg[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}
	return out
}

// findCycle walks the graph depth first in id order and returns one cycle path.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(g.tasks))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range g.downstream[id] {
			switch color[next] {
			case gray:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.sortedIDs() {
		if color[id] == white && visit(id) {
			break
		}
	}
	return cycle
}

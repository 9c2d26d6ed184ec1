package graph

import (
	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// Builder provides a fluent API for defining graphs.
// The first error encountered is kept and reported by Build.
type Builder struct {
	graph *Graph
	retry workflowv1.RetryPolicy
	err   error
}

// NewDAG creates a new builder for a graph with the given cadence.
func NewDAG(id, cadence string) *Builder {
	return &Builder{graph: New(id, cadence)}
}

// WithRetry sets the default retry policy applied to tasks that do not declare one.
func (b *Builder) WithRetry(policy workflowv1.RetryPolicy) *Builder {
	b.retry = policy
	return b
}

// AddTask adds a simple task with optional dependencies
func (b *Builder) AddTask(id string, fn Action, deps ...string) *Builder {
	return b.add(Task{ID: id, Action: fn, Upstream: deps})
}

// AddSequential adds tasks that run sequentially (each depends on previous)
func (b *Builder) AddSequential(tasks ...Task) *Builder {
	var prev string
	for _, t := range tasks {
		deps := t.Upstream
		if prev != "" {
			deps = append([]string{prev}, deps...)
		}
		t.Upstream = deps
		b.add(t)
		prev = t.ID
	}
	return b
}

// AddParallel adds tasks that share the same dependency and may run concurrently.
// An empty afterTask makes them roots.
func (b *Builder) AddParallel(afterTask string, tasks ...Task) *Builder {
	for _, t := range tasks {
		deps := t.Upstream
		if afterTask != "" {
			deps = append([]string{afterTask}, deps...)
		}
		t.Upstream = deps
		b.add(t)
	}
	return b
}

// Build validates and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.graph.Validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

func (b *Builder) add(t Task) *Builder {
	if b.err != nil {
		return b
	}
	if t.Retry == (workflowv1.RetryPolicy{}) {
		t.Retry = b.retry
	}
	b.err = b.graph.AddTask(t)
	return b
}

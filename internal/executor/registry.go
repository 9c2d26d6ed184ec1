package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// Registry manages executor registration and lookup
type Registry struct {
	mu        sync.RWMutex
	executors map[workflowv1.StageBackend]Executor
}

// NewRegistry creates a new executor registry
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[workflowv1.StageBackend]Executor),
	}
}

// Register adds an executor to the registry
func (r *Registry) Register(exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[exec.Backend()] = exec
}

// Get retrieves the executor for the given backend
func (r *Registry) Get(backend workflowv1.StageBackend) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[backend]
	if !ok {
		return nil, fmt.Errorf("no executor registered for stage backend: %s", backend)
	}
	return exec, nil
}

// Has checks if an executor is registered for the given backend
func (r *Registry) Has(backend workflowv1.StageBackend) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.executors[backend]
	return ok
}

// Backends returns all registered backends in ascending order
func (r *Registry) Backends() []workflowv1.StageBackend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	backends := make([]workflowv1.StageBackend, 0, len(r.executors))
	for b := range r.executors {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}

// Execute runs stage on the executor registered for its backend.
// An empty backend selects the local executor.
func (r *Registry) Execute(ctx context.Context, stage workflowv1.StageSpec) (*Result, error) {
	backend := stage.Backend
	if backend == "" {
		backend = workflowv1.BackendLocal
	}
	exec, err := r.Get(backend)
	if err != nil {
		return nil, err
	}
	return exec.Execute(ctx, stage)
}

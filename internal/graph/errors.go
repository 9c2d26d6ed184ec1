package graph

import (
	"fmt"
	"strings"
)

// DuplicateTaskError is returned when a task id is registered twice.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task id %q", e.TaskID)
}

// UnknownUpstreamError is returned when a task depends on an id that was never registered.
type UnknownUpstreamError struct {
	TaskID   string
	Upstream string
}

func (e *UnknownUpstreamError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.Upstream)
}

// CycleError is returned when the precedence relation is not acyclic.
// Path is one cycle witness, starting and ending with the same id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return "cycle detected in task dependencies"
	}
	return "cycle detected in task dependencies: " + strings.Join(e.Path, " -> ")
}

// Package store provides storage interfaces for run history and lifecycle events.
package store

import (
	"context"
	"errors"
	"time"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// ErrNotFound is returned when a run is not in the store.
var ErrNotFound = errors.New("not found")

// Store defines the interface for run history persistence.
type Store interface {
	// SaveRun stores the audit record of a finished run
	SaveRun(ctx context.Context, rec workflowv1.RunRecord) error

	// GetRun returns a run by id, or ErrNotFound
	GetRun(ctx context.Context, runID string) (*workflowv1.RunRecord, error)

	// ListRuns returns the runs of a graph, newest first
	ListRuns(ctx context.Context, graphID string, opts ListOptions) ([]workflowv1.RunRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}

// ListOptions defines options for listing operations
type ListOptions struct {
	// Limit is the maximum number of items to return, 0 means no limit
	Limit int
	// Offset is the number of items to skip
	Offset int
	// Status filters runs by final status
	Status workflowv1.RunStatus
}

// StoreConfig holds configuration for creating a store
type StoreConfig struct {
	// HistorySize is the number of finished runs kept per graph
	HistorySize int `yaml:"historySize"`
	// EventBacklog is the number of lifecycle events kept
	EventBacklog int `yaml:"eventBacklog"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		HistorySize:  100,
		EventBacklog: 1000,
	}
}

// EventStore defines the interface for lifecycle event persistence.
// Used for audit logging.
type EventStore interface {
	// Publish records an event
	Publish(ctx context.Context, event *Event) error

	// GetEvents retrieves historical events, oldest first
	GetEvents(ctx context.Context, filter EventFilter, opts ListOptions) ([]*Event, error)
}

// Event represents a run lifecycle event
type Event struct {
	// ID is the unique event identifier
	ID string `json:"id"`
	// Type is the event type
	Type EventType `json:"type"`
	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`
	// GraphID is the graph of the related run
	GraphID string `json:"graphId"`
	// RunID is the related run (empty for skipped ticks)
	RunID string `json:"runId,omitempty"`
	// Data contains event-specific data
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType defines the type of event
type EventType string

const (
	// EventTypeRunStarted is emitted when a run starts
	EventTypeRunStarted EventType = "run.started"
	// EventTypeRunSucceeded is emitted when a run finishes with SUCCESS
	EventTypeRunSucceeded EventType = "run.succeeded"
	// EventTypeRunFailed is emitted when a run finishes with FAILED
	EventTypeRunFailed EventType = "run.failed"
	// EventTypeTickSkipped is emitted when a cadence tick finds a run still active
	EventTypeTickSkipped EventType = "tick.skipped"
)

// EventFilter defines criteria for filtering events
type EventFilter struct {
	// Types filters by event types
	Types []EventType
	// GraphID filters by graph
	GraphID string
	// RunID filters by run
	RunID string
	// Since filters events after this time
	Since *time.Time
}

// Matches reports whether e satisfies the filter
func (f EventFilter) Matches(e *Event) bool {
	if f.GraphID != "" && e.GraphID != f.GraphID {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.Since != nil && !e.Timestamp.After(*f.Since) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

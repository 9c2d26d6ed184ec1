// Package controller starts runs of registered graphs on their cadence or on
// demand, enforces a single active run per graph and notifies failure callbacks.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrRunActive is returned when a graph already has a RUNNING run.
	ErrRunActive = errors.New("graph already has an active run")

	// ErrUnknownGraph is returned for graph ids that were never registered.
	ErrUnknownGraph = errors.New("unknown graph")

	// ErrRunNotActive is returned when cancelling a run that already finished.
	ErrRunNotActive = errors.New("run is not active")

	// ErrStopped is returned when triggering after Stop.
	ErrStopped = errors.New("controller is stopped")
)

// FailureContext describes a run that finished FAILED.
type FailureContext struct {
	GraphID     string
	RunID       string
	FailedTasks []string
	Err         error
}

// FailureCallback is notified once per failed run.
type FailureCallback func(ctx context.Context, fc FailureContext) error

// Config holds configuration for the controller
type Config struct {
	// Clock stamps run creation
	Clock clock.Clock
	// CallbackTimeout bounds each failure callback
	CallbackTimeout time.Duration
	// AbortGrace bounds how long Stop waits for aborted attempts after its deadline
	AbortGrace time.Duration
}

// DefaultConfig returns the default controller configuration
func DefaultConfig() Config {
	return Config{
		Clock:           clock.New(),
		CallbackTimeout: 30 * time.Second,
		AbortGrace:      5 * time.Second,
	}
}

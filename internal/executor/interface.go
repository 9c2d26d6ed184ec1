// Package executor runs external transformation stages.
// Each backend (local process, Kubernetes Pod) implements Executor and is looked
// up in a Registry by the stage's backend.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-shellwords"
	"sigs.k8s.io/controller-runtime/pkg/client"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// Executor defines the interface for running stages.
type Executor interface {
	// Backend returns the stage backend this executor handles
	Backend() workflowv1.StageBackend

	// Execute runs the stage to completion. A non-zero exit status is returned
	// as a StageFailedError alongside the result.
	Execute(ctx context.Context, stage workflowv1.StageSpec) (*Result, error)
}

// Result is the outcome of a stage process
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// StageFailedError reports a stage process that exited with a non-zero status.
// It is retryable.
type StageFailedError struct {
	Stage    string
	ExitCode int
	Output   string
}

func (e *StageFailedError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("stage %s exited with code %d", e.Stage, e.ExitCode)
	}
	return fmt.Sprintf("stage %s exited with code %d: %s", e.Stage, e.ExitCode, e.Output)
}

// ExecutorConfig holds common configuration for executors
type ExecutorConfig struct {
	// Client and Namespace are used by the pod backend
	Client    client.Client
	Namespace string

	// Image is the default container image for pod stages
	Image string

	// PollInterval is how often the pod backend checks the pod phase
	PollInterval time.Duration

	// MaxOutput bounds the captured output kept in results and errors
	MaxOutput int
}

// DefaultExecutorConfig returns the default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Namespace:    "default",
		Image:        "ghcr.io/dbt-labs/dbt-postgres:1.7.latest",
		PollInterval: 2 * time.Second,
		MaxOutput:    4096,
	}
}

// BaseExecutor provides common functionality for executors
type BaseExecutor struct {
	Config ExecutorConfig
}

// NewBaseExecutor creates a new BaseExecutor
func NewBaseExecutor(cfg ExecutorConfig) BaseExecutor {
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultExecutorConfig().MaxOutput
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultExecutorConfig().PollInterval
	}
	return BaseExecutor{Config: cfg}
}

// Tail keeps the last MaxOutput bytes of out.
func (b BaseExecutor) Tail(out string) string {
	if len(out) <= b.Config.MaxOutput {
		return out
	}
	return "..." + out[len(out)-b.Config.MaxOutput:]
}

// ParseCommand splits a shell-style command line into argv.
func ParseCommand(command string) ([]string, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parsing command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return args, nil
}

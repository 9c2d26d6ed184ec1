// Package local provides the Executor for running stages as local processes.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	ctrl "sigs.k8s.io/controller-runtime"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/executor"
)

var log = ctrl.Log.WithName("executor").WithName("local")

// Executor implements the executor.Executor interface for local processes
type Executor struct {
	executor.BaseExecutor
}

// New creates a new local Executor
func New(cfg executor.ExecutorConfig) *Executor {
	return &Executor{
		BaseExecutor: executor.NewBaseExecutor(cfg),
	}
}

// Backend returns the backend this executor handles
func (e *Executor) Backend() workflowv1.StageBackend {
	return workflowv1.BackendLocal
}

// Execute runs the stage command in the stage directory and waits for it to exit
func (e *Executor) Execute(ctx context.Context, stage workflowv1.StageSpec) (*executor.Result, error) {
	args, err := executor.ParseCommand(stage.Command)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = stage.Dir
	cmd.Env = os.Environ()
	for k, v := range stage.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	log.Info("Starting stage", "stage", stage.Name, "command", args[0], "dir", stage.Dir)
	start := time.Now()
	runErr := cmd.Run()
	result := &executor.Result{
		Output:   e.Tail(out.String()),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The process could not be started at all
			return nil, fmt.Errorf("starting stage %s: %w", stage.Name, runErr)
		}
		result.ExitCode = exitErr.ExitCode()
		return result, &executor.StageFailedError{Stage: stage.Name, ExitCode: result.ExitCode, Output: result.Output}
	}

	log.Info("Stage finished", "stage", stage.Name, "duration", result.Duration.String())
	return result, nil
}

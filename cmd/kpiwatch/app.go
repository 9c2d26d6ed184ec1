package main

import (
	"context"
	"fmt"

	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/config"
	"github.com/kination/kpiwatch/internal/controller"
	"github.com/kination/kpiwatch/internal/datasource"
	"github.com/kination/kpiwatch/internal/dispatcher"
	"github.com/kination/kpiwatch/internal/executor"
	"github.com/kination/kpiwatch/internal/executor/local"
	"github.com/kination/kpiwatch/internal/executor/pod"
	"github.com/kination/kpiwatch/internal/runner"
	"github.com/kination/kpiwatch/internal/scheduler"
	"github.com/kination/kpiwatch/internal/store"
	"github.com/kination/kpiwatch/internal/workflows"
)

var log = ctrl.Log.WithName("kpiwatch")

// app holds the wired components of a running process
type app struct {
	db         *datasource.Postgres
	store      *store.MemoryStore
	controller *controller.Controller
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := datasource.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	stages, err := newStageRegistry(cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	st := store.NewMemoryStore(cfg.Store)
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{MaxActiveTasks: int32(cfg.Workers)})
	ctl := controller.New(runner.NewRunner(sched, runner.DefaultRunnerConfig()), st, st, controller.DefaultConfig())

	deps := workflows.Dependencies{
		DataSource: db,
		Dispatcher: dispatcher.NewRegistryFromConfig(cfg.Channels),
		Stages:     stages,
	}
	if err := workflows.Setup(ctl, cfg, deps); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &app{db: db, store: st, controller: ctl}, nil
}

// newStageRegistry registers the local backend, and the pod backend when the
// pipeline runs its stages on Kubernetes.
func newStageRegistry(cfg config.Config) (*executor.Registry, error) {
	execCfg := executor.DefaultExecutorConfig()
	execCfg.Namespace = cfg.Kubernetes.Namespace
	execCfg.PollInterval = cfg.Kubernetes.PollInterval
	if cfg.Pipeline.Image != "" {
		execCfg.Image = cfg.Pipeline.Image
	}

	registry := executor.NewRegistry()
	registry.Register(local.New(execCfg))

	if cfg.Pipeline.Backend == workflowv1.BackendPod {
		restCfg, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		c, err := client.New(restCfg, client.Options{})
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		execCfg.Client = c
		registry.Register(pod.New(execCfg))
	}
	log.Info("Stage backends ready", "backends", registry.Backends())
	return registry, nil
}

func (a *app) Close() {
	_ = a.store.Close()
	if err := a.db.Close(); err != nil {
		log.Error(err, "Failed to close database")
	}
}

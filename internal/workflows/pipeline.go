package workflows

import (
	"context"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/config"
	"github.com/kination/kpiwatch/internal/executor"
	"github.com/kination/kpiwatch/internal/graph"
	"github.com/kination/kpiwatch/internal/quality"
)

// PipelineGraphID identifies the transformation pipeline graph
const PipelineGraphID = "real_estate_analytics"

// Pipeline graph task ids
const (
	TaskDataFreshness    = "check_data_freshness"
	TaskDataQuality      = "check_data_quality"
	TaskDbtDeps          = "dbt_deps"
	TaskDbtSeed          = "dbt_seed"
	TaskDbtRunStaging    = "dbt_run_staging"
	TaskDbtRunMarts      = "dbt_run_marts"
	TaskDbtTest          = "dbt_test"
	TaskDbtDocs          = "dbt_docs"
	TaskMonitorFreshness = "monitor_data_freshness"
)

// StageRunner runs an external transformation stage. *executor.Registry implements it.
type StageRunner interface {
	Execute(ctx context.Context, stage workflowv1.StageSpec) (*executor.Result, error)
}

// Stages returns the dbt stages of the pipeline in execution order.
func Stages(cfg config.PipelineConfig) []workflowv1.StageSpec {
	profiles := " --profiles-dir " + cfg.ProfilesDir
	if cfg.ProfilesDir == "" {
		profiles = ""
	}

	stage := func(name, command string) workflowv1.StageSpec {
		return workflowv1.StageSpec{
			Name:    name,
			Backend: cfg.Backend,
			Command: command,
			Dir:     cfg.DbtDir,
			Image:   cfg.Image,
			Env:     cfg.Env,
		}
	}
	return []workflowv1.StageSpec{
		stage(TaskDbtDeps, "dbt deps"),
		stage(TaskDbtSeed, "dbt seed"+profiles),
		stage(TaskDbtRunStaging, "dbt run --models staging"+profiles),
		stage(TaskDbtRunMarts, "dbt run --models marts"+profiles),
		stage(TaskDbtTest, "dbt test"+profiles),
		stage(TaskDbtDocs, "dbt docs generate"+profiles),
	}
}

// PipelineGraph builds the pipeline graph:
//
//	check_data_freshness >> check_data_quality >> dbt_deps >> dbt_seed >>
//	dbt_run_staging >> dbt_run_marts >> dbt_test >> dbt_docs
//	dbt_run_marts >> monitor_data_freshness
func PipelineGraph(gates *quality.Gates, stages StageRunner, cfg config.PipelineConfig) (*graph.Graph, error) {
	chain := []graph.Task{
		{ID: TaskDataFreshness, Action: gates.CheckFreshness},
		{ID: TaskDataQuality, Action: gates.CheckNulls},
	}
	for _, spec := range Stages(cfg) {
		chain = append(chain, graph.Task{ID: spec.Name, Action: stageAction(stages, spec)})
	}

	return graph.NewDAG(PipelineGraphID, cfg.Cadence).
		WithRetry(cfg.Retry).
		AddSequential(chain...).
		AddParallel(TaskDbtRunMarts, graph.Task{ID: TaskMonitorFreshness, Action: gates.RecordFreshness}).
		Build()
}

func stageAction(stages StageRunner, spec workflowv1.StageSpec) graph.Action {
	return func(ctx context.Context) error {
		res, err := stages.Execute(ctx, spec)
		if err != nil {
			return err
		}
		log.Info("Stage completed", "stage", spec.Name, "backend", spec.Backend, "duration", res.Duration.String())
		return nil
	}
}

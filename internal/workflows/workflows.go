package workflows

import (
	"github.com/benbjohnson/clock"

	"github.com/kination/kpiwatch/internal/checks"
	"github.com/kination/kpiwatch/internal/config"
	"github.com/kination/kpiwatch/internal/controller"
	"github.com/kination/kpiwatch/internal/datasource"
	"github.com/kination/kpiwatch/internal/dispatcher"
	"github.com/kination/kpiwatch/internal/graph"
	"github.com/kination/kpiwatch/internal/quality"
)

// Dependencies are the collaborators shared by the graphs.
type Dependencies struct {
	DataSource datasource.DataSource
	Dispatcher dispatcher.Dispatcher
	Stages     StageRunner
	Clock      clock.Clock
}

// Graphs builds every graph from cfg, alerts first.
func Graphs(cfg config.Config, deps Dependencies) ([]*graph.Graph, error) {
	checker := checks.NewChecker(deps.DataSource, deps.Dispatcher, cfg.Thresholds, deps.Clock)
	alerts, err := AlertsGraph(checker, cfg.Alerts)
	if err != nil {
		return nil, err
	}

	gates := quality.NewGates(deps.DataSource, cfg.Quality, deps.Clock)
	pipeline, err := PipelineGraph(gates, deps.Stages, cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	return []*graph.Graph{alerts, pipeline}, nil
}

// Setup registers every graph on c together with the failure alert callback.
func Setup(c *controller.Controller, cfg config.Config, deps Dependencies) error {
	graphs, err := Graphs(cfg, deps)
	if err != nil {
		return err
	}
	for _, g := range graphs {
		if err := c.Register(g); err != nil {
			return err
		}
		log.Info("Registered graph", "graph", g.ID, "cadence", g.Cadence, "tasks", g.Len())
	}
	if deps.Dispatcher != nil {
		c.OnFailure(FailureAlertCallback(deps.Dispatcher, deps.Clock))
	}
	return nil
}

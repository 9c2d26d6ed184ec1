// Package workflows defines the graphs kpiwatch runs: the threshold alert
// checks and the gated transformation pipeline.
package workflows

import (
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kination/kpiwatch/internal/checks"
	"github.com/kination/kpiwatch/internal/config"
	"github.com/kination/kpiwatch/internal/graph"
)

var log = ctrl.Log.WithName("workflows")

// AlertsGraphID identifies the threshold check graph
const AlertsGraphID = "real_estate_alerts"

// Alert graph task ids
const (
	TaskBuyerBacklog      = "check_buyer_backlog"
	TaskSLABreaches       = "check_sla_breaches"
	TaskSecurityEvents    = "check_security_events"
	TaskPaymentFailures   = "check_payment_failures"
	TaskLicenseExpiries   = "check_license_expiries"
	TaskPipelineFreshness = "check_pipeline_freshness"
)

// AlertsGraph builds the alert graph: six independent checks sharing one retry policy.
func AlertsGraph(checker *checks.Checker, cfg config.AlertsConfig) (*graph.Graph, error) {
	return graph.NewDAG(AlertsGraphID, cfg.Cadence).
		WithRetry(cfg.Retry).
		AddParallel("",
			graph.Task{ID: TaskBuyerBacklog, Action: checker.BuyerBacklog},
			graph.Task{ID: TaskSLABreaches, Action: checker.SLABreaches},
			graph.Task{ID: TaskSecurityEvents, Action: checker.SecurityEvents},
			graph.Task{ID: TaskPaymentFailures, Action: checker.PaymentFailures},
			graph.Task{ID: TaskLicenseExpiries, Action: checker.LicenseExpiries},
			graph.Task{ID: TaskPipelineFreshness, Action: checker.PipelineFreshness},
		).
		Build()
}

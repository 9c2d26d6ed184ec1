package workflows

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/controller"
	"github.com/kination/kpiwatch/internal/dispatcher"
)

// AlertWorkflowFailure is the alert type emitted when a run fails
const AlertWorkflowFailure = "workflow_failure"

// FailureAlertCallback returns a failure callback that logs the failed run and
// sends a HIGH workflow_failure alert through d.
func FailureAlertCallback(d dispatcher.Dispatcher, clk clock.Clock) controller.FailureCallback {
	if clk == nil {
		clk = clock.New()
	}
	return func(ctx context.Context, fc controller.FailureContext) error {
		log.Error(fc.Err, "Workflow run failed", "graph", fc.GraphID, "run", fc.RunID, "failedTasks", fc.FailedTasks)

		msg := fmt.Sprintf("Workflow %s run %s failed", fc.GraphID, fc.RunID)
		if len(fc.FailedTasks) > 0 {
			msg += fmt.Sprintf(" at tasks [%s]", strings.Join(fc.FailedTasks, ", "))
		}
		if fc.Err != nil {
			msg += ": " + fc.Err.Error()
		}
		return d.Dispatch(ctx, workflowv1.NewAlert(AlertWorkflowFailure, workflowv1.SeverityHigh, msg, clk.Now()))
	}
}

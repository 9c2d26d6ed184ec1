package dispatcher

import (
	"context"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// LogChannel writes alerts to the structured log.
type LogChannel struct{}

// NewLogChannel creates a log channel
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

func (c *LogChannel) Name() string {
	return "log"
}

func (c *LogChannel) Dispatch(ctx context.Context, alert workflowv1.Alert) error {
	log.Info("Alert sent",
		"alertType", alert.AlertType,
		"severity", alert.Severity,
		"message", alert.Message,
		"timestamp", alert.Timestamp,
		"source", alert.Source,
	)
	return nil
}

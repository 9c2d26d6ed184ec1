package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookChannel posts alerts as JSON to an HTTP endpoint (Slack relay, PagerDuty bridge, ...).
type WebhookChannel struct {
	url    string
	client *resty.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(cfg WebhookConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeaders(cfg.Headers)
	return &WebhookChannel{url: cfg.URL, client: client}
}

func (c *WebhookChannel) Name() string {
	return "webhook"
}

func (c *WebhookChannel) Dispatch(ctx context.Context, alert workflowv1.Alert) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(alert).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("posting alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %s: %s", resp.Status(), resp.String())
	}
	return nil
}

// Package dispatcher delivers alerts to notification channels.
// Delivery is best effort: failures are reported as DispatchError and never
// fail the check that raised the alert.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// Dispatcher delivers one alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert workflowv1.Alert) error
}

// Channel is a named alert destination (e.g., "webhook", "email")
type Channel interface {
	Dispatcher

	// Name returns the channel identifier used for registration and metrics
	Name() string
}

// DispatchError reports channels that failed to deliver an alert.
type DispatchError struct {
	AlertType string
	Channels  []string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatching %s alert via %v: %v", e.AlertType, e.Channels, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ChannelsConfig selects and configures alert channels
type ChannelsConfig struct {
	Log     bool           `yaml:"log"`
	Webhook *WebhookConfig `yaml:"webhook,omitempty"`
	Email   *EmailConfig   `yaml:"email,omitempty"`
}

// WebhookConfig configures the JSON webhook channel
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout"`
}

// EmailConfig configures the SMTP channel
type EmailConfig struct {
	SMTPServer string   `yaml:"smtpServer"`
	From       string   `yaml:"from"`
	To         []string `yaml:"to"`
	Username   string   `yaml:"username,omitempty"`
	Password   string   `yaml:"password,omitempty"`
}

// DefaultChannelsConfig enables only the log channel
func DefaultChannelsConfig() ChannelsConfig {
	return ChannelsConfig{Log: true}
}

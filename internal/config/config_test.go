package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kpiwatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Thresholds.BuyerBacklog != 50 || cfg.Thresholds.SLABreachRate != 10 {
		t.Errorf("unexpected default thresholds: %+v", cfg.Thresholds)
	}
	if cfg.Alerts.Retry.MaxAttempts != 2 || cfg.Alerts.Retry.Delay != 2*time.Minute {
		t.Errorf("unexpected alerts retry: %+v", cfg.Alerts.Retry)
	}
	if cfg.Pipeline.Retry.MaxAttempts != 3 || cfg.Pipeline.Retry.Delay != 5*time.Minute {
		t.Errorf("unexpected pipeline retry: %+v", cfg.Pipeline.Retry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to be valid: %v", err)
	}
}

func TestLoad_OverridesAndKeepsDefaults(t *testing.T) {
	t.Setenv("KPIWATCH_TEST_DSN", "postgres://analytics@db:5432/crm")

	path := writeConfig(t, `
database:
  dsn: ${KPIWATCH_TEST_DSN}
  maxOpenConns: 4
thresholds:
  buyerBacklog: 80
  pipelineStaleness: 90m
alerts:
  cadence: "@every 5m"
pipeline:
  backend: pod
  retry:
    maxAttempts: 4
    delay: 30s
    backoff: linear
channels:
  log: true
  webhook:
    url: https://hooks.example.com/kpi
workers: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.DSN != "postgres://analytics@db:5432/crm" {
		t.Errorf("expected env expansion, got %q", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 4 {
		t.Errorf("expected maxOpenConns 4, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Thresholds.BuyerBacklog != 80 || cfg.Thresholds.PipelineStaleness != 90*time.Minute {
		t.Errorf("unexpected thresholds: %+v", cfg.Thresholds)
	}
	// Unset thresholds keep their defaults
	if cfg.Thresholds.RLSDenials != 20 {
		t.Errorf("expected default rls threshold, got %d", cfg.Thresholds.RLSDenials)
	}
	if cfg.Alerts.Cadence != "@every 5m" || cfg.Alerts.Retry.MaxAttempts != 2 {
		t.Errorf("unexpected alerts config: %+v", cfg.Alerts)
	}
	want := workflowv1.RetryPolicy{MaxAttempts: 4, Delay: 30 * time.Second, Backoff: workflowv1.BackoffLinear}
	if cfg.Pipeline.Retry != want {
		t.Errorf("expected %+v, got %+v", want, cfg.Pipeline.Retry)
	}
	if cfg.Pipeline.Backend != workflowv1.BackendPod {
		t.Errorf("expected pod backend, got %s", cfg.Pipeline.Backend)
	}
	if cfg.Channels.Webhook == nil || cfg.Channels.Webhook.URL != "https://hooks.example.com/kpi" {
		t.Errorf("unexpected channels: %+v", cfg.Channels)
	}
	if cfg.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Workers)
	}
}

func TestLoad_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	cfg, err := Load(writeConfig(t, "alerts:\n  retry:\n    maxAttempts: 0\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Alerts.Retry.MaxAttempts != 0 {
		t.Errorf("expected maxAttempts 0, got %d", cfg.Alerts.Retry.MaxAttempts)
	}
	if got := cfg.Alerts.Retry.Attempts(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid yaml", "workers: [", "yaml parse error"},
		{"zero workers", "workers: 0", "workers must be at least 1"},
		{"unknown backend", "pipeline:\n  backend: lambda", "unknown pipeline backend"},
		{"unknown backoff", "alerts:\n  retry:\n    maxAttempts: 2\n    backoff: exponential", "unknown alerts backoff"},
		{"negative retry", "pipeline:\n  retry:\n    maxAttempts: -1", "maxAttempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

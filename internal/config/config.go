// Package config loads the kpiwatch YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/checks"
	"github.com/kination/kpiwatch/internal/datasource"
	"github.com/kination/kpiwatch/internal/dispatcher"
	"github.com/kination/kpiwatch/internal/quality"
	"github.com/kination/kpiwatch/internal/store"
)

// Config is the root of the configuration file.
type Config struct {
	Database   datasource.Config         `yaml:"database"`
	Thresholds checks.Thresholds         `yaml:"thresholds"`
	Quality    quality.GateConfig        `yaml:"quality"`
	Alerts     AlertsConfig              `yaml:"alerts"`
	Pipeline   PipelineConfig            `yaml:"pipeline"`
	Workers    int                       `yaml:"workers"`
	Kubernetes KubernetesConfig          `yaml:"kubernetes"`
	Channels   dispatcher.ChannelsConfig `yaml:"channels"`
	HTTP       HTTPConfig                `yaml:"http"`
	Store      store.StoreConfig         `yaml:"store"`
}

// AlertsConfig configures the threshold check graph
type AlertsConfig struct {
	Cadence string                 `yaml:"cadence"`
	Retry   workflowv1.RetryPolicy `yaml:"retry"`
}

// PipelineConfig configures the transformation pipeline graph
type PipelineConfig struct {
	Cadence     string                  `yaml:"cadence"`
	Retry       workflowv1.RetryPolicy  `yaml:"retry"`
	Backend     workflowv1.StageBackend `yaml:"backend"`
	DbtDir      string                  `yaml:"dbtDir"`
	ProfilesDir string                  `yaml:"profilesDir"`
	Image       string                  `yaml:"image"`
	Env         map[string]string       `yaml:"env"`
}

// KubernetesConfig configures the pod stage backend
type KubernetesConfig struct {
	Namespace    string        `yaml:"namespace"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

// HTTPConfig configures the trigger API
type HTTPConfig struct {
	Address string `yaml:"address"`
}

// Default returns the configuration used for omitted settings
func Default() Config {
	return Config{
		Database:   datasource.DefaultConfig(),
		Thresholds: checks.DefaultThresholds(),
		Quality:    quality.DefaultGateConfig(),
		Alerts: AlertsConfig{
			Cadence: "*/15 * * * *",
			Retry:   workflowv1.RetryPolicy{MaxAttempts: 2, Delay: 2 * time.Minute, Backoff: workflowv1.BackoffConstant},
		},
		Pipeline: PipelineConfig{
			Cadence:     "0 2 * * *",
			Retry:       workflowv1.RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Minute, Backoff: workflowv1.BackoffConstant},
			Backend:     workflowv1.BackendLocal,
			DbtDir:      "/opt/kpiwatch/dbt",
			ProfilesDir: "/opt/kpiwatch/dbt",
		},
		Workers: 8,
		Kubernetes: KubernetesConfig{
			Namespace:    "default",
			PollInterval: 2 * time.Second,
		},
		Channels: dispatcher.DefaultChannelsConfig(),
		HTTP:     HTTPConfig{Address: ":8080"},
		Store:    store.DefaultStoreConfig(),
	}
}

// Load reads the configuration file at path on top of the defaults.
// Environment variables in the file (e.g. ${PGPASSWORD}) are expanded.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config error: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("yaml parse error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	// 0 means a single attempt without retries
	if c.Alerts.Retry.MaxAttempts < 0 || c.Pipeline.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.maxAttempts must not be negative")
	}
	switch c.Pipeline.Backend {
	case workflowv1.BackendLocal, workflowv1.BackendPod:
	default:
		return fmt.Errorf("unknown pipeline backend %q", c.Pipeline.Backend)
	}
	switch c.Alerts.Retry.Backoff {
	case "", workflowv1.BackoffConstant, workflowv1.BackoffLinear:
	default:
		return fmt.Errorf("unknown alerts backoff %q", c.Alerts.Retry.Backoff)
	}
	switch c.Pipeline.Retry.Backoff {
	case "", workflowv1.BackoffConstant, workflowv1.BackoffLinear:
	default:
		return fmt.Errorf("unknown pipeline backoff %q", c.Pipeline.Retry.Backoff)
	}
	if c.Thresholds.SLABreachRate < 0 || c.Thresholds.PaymentFailureRate < 0 {
		return fmt.Errorf("rate thresholds must not be negative")
	}
	if c.Quality.MaxAge <= 0 {
		return fmt.Errorf("quality.maxAge must be positive")
	}
	return nil
}

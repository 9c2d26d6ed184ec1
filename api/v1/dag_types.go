package v1

import (
	"time"
)

// TaskState represents the current state of an individual task within a run.
type TaskState string

const (
	StatePending        TaskState = "PENDING"
	StateQueued         TaskState = "QUEUED"
	StateRunning        TaskState = "RUNNING"
	StateSuccess        TaskState = "SUCCESS"
	StateRetrying       TaskState = "RETRYING"
	StateFailed         TaskState = "FAILED"
	StateUpstreamFailed TaskState = "UPSTREAM_FAILED"
	StateSkipped        TaskState = "SKIPPED"
)

// IsTerminal reports whether no further transition can happen from s.
func (s TaskState) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailed, StateUpstreamFailed, StateSkipped:
		return true
	}
	return false
}

// IsActive reports whether a worker currently owns the task.
func (s TaskState) IsActive() bool {
	return s == StateQueued || s == StateRunning || s == StateRetrying
}

// IsFailure reports whether s blocks dependents.
func (s TaskState) IsFailure() bool {
	return s == StateFailed || s == StateUpstreamFailed
}

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// BackoffKind selects how the retry delay grows between attempts.
type BackoffKind string

const (
	BackoffConstant BackoffKind = "constant"
	BackoffLinear   BackoffKind = "linear"
)

// RetryPolicy describes how often a failing task is attempted.
// MaxAttempts is the total number of invocations, including the first one.
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts" yaml:"maxAttempts"`
	Delay       time.Duration `json:"delay" yaml:"delay"`
	Backoff     BackoffKind   `json:"backoff,omitempty" yaml:"backoff,omitempty"`
}

// Attempts returns the effective attempt budget. A task always runs at least once.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// TriggerKind records what started a run.
type TriggerKind string

const (
	TriggerCadence TriggerKind = "cadence"
	TriggerManual  TriggerKind = "manual"
)

// Severity of an alert.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// DefaultAlertSource is stamped on alerts that do not carry their own source.
const DefaultAlertSource = "real_estate_analytics"

// Alert is a structured breach notification. It is passed by value and never mutated after creation.
type Alert struct {
	AlertType string    `json:"alert_type"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewAlert builds an Alert stamped with the given time and the default source.
func NewAlert(alertType string, severity Severity, message string, now time.Time) Alert {
	return Alert{
		AlertType: alertType,
		Message:   message,
		Severity:  severity,
		Timestamp: now,
		Source:    DefaultAlertSource,
	}
}

// StageBackend selects the executor that runs a transformation stage.
type StageBackend string

const (
	BackendLocal StageBackend = "local"
	BackendPod   StageBackend = "pod"
)

// StageSpec defines an external transformation stage process.
// Command is a shell-style command line. Dir applies to local stages, Image to pod stages.
type StageSpec struct {
	Name    string            `json:"name" yaml:"name"`
	Backend StageBackend      `json:"backend" yaml:"backend"`
	Command string            `json:"command" yaml:"command"`
	Dir     string            `json:"dir,omitempty" yaml:"dir"`
	Image   string            `json:"image,omitempty" yaml:"image"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
}

// TaskRecord is the audit view of a single task within a finished run.
type TaskRecord struct {
	TaskID     string     `json:"taskId"`
	State      TaskState  `json:"state"`
	Attempts   int        `json:"attempts"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunRecord is the audit view of a run.
type RunRecord struct {
	RunID       string       `json:"runId"`
	GraphID     string       `json:"graphId"`
	Trigger     TriggerKind  `json:"trigger"`
	Status      RunStatus    `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
	FailedTasks []string     `json:"failedTasks,omitempty"`
	Tasks       []TaskRecord `json:"tasks"`
}

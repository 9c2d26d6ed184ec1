package checks

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/benbjohnson/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/datasource"
	"github.com/kination/kpiwatch/internal/dispatcher"
	"github.com/kination/kpiwatch/internal/metrics"
)

var log = ctrl.Log.WithName("checks")

// Alert types emitted by the checks
const (
	AlertBuyerBacklog      = "buyer_backlog"
	AlertSLABreach         = "sla_breach"
	AlertRLSDenials        = "rls_denials"
	AlertImpersonations    = "impersonations"
	AlertPaymentFailures   = "payment_failures"
	AlertLicenseExpiry     = "license_expiry"
	AlertPipelineFreshness = "pipeline_freshness"
)

// Checker runs threshold checks against a data source.
// Its methods have the signature of a graph task action.
type Checker struct {
	ds         datasource.DataSource
	dispatcher dispatcher.Dispatcher
	thresholds Thresholds
	clock      clock.Clock
}

// NewChecker creates a checker. A nil clock uses the wall clock.
func NewChecker(ds datasource.DataSource, d dispatcher.Dispatcher, thresholds Thresholds, clk clock.Clock) *Checker {
	if clk == nil {
		clk = clock.New()
	}
	return &Checker{
		ds:         ds,
		dispatcher: d,
		thresholds: thresholds,
		clock:      clk,
	}
}

// Thresholds returns the configured bounds
func (c *Checker) Thresholds() Thresholds {
	return c.thresholds
}

// BuyerBacklog alerts when too many buyer requests stayed open in the last 2 hours.
func (c *Checker) BuyerBacklog(ctx context.Context) error {
	var open int64
	if err := c.ds.QueryRow(ctx, buyerBacklogQuery, &open); err != nil {
		return err
	}

	threshold := c.thresholds.BuyerBacklog
	if open > threshold {
		c.emit(ctx, AlertBuyerBacklog, workflowv1.SeverityHigh,
			fmt.Sprintf("Buyer request backlog is high: %d open requests (threshold: %d)", open, threshold))
		return nil
	}
	log.Info("Buyer backlog check passed", "openRequests", open, "threshold", threshold)
	return nil
}

// SLABreaches alerts when too many recently claimed contacts are still waiting after 30 minutes.
func (c *Checker) SLABreaches(ctx context.Context) error {
	var total, breaches int64
	if err := c.ds.QueryRow(ctx, slaBreachQuery, &total, &breaches); err != nil {
		return err
	}

	rate, ok := percentage(breaches, total)
	if !ok {
		log.Info("No active claims in the last hour, skipping SLA check")
		return nil
	}

	threshold := c.thresholds.SLABreachRate
	if rate > threshold {
		c.emit(ctx, AlertSLABreach, workflowv1.SeverityHigh,
			fmt.Sprintf("High SLA breach rate: %.1f%% (%d/%d claims, threshold: %.1f%%)", rate, breaches, total, threshold))
		return nil
	}
	log.Info("SLA check passed", "breachRate", rate, "threshold", threshold)
	return nil
}

// RLSDenials alerts on a spike of row level security denials in the last hour.
func (c *Checker) RLSDenials(ctx context.Context) error {
	var denials int64
	if err := c.ds.QueryRow(ctx, rlsDenialsQuery, &denials); err != nil {
		return err
	}

	threshold := c.thresholds.RLSDenials
	if denials > threshold {
		c.emit(ctx, AlertRLSDenials, workflowv1.SeverityMedium,
			fmt.Sprintf("High RLS denial rate: %d denials in last hour (threshold: %d)", denials, threshold))
	}
	return nil
}

// Impersonations alerts on unusual impersonation activity in the last 24 hours.
func (c *Checker) Impersonations(ctx context.Context) error {
	var events int64
	if err := c.ds.QueryRow(ctx, impersonationsQuery, &events); err != nil {
		return err
	}

	threshold := c.thresholds.Impersonations
	if events > threshold {
		c.emit(ctx, AlertImpersonations, workflowv1.SeverityHigh,
			fmt.Sprintf("High impersonation activity: %d events in last 24 hours (threshold: %d)", events, threshold))
	}
	return nil
}

// SecurityEvents runs the RLS denial and impersonation checks as one task.
// The impersonation check is skipped when the RLS query fails.
func (c *Checker) SecurityEvents(ctx context.Context) error {
	if err := c.RLSDenials(ctx); err != nil {
		return err
	}
	return c.Impersonations(ctx)
}

// PaymentFailures alerts when the share of failed payments in the last hour is too high.
func (c *Checker) PaymentFailures(ctx context.Context) error {
	var total, failed int64
	if err := c.ds.QueryRow(ctx, paymentFailuresQuery, &total, &failed); err != nil {
		return err
	}

	rate, ok := percentage(failed, total)
	if !ok {
		log.Info("No payments in the last hour, skipping payment failure check")
		return nil
	}

	threshold := c.thresholds.PaymentFailureRate
	if rate > threshold {
		c.emit(ctx, AlertPaymentFailures, workflowv1.SeverityHigh,
			fmt.Sprintf("High payment failure rate: %.1f%% (%d/%d payments, threshold: %.1f%%)", rate, failed, total, threshold))
	}
	return nil
}

// LicenseExpiries notifies about active agent licenses expiring within 30 days.
func (c *Checker) LicenseExpiries(ctx context.Context) error {
	var expiring int64
	if err := c.ds.QueryRow(ctx, licenseExpiryQuery, &expiring); err != nil {
		return err
	}

	threshold := c.thresholds.ExpiringLicenses
	if expiring > threshold {
		c.emit(ctx, AlertLicenseExpiry, workflowv1.SeverityLow,
			fmt.Sprintf("%d agent licenses expiring in next 30 days (threshold: %d)", expiring, threshold))
	}
	return nil
}

// PipelineFreshness alerts when no claim was recorded recently, which usually
// means ingestion is stuck. An empty claims table is not reported.
func (c *Checker) PipelineFreshness(ctx context.Context) error {
	var latest sql.NullTime
	if err := c.ds.QueryRow(ctx, pipelineFreshnessQuery, &latest); err != nil {
		return err
	}
	if !latest.Valid {
		log.Info("No claims recorded yet, skipping pipeline freshness check")
		return nil
	}

	age := c.clock.Now().Sub(latest.Time)
	threshold := c.thresholds.PipelineStaleness
	if age > threshold {
		c.emit(ctx, AlertPipelineFreshness, workflowv1.SeverityHigh,
			fmt.Sprintf("No new claims in %.1f hours - pipeline may be stuck (threshold: %.1f hours)", age.Hours(), threshold.Hours()))
	}
	return nil
}

// emit dispatches one alert. Delivery failures are logged only.
func (c *Checker) emit(ctx context.Context, alertType string, severity workflowv1.Severity, message string) {
	alert := workflowv1.NewAlert(alertType, severity, message, c.clock.Now())
	metrics.AlertsTotal.WithLabelValues(alertType, string(severity)).Inc()
	log.Info("Threshold breached", "alertType", alertType, "severity", severity, "message", message)

	if c.dispatcher == nil {
		return
	}
	if err := c.dispatcher.Dispatch(ctx, alert); err != nil {
		log.Error(err, "Failed to dispatch alert", "alertType", alertType)
	}
}

// percentage returns part/total*100. ok is false when total is not positive.
func percentage(part, total int64) (float64, bool) {
	if total <= 0 {
		return 0, false
	}
	return float64(part) / float64(total) * 100, true
}

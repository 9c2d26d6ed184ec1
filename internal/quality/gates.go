// Package quality implements the data-quality gates that guard the
// transformation pipeline, and the freshness snapshot written after it.
package quality

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kination/kpiwatch/internal/datasource"
)

var log = ctrl.Log.WithName("quality")

// MonitoredTable is a table whose newest row is tracked by a timestamp column.
type MonitoredTable struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
}

// NotNullColumn is a column that must never hold NULL.
type NotNullColumn struct {
	Table  string `yaml:"table"`
	Column string `yaml:"column"`
}

// GateConfig holds the gate inputs
type GateConfig struct {
	MaxAge  time.Duration    `yaml:"maxAge"`
	Fresh   []MonitoredTable `yaml:"fresh"`
	NotNull []NotNullColumn  `yaml:"notNull"`
}

// DefaultGateConfig returns the monitored tables and columns of the analytics database
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxAge: 24 * time.Hour,
		Fresh: []MonitoredTable{
			{Table: "users", Column: "created_at"},
			{Table: "claims", Column: "claimed_at"},
			{Table: "contact_logs", Column: "contacted_at"},
		},
		NotNull: []NotNullColumn{
			{Table: "users", Column: "id"},
			{Table: "organizations", Column: "id"},
			{Table: "claims", Column: "claimed_at"},
			{Table: "leads", Column: "created_at"},
		},
	}
}

// Gates runs the pipeline preconditions.
type Gates struct {
	ds     datasource.DataSource
	config GateConfig
	clock  clock.Clock
}

// NewGates creates the gates. A nil clock uses the wall clock.
func NewGates(ds datasource.DataSource, config GateConfig, clk clock.Clock) *Gates {
	if clk == nil {
		clk = clock.New()
	}
	return &Gates{ds: ds, config: config, clock: clk}
}

// CheckFreshness fails with StaleDataError when the newest row of any monitored
// table is older than MaxAge. Empty tables are not considered stale.
func (g *Gates) CheckFreshness(ctx context.Context) error {
	now := g.clock.Now()
	for _, m := range g.config.Fresh {
		var latest sql.NullTime
		if err := g.ds.QueryRow(ctx, latestQuery(m), &latest); err != nil {
			return err
		}
		if !latest.Valid {
			log.Info("Monitored table is empty", "table", m.Table)
			continue
		}
		if age := now.Sub(latest.Time); age > g.config.MaxAge {
			return &StaleDataError{Table: m.Table, Latest: latest.Time, Age: age}
		}
	}
	log.Info("Data freshness check passed", "tables", len(g.config.Fresh))
	return nil
}

// CheckNulls fails with NullConstraintViolation on the first column holding NULLs.
func (g *Gates) CheckNulls(ctx context.Context) error {
	for _, c := range g.config.NotNull {
		var count int64
		if err := g.ds.QueryRow(ctx, nullCountQuery(c), &count); err != nil {
			return err
		}
		if count > 0 {
			return &NullConstraintViolation{Table: c.Table, Column: c.Column, Count: count}
		}
	}
	log.Info("Data quality checks passed", "columns", len(g.config.NotNull))
	return nil
}

// RecordFreshness appends one snapshot row per monitored table to data_freshness_monitor.
func (g *Gates) RecordFreshness(ctx context.Context) error {
	if len(g.config.Fresh) == 0 {
		return nil
	}
	if err := g.ds.Exec(ctx, snapshotStatement(g.config.Fresh)); err != nil {
		return err
	}
	log.Info("Recorded freshness snapshot", "tables", len(g.config.Fresh))
	return nil
}

func latestQuery(m MonitoredTable) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM %s", m.Column, m.Table)
}

func nullCountQuery(c NotNullColumn) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", c.Table, c.Column)
}

func snapshotStatement(tables []MonitoredTable) string {
	stmt := "INSERT INTO data_freshness_monitor (table_name, last_updated, freshness_hours, check_timestamp)\n"
	for i, m := range tables {
		if i > 0 {
			stmt += "UNION ALL\n"
		}
		stmt += fmt.Sprintf("SELECT '%s', MAX(%s), EXTRACT(EPOCH FROM (NOW() - MAX(%s))) / 3600, NOW() FROM %s\n",
			m.Table, m.Column, m.Column, m.Table)
	}
	return stmt
}

package workflows

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/checks"
	"github.com/kination/kpiwatch/internal/config"
	"github.com/kination/kpiwatch/internal/controller"
	"github.com/kination/kpiwatch/internal/datasource"
	"github.com/kination/kpiwatch/internal/graph"
	"github.com/kination/kpiwatch/internal/runner"
)

var _ = Describe("Alerts graph", func() {
	var (
		ds         *MockDataSource
		dispatcher *MockDispatcher
		g          *graph.Graph
	)

	BeforeEach(func() {
		clk := clock.NewMock()
		clk.Set(now)

		ds = &MockDataSource{
			counts: map[string]int64{},
			latest: map[string]time.Time{"claims": now.Add(-30 * time.Minute)},
		}
		dispatcher = &MockDispatcher{}

		var err error
		checker := checks.NewChecker(ds, dispatcher, checks.DefaultThresholds(), clk)
		g, err = AlertsGraph(checker, testConfig().Alerts)
		Expect(err).NotTo(HaveOccurred())
	})

	run := func() *runner.Run {
		r := runner.NewRun("alerts-test", g, workflowv1.TriggerManual, now)
		Expect(runner.NewDefaultRunner().Run(context.Background(), g, r)).To(Succeed())
		return r
	}

	It("holds six independent checks", func() {
		Expect(g.TaskIDs()).To(ConsistOf(
			TaskBuyerBacklog, TaskSLABreaches, TaskSecurityEvents,
			TaskPaymentFailures, TaskLicenseExpiries, TaskPipelineFreshness,
		))
		for _, id := range g.TaskIDs() {
			task, _ := g.Task(id)
			Expect(task.Upstream).To(BeEmpty())
			Expect(task.Retry.MaxAttempts).To(Equal(2))
		}
	})

	It("succeeds without alerts when every metric is within bounds", func() {
		r := run()

		Expect(r.Status()).To(Equal(workflowv1.RunSuccess))
		Expect(dispatcher.Alerts()).To(BeEmpty())
	})

	It("succeeds and alerts once when the buyer backlog is breached", func() {
		ds.counts["buyer_requests"] = 75

		r := run()

		Expect(r.Status()).To(Equal(workflowv1.RunSuccess))
		alerts := dispatcher.Alerts()
		Expect(alerts).To(HaveLen(1))
		Expect(alerts[0].AlertType).To(Equal(checks.AlertBuyerBacklog))
		Expect(alerts[0].Severity).To(Equal(workflowv1.SeverityHigh))
		Expect(alerts[0].Message).To(And(ContainSubstring("75"), ContainSubstring("50")))
	})

	It("retries checks that cannot reach the database and fails the run", func() {
		ds.err = &datasource.DataAccessError{Op: "query", Err: sql.ErrConnDone}

		r := run()

		Expect(r.Status()).To(Equal(workflowv1.RunFailed))
		Expect(r.FailedTasks()).To(HaveLen(6))
		for _, id := range g.TaskIDs() {
			Expect(r.Attempts(id)).To(Equal(2), id)
		}
		Expect(dispatcher.Alerts()).To(BeEmpty())
	})
})

var _ = Describe("Stages", func() {
	It("builds the dbt commands for the configured project", func() {
		cfg := config.Default().Pipeline
		cfg.DbtDir = "/srv/dbt"
		cfg.ProfilesDir = "/srv/dbt/profiles"

		stages := Stages(cfg)

		Expect(stages).To(HaveLen(6))
		Expect(stages[0].Command).To(Equal("dbt deps"))
		Expect(stages[2].Command).To(Equal("dbt run --models staging --profiles-dir /srv/dbt/profiles"))
		Expect(stages[5].Command).To(Equal("dbt docs generate --profiles-dir /srv/dbt/profiles"))
		for _, s := range stages {
			Expect(s.Dir).To(Equal("/srv/dbt"))
			Expect(s.Backend).To(Equal(workflowv1.BackendLocal))
		}
	})
})

var _ = Describe("FailureAlertCallback", func() {
	It("dispatches a HIGH workflow_failure alert", func() {
		clk := clock.NewMock()
		clk.Set(now)
		d := &MockDispatcher{}

		cb := FailureAlertCallback(d, clk)
		err := cb(context.Background(), controller.FailureContext{
			GraphID:     PipelineGraphID,
			RunID:       "run-1",
			FailedTasks: []string{TaskDbtTest},
			Err:         errors.New("exit status 1"),
		})

		Expect(err).NotTo(HaveOccurred())
		alerts := d.Alerts()
		Expect(alerts).To(HaveLen(1))
		Expect(alerts[0].AlertType).To(Equal(AlertWorkflowFailure))
		Expect(alerts[0].Timestamp).To(BeTemporally("==", now))
		Expect(alerts[0].Message).To(And(
			ContainSubstring(PipelineGraphID), ContainSubstring("run-1"),
			ContainSubstring(TaskDbtTest), ContainSubstring("exit status 1"),
		))
	})

	It("returns the dispatch error to the controller", func() {
		d := &MockDispatcher{err: errors.New("smtp unavailable")}

		err := FailureAlertCallback(d, nil)(context.Background(), controller.FailureContext{GraphID: AlertsGraphID})

		Expect(err).To(MatchError(ContainSubstring("smtp unavailable")))
	})
})

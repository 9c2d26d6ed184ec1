package workflows

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/config"
	"github.com/kination/kpiwatch/internal/controller"
	"github.com/kination/kpiwatch/internal/executor"
	"github.com/kination/kpiwatch/internal/quality"
	"github.com/kination/kpiwatch/internal/runner"
	"github.com/kination/kpiwatch/internal/store"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func taskStates(rec *workflowv1.RunRecord) map[string]workflowv1.TaskState {
	states := make(map[string]workflowv1.TaskState, len(rec.Tasks))
	for _, t := range rec.Tasks {
		states[t.TaskID] = t.State
	}
	return states
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Alerts.Retry = workflowv1.RetryPolicy{MaxAttempts: 2, Delay: 10 * time.Millisecond}
	cfg.Pipeline.Retry = workflowv1.RetryPolicy{MaxAttempts: 3, Delay: 10 * time.Millisecond}
	cfg.Pipeline.Cadence = ""
	cfg.Alerts.Cadence = ""
	return cfg
}

var _ = Describe("Pipeline graph", func() {
	var (
		ds         *MockDataSource
		stages     *MockStages
		dispatcher *MockDispatcher
		ctl        *controller.Controller

		mu       sync.Mutex
		failures []controller.FailureContext
	)

	BeforeEach(func() {
		clk := clock.NewMock()
		clk.Set(now)

		ds = &MockDataSource{
			counts: map[string]int64{},
			latest: map[string]time.Time{
				"users":        now.Add(-1 * time.Hour),
				"claims":       now.Add(-10 * time.Minute),
				"contact_logs": now.Add(-3 * time.Hour),
			},
		}
		stages = &MockStages{fail: map[string]error{}}
		dispatcher = &MockDispatcher{}
		failures = nil

		st := store.NewMemoryStore(store.DefaultStoreConfig())
		ctl = controller.New(runner.NewDefaultRunner(), st, st, controller.DefaultConfig())
		ctl.OnFailure(func(ctx context.Context, fc controller.FailureContext) error {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, fc)
			return nil
		})

		deps := Dependencies{DataSource: ds, Dispatcher: dispatcher, Stages: stages, Clock: clk}
		Expect(Setup(ctl, testConfig(), deps)).To(Succeed())
		Expect(ctl.Start(context.Background())).To(Succeed())

		DeferCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(ctl.Stop(ctx)).To(Succeed())
		})
	})

	trigger := func() *workflowv1.RunRecord {
		run, err := ctl.Trigger(context.Background(), PipelineGraphID)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rec, err := ctl.Wait(ctx, run.ID)
		Expect(err).NotTo(HaveOccurred())
		return rec
	}

	It("runs every stage in order when the gates pass", func() {
		rec := trigger()

		Expect(rec.Status).To(Equal(workflowv1.RunSuccess))
		Expect(stages.Names()).To(Equal([]string{
			TaskDbtDeps, TaskDbtSeed, TaskDbtRunStaging, TaskDbtRunMarts, TaskDbtTest, TaskDbtDocs,
		}))
		Expect(ds.Execs()).To(HaveLen(1))
		Expect(ds.Execs()[0]).To(ContainSubstring("data_freshness_monitor"))
		Expect(failures).To(BeEmpty())
	})

	It("fails the freshness gate when user data is 30 hours old", func() {
		ds.latest["users"] = now.Add(-30 * time.Hour)

		rec := trigger()

		Expect(rec.Status).To(Equal(workflowv1.RunFailed))
		Expect(rec.FailedTasks).To(Equal([]string{TaskDataFreshness}))

		states := taskStates(rec)
		Expect(states[TaskDataFreshness]).To(Equal(workflowv1.StateFailed))
		for _, id := range []string{
			TaskDataQuality, TaskDbtDeps, TaskDbtSeed, TaskDbtRunStaging,
			TaskDbtRunMarts, TaskDbtTest, TaskDbtDocs, TaskMonitorFreshness,
		} {
			Expect(states[id]).To(Equal(workflowv1.StateUpstreamFailed), id)
		}
		for _, t := range rec.Tasks {
			if t.TaskID == TaskDataFreshness {
				Expect(t.Attempts).To(Equal(1))
			}
		}
		Expect(stages.Names()).To(BeEmpty())
		Expect(ds.Execs()).To(BeEmpty())

		mu.Lock()
		defer mu.Unlock()
		Expect(failures).To(HaveLen(1))
		Expect(failures[0].GraphID).To(Equal(PipelineGraphID))
		Expect(failures[0].FailedTasks).To(Equal([]string{TaskDataFreshness}))

		var stale *quality.StaleDataError
		Expect(errors.As(failures[0].Err, &stale)).To(BeTrue())
		Expect(stale.Table).To(Equal("users"))

		alerts := dispatcher.Alerts()
		Expect(alerts).To(HaveLen(1))
		Expect(alerts[0].AlertType).To(Equal(AlertWorkflowFailure))
		Expect(alerts[0].Severity).To(Equal(workflowv1.SeverityHigh))
		Expect(alerts[0].Message).To(ContainSubstring(TaskDataFreshness))
	})

	It("stops before the stages when a monitored column holds NULLs", func() {
		ds.counts["leads"] = 3

		rec := trigger()

		Expect(rec.Status).To(Equal(workflowv1.RunFailed))
		Expect(rec.FailedTasks).To(Equal([]string{TaskDataQuality}))
		Expect(taskStates(rec)[TaskDataFreshness]).To(Equal(workflowv1.StateSuccess))
		Expect(stages.Names()).To(BeEmpty())
	})

	It("retries a failing stage before failing the run", func() {
		stages.fail[TaskDbtTest] = &executor.StageFailedError{Stage: TaskDbtTest, ExitCode: 1, Output: "1 of 12 tests failed"}

		rec := trigger()

		Expect(rec.Status).To(Equal(workflowv1.RunFailed))
		Expect(rec.FailedTasks).To(Equal([]string{TaskDbtTest}))

		states := taskStates(rec)
		Expect(states[TaskDbtDocs]).To(Equal(workflowv1.StateUpstreamFailed))
		Expect(states[TaskMonitorFreshness]).To(Equal(workflowv1.StateSuccess))

		attempts := 0
		for _, name := range stages.Names() {
			if name == TaskDbtTest {
				attempts++
			}
		}
		Expect(attempts).To(Equal(3))
	})

	It("rejects a second trigger while the pipeline is running", func() {
		// dbt_deps blocks on the held lock until the second trigger is rejected.
		stages.mu.Lock()
		run, err := ctl.Trigger(context.Background(), PipelineGraphID)
		Expect(err).NotTo(HaveOccurred())

		_, active := ctl.ActiveRun(PipelineGraphID)
		Expect(active).To(BeTrue())

		_, err = ctl.Trigger(context.Background(), PipelineGraphID)
		Expect(errors.Is(err, controller.ErrRunActive)).To(BeTrue())
		stages.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rec, err := ctl.Wait(ctx, run.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Status).To(Equal(workflowv1.RunSuccess))
	})
})

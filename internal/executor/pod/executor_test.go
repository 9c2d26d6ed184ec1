package pod

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
	"github.com/kination/kpiwatch/internal/executor"
)

func newTestScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	return scheme
}

func testConfig(cl client.Client) executor.ExecutorConfig {
	cfg := executor.DefaultExecutorConfig()
	cfg.Client = cl
	cfg.Namespace = "analytics"
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

// phaseOnGet reports every fetched pod in the given terminal state
func phaseOnGet(phase corev1.PodPhase, exitCode int32, message string) interceptor.Funcs {
	return interceptor.Funcs{
		Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
			if err := c.Get(ctx, key, obj, opts...); err != nil {
				return err
			}
			if pod, ok := obj.(*corev1.Pod); ok {
				pod.Status.Phase = phase
				pod.Status.ContainerStatuses = []corev1.ContainerStatus{{
					Name: containerName,
					State: corev1.ContainerState{
						Terminated: &corev1.ContainerStateTerminated{ExitCode: exitCode, Message: message},
					},
				}}
			}
			return nil
		},
	}
}

func TestNew(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(newTestScheme()).Build()

	exec := New(testConfig(cl))
	if exec == nil {
		t.Fatal("New returned nil")
	}
	if exec.Backend() != workflowv1.BackendPod {
		t.Errorf("expected pod backend, got %s", exec.Backend())
	}
}

func TestExecutor_BuildPod(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(newTestScheme()).Build()
	exec := New(testConfig(cl))

	stage := workflowv1.StageSpec{
		Name:    "dbt_run_staging",
		Command: "dbt run --models staging --profiles-dir /opt/dbt",
		Dir:     "/opt/dbt",
		Env:     map[string]string{"DBT_TARGET": "prod"},
	}

	pod, err := exec.buildPod(stage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(pod.Name, "kpiwatch-dbt-run-staging-") {
		t.Errorf("unexpected pod name %s", pod.Name)
	}
	if pod.Namespace != "analytics" {
		t.Errorf("expected namespace analytics, got %s", pod.Namespace)
	}

	c := pod.Spec.Containers[0]
	if c.Image != executor.DefaultExecutorConfig().Image {
		t.Errorf("expected default image, got %s", c.Image)
	}
	if len(c.Command) != 6 || c.Command[0] != "dbt" || c.Command[3] != "staging" {
		t.Errorf("unexpected command %v", c.Command)
	}
	if c.WorkingDir != "/opt/dbt" {
		t.Errorf("expected working dir /opt/dbt, got %s", c.WorkingDir)
	}
	if len(c.Env) != 1 || c.Env[0].Name != "DBT_TARGET" || c.Env[0].Value != "prod" {
		t.Errorf("expected DBT_TARGET env var, got %v", c.Env)
	}
	if pod.Spec.RestartPolicy != corev1.RestartPolicyNever {
		t.Errorf("expected restart policy Never, got %s", pod.Spec.RestartPolicy)
	}
}

func TestExecutor_BuildPod_CustomImage(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(newTestScheme()).Build()
	exec := New(testConfig(cl))

	pod, err := exec.buildPod(workflowv1.StageSpec{Name: "dbt_docs", Command: "dbt docs generate", Image: "registry.local/dbt:1.8"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pod.Spec.Containers[0].Image != "registry.local/dbt:1.8" {
		t.Errorf("expected custom image, got %s", pod.Spec.Containers[0].Image)
	}
}

func TestExecutor_Execute(t *testing.T) {
	tests := []struct {
		name         string
		phase        corev1.PodPhase
		exitCode     int32
		message      string
		wantFailed   bool
		wantExitCode int
	}{
		{
			name:         "Succeeded",
			phase:        corev1.PodSucceeded,
			message:      "Completed successfully",
			wantExitCode: 0,
		},
		{
			name:         "Failed",
			phase:        corev1.PodFailed,
			exitCode:     2,
			message:      "Compilation Error in model stg_claims",
			wantFailed:   true,
			wantExitCode: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := fake.NewClientBuilder().
				WithScheme(newTestScheme()).
				WithInterceptorFuncs(phaseOnGet(tt.phase, tt.exitCode, tt.message)).
				Build()
			exec := New(testConfig(cl))

			result, err := exec.Execute(context.Background(), workflowv1.StageSpec{Name: "dbt_run_marts", Command: "dbt run --models marts"})

			var sfe *executor.StageFailedError
			if tt.wantFailed {
				if !errors.As(err, &sfe) {
					t.Fatalf("expected StageFailedError, got %v", err)
				}
				if sfe.ExitCode != tt.wantExitCode || !strings.Contains(sfe.Output, "stg_claims") {
					t.Errorf("unexpected failure details: %+v", sfe)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.ExitCode != tt.wantExitCode {
				t.Errorf("expected exit code %d, got %d", tt.wantExitCode, result.ExitCode)
			}

			// The pod is cleaned up after a terminal phase
			pods := &corev1.PodList{}
			if err := cl.List(context.Background(), pods, client.InNamespace("analytics")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(pods.Items) != 0 {
				t.Errorf("expected stage pod to be deleted, found %d", len(pods.Items))
			}
		})
	}
}

func TestExecutor_Execute_Cancelled(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(newTestScheme()).Build()
	exec := New(testConfig(cl))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	// The fake pod never leaves Pending
	_, err := exec.Execute(ctx, workflowv1.StageSpec{Name: "dbt_seed", Command: "dbt seed"})
	if err == nil {
		t.Fatal("expected error when the context ends before the pod finishes")
	}
}

func TestExecutor_InvalidCommand(t *testing.T) {
	cl := fake.NewClientBuilder().WithScheme(newTestScheme()).Build()
	exec := New(testConfig(cl))

	if _, err := exec.Execute(context.Background(), workflowv1.StageSpec{Name: "broken", Command: `dbt "run`}); err == nil {
		t.Error("expected error for unparsable command")
	}
}

func TestTerminationStatus_FallsBackToPodMessage(t *testing.T) {
	pod := &corev1.Pod{Status: corev1.PodStatus{Message: "Pod was evicted"}}
	code, msg := terminationStatus(pod)
	if code != 0 || msg != "Pod was evicted" {
		t.Errorf("expected pod message fallback, got %d %q", code, msg)
	}
}

func TestDNSName(t *testing.T) {
	if got := dnsName("DBT_Run_Marts"); got != "dbt-run-marts" {
		t.Errorf("expected dbt-run-marts, got %s", got)
	}
}

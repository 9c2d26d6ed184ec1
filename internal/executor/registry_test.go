package executor

import (
	"context"
	"testing"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// MockExecutor is a mock implementation for testing
type MockExecutor struct {
	backend workflowv1.StageBackend
	stages  []string
}

func (m *MockExecutor) Backend() workflowv1.StageBackend {
	return m.backend
}

func (m *MockExecutor) Execute(ctx context.Context, stage workflowv1.StageSpec) (*Result, error) {
	m.stages = append(m.stages, stage.Name)
	return &Result{}, nil
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	if registry == nil {
		t.Fatal("NewRegistry returned nil")
	}
	if registry.executors == nil {
		t.Fatal("executors map is nil")
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&MockExecutor{backend: workflowv1.BackendLocal})

	if !registry.Has(workflowv1.BackendLocal) {
		t.Error("local backend should be registered")
	}
	if registry.Has(workflowv1.BackendPod) {
		t.Error("pod backend should not be registered")
	}
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&MockExecutor{backend: workflowv1.BackendPod})

	exec, err := registry.Get(workflowv1.BackendPod)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec == nil {
		t.Fatal("executor should not be nil")
	}

	_, err = registry.Get(workflowv1.BackendLocal)
	if err == nil {
		t.Error("expected error for unregistered backend")
	}
}

func TestRegistry_Backends(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&MockExecutor{backend: workflowv1.BackendPod})
	registry.Register(&MockExecutor{backend: workflowv1.BackendLocal})

	backends := registry.Backends()
	if len(backends) != 2 || backends[0] != workflowv1.BackendLocal || backends[1] != workflowv1.BackendPod {
		t.Errorf("expected [local pod], got %v", backends)
	}
}

func TestRegistry_ExecuteRoutesByBackend(t *testing.T) {
	registry := NewRegistry()
	local := &MockExecutor{backend: workflowv1.BackendLocal}
	pod := &MockExecutor{backend: workflowv1.BackendPod}
	registry.Register(local)
	registry.Register(pod)

	ctx := context.Background()
	if _, err := registry.Execute(ctx, workflowv1.StageSpec{Name: "dbt_deps"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Execute(ctx, workflowv1.StageSpec{Name: "dbt_run_marts", Backend: workflowv1.BackendPod}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(local.stages) != 1 || local.stages[0] != "dbt_deps" {
		t.Errorf("expected dbt_deps on local backend, got %v", local.stages)
	}
	if len(pod.stages) != 1 || pod.stages[0] != "dbt_run_marts" {
		t.Errorf("expected dbt_run_marts on pod backend, got %v", pod.stages)
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	registry := NewRegistry()

	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			registry.Register(&MockExecutor{backend: workflowv1.BackendLocal})
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			registry.Has(workflowv1.BackendLocal)
			registry.Backends()
		}
		done <- true
	}()

	<-done
	<-done
}

func TestParseCommand(t *testing.T) {
	args, err := ParseCommand(`dbt run --models staging --profiles-dir "/opt/dbt profiles"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"dbt", "run", "--models", "staging", "--profiles-dir", "/opt/dbt profiles"}
	if len(args) != len(want) {
		t.Fatalf("expected %v, got %v", want, args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d: expected %q, got %q", i, want[i], args[i])
		}
	}

	if _, err := ParseCommand("   "); err == nil {
		t.Error("expected error for empty command")
	}
	if _, err := ParseCommand(`dbt "unterminated`); err == nil {
		t.Error("expected error for unterminated quote")
	}
}

func TestBaseExecutor_Tail(t *testing.T) {
	b := NewBaseExecutor(ExecutorConfig{MaxOutput: 4})
	if got := b.Tail("abc"); got != "abc" {
		t.Errorf("expected short output unchanged, got %q", got)
	}
	if got := b.Tail("abcdefgh"); got != "...efgh" {
		t.Errorf("expected tail, got %q", got)
	}
}

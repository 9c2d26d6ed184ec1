package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

var _ Store = (*MemoryStore)(nil)
var _ EventStore = (*MemoryStore)(nil)

func record(graphID, runID string, status workflowv1.RunStatus) workflowv1.RunRecord {
	return workflowv1.RunRecord{RunID: runID, GraphID: graphID, Status: status, StartedAt: time.Now()}
}

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore(DefaultStoreConfig())
	ctx := context.Background()

	if err := s.SaveRun(ctx, record("alerts", "r1", workflowv1.RunSuccess)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.GraphID != "alerts" || rec.Status != workflowv1.RunSuccess {
		t.Errorf("unexpected record: %+v", rec)
	}

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SaveRun(ctx, workflowv1.RunRecord{}); err == nil {
		t.Error("expected error for record without id")
	}
}

func TestMemoryStore_ListRuns(t *testing.T) {
	s := NewMemoryStore(DefaultStoreConfig())
	ctx := context.Background()

	_ = s.SaveRun(ctx, record("pipeline", "r1", workflowv1.RunSuccess))
	_ = s.SaveRun(ctx, record("pipeline", "r2", workflowv1.RunFailed))
	_ = s.SaveRun(ctx, record("pipeline", "r3", workflowv1.RunSuccess))
	_ = s.SaveRun(ctx, record("alerts", "a1", workflowv1.RunSuccess))

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"newest first", ListOptions{}, []string{"r3", "r2", "r1"}},
		{"limit", ListOptions{Limit: 2}, []string{"r3", "r2"}},
		{"offset", ListOptions{Offset: 1}, []string{"r2", "r1"}},
		{"status filter", ListOptions{Status: workflowv1.RunSuccess}, []string{"r3", "r1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, "pipeline", tt.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(runs) != len(tt.want) {
				t.Fatalf("expected %v, got %d runs", tt.want, len(runs))
			}
			for i, id := range tt.want {
				if runs[i].RunID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, runs[i].RunID)
				}
			}
		})
	}
}

func TestMemoryStore_HistoryBound(t *testing.T) {
	s := NewMemoryStore(StoreConfig{HistorySize: 2})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_ = s.SaveRun(ctx, record("alerts", fmt.Sprintf("r%d", i), workflowv1.RunSuccess))
	}

	if _, err := s.GetRun(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected oldest run evicted, got %v", err)
	}
	runs, _ := s.ListRuns(ctx, "alerts", ListOptions{})
	if len(runs) != 2 {
		t.Errorf("expected 2 runs kept, got %d", len(runs))
	}

	// Saving the same run again replaces it without growing history
	_ = s.SaveRun(ctx, record("alerts", "r3", workflowv1.RunFailed))
	runs, _ = s.ListRuns(ctx, "alerts", ListOptions{})
	if len(runs) != 2 || runs[0].Status != workflowv1.RunFailed {
		t.Errorf("expected r3 replaced in place, got %+v", runs)
	}
}

func TestMemoryStore_Events(t *testing.T) {
	s := NewMemoryStore(StoreConfig{EventBacklog: 3})
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	publish := []*Event{
		{Type: EventTypeRunStarted, GraphID: "alerts", RunID: "a1", Timestamp: base},
		{Type: EventTypeRunStarted, GraphID: "pipeline", RunID: "p1", Timestamp: base.Add(time.Minute)},
		{Type: EventTypeRunFailed, GraphID: "pipeline", RunID: "p1", Timestamp: base.Add(2 * time.Minute)},
		{Type: EventTypeTickSkipped, GraphID: "pipeline", Timestamp: base.Add(3 * time.Minute)},
	}
	for _, e := range publish {
		if err := s.Publish(ctx, e); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.ID == "" {
			t.Error("expected event id to be assigned")
		}
	}

	all, _ := s.GetEvents(ctx, EventFilter{}, ListOptions{})
	if len(all) != 3 || all[0].RunID != "p1" {
		t.Errorf("expected oldest event dropped, got %d events", len(all))
	}

	failed, _ := s.GetEvents(ctx, EventFilter{GraphID: "pipeline", Types: []EventType{EventTypeRunFailed}}, ListOptions{})
	if len(failed) != 1 || failed[0].Type != EventTypeRunFailed {
		t.Errorf("expected one failure event, got %+v", failed)
	}

	since := base.Add(90 * time.Second)
	recent, _ := s.GetEvents(ctx, EventFilter{Since: &since}, ListOptions{Limit: 1})
	if len(recent) != 1 || recent[0].Type != EventTypeRunFailed {
		t.Errorf("expected first event after %v, got %+v", since, recent)
	}
}

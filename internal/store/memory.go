package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// MemoryStore keeps bounded run history and events in process memory.
// It implements both Store and EventStore.
type MemoryStore struct {
	config StoreConfig

	mu      sync.RWMutex
	runs    map[string]workflowv1.RunRecord
	byGraph map[string][]string
	events  []*Event
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(config StoreConfig) *MemoryStore {
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultStoreConfig().HistorySize
	}
	if config.EventBacklog <= 0 {
		config.EventBacklog = DefaultStoreConfig().EventBacklog
	}
	return &MemoryStore{
		config:  config,
		runs:    make(map[string]workflowv1.RunRecord),
		byGraph: make(map[string][]string),
	}
}

// SaveRun implements Store. The oldest run of the graph is evicted beyond HistorySize.
func (s *MemoryStore) SaveRun(ctx context.Context, rec workflowv1.RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run record has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[rec.RunID]; !exists {
		ids := append(s.byGraph[rec.GraphID], rec.RunID)
		if len(ids) > s.config.HistorySize {
			evicted := ids[0]
			ids = ids[1:]
			delete(s.runs, evicted)
		}
		s.byGraph[rec.GraphID] = ids
	}
	s.runs[rec.RunID] = rec
	return nil
}

// GetRun implements Store
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*workflowv1.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return &rec, nil
}

// ListRuns implements Store
func (s *MemoryStore) ListRuns(ctx context.Context, graphID string, opts ListOptions) ([]workflowv1.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byGraph[graphID]
	out := make([]workflowv1.RunRecord, 0, len(ids))
	skipped := 0
	for i := len(ids) - 1; i >= 0; i-- {
		rec := s.runs[ids[i]]
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, rec)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Publish implements EventStore
func (s *MemoryStore) Publish(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	if over := len(s.events) - s.config.EventBacklog; over > 0 {
		s.events = append([]*Event(nil), s.events[over:]...)
	}
	return nil
}

// GetEvents implements EventStore
func (s *MemoryStore) GetEvents(ctx context.Context, filter EventFilter, opts ListOptions) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	skipped := 0
	for _, e := range s.events {
		if !filter.Matches(e) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}

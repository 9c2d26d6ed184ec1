package graph

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	workflowv1 "github.com/kination/kpiwatch/api/v1"
)

// TaskManifest describes one task of a graph manifest.
type TaskManifest struct {
	ID       string                 `json:"id" yaml:"id"`
	Upstream []string               `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	Retry    workflowv1.RetryPolicy `json:"retry" yaml:"retry"`
}

// Manifest is a printable description of a validated graph.
type Manifest struct {
	ID                string         `json:"id" yaml:"id"`
	Cadence           string         `json:"cadence,omitempty" yaml:"cadence,omitempty"`
	MaxConcurrentRuns int            `json:"maxConcurrentRuns" yaml:"maxConcurrentRuns"`
	Order             []string       `json:"order" yaml:"order"`
	Tasks             []TaskManifest `json:"tasks" yaml:"tasks"`
}

// GenerateManifest creates the manifest of g. Tasks are listed in topological order.
func GenerateManifest(g *Graph) (*Manifest, error) {
	order, err := g.Schedule()
	if err != nil {
		return nil, err
	}

	tasks := make([]TaskManifest, 0, len(order))
	for _, id := range order {
		t := g.tasks[id]
		tasks = append(tasks, TaskManifest{
			ID:       t.ID,
			Upstream: append([]string(nil), t.Upstream...),
			Retry:    t.Retry,
		})
	}

	return &Manifest{
		ID:                g.ID,
		Cadence:           g.Cadence,
		MaxConcurrentRuns: g.MaxConcurrentRuns,
		Order:             order,
		Tasks:             tasks,
	}, nil
}

// Encode renders the manifest as "yaml" or "json".
func (m *Manifest) Encode(format string) ([]byte, error) {
	switch format {
	case "", "yaml":
		return yaml.Marshal(m)
	case "json":
		return json.MarshalIndent(m, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}
}

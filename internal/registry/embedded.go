package registry

import (
	"context"

	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// EmbeddedSource serves compiled-in tasks, per spec §4.5: "compiled-in
// tasks with metadata, input/output schemas, and script body." It must be
// available before filesystem/Git/HTTP sources are polled so bootstrap
// tasks never depend on an external fetch (spec §9's multi-source DAG
// note); callers achieve this simply by registering it first in Catalog.
type EmbeddedSource struct {
	tasks map[string]task.TaskDefinition
}

// NewEmbeddedSource builds an EmbeddedSource from a fixed set of
// compiled-in definitions. SourceOrigin is forced to "embedded" regardless
// of what the caller set.
func NewEmbeddedSource(defs ...task.TaskDefinition) *EmbeddedSource {
	tasks := make(map[string]task.TaskDefinition, len(defs))
	for _, d := range defs {
		d.SourceOrigin = "embedded"
		tasks[d.Name] = d
	}
	return &EmbeddedSource{tasks: tasks}
}

func (s *EmbeddedSource) Origin() string { return "embedded" }

func (s *EmbeddedSource) Discover(ctx context.Context) ([]Metadata, error) {
	out := make([]Metadata, 0, len(s.tasks))
	for _, d := range s.tasks {
		out = append(out, Metadata{Name: d.Name, Version: d.Version, SourceOrigin: "embedded", SourcePath: d.SourcePath})
	}
	return out, nil
}

func (s *EmbeddedSource) Load(ctx context.Context, name string) (task.TaskDefinition, error) {
	d, ok := s.tasks[name]
	if !ok {
		return task.TaskDefinition{}, taxonomy.New(taxonomy.TaskNotFound, "no embedded task named "+name)
	}
	return d, nil
}

func (s *EmbeddedSource) HealthCheck(ctx context.Context) error { return nil }

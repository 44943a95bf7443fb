package registry

import (
	"context"
	"sort"
	"sync"

	"ratchet/internal/logging"
	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// Catalog is the addressable union of every Source spec §4.5 names,
// exposing discover_tasks/load_task_content/task_exists/get_task_metadata/
// health_check. Sources are registered in caller-supplied order but always
// resolved by Precedence for load_task_content, per: "first source to
// claim the name wins, with an explicit precedence
// embedded > filesystem > git > http."
type Catalog struct {
	logger  *logging.ComponentLogger
	sources []Source

	mu    sync.RWMutex
	index map[string]Metadata // name -> winning Metadata after last Discover
}

// NewCatalog builds a Catalog over the given sources.
func NewCatalog(sources ...Source) *Catalog {
	return &Catalog{
		logger:  logging.NewComponentLogger("registry.catalog"),
		sources: sources,
		index:   make(map[string]Metadata),
	}
}

// DiscoverTasks enumerates every source and returns the union of metadata,
// applying source precedence when two sources claim the same name.
// Per-source failures are logged and do not abort discovery of the other
// sources (spec §4.5: "a single failing source does not fail the whole
// sync").
func (c *Catalog) DiscoverTasks(ctx context.Context) ([]Metadata, []SourceError) {
	byName := make(map[string]Metadata)
	var errs []SourceError

	for _, src := range c.sources {
		metas, err := src.Discover(ctx)
		if err != nil {
			errs = append(errs, SourceError{Origin: src.Origin(), Err: err})
			continue
		}
		for _, m := range metas {
			existing, ok := byName[m.Name]
			if !ok || precedenceRank(m.SourceOrigin) < precedenceRank(existing.SourceOrigin) {
				byName[m.Name] = m
			}
		}
	}

	out := make([]Metadata, 0, len(byName))
	for _, m := range byName {
		out = append(out, m)
	}
	// byName is a map; range order is unspecified. tools/list pagination
	// (spec §8 invariant 5) requires a stable ordering across calls.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	c.mu.Lock()
	c.index = byName
	c.mu.Unlock()

	return out, errs
}

// SourceError pairs a source's Origin with the error it raised during
// discovery or health_check, per spec §4.5's "errors: any source that
// failed health_check or yielded a parse error is reported, not silently
// dropped."
type SourceError struct {
	Origin string
	Err    error
}

// LoadTaskContent loads name's script body from the highest-precedence
// source that claims it, per spec §4.5.
func (c *Catalog) LoadTaskContent(ctx context.Context, name string) (task.TaskDefinition, error) {
	c.mu.RLock()
	meta, ok := c.index[name]
	c.mu.RUnlock()
	if !ok {
		return task.TaskDefinition{}, taxonomy.New(taxonomy.TaskNotFound, "no task named "+name+" in any source")
	}
	for _, src := range c.sources {
		if src.Origin() == meta.SourceOrigin {
			return src.Load(ctx, name)
		}
	}
	return task.TaskDefinition{}, taxonomy.New(taxonomy.TaskNotFound, "source "+meta.SourceOrigin+" for "+name+" is no longer registered")
}

// Size reports how many tasks the last DiscoverTasks call indexed.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// TaskExists reports whether name is currently discoverable.
func (c *Catalog) TaskExists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[name]
	return ok
}

// GetTaskMetadata returns the winning Metadata for name.
func (c *Catalog) GetTaskMetadata(name string) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.index[name]
	return m, ok
}

// HealthCheck runs HealthCheck on every source and reports per-source
// failures, mirroring DiscoverTasks's isolate-and-continue behavior.
func (c *Catalog) HealthCheck(ctx context.Context) []SourceError {
	var errs []SourceError
	for _, src := range c.sources {
		if err := src.HealthCheck(ctx); err != nil {
			errs = append(errs, SourceError{Origin: src.Origin(), Err: err})
		}
	}
	return errs
}

// Resolve satisfies coordinator.TaskResolver: it loads taskRef's content
// (first checking a "name@version" split) from whichever source currently
// claims it.
func (c *Catalog) Resolve(ctx context.Context, taskRef string) (task.TaskDefinition, error) {
	name, _ := splitRef(taskRef)
	return c.LoadTaskContent(ctx, name)
}

func splitRef(taskRef string) (name, version string) {
	for i := len(taskRef) - 1; i >= 0; i-- {
		if taskRef[i] == '@' {
			return taskRef[:i], taskRef[i+1:]
		}
	}
	return taskRef, ""
}

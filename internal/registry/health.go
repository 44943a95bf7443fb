package registry

import (
	"context"
	"sync"
	"time"

	"ratchet/internal/task"
)

// RepositoryHealth is the per-repository status struct SPEC_FULL.md §10
// supplements beyond the bare SyncResult, grounded on
// repository_service.rs's richer repository-status shape.
type RepositoryHealth struct {
	Name        string
	SourceType  string
	LastSyncAt  time.Time
	LastError   string
	TaskCount   int
	SyncEnabled bool
}

// Bridge is the Task Registry Bridge (C5) façade: a Catalog plus a
// Reconciler plus per-repository health tracking, the surface
// TaskRegistryBridge.health_check() and sync_with_database() are exposed
// through.
type Bridge struct {
	catalog    *Catalog
	reconciler *Reconciler
	repository string
	sourceType string

	mu          sync.RWMutex
	syncEnabled bool
	lastSyncAt  time.Time
	lastError   string
	taskCount   int
}

// NewBridge wires a Catalog and Reconciler for one repository into a
// health-tracked bridge.
func NewBridge(repository, sourceType string, catalog *Catalog, reconciler *Reconciler) *Bridge {
	return &Bridge{
		catalog:     catalog,
		reconciler:  reconciler,
		repository:  repository,
		sourceType:  sourceType,
		syncEnabled: true,
	}
}

// SetSyncEnabled toggles whether Sync actually runs, per spec §4.5: "A
// repository marked sync_enabled = false is skipped entirely."
func (b *Bridge) SetSyncEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncEnabled = enabled
}

// Sync runs sync_with_database unless sync_enabled is false, recording the
// outcome into the report HealthCheck returns.
func (b *Bridge) Sync(ctx context.Context) (SyncResult, error) {
	b.mu.RLock()
	enabled := b.syncEnabled
	b.mu.RUnlock()
	if !enabled {
		return SyncResult{}, nil
	}

	result, err := b.reconciler.Sync(ctx)

	b.mu.Lock()
	b.lastSyncAt = time.Now()
	if err != nil {
		b.lastError = err.Error()
	} else if len(result.Errors) > 0 {
		b.lastError = result.Errors[0].Err.Error()
	} else {
		b.lastError = ""
	}
	b.mu.Unlock()

	return result, err
}

// HealthCheck runs the catalog's per-source health check and refreshes
// TaskCount from the last discovery snapshot.
func (b *Bridge) HealthCheck(ctx context.Context) RepositoryHealth {
	errs := b.catalog.HealthCheck(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.taskCount = b.catalog.Size()
	if len(errs) > 0 {
		b.lastError = errs[0].Err.Error()
	}

	return RepositoryHealth{
		Name:        b.repository,
		SourceType:  b.sourceType,
		LastSyncAt:  b.lastSyncAt,
		LastError:   b.lastError,
		TaskCount:   b.taskCount,
		SyncEnabled: b.syncEnabled,
	}
}

// Resolve satisfies coordinator.TaskResolver by delegating to the Catalog.
func (b *Bridge) Resolve(ctx context.Context, taskRef string) (task.TaskDefinition, error) {
	return b.catalog.Resolve(ctx, taskRef)
}

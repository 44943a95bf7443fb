package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/task"
)

// ConflictPolicy is how reconciliation resolves an `updated` conflict
// (the registry's source hash disagrees with the store's), per spec §4.5.
type ConflictPolicy string

const (
	TakeLocal  ConflictPolicy = "TakeLocal"
	TakeRemote ConflictPolicy = "TakeRemote"
	Merge      ConflictPolicy = "Merge"
)

// Store is the persistence boundary reconciliation writes through. A real
// implementation backs it with a database; tests use an in-memory map.
type Store interface {
	List(ctx context.Context, repository string) ([]task.UnifiedTask, error)
	Upsert(ctx context.Context, t task.UnifiedTask) error
}

// SyncResult is what sync_with_database returns, per spec §4.5.
type SyncResult struct {
	Added    int
	Updated  int
	Removed  int
	Conflicts []ConflictReport
	Errors    []SourceError
}

// ConflictReport records one `updated` entry where the source hash
// disagreed with the store and how it was resolved.
type ConflictReport struct {
	Name     string
	Resolved ConflictPolicy
	Escalated bool // true when Merge could not reconcile a script-body divergence
}

// Reconciler runs sync_with_database against a Catalog and a Store, per
// spec §4.5's added/removed/updated algorithm. Grounded on
// ratchet-server/repository_service.rs's reconcile-then-persist shape,
// rewritten as set operations over Go maps instead of SQL diffing.
type Reconciler struct {
	catalog    *Catalog
	store      Store
	policy     ConflictPolicy
	repository string
	logger     *logging.ComponentLogger

	// mu serializes Sync calls on this Reconciler. Catalog.DiscoverTasks
	// calls made outside Sync do not take it and can run concurrently.
	mu sync.Mutex
}

// NewReconciler constructs a Reconciler for one repository.
func NewReconciler(catalog *Catalog, store Store, repository string, policy ConflictPolicy) *Reconciler {
	if policy == "" {
		policy = TakeRemote
	}
	return &Reconciler{
		catalog:    catalog,
		store:      store,
		policy:     policy,
		repository: repository,
		logger:     logging.NewComponentLogger("registry.reconciler"),
	}
}

// Sync runs one sync_with_database pass. It is idempotent: repeating it
// with unchanged inputs yields a SyncResult with all counters at zero.
func (r *Reconciler) Sync(ctx context.Context) (SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	discovered, discoverErrs := r.catalog.DiscoverTasks(ctx)
	stored, err := r.store.List(ctx, r.repository)
	if err != nil {
		return SyncResult{}, err
	}

	byName := make(map[string]task.UnifiedTask, len(stored))
	for _, t := range stored {
		byName[t.Name] = t
	}

	result := SyncResult{Errors: append([]SourceError{}, discoverErrs...)}
	seen := make(map[string]bool, len(discovered))

	for _, meta := range discovered {
		seen[meta.Name] = true
		def, loadErr := r.catalog.LoadTaskContent(ctx, meta.Name)
		if loadErr != nil {
			result.Errors = append(result.Errors, SourceError{Origin: meta.SourceOrigin, Err: loadErr})
			continue
		}
		sourceHash := hashSource(def)

		existing, ok := byName[meta.Name]
		if !ok {
			// added = R \ D
			ut := task.UnifiedTask{
				TaskDefinition: def,
				Repository:     r.repository,
				Enabled:        true,
				RegistrySource: true,
				CreatedAt:      time.Now(),
				UpdatedAt:      time.Now(),
				LastSyncedAt:   time.Now(),
				SourceHash:     sourceHash,
				LastSyncedHash: sourceHash,
				SyncStatus:     task.SyncStatusSynced,
			}
			ut.RecomputeInSync()
			if err := r.store.Upsert(ctx, ut); err != nil {
				result.Errors = append(result.Errors, SourceError{Origin: meta.SourceOrigin, Err: err})
				continue
			}
			result.Added++
			continue
		}

		if sourceHash == existing.LastSyncedHash {
			// unchanged; idempotent no-op.
			continue
		}

		// updated = R ∩ D where hash(R.source) != hash(D.source): conflict.
		conflict, escalated := r.resolveConflict(existing, def, sourceHash)
		conflict.UpdatedAt = time.Now()
		conflict.LastSyncedAt = time.Now()
		conflict.RecomputeInSync()
		if err := r.store.Upsert(ctx, conflict); err != nil {
			result.Errors = append(result.Errors, SourceError{Origin: meta.SourceOrigin, Err: err})
			continue
		}
		result.Updated++
		result.Conflicts = append(result.Conflicts, ConflictReport{Name: meta.Name, Resolved: r.policy, Escalated: escalated})
		if escalated {
			result.Errors = append(result.Errors, SourceError{Origin: meta.SourceOrigin, Err: fmt.Errorf("merge cannot reconcile diverging script body for task %s", meta.Name)})
		}
	}

	// removed = D \ R where D.registry_source == true: soft-delete.
	for name, existing := range byName {
		if seen[name] || !existing.RegistrySource || !existing.Enabled {
			continue
		}
		existing.Enabled = false
		existing.SyncStatus = task.SyncStatusOrphaned
		existing.UpdatedAt = time.Now()
		if err := r.store.Upsert(ctx, existing); err != nil {
			result.Errors = append(result.Errors, SourceError{Origin: existing.SourceOrigin, Err: err})
			continue
		}
		result.Removed++
	}

	return result, nil
}

// resolveConflict applies r.policy to an updated entry, returning the
// record to persist and whether a Merge attempt had to escalate.
func (r *Reconciler) resolveConflict(existing task.UnifiedTask, incoming task.TaskDefinition, incomingHash string) (task.UnifiedTask, bool) {
	switch r.policy {
	case TakeLocal:
		existing.NeedsPush = true
		existing.SyncStatus = task.SyncStatusConflict
		return existing, false
	case TakeRemote:
		merged := existing
		merged.TaskDefinition = incoming
		merged.SourceHash = incomingHash
		merged.LastSyncedHash = incomingHash
		merged.SyncStatus = task.SyncStatusSynced
		merged.NeedsPush = false
		return merged, false
	case Merge:
		if existing.Script != incoming.Script {
			// Script bodies are not structurally mergeable; escalate
			// rather than silently pick a side.
			existing.SyncStatus = task.SyncStatusConflict
			existing.NeedsPush = true
			return existing, true
		}
		merged := existing
		merged.Dependencies = incoming.Dependencies
		merged.EnvHints = incoming.EnvHints
		merged.InputSchema = incoming.InputSchema
		merged.OutputSchema = incoming.OutputSchema
		merged.SourceHash = incomingHash
		merged.LastSyncedHash = incomingHash
		merged.SyncStatus = task.SyncStatusSynced
		return merged, false
	default:
		return existing, false
	}
}

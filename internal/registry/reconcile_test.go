package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"ratchet/internal/task"
)

// writeTaskFile materializes one task's directory bundle under dir/name:
// metadata.json plus main.js, per spec §6's filesystem task layout.
func writeTaskFile(t *testing.T, dir, name, script string) {
	t.Helper()
	taskDir := filepath.Join(dir, name)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatalf("mkdir task dir: %v", err)
	}
	meta := taskMetadata{Name: name, Version: "1"}
	body, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("marshal task metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, metadataJSONName), body, 0o644); err != nil {
		t.Fatalf("write task metadata: %v", err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, mainScriptName), []byte(script), 0o644); err != nil {
		t.Fatalf("write task script: %v", err)
	}
}

func TestCatalogPrecedenceEmbeddedWinsOverFilesystem(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "addNumbers", "(input) => input.a + input.b")

	embedded := NewEmbeddedSource(task.TaskDefinition{Name: "addNumbers", Script: "(input) => 'embedded'"})
	fs := NewFilesystemSource(FilesystemConfig{Root: dir})
	cat := NewCatalog(embedded, fs)

	metas, errs := cat.DiscoverTasks(context.Background())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(metas) != 1 {
		t.Fatalf("expected one unified task, got %d", len(metas))
	}

	def, err := cat.LoadTaskContent(context.Background(), "addNumbers")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.SourceOrigin != "embedded" {
		t.Fatalf("expected embedded to win precedence, got %s", def.SourceOrigin)
	}
}

func TestReconcilerAddedUpdatedRemoved(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "taskA", "(input) => input")
	fs := NewFilesystemSource(FilesystemConfig{Root: dir})
	cat := NewCatalog(fs)
	store := NewMemStore()
	rec := NewReconciler(cat, store, "repo1", TakeRemote)

	result, err := rec.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Added != 1 || result.Updated != 0 || result.Removed != 0 {
		t.Fatalf("expected one add, got %+v", result)
	}

	// Idempotent: syncing again with unchanged inputs yields all zeros.
	result, err = rec.Sync(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.Added != 0 || result.Updated != 0 || result.Removed != 0 {
		t.Fatalf("expected idempotent no-op, got %+v", result)
	}

	// Change the script body: expect an `updated` conflict under TakeRemote.
	writeTaskFile(t, dir, "taskA", "(input) => input.a")
	result, err = rec.Sync(context.Background())
	if err != nil {
		t.Fatalf("third sync: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("expected one update, got %+v", result)
	}
	stored, ok := store.Get("repo1", "taskA")
	if !ok || stored.Script != "(input) => input.a" {
		t.Fatalf("expected TakeRemote to overwrite script, got %+v", stored)
	}

	// Remove the task directory on disk: expect a soft-delete, not a hard delete.
	if err := os.RemoveAll(filepath.Join(dir, "taskA")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	result, err = rec.Sync(context.Background())
	if err != nil {
		t.Fatalf("fourth sync: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected one removal, got %+v", result)
	}
	stored, ok = store.Get("repo1", "taskA")
	if !ok {
		t.Fatal("expected soft-deleted record to remain in store")
	}
	if stored.Enabled {
		t.Fatal("expected Enabled=false after soft-delete")
	}
	if stored.SyncStatus != task.SyncStatusOrphaned {
		t.Fatalf("expected orphaned sync status, got %s", stored.SyncStatus)
	}
}

func TestReconcilerMergeEscalatesScriptConflict(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "taskB", "(input) => 1")
	fs := NewFilesystemSource(FilesystemConfig{Root: dir})
	cat := NewCatalog(fs)
	store := NewMemStore()
	rec := NewReconciler(cat, store, "repo1", Merge)

	if _, err := rec.Sync(context.Background()); err != nil {
		t.Fatalf("initial sync: %v", err)
	}

	writeTaskFile(t, dir, "taskB", "(input) => 2")
	result, err := rec.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(result.Conflicts) != 1 || !result.Conflicts[0].Escalated {
		t.Fatalf("expected an escalated merge conflict, got %+v", result.Conflicts)
	}
	stored, _ := store.Get("repo1", "taskB")
	if stored.Script != "(input) => 1" {
		t.Fatalf("expected Merge to leave the stored script untouched on escalation, got %q", stored.Script)
	}
}

func TestBridgeSkipsDisabledSync(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "taskC", "(input) => input")
	fs := NewFilesystemSource(FilesystemConfig{Root: dir})
	cat := NewCatalog(fs)
	store := NewMemStore()
	rec := NewReconciler(cat, store, "repo1", TakeRemote)
	bridge := NewBridge("repo1", "filesystem", cat, rec)
	bridge.SetSyncEnabled(false)

	result, err := bridge.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Added != 0 {
		t.Fatalf("expected sync to be skipped, got %+v", result)
	}

	health := bridge.HealthCheck(context.Background())
	if health.SyncEnabled {
		t.Fatal("expected SyncEnabled=false to be reported")
	}
}

package registry

import (
	"context"
	"testing"

	"ratchet/internal/task"
)

func TestDiscoverTasksIsSortedByName(t *testing.T) {
	embedded := NewEmbeddedSource(
		task.TaskDefinition{Name: "zebra", Version: "1"},
		task.TaskDefinition{Name: "apple", Version: "1"},
		task.TaskDefinition{Name: "mango", Version: "1"},
	)
	cat := NewCatalog(embedded)

	for i := 0; i < 3; i++ {
		metas, errs := cat.DiscoverTasks(context.Background())
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if len(metas) != 3 {
			t.Fatalf("expected 3 tasks, got %d", len(metas))
		}
		names := []string{metas[0].Name, metas[1].Name, metas[2].Name}
		want := []string{"apple", "mango", "zebra"}
		for j := range want {
			if names[j] != want[j] {
				t.Fatalf("pass %d: expected sorted order %v, got %v", i, want, names)
			}
		}
	}
}

func TestDiscoverTasksAppliesSourcePrecedence(t *testing.T) {
	embedded := NewEmbeddedSource(task.TaskDefinition{Name: "shared", Version: "1"})
	dir := t.TempDir()
	writeTaskFile(t, dir, "shared", "(input) => 'filesystem'")
	fs := NewFilesystemSource(FilesystemConfig{Root: dir})
	cat := NewCatalog(fs, embedded)

	metas, _ := cat.DiscoverTasks(context.Background())
	if len(metas) != 1 {
		t.Fatalf("expected one unified task, got %+v", metas)
	}
	if metas[0].SourceOrigin != "embedded" {
		t.Fatalf("expected embedded to win regardless of registration order, got %s", metas[0].SourceOrigin)
	}
}

func TestCatalogLoadTaskContentUnknownName(t *testing.T) {
	cat := NewCatalog()
	if _, err := cat.LoadTaskContent(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error loading an undiscovered task")
	}
}

func TestCatalogResolveSplitsVersionSuffix(t *testing.T) {
	embedded := NewEmbeddedSource(task.TaskDefinition{Name: "addNumbers", Version: "1"})
	cat := NewCatalog(embedded)
	cat.DiscoverTasks(context.Background())

	def, err := cat.Resolve(context.Background(), "addNumbers@1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Name != "addNumbers" {
		t.Fatalf("expected addNumbers, got %s", def.Name)
	}
}

package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTaskDir(t *testing.T, root, name string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for fname, body := range files {
		if err := os.WriteFile(filepath.Join(dir, fname), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", fname, err)
		}
	}
}

func TestFilesystemSourceDiscoverAndLoadFullBundle(t *testing.T) {
	root := t.TempDir()
	writeTaskDir(t, root, "addNumbers", map[string]string{
		metadataJSONName: `{"uuid":"11111111-1111-1111-1111-111111111111","name":"addNumbers","version":"1"}`,
		mainScriptName:   "(input) => input.a + input.b",
		inputSchemaName:  `{"type":"object"}`,
		outputSchemaName: `{"type":"number"}`,
	})

	src := NewFilesystemSource(FilesystemConfig{Root: root})
	metas, err := src.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(metas) != 1 || metas[0].Name != "addNumbers" {
		t.Fatalf("expected one task named addNumbers, got %+v", metas)
	}

	def, err := src.Load(context.Background(), "addNumbers")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Script != "(input) => input.a + input.b" {
		t.Fatalf("unexpected script: %q", def.Script)
	}
	if def.UUID != "11111111-1111-1111-1111-111111111111" {
		t.Fatalf("unexpected uuid: %q", def.UUID)
	}
	if len(def.InputSchema) == 0 || len(def.OutputSchema) == 0 {
		t.Fatal("expected both schemas to load")
	}
}

func TestFilesystemSourceYAMLMetadata(t *testing.T) {
	root := t.TempDir()
	writeTaskDir(t, root, "greet", map[string]string{
		metadataYAMLName: "name: greet\nversion: \"2\"\n",
		mainScriptName:   "(input) => 'hi ' + input.name",
	})

	src := NewFilesystemSource(FilesystemConfig{Root: root})
	metas, err := src.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(metas) != 1 || metas[0].Version != "2" {
		t.Fatalf("expected version 2 parsed from yaml metadata, got %+v", metas)
	}
}

func TestFilesystemSourceToleratesMissingSchemasByDefault(t *testing.T) {
	root := t.TempDir()
	writeTaskDir(t, root, "bare", map[string]string{
		metadataJSONName: `{"name":"bare","version":"1"}`,
		mainScriptName:   "(input) => input",
	})

	src := NewFilesystemSource(FilesystemConfig{Root: root})
	if _, err := src.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	def, err := src.Load(context.Background(), "bare")
	if err != nil {
		t.Fatalf("expected missing schemas to be tolerated, got %v", err)
	}
	if def.InputSchema != nil || def.OutputSchema != nil {
		t.Fatalf("expected nil schemas, got input=%s output=%s", def.InputSchema, def.OutputSchema)
	}
}

func TestFilesystemSourceStrictValidationRejectsMissingSchema(t *testing.T) {
	root := t.TempDir()
	writeTaskDir(t, root, "bare", map[string]string{
		metadataJSONName: `{"name":"bare","version":"1"}`,
		mainScriptName:   "(input) => input",
	})

	src := NewFilesystemSource(FilesystemConfig{Root: root, StrictValidation: true})
	if _, err := src.Discover(context.Background()); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if _, err := src.Load(context.Background(), "bare"); err == nil {
		t.Fatal("expected strict_validation to reject a task directory missing its schemas")
	}
}

func TestFilesystemSourceSkipsUnparsableMetadata(t *testing.T) {
	root := t.TempDir()
	writeTaskDir(t, root, "broken", map[string]string{
		metadataJSONName: `not json`,
		mainScriptName:   "(input) => input",
	})
	writeTaskDir(t, root, "fine", map[string]string{
		metadataJSONName: `{"name":"fine","version":"1"}`,
		mainScriptName:   "(input) => input",
	})

	src := NewFilesystemSource(FilesystemConfig{Root: root})
	metas, err := src.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(metas) != 1 || metas[0].Name != "fine" {
		t.Fatalf("expected the unparsable task to be skipped, got %+v", metas)
	}
}

func TestFilesystemSourceLoadUnknownTaskFails(t *testing.T) {
	src := NewFilesystemSource(FilesystemConfig{Root: t.TempDir()})
	if _, err := src.Load(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error loading an undiscovered task")
	}
}

func TestFilesystemSourceHealthCheckRequiresDirectory(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	src := NewFilesystemSource(FilesystemConfig{Root: file})
	if err := src.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected HealthCheck to reject a non-directory root")
	}
}

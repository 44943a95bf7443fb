package main

import (
	"testing"

	"ratchet/internal/config"
	"ratchet/internal/registry"
)

func TestNewRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()

	want := map[string]bool{"serve": false, "validate": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected root command to register %q", name)
		}
	}
}

func TestRunWorkerRequiresWorkerID(t *testing.T) {
	if err := runWorker(""); err == nil {
		t.Fatal("expected an error when --worker-id is empty")
	}
}

func TestSourceTypeOfClassifiesFilesystemSource(t *testing.T) {
	src := registry.NewFilesystemSource(registry.FilesystemConfig{Root: t.TempDir()})
	if got := sourceTypeOf(src); got != "filesystem" {
		t.Fatalf("expected filesystem, got %q", got)
	}
}

func TestBuildCatalogWithNoSourcesConfiguredHasNoBridges(t *testing.T) {
	cfg, _, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	_, bridges := buildCatalog(cfg)
	if len(bridges) != 0 {
		t.Fatalf("expected no bridges with no registry sources configured, got %d", len(bridges))
	}
}

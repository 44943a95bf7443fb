package registry

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initBareTaskRepo creates a local git repository (not bare, so GitSource
// can clone it over the filesystem) seeded with one task directory bundle.
func initBareTaskRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed, skipping git source integration test")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	writeTaskDir(t, dir, "addNumbers", map[string]string{
		metadataJSONName: `{"name":"addNumbers","version":"1"}`,
		mainScriptName:   "(input) => input.a + input.b",
	})

	run("add", ".")
	run("commit", "-m", "seed task")
	return dir
}

func TestGitSourceDiscoverAndLoad(t *testing.T) {
	origin := initBareTaskRepo(t)
	cacheDir := t.TempDir()

	src := NewGitSource(GitConfig{URL: origin, Branch: "main", CacheDir: cacheDir})
	metas, err := src.Discover(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(metas) != 1 || metas[0].SourceOrigin != "git" {
		t.Fatalf("expected one git-origin task, got %+v", metas)
	}

	def, err := src.Load(context.Background(), "addNumbers")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Script != "(input) => input.a + input.b" {
		t.Fatalf("unexpected script: %q", def.Script)
	}
}

func TestGitSourceHealthCheckReflectsLastSyncError(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed, skipping git source integration test")
	}
	cacheDir := t.TempDir()
	src := NewGitSource(GitConfig{URL: filepath.Join(t.TempDir(), "does-not-exist"), Branch: "main", CacheDir: cacheDir})

	if err := src.HealthCheck(context.Background()); err != nil {
		t.Fatalf("expected no error before any sync attempt, got %v", err)
	}
	if _, err := src.Discover(context.Background()); err == nil {
		t.Fatal("expected discovery against a missing remote to fail")
	}
	if err := src.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected HealthCheck to surface the last sync error")
	}
}

func TestGitSourceEnforceSizeBoundRejectsOversizedRepo(t *testing.T) {
	origin := initBareTaskRepo(t)
	// Pad the repo's working tree past a byte-tiny bound.
	if err := os.WriteFile(filepath.Join(origin, "addNumbers", "padding.bin"), make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("write padding: %v", err)
	}
	cmd := exec.Command("git", "add", ".")
	cmd.Dir = origin
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, out)
	}
	cmd = exec.Command("git", "commit", "-m", "pad")
	cmd.Dir = origin
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, out)
	}

	cacheDir := t.TempDir()
	src := NewGitSource(GitConfig{URL: origin, Branch: "main", CacheDir: cacheDir, MaxRepoSize: 64})
	if _, err := src.Discover(context.Background()); err == nil {
		t.Fatal("expected the size bound to reject an oversized checkout")
	}
}

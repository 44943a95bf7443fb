package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, meta, err := Load(WithEnv(func(string) (string, bool) { return "", false }))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != 4 {
		t.Fatalf("expected default worker count 4, got %d", cfg.WorkerCount)
	}
	if meta.Source("worker_count") != SourceDefault {
		t.Fatalf("expected default source, got %s", meta.Source("worker_count"))
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	yamlDoc := []byte("worker_count: 8\nmcp_transport: sse\n")
	cfg, meta, err := Load(
		WithConfigPath("config.yaml"),
		WithFileReader(func(path string) ([]byte, error) { return yamlDoc, nil }),
		WithEnv(func(string) (string, bool) { return "", false }),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected worker count 8 from file, got %d", cfg.WorkerCount)
	}
	if cfg.MCPTransport != "sse" {
		t.Fatalf("expected mcp_transport sse from file, got %s", cfg.MCPTransport)
	}
	if meta.Source("worker_count") != SourceFile {
		t.Fatalf("expected file source, got %s", meta.Source("worker_count"))
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	yamlDoc := []byte("worker_count: 8\n")
	env := map[string]string{"RATCHET_WORKER_COUNT": "16"}
	cfg, meta, err := Load(
		WithConfigPath("config.yaml"),
		WithFileReader(func(path string) ([]byte, error) { return yamlDoc, nil }),
		WithEnv(func(key string) (string, bool) { v, ok := env[key]; return v, ok }),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != 16 {
		t.Fatalf("expected env to win with 16, got %d", cfg.WorkerCount)
	}
	if meta.Source("worker_count") != SourceEnv {
		t.Fatalf("expected env source, got %s", meta.Source("worker_count"))
	}
}

func TestLoadOverridesWinOverEverything(t *testing.T) {
	env := map[string]string{"RATCHET_WORKER_COUNT": "16"}
	wanted := 32
	cfg, meta, err := Load(
		WithEnv(func(key string) (string, bool) { v, ok := env[key]; return v, ok }),
		WithOverrides(Overrides{WorkerCount: &wanted}),
	)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkerCount != 32 {
		t.Fatalf("expected override to win with 32, got %d", cfg.WorkerCount)
	}
	if meta.Source("worker_count") != SourceOverride {
		t.Fatalf("expected override source, got %s", meta.Source("worker_count"))
	}
}

func TestLoadRejectsBadDurationEnv(t *testing.T) {
	env := map[string]string{"RATCHET_HEARTBEAT_INTERVAL": "not-a-duration"}
	_, _, err := Load(WithEnv(func(key string) (string, bool) { v, ok := env[key]; return v, ok }))
	if err == nil {
		t.Fatal("expected an error for a malformed duration env var")
	}
}

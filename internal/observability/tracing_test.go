package observability

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTracerProviderDisabledIsNoOp(t *testing.T) {
	tp, err := NewTracerProvider(DefaultTracingConfig())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if tp.Enabled() {
		t.Fatal("expected disabled provider")
	}

	ctx, span := tp.Tracer().Start(context.Background(), "test-span")
	if ctx == nil || span == nil {
		t.Fatal("expected a usable no-op span")
	}
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestTracerProviderFileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	tp, err := NewTracerProvider(TracingConfig{Enabled: true, FilePath: path, ServiceName: "ratchet-test"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if !tp.Enabled() {
		t.Fatal("expected enabled provider")
	}

	_, span := tp.Tracer().Start(context.Background(), "execute_task")
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected trace file to exist: %v", err)
	}
}

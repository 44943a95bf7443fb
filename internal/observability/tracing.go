package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures the OpenTelemetry tracer provider, grounded on
// the pack's tracing.Config/Provider shape (zjrosen-perles
// internal/orchestration/tracing) but trimmed to the exporters go.mod
// actually carries: a JSONL file exporter, or none.
type TracingConfig struct {
	Enabled     bool
	FilePath    string
	ServiceName string
}

// DefaultTracingConfig returns tracing disabled, matching the pack's
// convention of zero overhead unless explicitly turned on.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{Enabled: false, ServiceName: "ratchet"}
}

// TracerProvider wraps an sdktrace.TracerProvider, falling back to a
// no-op tracer when tracing is disabled so call sites never branch on
// Enabled() themselves.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewTracerProvider builds a TracerProvider per cfg.
func NewTracerProvider(cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		np := noop.NewTracerProvider()
		return &TracerProvider{tracer: np.Tracer("noop"), enabled: false}, nil
	}

	exporter, err := newFileSpanExporter(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	sdkProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(sdkProvider)

	return &TracerProvider{
		provider: sdkProvider,
		tracer:   sdkProvider.Tracer(cfg.ServiceName),
		enabled:  true,
	}, nil
}

// Enabled reports whether this provider exports real spans.
func (p *TracerProvider) Enabled() bool { return p.enabled }

// Tracer returns the underlying trace.Tracer, real or no-op.
func (p *TracerProvider) Tracer() trace.Tracer { return p.tracer }

// Shutdown flushes and closes the underlying provider, if any.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// fileSpanExporter writes each span as one JSON line, for local
// development without a collector.
type fileSpanExporter struct {
	mu   sync.Mutex
	file *os.File
}

func newFileSpanExporter(path string) (*fileSpanExporter, error) {
	if path == "" {
		return nil, fmt.Errorf("file_path is required for the file trace exporter")
	}
	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(clean, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileSpanExporter{file: f}, nil
}

type spanRecord struct {
	Name       string            `json:"name"`
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	DurationMs int64             `json:"duration_ms"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (e *fileSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	enc := json.NewEncoder(e.file)
	for _, s := range spans {
		attrs := make(map[string]string, len(s.Attributes()))
		for _, kv := range s.Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		rec := spanRecord{
			Name:       s.Name(),
			TraceID:    s.SpanContext().TraceID().String(),
			SpanID:     s.SpanContext().SpanID().String(),
			DurationMs: s.EndTime().Sub(s.StartTime()).Milliseconds(),
			Attributes: attrs,
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *fileSpanExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordsRequestsAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.RecordRequest("tools/list", "client-1", 10*time.Millisecond, true)
	m.RecordRequest("tools/list", "client-1", 5*time.Millisecond, false)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("tools/list", "client-1", "true")); got != 1 {
		t.Fatalf("expected 1 successful request, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("tools/list", "client-1", "false")); got != 1 {
		t.Fatalf("expected 1 failed request, got %v", got)
	}
}

func TestMetricsRecordsToolExecutions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.RecordToolExecution("addNumbers", "client-1", 1*time.Millisecond, true)

	if got := testutil.ToFloat64(m.toolExecutions.WithLabelValues("addNumbers", "client-1", "true")); got != 1 {
		t.Fatalf("expected 1 tool execution, got %v", got)
	}
}

func TestMetricsWorkerCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer(reg)

	m.SetWorkerCounts(3, 1)

	if got := testutil.ToFloat64(m.workersReady); got != 3 {
		t.Fatalf("expected 3 ready workers, got %v", got)
	}
	if got := testutil.ToFloat64(m.workersBusy); got != 1 {
		t.Fatalf("expected 1 busy worker, got %v", got)
	}
}

func TestCorrelationManagerLifecycle(t *testing.T) {
	cm := NewCorrelationManager()
	id := cm.StartRequest("client-1", "tools/call")
	cm.AddRequestMetadata(id, "tool_name", "addNumbers")
	cm.CompleteRequest(id, true, "")

	entry, ok := cm.Get(id)
	if !ok {
		t.Fatal("expected entry to be tracked")
	}
	if !entry.Completed || !entry.Success {
		t.Fatalf("expected completed+success entry, got %+v", entry)
	}
	if entry.Metadata["tool_name"] != "addNumbers" {
		t.Fatalf("expected tool_name metadata, got %+v", entry.Metadata)
	}
}

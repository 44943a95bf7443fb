package restapi

import (
	"context"
	"testing"

	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

func TestExecutionStoreCompleteAfterCancelKeepsCancelledStatus(t *testing.T) {
	s := NewExecutionStore()
	s.Start(context.Background(), "exec-1", "addNumbers", nil)

	if !s.Cancel("exec-1") {
		t.Fatal("expected Cancel to succeed on a running execution")
	}

	// The executing goroutine's coordinator call returns after Cancel()
	// already ran, carrying the cancellation as its error.
	s.Complete("exec-1", nil, 5, taxonomy.New(taxonomy.ExecutionCancelled, "context cancelled"))

	rec, ok := s.Get("exec-1")
	if !ok {
		t.Fatal("expected record to still exist")
	}
	if rec.Execution.Status != task.ExecutionCancelled {
		t.Fatalf("expected Complete to preserve Cancelled status, got %s", rec.Execution.Status)
	}
}

func TestExecutionStoreCompleteAfterTerminalIsNoOp(t *testing.T) {
	s := NewExecutionStore()
	s.Start(context.Background(), "exec-2", "addNumbers", nil)
	s.Complete("exec-2", []byte(`{"ok":true}`), 10, nil)

	// A late, duplicate Complete call (e.g. a retried callback) must not
	// overwrite an already-terminal record.
	s.Complete("exec-2", nil, 20, taxonomy.New(taxonomy.ExecutionFailed, "late failure"))

	rec, _ := s.Get("exec-2")
	if rec.Execution.Status != task.ExecutionCompleted {
		t.Fatalf("expected the first terminal status to stick, got %s", rec.Execution.Status)
	}
}

func TestExecutionStoreCancelUnknownIDReturnsFalse(t *testing.T) {
	s := NewExecutionStore()
	if s.Cancel("missing") {
		t.Fatal("expected Cancel on an unknown id to report false")
	}
}

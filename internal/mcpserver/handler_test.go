package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"ratchet/internal/mcp"
	"ratchet/internal/observability"
	"ratchet/internal/task"
)

type fakeToolRegistry struct {
	tools       []Tool
	deniedTools map[string]bool
	execOutput  json.RawMessage
	execIsError bool
	execErr     error
	calls       []string
}

func (f *fakeToolRegistry) ListTools(ctx context.Context, secCtx task.SecurityContext) ([]Tool, error) {
	return f.tools, nil
}

func (f *fakeToolRegistry) CanAccessTool(name string, secCtx task.SecurityContext) bool {
	return !f.deniedTools[name]
}

func (f *fakeToolRegistry) ExecuteTool(ctx context.Context, name string, arguments json.RawMessage, secCtx task.SecurityContext) (json.RawMessage, bool, error) {
	f.calls = append(f.calls, name)
	if f.execErr != nil {
		return nil, false, f.execErr
	}
	return f.execOutput, f.execIsError, nil
}

func newTestHandler(tools *fakeToolRegistry) *Handler {
	return NewHandler(tools, nil, observability.NewCorrelationManager(), observability.NewMetrics(), observability.NewAuditLogger(16))
}

func manyTools(n int) []Tool {
	out := make([]Tool, n)
	for i := range out {
		out[i] = Tool{Name: fmt.Sprintf("task-%03d", i)}
	}
	return out
}

func TestHandleToolsListPaginatesAllPages(t *testing.T) {
	h := newTestHandler(&fakeToolRegistry{tools: manyTools(120)})

	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "tools/list", nil), task.SecurityContext{ClientID: "c1"})
	if resp.IsError() {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	page := result["tools"].([]Tool)
	if len(page) != pageSize {
		t.Fatalf("expected %d tools, got %d", pageSize, len(page))
	}
	cursor, ok := result["next_cursor"].(string)
	if !ok || cursor == "" {
		t.Fatal("expected a next_cursor for a partial list")
	}

	second := h.HandleRequest(context.Background(), mcp.NewRequest(2, "tools/list", map[string]any{"cursor": cursor}), task.SecurityContext{ClientID: "c1"})
	result2 := second.Result.(map[string]any)
	page2 := result2["tools"].([]Tool)
	if len(page2) != pageSize {
		t.Fatalf("expected second page of %d, got %d", pageSize, len(page2))
	}
	cursor2 := result2["next_cursor"].(string)

	third := h.HandleRequest(context.Background(), mcp.NewRequest(3, "tools/list", map[string]any{"cursor": cursor2}), task.SecurityContext{ClientID: "c1"})
	result3 := third.Result.(map[string]any)
	page3 := result3["tools"].([]Tool)
	if len(page3) != 20 {
		t.Fatalf("expected final page of 20, got %d", len(page3))
	}
	if _, ok := result3["next_cursor"]; ok {
		t.Fatal("expected no next_cursor on the final page")
	}
}

func TestHandleToolsCallPermissionDenied(t *testing.T) {
	reg := &fakeToolRegistry{deniedTools: map[string]bool{"secret-task": true}}
	h := newTestHandler(reg)

	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "tools/call", map[string]any{"name": "secret-task"}), task.SecurityContext{ClientID: "c1"})
	if !resp.IsError() {
		t.Fatal("expected a permission-denied error")
	}
	if resp.Error.Code != mcp.PermissionDenied {
		t.Fatalf("expected PermissionDenied code, got %d", resp.Error.Code)
	}
	if len(reg.calls) != 0 {
		t.Fatal("execution must not be attempted when access is denied")
	}
}

func TestHandleToolsCallSuccess(t *testing.T) {
	reg := &fakeToolRegistry{execOutput: json.RawMessage(`{"ok":true}`)}
	h := newTestHandler(reg)

	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "tools/call", map[string]any{"name": "greet", "arguments": map[string]any{"who": "world"}}), task.SecurityContext{ClientID: "c1"})
	if resp.IsError() {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["is_error"] != false {
		t.Fatalf("expected is_error=false, got %v", result["is_error"])
	}
	if len(reg.calls) != 1 || reg.calls[0] != "greet" {
		t.Fatalf("expected exactly one call to greet, got %v", reg.calls)
	}
}

func TestHandleToolsCallMissingName(t *testing.T) {
	h := newTestHandler(&fakeToolRegistry{})
	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "tools/call", map[string]any{}), task.SecurityContext{ClientID: "c1"})
	if !resp.IsError() || resp.Error.Code != mcp.InvalidParams {
		t.Fatalf("expected InvalidParams, got %+v", resp.Error)
	}
}

func TestHandleResourcesReadRejectsUnsafeURI(t *testing.T) {
	h := newTestHandler(&fakeToolRegistry{})
	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "resources/read", map[string]any{"uri": "ratchet://../../etc/passwd"}), task.SecurityContext{ClientID: "c1"})
	if !resp.IsError() || resp.Error.Code != mcp.InvalidParams {
		t.Fatalf("expected InvalidParams for unsafe URI, got %+v", resp.Error)
	}
}

func TestHandleResourcesListEmptyByDefault(t *testing.T) {
	h := newTestHandler(&fakeToolRegistry{})
	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "resources/list", nil), task.SecurityContext{ClientID: "c1"})
	if resp.IsError() {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if resources, ok := result["resources"].([]Resource); !ok || len(resources) != 0 {
		t.Fatalf("expected no resources by default, got %v", result["resources"])
	}
}

func TestHandleBatchStats(t *testing.T) {
	reg := &fakeToolRegistry{execOutput: json.RawMessage(`{"ok":true}`), deniedTools: map[string]bool{"blocked": true}}
	h := newTestHandler(reg)

	batchReq := mcp.NewRequest(1, "batch", map[string]any{
		"requests": []any{
			map[string]any{"jsonrpc": "2.0", "id": float64(1), "method": "tools/call", "params": map[string]any{"name": "greet"}},
			map[string]any{"jsonrpc": "2.0", "id": float64(2), "method": "tools/call", "params": map[string]any{"name": "blocked"}},
			map[string]any{"jsonrpc": "2.0", "id": float64(3), "method": "nonexistent"},
		},
	})
	resp := h.HandleRequest(context.Background(), batchReq, task.SecurityContext{ClientID: "c1"})
	if resp.IsError() {
		t.Fatalf("unexpected top-level error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	stats := result["stats"].(BatchStats)
	if stats.Total != 3 || stats.Successful != 1 || stats.Failed != 2 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHandleBatchRejectsOversizedBatch(t *testing.T) {
	h := newTestHandler(&fakeToolRegistry{})
	requests := make([]any, 3)
	for i := range requests {
		requests[i] = map[string]any{"jsonrpc": "2.0", "id": float64(i), "method": "tools/list"}
	}
	secCtx := task.SecurityContext{ClientID: "c1", MaxBatchSize: 2}
	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "batch", map[string]any{"requests": requests}), secCtx)
	if !resp.IsError() || resp.Error.Code != mcp.InvalidParams {
		t.Fatalf("expected InvalidParams for oversized batch, got %+v", resp.Error)
	}
}

func TestHandleBatchFallsBackToHandlerDefaultLimit(t *testing.T) {
	h := newTestHandler(&fakeToolRegistry{})
	requests := make([]any, h.maxBatchSize+1)
	for i := range requests {
		requests[i] = map[string]any{"jsonrpc": "2.0", "id": float64(i), "method": "tools/list"}
	}
	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "batch", map[string]any{"requests": requests}), task.SecurityContext{ClientID: "c1"})
	if !resp.IsError() || resp.Error.Code != mcp.InvalidParams {
		t.Fatalf("expected the handler default limit to apply when SecurityContext sets no quota, got %+v", resp.Error)
	}
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	h := newTestHandler(&fakeToolRegistry{})
	resp := h.HandleRequest(context.Background(), mcp.NewRequest(1, "bogus/method", nil), task.SecurityContext{ClientID: "c1"})
	if !resp.IsError() || resp.Error.Code != mcp.MethodNotFound {
		t.Fatalf("expected MethodNotFound, got %+v", resp.Error)
	}
}

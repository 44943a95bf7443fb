package mcpserver

import (
	"context"
	"encoding/json"

	"ratchet/internal/coordinator"
	"ratchet/internal/registry"
	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// ToolRegistry is the subset of behavior tools/list and tools/call need:
// enumerate callable tools, permission-check one by name, and execute it.
// Expressed as an interface so tests can substitute a fake without a real
// registry/coordinator pair.
type ToolRegistry interface {
	ListTools(ctx context.Context, secCtx task.SecurityContext) ([]Tool, error)
	CanAccessTool(name string, secCtx task.SecurityContext) bool
	ExecuteTool(ctx context.Context, name string, arguments json.RawMessage, secCtx task.SecurityContext) (json.RawMessage, bool, error)
}

// TaskToolRegistry adapts a registry.Catalog (for enumeration) and a
// coordinator.Coordinator (for execution) into a ToolRegistry: every
// discoverable task is an MCP tool, named after the task.
type TaskToolRegistry struct {
	catalog     *registry.Catalog
	coordinator *coordinator.Coordinator
	// requiredPermission is checked before tools/call executes any tool;
	// empty disables the check (any authenticated client may call).
	requiredPermission string
}

// NewTaskToolRegistry wires catalog discovery and coordinator dispatch
// into one ToolRegistry.
func NewTaskToolRegistry(catalog *registry.Catalog, coord *coordinator.Coordinator, requiredPermission string) *TaskToolRegistry {
	return &TaskToolRegistry{catalog: catalog, coordinator: coord, requiredPermission: requiredPermission}
}

// ListTools returns one Tool per task the catalog currently indexes.
func (r *TaskToolRegistry) ListTools(ctx context.Context, secCtx task.SecurityContext) ([]Tool, error) {
	metas, _ := r.catalog.DiscoverTasks(ctx)
	tools := make([]Tool, 0, len(metas))
	for _, m := range metas {
		def, err := r.catalog.LoadTaskContent(ctx, m.Name)
		if err != nil {
			continue
		}
		tools = append(tools, Tool{Name: def.Name, InputSchema: def.InputSchema})
	}
	return tools, nil
}

// CanAccessTool reports whether secCtx is permitted to call name.
func (r *TaskToolRegistry) CanAccessTool(name string, secCtx task.SecurityContext) bool {
	if r.requiredPermission == "" {
		return true
	}
	return secCtx.HasPermission(r.requiredPermission)
}

// ExecuteTool dispatches name through the coordinator, translating its
// ExecutionOutcome into the `{content, is_error}` shape tools/call returns.
func (r *TaskToolRegistry) ExecuteTool(ctx context.Context, name string, arguments json.RawMessage, secCtx task.SecurityContext) (json.RawMessage, bool, error) {
	outcome, err := r.coordinator.ExecuteTask(ctx, name, arguments, secCtx)
	if err != nil {
		body, _ := json.Marshal(map[string]string{"message": err.Error(), "kind": string(taxonomy.KindOf(err))})
		return body, true, nil
	}
	return outcome.Output, false, nil
}

package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/mcp"
	"ratchet/internal/observability"
	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// pageSize is the fixed tools/list and resources/list page size, per spec
// §4.6 and the cursor-semantics test vector in spec §8 (120 tools ->
// 50 + 50 + 20).
const pageSize = 50

// ResourceLister enumerates and reads resources/list, resources/read.
// Ratchet ships no resources by default (spec §9's Open Question on
// resource scope); EmptyResourceLister is a complete, correct default.
type ResourceLister interface {
	ListResources(ctx context.Context, secCtx task.SecurityContext) ([]Resource, error)
	ReadResource(ctx context.Context, uri string, secCtx task.SecurityContext) ([]ResourceContent, error)
}

// EmptyResourceLister implements ResourceLister with no resources.
type EmptyResourceLister struct{}

func (EmptyResourceLister) ListResources(ctx context.Context, secCtx task.SecurityContext) ([]Resource, error) {
	return nil, nil
}

func (EmptyResourceLister) ReadResource(ctx context.Context, uri string, secCtx task.SecurityContext) ([]ResourceContent, error) {
	return nil, nil
}

// Handler is the MCP Request Handler (C6): dispatches JSON-RPC 2.0
// requests to tools/resources/batch operations, recording correlation,
// metrics, and an audit trail around every call.
type Handler struct {
	tools       ToolRegistry
	resources   ResourceLister
	correlation *observability.CorrelationManager
	metrics     *observability.Metrics
	audit       *observability.AuditLogger
	logger      *logging.ComponentLogger

	// maxBatchSize is the fallback limit used when a request's
	// SecurityContext carries no MaxBatchSize of its own.
	maxBatchSize int
}

// NewHandler wires a ToolRegistry and the C8 observability stack into a
// Handler. resources may be nil to use EmptyResourceLister.
func NewHandler(tools ToolRegistry, resources ResourceLister, correlation *observability.CorrelationManager, metrics *observability.Metrics, audit *observability.AuditLogger) *Handler {
	if resources == nil {
		resources = EmptyResourceLister{}
	}
	return &Handler{
		tools:        tools,
		resources:    resources,
		correlation:  correlation,
		metrics:      metrics,
		audit:        audit,
		logger:       logging.NewComponentLogger("mcpserver"),
		maxBatchSize: 50,
	}
}

// HandleRequest dispatches one JSON-RPC request to its method handler,
// returning a Response (never erroring at this layer — all failures are
// encoded as a JSON-RPC error response per the wire contract).
func (h *Handler) HandleRequest(ctx context.Context, req mcp.Request, secCtx task.SecurityContext) mcp.Response {
	switch req.Method {
	case "tools/list":
		return h.handleToolsList(ctx, req, secCtx)
	case "tools/call":
		return h.handleToolsCall(ctx, req, secCtx)
	case "resources/list":
		return h.handleResourcesList(ctx, req, secCtx)
	case "resources/read":
		return h.handleResourcesRead(ctx, req, secCtx)
	case "batch":
		return h.handleBatch(ctx, req, secCtx)
	default:
		return mcp.NewErrorResponse(req.ID, mcp.MethodNotFound, "method not found: "+req.Method, nil)
	}
}

func decodeCursor(raw any) int {
	s, ok := raw.(string)
	if !ok || s == "" {
		return 0
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return 0
	}
	idx, err := strconv.Atoi(string(decoded))
	if err != nil || idx < 0 {
		return 0
	}
	return idx
}

func encodeCursor(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(index)))
}

func (h *Handler) withCorrelation(secCtx task.SecurityContext, method string) (requestID string, owned bool) {
	if secCtx.RequestID != "" {
		return secCtx.RequestID, false
	}
	return h.correlation.StartRequest(secCtx.ClientID, method), true
}

func (h *Handler) finishCorrelation(requestID string, owned, success bool, errorCode string) {
	if owned {
		h.correlation.CompleteRequest(requestID, success, errorCode)
	}
}

func (h *Handler) handleToolsList(ctx context.Context, req mcp.Request, secCtx task.SecurityContext) mcp.Response {
	start := time.Now()
	requestID, owned := h.withCorrelation(secCtx, "tools/list")

	all, err := h.tools.ListTools(ctx, secCtx)
	success := err == nil
	defer func() {
		duration := time.Since(start)
		h.metrics.RecordRequest("tools/list", secCtx.ClientID, duration, success)
		h.finishCorrelation(requestID, owned, success, "")
		h.audit.LogToolExecution(secCtx.ClientID, "tools/list", success, duration.Milliseconds(), requestID)
	}()
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.CodeForKind(taxonomy.KindOf(err)), "failed to list tools", err.Error())
	}

	startIndex := 0
	if req.Params != nil {
		startIndex = decodeCursor(req.Params["cursor"])
	}
	if startIndex > len(all) {
		startIndex = len(all)
	}
	endIndex := startIndex + pageSize
	if endIndex > len(all) {
		endIndex = len(all)
	}

	result := map[string]any{"tools": all[startIndex:endIndex]}
	if endIndex < len(all) {
		result["next_cursor"] = encodeCursor(endIndex)
	}
	return mcp.NewResponse(req.ID, result)
}

func (h *Handler) handleToolsCall(ctx context.Context, req mcp.Request, secCtx task.SecurityContext) mcp.Response {
	start := time.Now()
	requestID, owned := h.withCorrelation(secCtx, "tools/call")

	name, _ := req.Params["name"].(string)
	if name == "" {
		h.finishCorrelation(requestID, owned, false, "invalid_params")
		return mcp.NewErrorResponse(req.ID, mcp.InvalidParams, "missing required param: name", nil)
	}

	if !h.tools.CanAccessTool(name, secCtx) {
		duration := time.Since(start)
		h.metrics.RecordRequest("tools/call", secCtx.ClientID, duration, false)
		h.finishCorrelation(requestID, owned, false, "authorization_denied")
		h.audit.LogAuthorization(secCtx.ClientID, name, "call", false, "permission denied")
		return mcp.NewErrorResponse(req.ID, mcp.PermissionDenied, "access denied to tool: "+name, nil)
	}
	h.correlation.AddRequestMetadata(requestID, "tool_name", name)

	var arguments json.RawMessage
	if raw, ok := req.Params["arguments"]; ok {
		arguments, _ = json.Marshal(raw)
	}

	content, isError, err := h.tools.ExecuteTool(ctx, name, arguments, secCtx)
	success := err == nil && !isError
	duration := time.Since(start)
	h.metrics.RecordRequest("tools/call", secCtx.ClientID, duration, success)
	h.metrics.RecordToolExecution(name, secCtx.ClientID, duration, success)
	h.finishCorrelation(requestID, owned, success, "")
	h.audit.LogToolExecution(secCtx.ClientID, name, success, duration.Milliseconds(), requestID)

	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.CodeForKind(taxonomy.KindOf(err)), "tool execution failed", err.Error())
	}
	var contentAny any
	if len(content) > 0 {
		_ = json.Unmarshal(content, &contentAny)
	}
	return mcp.NewResponse(req.ID, map[string]any{"content": contentAny, "is_error": isError})
}

func (h *Handler) handleResourcesList(ctx context.Context, req mcp.Request, secCtx task.SecurityContext) mcp.Response {
	resources, err := h.resources.ListResources(ctx, secCtx)
	if err != nil {
		return mcp.NewErrorResponse(req.ID, mcp.CodeForKind(taxonomy.KindOf(err)), "failed to list resources", err.Error())
	}
	h.audit.LogAuthorization(secCtx.ClientID, "resources", "list", true, "")
	return mcp.NewResponse(req.ID, map[string]any{"resources": resources})
}

func (h *Handler) handleResourcesRead(ctx context.Context, req mcp.Request, secCtx task.SecurityContext) mcp.Response {
	uri, _ := req.Params["uri"].(string)
	if uri == "" {
		return mcp.NewErrorResponse(req.ID, mcp.InvalidParams, "missing required param: uri", nil)
	}
	if !isSafeResourceURI(uri) {
		return mcp.NewErrorResponse(req.ID, mcp.InvalidParams, "invalid or unsafe resource URI", uri)
	}

	contents, err := h.resources.ReadResource(ctx, uri, secCtx)
	if err != nil {
		h.audit.LogAuthorization(secCtx.ClientID, uri, "read", false, err.Error())
		return mcp.NewErrorResponse(req.ID, mcp.CodeForKind(taxonomy.KindOf(err)), "failed to read resource", err.Error())
	}
	h.audit.LogAuthorization(secCtx.ClientID, uri, "read", true, "")
	return mcp.NewResponse(req.ID, map[string]any{"contents": contents})
}

// BatchStats is the `stats` field of a batch response, per spec §4.6.
type BatchStats struct {
	Total      int `json:"total_requests"`
	Successful int `json:"successful_requests"`
	Failed     int `json:"failed_requests"`
	Skipped    int `json:"skipped_requests"`
}

func (h *Handler) handleBatch(ctx context.Context, req mcp.Request, secCtx task.SecurityContext) mcp.Response {
	rawRequests, _ := req.Params["requests"].([]any)
	if rawRequests == nil {
		return mcp.NewErrorResponse(req.ID, mcp.InvalidParams, "missing required param: requests", nil)
	}
	limit := h.maxBatchSize
	if secCtx.MaxBatchSize > 0 {
		limit = secCtx.MaxBatchSize
	}
	if len(rawRequests) > limit {
		return mcp.NewErrorResponse(req.ID, mcp.InvalidParams, "batch size exceeds the allowed limit", map[string]int{"limit": limit, "requested": len(rawRequests)})
	}

	responses := make([]mcp.Response, 0, len(rawRequests))
	stats := BatchStats{Total: len(rawRequests)}

	for _, raw := range rawRequests {
		body, err := json.Marshal(raw)
		if err != nil {
			stats.Skipped++
			continue
		}
		item, err := mcp.UnmarshalRequest(body)
		if err != nil {
			stats.Skipped++
			continue
		}
		resp := h.handleSingleRequest(ctx, item, secCtx)
		if resp.IsError() {
			stats.Failed++
		} else {
			stats.Successful++
		}
		responses = append(responses, resp)
	}

	h.audit.LogAuthorization(secCtx.ClientID, "batch", "execute", stats.Failed == 0,
		"success="+strconv.Itoa(stats.Successful)+" failed="+strconv.Itoa(stats.Failed)+" skipped="+strconv.Itoa(stats.Skipped))

	return mcp.NewResponse(req.ID, map[string]any{"responses": responses, "stats": stats})
}

// handleSingleRequest dispatches one request within a batch, restricted to
// the non-recursive methods per spec §4.6 (batch cannot itself be batched).
func (h *Handler) handleSingleRequest(ctx context.Context, req mcp.Request, secCtx task.SecurityContext) mcp.Response {
	switch req.Method {
	case "tools/list", "tools/call", "resources/list", "resources/read":
		return h.HandleRequest(ctx, req, secCtx)
	default:
		return mcp.NewErrorResponse(req.ID, mcp.MethodNotFound, "method not found: "+req.Method, nil)
	}
}

// isSafeResourceURI rejects path traversal and disallows any scheme but
// ratchet's own, per spec §4.6: "no path traversal, scheme allowlist."
func isSafeResourceURI(uri string) bool {
	if uri == "" {
		return false
	}
	if containsDotDot(uri) {
		return false
	}
	const allowedScheme = "ratchet://"
	return len(uri) > len(allowedScheme) && uri[:len(allowedScheme)] == allowedScheme
}

func containsDotDot(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '.' && s[i+1] == '.' {
			return true
		}
	}
	return false
}

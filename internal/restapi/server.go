// Package restapi implements Ratchet's thin REST façade: a
// collaborator-facing surface over C4 (execute/retry/cancel) and C5
// (list tasks), authenticated by a shared bearer token. Grounded on
// internal/delivery/server/http/router.go's Go 1.22+ method-pattern mux
// and middleware-chaining shape, narrowed to Ratchet's own endpoint set.
package restapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ratchet/internal/coordinator"
	"ratchet/internal/logging"
	"ratchet/internal/registry"
	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// Server wires the coordinator, registry catalog, and execution store
// into the REST façade's handlers.
type Server struct {
	coordinator *coordinator.Coordinator
	catalog     *registry.Catalog
	executions  *ExecutionStore
	logger      *logging.ComponentLogger
}

// NewServer builds a Server ready to mount via Handler.
func NewServer(coord *coordinator.Coordinator, catalog *registry.Catalog, executions *ExecutionStore) *Server {
	if executions == nil {
		executions = NewExecutionStore()
	}
	return &Server{
		coordinator: coord,
		catalog:     catalog,
		executions:  executions,
		logger:      logging.NewComponentLogger("restapi"),
	}
}

// Handler returns the mux-wrapped, middleware-chained http.Handler, ready
// to be passed to http.ListenAndServe.
func (s *Server) Handler(bearerToken string, permissions []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/tasks/{name}/execute", s.handleExecute)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/v1/executions/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /health", s.handleHealth)

	var handler http.Handler = mux
	handler = BearerAuthMiddleware(bearerToken, permissions)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	return handler
}

type executeRequest struct {
	Input json.RawMessage `json:"input"`
}

type executeResponse struct {
	ExecutionID string          `json:"execution_id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	DurationMs  int64           `json:"duration_ms,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req executeRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}

	secCtx := SecurityContextFromRequest(r)
	executionID := uuid.NewString()
	ctx := s.executions.Start(r.Context(), executionID, name, req.Input)

	start := time.Now()
	outcome, err := s.coordinator.ExecuteTask(ctx, name, req.Input, secCtx)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		s.executions.Complete(executionID, nil, duration, err)
		writeJSON(w, taxonomy.HTTPStatus(err), executeResponse{
			ExecutionID: executionID,
			Status:      "Failed",
			Error:       err.Error(),
		})
		return
	}

	s.executions.Complete(executionID, outcome.Output, duration, nil)
	writeJSON(w, http.StatusOK, executeResponse{
		ExecutionID: executionID,
		Status:      "Completed",
		Output:      outcome.Output,
		DurationMs:  outcome.DurationMs,
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.executions.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "execution not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, rec.Execution)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	metas, sourceErrs := s.catalog.DiscoverTasks(r.Context())
	resp := map[string]any{"tasks": metas}
	if len(sourceErrs) > 0 {
		errs := make([]string, 0, len(sourceErrs))
		for _, se := range sourceErrs {
			errs = append(errs, se.Origin+": "+se.Err.Error())
		}
		resp["source_errors"] = errs
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.executions.Cancel(id) {
		writeJSONError(w, http.StatusConflict, "execution cannot be cancelled", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"execution_id": id, "status": "Cancelled"})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := s.executions.Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "execution not found", nil)
		return
	}
	if !rec.Execution.Status.IsTerminal() || rec.Execution.Status == task.ExecutionCompleted {
		writeJSONError(w, http.StatusConflict, "only a failed or cancelled execution can be retried", nil)
		return
	}

	secCtx := SecurityContextFromRequest(r)
	newID := uuid.NewString()
	ctx := s.executions.Start(r.Context(), newID, rec.Execution.TaskID, rec.Execution.Input)
	s.executions.mu.Lock()
	if retried, ok := s.executions.records[newID]; ok {
		retried.Execution.RetriedFrom = id
	}
	s.executions.mu.Unlock()

	start := time.Now()
	outcome, err := s.coordinator.ExecuteTask(ctx, rec.Execution.TaskID, rec.Execution.Input, secCtx)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		s.executions.Complete(newID, nil, duration, err)
		writeJSON(w, taxonomy.HTTPStatus(err), executeResponse{ExecutionID: newID, Status: "Failed", Error: err.Error()})
		return
	}
	s.executions.Complete(newID, outcome.Output, duration, nil)
	writeJSON(w, http.StatusOK, executeResponse{ExecutionID: newID, Status: "Completed", Output: outcome.Output, DurationMs: outcome.DurationMs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, message string, err error) {
	body := errorBody{Message: message}
	if err != nil {
		body.Detail = err.Error()
	}
	writeJSON(w, status, body)
}

package restapi

import (
	"context"
	"sync"
	"time"

	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// ExecutionRecord is what the REST façade hands back for
// GET /api/v1/executions/{id}: an Execution plus the cancel func needed
// to support POST .../cancel while the call is still in flight.
type ExecutionRecord struct {
	Execution task.Execution
	cancel    context.CancelFunc
}

// ExecutionStore tracks one ExecutionRecord per task execution the REST
// façade has dispatched, so GET/cancel/retry can look a prior call back
// up by ID. Grounded on the teacher's in-process DataCache idiom
// (internal/delivery/server/http/data_cache.go): a small mutex-guarded
// map, no persistence layer, built for a single-process deployment.
type ExecutionStore struct {
	mu      sync.RWMutex
	records map[string]*ExecutionRecord
}

// NewExecutionStore returns an empty store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{records: make(map[string]*ExecutionRecord)}
}

// Start registers a new Running execution and returns a context tied to
// its cancel func, so HandleCancel can stop it mid-flight.
func (s *ExecutionStore) Start(ctx context.Context, id, taskRef string, input []byte) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = &ExecutionRecord{
		Execution: task.Execution{
			UUID:      id,
			TaskID:    taskRef,
			Input:     input,
			Status:    task.ExecutionRunning,
			QueuedAt:  time.Now(),
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}
	return ctx
}

// Complete records the terminal state of a previously Start()-ed execution.
// A concurrent Cancel() may already have moved the record to its terminal
// Cancelled state before the executing goroutine returns here; in that
// case the cancellation wins and Complete leaves it alone rather than
// clobbering it back to Failed.
func (s *ExecutionStore) Complete(id string, output []byte, durationMs int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Execution.Status.IsTerminal() {
		return
	}
	rec.Execution.CompletedAt = time.Now()
	rec.Execution.DurationMs = durationMs
	if err != nil {
		if taxonomy.KindOf(err) == taxonomy.ExecutionCancelled {
			rec.Execution.Status = task.ExecutionCancelled
			return
		}
		rec.Execution.Status = task.ExecutionFailed
		rec.Execution.ErrorMessage = err.Error()
		return
	}
	rec.Execution.Status = task.ExecutionCompleted
	rec.Execution.Output = output
}

// Get returns the record for id, if any.
func (s *ExecutionStore) Get(id string) (ExecutionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return ExecutionRecord{}, false
	}
	return *rec, true
}

// Cancel cancels id's context if it is still running, marking it
// Cancelled. Reports false if id is unknown or already terminal.
func (s *ExecutionStore) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Execution.Status.IsTerminal() {
		return false
	}
	rec.cancel()
	rec.Execution.Status = task.ExecutionCancelled
	rec.Execution.CompletedAt = time.Now()
	return true
}

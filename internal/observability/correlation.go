// Package observability implements C8: per-request correlation, Prometheus
// metrics, and a bounded-queue audit logger, grounded on the teacher's
// internal/observability package (NewXWithRegisterer constructor idiom,
// prometheus.Registerer injection for test isolation) and on
// ratchet-mcp/src/correlation.rs's start_request/complete_request shape.
package observability

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CorrelationEntry tracks one in-flight or completed request.
type CorrelationEntry struct {
	RequestID string
	ClientID  string
	Method    string
	StartedAt time.Time
	Metadata  map[string]string

	Completed bool
	Success   bool
	ErrorCode string
	Duration  time.Duration
}

// CorrelationManager assigns and tracks request IDs across a call's
// lifetime, per ratchet-mcp's correlation manager.
type CorrelationManager struct {
	mu      sync.Mutex
	entries map[string]*CorrelationEntry
}

// NewCorrelationManager constructs an empty CorrelationManager.
func NewCorrelationManager() *CorrelationManager {
	return &CorrelationManager{entries: make(map[string]*CorrelationEntry)}
}

// StartRequest allocates a fresh request ID and records the start time.
func (m *CorrelationManager) StartRequest(clientID, method string) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.entries[id] = &CorrelationEntry{RequestID: id, ClientID: clientID, Method: method, StartedAt: time.Now(), Metadata: map[string]string{}}
	m.mu.Unlock()
	return id
}

// AddRequestMetadata attaches a key/value pair to requestID's entry, if it
// is still tracked.
func (m *CorrelationManager) AddRequestMetadata(requestID, key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[requestID]; ok {
		e.Metadata[key] = value
	}
}

// CompleteRequest marks requestID as finished.
func (m *CorrelationManager) CompleteRequest(requestID string, success bool, errorCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[requestID]
	if !ok {
		return
	}
	e.Completed = true
	e.Success = success
	e.ErrorCode = errorCode
	e.Duration = time.Since(e.StartedAt)
}

// Get returns a copy of requestID's entry, for inspection/testing.
func (m *CorrelationManager) Get(requestID string) (CorrelationEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[requestID]
	if !ok {
		return CorrelationEntry{}, false
	}
	return *e, true
}

// Prune removes completed entries older than maxAge, bounding memory use
// over a long-running server's lifetime.
func (m *CorrelationManager) Prune(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.entries {
		if e.Completed && time.Since(e.StartedAt) > maxAge {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

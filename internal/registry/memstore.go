package registry

import (
	"context"
	"sync"

	"ratchet/internal/task"
)

// MemStore is an in-memory Store, used by tests and by deployments that
// run without a persistent backing store. Keyed by (repository, name).
type MemStore struct {
	mu   sync.RWMutex
	tasks map[string]task.UnifiedTask
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]task.UnifiedTask)}
}

func memKey(repository, name string) string { return repository + "\x00" + name }

func (s *MemStore) List(ctx context.Context, repository string) ([]task.UnifiedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.UnifiedTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.Repository == repository {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *MemStore) Upsert(ctx context.Context, t task.UnifiedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[memKey(t.Repository, t.Name)] = t
	return nil
}

// Get returns the stored UnifiedTask for (repository, name), for tests.
func (s *MemStore) Get(repository, name string) (task.UnifiedTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[memKey(repository, name)]
	return t, ok
}

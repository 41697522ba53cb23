package taskstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process task store for tests and single-process
// deployments.
type MemoryStore struct {
	tasks map[string]*Task
	mu    sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// UpdateStatus implements Store.
func (s *MemoryStore) UpdateStatus(_ context.Context, workflowID string, status Status, currentStep, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	task, ok := s.tasks[workflowID]
	if !ok {
		task = &Task{WorkflowID: workflowID, CreatedAt: now}
		s.tasks[workflowID] = task
	}
	task.Status = status
	task.CurrentStep = currentStep
	task.Error = errMsg
	task.UpdatedAt = now
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, workflowID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[workflowID]
	if !ok {
		return nil, fmt.Errorf("task not found: %s", workflowID)
	}
	out := *task
	return &out, nil
}

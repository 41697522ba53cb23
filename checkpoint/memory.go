package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-process checkpoint store for tests and
// single-process deployments.
type MemoryStore struct {
	envelopes map[string]*Envelope
	mu        sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{envelopes: make(map[string]*Envelope)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, env *Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.envelopes[env.WorkflowID]
	switch {
	case !exists && env.Revision != 1:
		return errStale(env.WorkflowID, env.Revision)
	case exists && env.Revision != current.Revision+1:
		return errStale(env.WorkflowID, env.Revision)
	}

	s.envelopes[env.WorkflowID] = copyEnvelope(env)
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, workflowID string) (*Envelope, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	env, ok := s.envelopes[workflowID]
	if !ok {
		return nil, false, nil
	}
	return copyEnvelope(env), true, nil
}

func copyEnvelope(env *Envelope) *Envelope {
	out := *env
	out.State = append([]byte(nil), env.State...)
	return &out
}

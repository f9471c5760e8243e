// Package executionstore implements the ExecutionStore collaborator
// internal/workflow consumes (spec.md §6): an in-memory implementation
// for tests, and a Postgres-backed implementation persisting a full
// snapshot plus a per-transition JSON Patch audit trail.
package executionstore

import (
	"fmt"
	"sync"

	"github.com/celerity/runtime-go/internal/workflow"
)

// MemoryStore is a non-persistent ExecutionStore, safe for concurrent
// use, for tests and single-process deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	execs map[string]workflow.Execution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{execs: make(map[string]workflow.Execution)}
}

func (s *MemoryStore) SaveWorkflowExecution(id string, payload workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs[id] = payload
	return nil
}

func (s *MemoryStore) GetWorkflowExecution(id string) (workflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[id]
	if !ok {
		return workflow.Execution{}, fmt.Errorf("execution %q not found", id)
	}
	return exec, nil
}

package executionstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerity/runtime-go/internal/workflow"
)

func TestMemoryStoreSaveThenGetRoundTrips(t *testing.T) {
	store := NewMemoryStore()
	exec := workflow.Execution{ID: "exec-1", Status: workflow.StatusRunning, Started: 100}

	require.NoError(t, store.SaveWorkflowExecution("exec-1", exec))

	got, err := store.GetWorkflowExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, exec, got)
}

func TestMemoryStoreGetMissingReturnsError(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetWorkflowExecution("missing")
	assert.Error(t, err)
}

func TestMemoryStoreSaveOverwritesPreviousSnapshot(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SaveWorkflowExecution("exec-1", workflow.Execution{ID: "exec-1", Status: workflow.StatusRunning}))
	require.NoError(t, store.SaveWorkflowExecution("exec-1", workflow.Execution{ID: "exec-1", Status: workflow.StatusSucceeded}))

	got, err := store.GetWorkflowExecution("exec-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSucceeded, got.Status)
}

package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerity/runtime-go/internal/blueprint"
	"github.com/celerity/runtime-go/internal/template"
)

type memStore struct {
	saved map[string]Execution
}

func newMemStore() *memStore { return &memStore{saved: make(map[string]Execution)} }

func (s *memStore) SaveWorkflowExecution(id string, payload Execution) error {
	s.saved[id] = payload
	return nil
}

func (s *memStore) GetWorkflowExecution(id string) (Execution, error) {
	return s.saved[id], nil
}

func newTestInstance(spec *blueprint.WorkflowSpec, handlers map[string]StepHandler) (*Instance, *memStore) {
	store := newMemStore()
	events := NewBroadcaster()
	inst := NewInstance(spec, handlers, store, events, template.NewEngine(), nil)
	return inst, store
}

func TestExecuteStepSucceedsThroughToEnd(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "step1",
		States: map[string]*blueprint.State{
			"step1": {Name: "step1", Type: blueprint.StateTypeExecuteStep, Next: "done"},
			"done":  {Name: "done", Type: blueprint.StateTypeSuccess},
		},
	}
	handlers := map[string]StepHandler{
		"step1": func(ctx StepContext) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	}
	inst, _ := newTestInstance(spec, handlers)

	exec := inst.Start("exec-1", map[string]any{"in": 1})

	assert.Equal(t, StatusSucceeded, exec.Status)
	require.Len(t, exec.States, 2)
	assert.Equal(t, "step1", exec.States[0].Name)
	assert.Equal(t, StatusSucceeded, exec.States[0].Status)
	assert.Equal(t, "done", exec.States[1].Name)
}

func TestExecuteStepMissingHandlerFailsExecution(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "step1",
		States: map[string]*blueprint.State{
			"step1": {Name: "step1", Type: blueprint.StateTypeExecuteStep, End: true},
		},
	}
	inst, _ := newTestInstance(spec, map[string]StepHandler{})

	exec := inst.Start("exec-2", map[string]any{})

	assert.Equal(t, StatusFailed, exec.Status)
	require.Len(t, exec.States, 1)
	assert.Equal(t, "MissingHandler", exec.States[0].ErrorName)
}

func TestRetryableHandlerFailureSucceedsAfterRetries(t *testing.T) {
	attempts := 0
	spec := &blueprint.WorkflowSpec{
		StartState: "flaky",
		States: map[string]*blueprint.State{
			"flaky": {
				Name: "flaky", Type: blueprint.StateTypeExecuteStep, End: true,
				Retry: []blueprint.RetryEntry{
					{MatchErrors: []string{"*"}, Interval: 0.001, MaxAttempts: 3, BackoffRate: 1.0},
				},
			},
		},
	}
	handlers := map[string]StepHandler{
		"flaky": func(ctx StepContext) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, &HandlerError{Name: "Flaky", Message: "not yet"}
			}
			return "done", nil
		},
	}
	inst, _ := newTestInstance(spec, handlers)

	exec := inst.Start("exec-3", "in")

	assert.Equal(t, StatusSucceeded, exec.Status)
	assert.Equal(t, 3, attempts)
	require.Len(t, exec.States, 3)
	assert.Equal(t, StatusFailed, exec.States[0].Status)
	assert.Equal(t, StatusFailed, exec.States[1].Status)
	assert.Equal(t, StatusSucceeded, exec.States[2].Status)
}

func TestRetryExhaustionFallsThroughToCatch(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "flaky",
		States: map[string]*blueprint.State{
			"flaky": {
				Name: "flaky", Type: blueprint.StateTypeExecuteStep, End: true,
				Retry: []blueprint.RetryEntry{
					{MatchErrors: []string{"*"}, Interval: 0.001, MaxAttempts: 2, BackoffRate: 1.0},
				},
				Catch: []blueprint.CatchEntry{
					{MatchErrors: []string{"*"}, Next: "recover", ResultPath: "$.err"},
				},
			},
			"recover": {Name: "recover", Type: blueprint.StateTypeSuccess},
		},
	}
	handlers := map[string]StepHandler{
		"flaky": func(ctx StepContext) (any, error) {
			return nil, &HandlerError{Name: "AlwaysFails", Message: "boom"}
		},
	}
	inst, _ := newTestInstance(spec, handlers)

	exec := inst.Start("exec-4", map[string]any{"a": 1})

	assert.Equal(t, StatusSucceeded, exec.Status)
	require.Len(t, exec.States, 3)
	assert.Equal(t, "flaky", exec.States[0].Name)
	assert.Equal(t, "flaky", exec.States[1].Name)
	assert.Equal(t, "recover", exec.States[2].Name)
	errVal, ok := exec.States[2].Input.(map[string]any)["err"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AlwaysFails", errVal["error"])
}

func TestNonCatchableErrorFailsExecutionImmediately(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "missing",
		States:     map[string]*blueprint.State{},
	}
	inst, _ := newTestInstance(spec, nil)
	exec := inst.Start("exec-5", nil)
	assert.Equal(t, StatusFailed, exec.Status)
}

func TestFailureStateMarksItsOwnRecordFailed(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "doomed",
		States: map[string]*blueprint.State{
			"doomed": {
				Name: "doomed", Type: blueprint.StateTypeFailure,
				FailureConfig: &blueprint.FailureConfig{ErrorName: "Doomed", ErrorMessage: "always fails"},
			},
		},
	}
	inst, _ := newTestInstance(spec, nil)

	exec := inst.Start("exec-14", "in")

	assert.Equal(t, StatusFailed, exec.Status)
	require.Len(t, exec.States, 1)
	assert.Equal(t, StatusFailed, exec.States[0].Status, "tail record status must match the terminal execution status")
}

func TestParallelStateCollectsBranchOutputsInOrder(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "fanout",
		States: map[string]*blueprint.State{
			"fanout": {
				Name: "fanout", Type: blueprint.StateTypeParallel, End: true,
				ParallelBranches: []blueprint.ParallelBranch{
					{
						StartState: "a",
						States: map[string]*blueprint.State{
							"a": {Name: "a", Type: blueprint.StateTypeExecuteStep, End: true},
						},
					},
					{
						StartState: "b",
						States: map[string]*blueprint.State{
							"b": {Name: "b", Type: blueprint.StateTypeExecuteStep, End: true},
						},
					},
				},
			},
		},
	}
	handlers := map[string]StepHandler{
		"a": func(ctx StepContext) (any, error) { return "A", nil },
		"b": func(ctx StepContext) (any, error) { return "B", nil },
	}
	inst, _ := newTestInstance(spec, handlers)

	exec := inst.Start("exec-6", nil)

	assert.Equal(t, StatusSucceeded, exec.Status)
	// the parallel state's record is appended before its branches' records
	fanout := exec.States[0]
	require.Equal(t, "fanout", fanout.Name)
	outs, ok := fanout.Output.([]any)
	require.True(t, ok)
	require.Len(t, outs, 2)
	assert.Equal(t, []any{"A", "B"}, outs)
}

func TestParallelBranchFailurePropagatesAsBranchesFailed(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "fanout",
		States: map[string]*blueprint.State{
			"fanout": {
				Name: "fanout", Type: blueprint.StateTypeParallel, End: true,
				ParallelBranches: []blueprint.ParallelBranch{
					{
						StartState: "a",
						States: map[string]*blueprint.State{
							"a": {Name: "a", Type: blueprint.StateTypeExecuteStep, End: true},
						},
					},
				},
			},
		},
	}
	handlers := map[string]StepHandler{
		"a": func(ctx StepContext) (any, error) { return nil, &HandlerError{Name: "Boom", Message: "x"} },
	}
	inst, _ := newTestInstance(spec, handlers)

	exec := inst.Start("exec-7", nil)

	assert.Equal(t, StatusFailed, exec.Status)
}

func TestWaitStateSleepsThenSucceeds(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "pause",
		States: map[string]*blueprint.State{
			"pause": {
				Name: "pause", Type: blueprint.StateTypeWait, End: true,
				WaitConfig: &blueprint.WaitConfig{Seconds: "0"},
			},
		},
	}
	inst, _ := newTestInstance(spec, nil)

	start := time.Now()
	exec := inst.Start("exec-8", "payload")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusSucceeded, exec.Status)
	assert.Equal(t, "payload", exec.States[0].Output)
}

func TestDecisionStateRoutesToFirstMatchingCase(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "branch",
		States: map[string]*blueprint.State{
			"branch": {
				Name: "branch", Type: blueprint.StateTypeDecision,
				Decisions: []blueprint.DecisionCase{
					{Condition: "input.flag == true", Next: "yes"},
					{Condition: "true", Next: "no"},
				},
			},
			"yes": {Name: "yes", Type: blueprint.StateTypeSuccess},
			"no":  {Name: "no", Type: blueprint.StateTypeSuccess},
		},
	}
	inst, _ := newTestInstance(spec, nil)

	exec := inst.Start("exec-9", map[string]any{"flag": true})

	assert.Equal(t, StatusSucceeded, exec.Status)
	last := exec.States[len(exec.States)-1]
	assert.Equal(t, "yes", last.Name)
}

func TestDecisionStateNoMatchFailsExecution(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "branch",
		States: map[string]*blueprint.State{
			"branch": {
				Name: "branch", Type: blueprint.StateTypeDecision,
				Decisions: []blueprint.DecisionCase{
					{Condition: "false", Next: "yes"},
				},
			},
			"yes": {Name: "yes", Type: blueprint.StateTypeSuccess},
		},
	}
	inst, _ := newTestInstance(spec, nil)

	exec := inst.Start("exec-10", map[string]any{})
	assert.Equal(t, StatusFailed, exec.Status)
}

func TestResultPathInjectsHandlerOutputIntoInput(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "step1",
		States: map[string]*blueprint.State{
			"step1": {
				Name: "step1", Type: blueprint.StateTypeExecuteStep, End: true,
				ResultPath: "$.result",
			},
		},
	}
	handlers := map[string]StepHandler{
		"step1": func(ctx StepContext) (any, error) { return "computed", nil },
	}
	inst, _ := newTestInstance(spec, handlers)

	exec := inst.Start("exec-11", map[string]any{"a": 1})

	assert.Equal(t, StatusSucceeded, exec.Status)
	out, ok := exec.States[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "computed", out["result"])
	assert.Equal(t, float64(1), out["a"])
}

func TestPassStateForwardsInputUnchanged(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "noop",
		States: map[string]*blueprint.State{
			"noop": {Name: "noop", Type: blueprint.StateTypePass, End: true},
		},
	}
	inst, _ := newTestInstance(spec, nil)

	exec := inst.Start("exec-12", "raw")

	assert.Equal(t, StatusSucceeded, exec.Status)
	assert.Equal(t, "raw", exec.States[0].Output)
}

func TestExecutionEventsAreBroadcastOnTransitionAndCompletion(t *testing.T) {
	spec := &blueprint.WorkflowSpec{
		StartState: "step1",
		States: map[string]*blueprint.State{
			"step1": {Name: "step1", Type: blueprint.StateTypeExecuteStep, End: true},
		},
	}
	handlers := map[string]StepHandler{
		"step1": func(ctx StepContext) (any, error) { return "ok", nil },
	}
	store := newMemStore()
	events := NewBroadcaster()
	sub := events.Subscribe()
	inst := NewInstance(spec, handlers, store, events, template.NewEngine(), nil)

	inst.Start("exec-13", nil)

	var kinds []EventKind
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub:
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast event")
		}
	}
	assert.Contains(t, kinds, EventStateTransition)
	assert.Contains(t, kinds, EventExecutionComplete)
}

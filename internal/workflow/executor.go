package workflow

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/celerity/runtime-go/common/logger"
	"github.com/celerity/runtime-go/internal/blueprint"
	"github.com/celerity/runtime-go/internal/metrics"
)

// NewInstance builds a state-machine instance bound to spec, dispatching
// execute-step states to handlers (keyed by state name), persisting
// through store and broadcasting execution events through events. log
// is scoped per execution in Start via Logger.WithExecutionID.
func NewInstance(spec *blueprint.WorkflowSpec, handlers map[string]StepHandler, store ExecutionStore, events *Broadcaster, renderer Renderer, log *logger.Logger) *Instance {
	return &Instance{
		spec:      spec,
		handlers:  handlers,
		store:     store,
		events:    events,
		evaluator: NewConditionEvaluator(),
		renderer:  renderer,
		log:       log,
	}
}

// stateScope identifies which states map a name is resolved against:
// the top-level workflow, or one parallel branch's local map. parent is
// the enclosing parallel state's name, carried only for record-keeping.
type stateScope struct {
	states map[string]*blueprint.State
	parent string
}

// Start runs the execution to completion (success or failure) and
// returns the final snapshot. It never returns an error itself: all
// failure is captured in the returned Execution's Status/StatusDetail,
// matching spec.md §4.6's "own the mutable WorkflowExecution" model.
func (i *Instance) Start(executionID string, input any) Execution {
	i.mu.Lock()
	i.exec = &Execution{
		ID:      executionID,
		Input:   input,
		Started: nowMs(),
		Status:  StatusRunning,
	}
	if i.log != nil {
		i.execLog = i.log.WithExecutionID(executionID)
	}
	i.mu.Unlock()

	metrics.WorkflowExecutionsInProgress.Inc()
	defer metrics.WorkflowExecutionsInProgress.Dec()

	scope := stateScope{states: i.spec.States}
	_, err := i.executeStateAndHandleError(scope, i.spec.StartState, input, nil)
	if err != nil {
		i.finish(StatusFailed, err.Error())
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exec.Snapshot()
}

func (i *Instance) finish(status Status, detail string) {
	i.mu.Lock()
	completed := nowMs()
	i.exec.Completed = &completed
	duration := completed - i.exec.Started
	i.exec.DurationMs = &duration
	i.exec.Status = status
	i.exec.StatusDetail = detail
	snapshot := i.exec.Snapshot()
	i.mu.Unlock()

	_ = i.store.SaveWorkflowExecution(i.exec.ID, snapshot)
	i.events.Publish(Event{Kind: EventExecutionComplete, Execution: &snapshot})
	metrics.WorkflowExecutionDurationSeconds.Observe(float64(duration) / 1000)

	if i.execLog != nil {
		if status == StatusFailed {
			i.execLog.Warn("workflow execution failed", "detail", detail, "duration_ms", duration)
		} else {
			i.execLog.Info("workflow execution finished", "status", status, "duration_ms", duration)
		}
	}
}

// executeStateAndHandleError implements spec.md §4.6's per-state
// procedure and its retry/catch error handling. A nil error return means
// the state (and everything reachable through its `next`/`end`) reached
// a terminal success; a non-nil return means the whole execution has
// failed (retry/catch were already attempted and exhausted).
func (i *Instance) executeStateAndHandleError(scope stateScope, stateName string, input any, prevRecord *StateExecutionRecord) (any, *StateError) {
	state, ok := scope.states[stateName]
	if !ok {
		return nil, newStateError(ErrStateNotFound, "", fmt.Sprintf("state %q not found", stateName), nil)
	}

	attempt := 1
	if prevRecord != nil && prevRecord.Name == stateName {
		attempt = prevRecord.Attempt + 1
	}

	finalInput := input
	if state.InputPath != "" {
		extracted, err := i.renderer.Extract(input, state.InputPath)
		if err != nil {
			return nil, newStateError(ErrInvalidInputPath, "", err.Error(), err)
		}
		finalInput = extracted
	}

	started := nowMs()
	instant := time.Now()

	idx := i.beginRecord(stateName, scope.parent, attempt, finalInput, started)

	output, stateErr := i.dispatch(scope, state, stateName, finalInput)
	if stateErr != nil {
		return i.handleError(scope, state, stateName, input, idx, stateErr)
	}

	if state.Type == blueprint.StateTypeDecision {
		dr := output.(decisionResult)
		duration := time.Since(instant).Milliseconds()
		i.completeRecord(idx, StatusSucceeded, dr.input, duration, "", "")
		return i.executeStateAndHandleError(scope, dr.next, dr.input, nil)
	}

	duration := time.Since(instant).Milliseconds()

	finalOutput := output
	if state.ResultPath != "" {
		injected, err := i.renderer.Inject(finalInput, state.ResultPath, output)
		if err != nil {
			stateErr = newStateError(ErrInvalidResultPath, "", err.Error(), err)
			return i.handleError(scope, state, stateName, input, idx, stateErr)
		}
		finalOutput = injected
	} else if state.OutputPath != "" {
		extracted, err := i.renderer.Extract(output, state.OutputPath)
		if err != nil {
			stateErr = newStateError(ErrInvalidOutputPath, "", err.Error(), err)
			return i.handleError(scope, state, stateName, input, idx, stateErr)
		}
		finalOutput = extracted
	}

	if state.Type == blueprint.StateTypeFailure {
		detail := ""
		if state.FailureConfig != nil {
			detail = fmt.Sprintf("%s: %s", state.FailureConfig.ErrorName, state.FailureConfig.ErrorMessage)
		}
		stateErr := newStateError(ErrInvalidState, "", detail, nil)
		i.completeRecord(idx, StatusFailed, finalOutput, duration, stateErr.Name, stateErr.Message)
		return nil, stateErr
	}

	i.completeRecord(idx, StatusSucceeded, finalOutput, duration, "", "")

	switch {
	case state.Type == blueprint.StateTypeSuccess:
		i.finish(StatusSucceeded, "")
		return finalOutput, nil
	case state.End:
		i.finish(StatusSucceeded, "")
		return finalOutput, nil
	case state.Next != "":
		rec := i.recordByIndex(idx)
		return i.executeStateAndHandleError(scope, state.Next, finalOutput, &rec)
	default:
		i.finish(StatusSucceeded, "")
		return finalOutput, nil
	}
}

func (i *Instance) beginRecord(name, parentState string, attempt int, input any, started int64) int {
	i.mu.Lock()
	var prev *StateExecutionRecord
	if len(i.exec.States) > 0 {
		prev = &i.exec.States[len(i.exec.States)-1]
	}
	rec := StateExecutionRecord{
		Name:        name,
		ParentState: parentState,
		Attempt:     attempt,
		Input:       input,
		Status:      StatusRunning,
		StartedMs:   started,
	}
	i.exec.States = append(i.exec.States, rec)
	i.exec.CurrentState = name
	idx := len(i.exec.States) - 1
	newRec := i.exec.States[idx]
	snapshot := i.exec.Snapshot()
	i.mu.Unlock()

	_ = i.store.SaveWorkflowExecution(i.exec.ID, snapshot)
	i.events.Publish(Event{Kind: EventStateTransition, PrevState: prev, NewState: &newRec, Execution: &snapshot})
	return idx
}

func (i *Instance) completeRecord(idx int, status Status, output any, durationMs int64, errorName, errorDetail string) {
	i.mu.Lock()
	i.exec.States[idx].Status = status
	i.exec.States[idx].Output = output
	i.exec.States[idx].DurationMs = durationMs
	i.exec.States[idx].ErrorName = errorName
	i.exec.States[idx].ErrorDetail = errorDetail
	snapshot := i.exec.Snapshot()
	i.mu.Unlock()

	_ = i.store.SaveWorkflowExecution(i.exec.ID, snapshot)
	metrics.WorkflowStateTransitionsTotal.WithLabelValues(snapshot.States[idx].Name, string(status)).Inc()
	if status == StatusFailed {
		rec := snapshot.States[idx]
		i.events.Publish(Event{Kind: EventStateFailure, FailedState: &rec, Execution: &snapshot})
	}
}

func (i *Instance) recordByIndex(idx int) StateExecutionRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exec.States[idx]
}

// dispatch runs the state-type-specific behavior of spec.md §4.6,
// returning the state's raw output (before result_path/output_path are
// applied by the caller).
func (i *Instance) dispatch(scope stateScope, state *blueprint.State, stateName string, input any) (any, *StateError) {
	switch state.Type {
	case blueprint.StateTypeExecuteStep:
		return i.dispatchExecuteStep(state, stateName, input)
	case blueprint.StateTypeParallel:
		return i.dispatchParallel(scope, state, stateName, input)
	case blueprint.StateTypeWait:
		return i.dispatchWait(state, input)
	case blueprint.StateTypeDecision:
		return i.dispatchDecision(state, input)
	case blueprint.StateTypePass:
		return i.dispatchPass(state, input)
	case blueprint.StateTypeSuccess, blueprint.StateTypeFailure:
		return input, nil
	default:
		return nil, newStateError(ErrInvalidState, "", fmt.Sprintf("unknown state type %q", state.Type), nil)
	}
}

func (i *Instance) dispatchExecuteStep(state *blueprint.State, stateName string, input any) (any, *StateError) {
	handler, ok := i.handlers[stateName]
	if !ok {
		return nil, newStateError(ErrExecuteStepHandlerFailed, "MissingHandler", fmt.Sprintf("no handler registered for state %q", stateName), nil)
	}

	payload := input
	if state.PayloadTemplate != nil {
		rendered, err := i.renderer.Render(state.PayloadTemplate.ToJSONValue(), input)
		if err != nil {
			return nil, newStateError(ErrPayloadTemplateFailure, "", err.Error(), err)
		}
		payload = rendered
	}

	output, err := handler(StepContext{StateName: stateName, Payload: payload})
	if err != nil {
		if herr, ok := err.(*HandlerError); ok {
			return nil, newStateError(ErrExecuteStepHandlerFailed, herr.Name, herr.Message, err)
		}
		return nil, newStateError(ErrExecuteStepHandlerFailed, "", err.Error(), err)
	}
	return output, nil
}

func (i *Instance) dispatchParallel(scope stateScope, state *blueprint.State, stateName string, input any) (any, *StateError) {
	if len(state.ParallelBranches) == 0 {
		return nil, newStateError(ErrInvalidState, "", "parallel state has no branches", nil)
	}

	results := make([]any, len(state.ParallelBranches))
	errs := make([]*StateError, len(state.ParallelBranches))

	var wg sync.WaitGroup
	for idx, branch := range state.ParallelBranches {
		wg.Add(1)
		go func(idx int, branch blueprint.ParallelBranch) {
			defer wg.Done()
			branchScope := stateScope{states: branch.States, parent: stateName}
			out, err := i.executeStateAndHandleError(branchScope, branch.StartState, input, nil)
			results[idx] = out
			errs[idx] = err
		}(idx, branch)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, newStateError(ErrParallelBranchesFailed, "", "one or more parallel branches failed", err)
		}
	}
	return results, nil
}

func (i *Instance) dispatchWait(state *blueprint.State, input any) (any, *StateError) {
	if state.WaitConfig == nil {
		return nil, newStateError(ErrInvalidState, "", "wait state missing wait_config", nil)
	}

	var waitFor time.Duration
	switch {
	case state.WaitConfig.Seconds != "":
		secs, err := i.resolveWaitInt(state.WaitConfig.Seconds, input)
		if err != nil {
			return nil, err
		}
		if secs < 0 {
			return nil, newStateError(ErrInvalidState, "", "wait seconds resolved to a negative value", nil)
		}
		waitFor = time.Duration(secs) * time.Second
	case state.WaitConfig.Timestamp != "":
		target, err := i.resolveWaitTimestamp(state.WaitConfig.Timestamp, input)
		if err != nil {
			return nil, err
		}
		delta := time.Until(target)
		if delta < 0 {
			return nil, newStateError(ErrInvalidState, "", "wait timestamp is in the past", nil)
		}
		waitFor = delta
	default:
		return nil, newStateError(ErrInvalidState, "", "wait_config has neither seconds nor timestamp", nil)
	}

	time.Sleep(waitFor)
	return input, nil
}

func (i *Instance) resolveWaitInt(spec string, input any) (int64, *StateError) {
	if len(spec) > 0 && spec[0] == '$' {
		val, err := i.renderer.Extract(input, spec)
		if err != nil {
			return 0, newStateError(ErrInvalidState, "", err.Error(), err)
		}
		switch v := val.(type) {
		case float64:
			return int64(v), nil
		case int64:
			return v, nil
		case string:
			n, perr := strconv.ParseInt(v, 10, 64)
			if perr != nil {
				return 0, newStateError(ErrInvalidState, "", perr.Error(), perr)
			}
			return n, nil
		default:
			return 0, newStateError(ErrInvalidState, "", fmt.Sprintf("wait seconds path resolved to non-numeric %T", val), nil)
		}
	}
	n, err := strconv.ParseInt(spec, 10, 64)
	if err != nil {
		return 0, newStateError(ErrInvalidState, "", err.Error(), err)
	}
	return n, nil
}

func (i *Instance) resolveWaitTimestamp(spec string, input any) (time.Time, *StateError) {
	raw := spec
	if len(spec) > 0 && spec[0] == '$' {
		val, err := i.renderer.Extract(input, spec)
		if err != nil {
			return time.Time{}, newStateError(ErrInvalidState, "", err.Error(), err)
		}
		s, ok := val.(string)
		if !ok {
			return time.Time{}, newStateError(ErrInvalidState, "", fmt.Sprintf("wait timestamp path resolved to non-string %T", val), nil)
		}
		raw = s
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, newStateError(ErrInvalidState, "", err.Error(), err)
	}
	return t, nil
}

func (i *Instance) dispatchDecision(state *blueprint.State, input any) (any, *StateError) {
	for _, d := range state.Decisions {
		matched, err := i.evaluator.Evaluate(d.Condition, input)
		if err != nil {
			return nil, newStateError(ErrInvalidState, "", err.Error(), err)
		}
		if matched {
			return decisionResult{next: d.Next, input: input}, nil
		}
	}
	return nil, newStateError(ErrInvalidState, "NoMatchingDecision", "no decision case matched", nil)
}

// decisionResult is an internal sentinel: a decision state's Next is
// data-dependent (unlike every other state type's static state.Next), so
// it rides back through dispatch's normal output channel for the caller
// to act on.
type decisionResult struct {
	next  string
	input any
}

func (i *Instance) dispatchPass(state *blueprint.State, input any) (any, *StateError) {
	if state.Result != nil {
		return state.Result.ToJSONValue(), nil
	}
	if state.PayloadTemplate != nil {
		rendered, err := i.renderer.Render(state.PayloadTemplate.ToJSONValue(), input)
		if err != nil {
			return nil, newStateError(ErrPayloadTemplateFailure, "", err.Error(), err)
		}
		return rendered, nil
	}
	return input, nil
}

// handleError implements the retry-then-catch procedure of spec.md
// §4.6.
func (i *Instance) handleError(scope stateScope, state *blueprint.State, stateName string, rawInput any, idx int, stateErr *StateError) (any, *StateError) {
	i.completeRecord(idx, StatusFailed, nil, 0, stateErr.Name, stateErr.Message)
	if i.execLog != nil {
		i.execLog.Warn("state failed", "state", stateName, "error_name", stateErr.Name, "error_detail", stateErr.Message)
	}

	if !stateErr.Catchable() {
		return nil, stateErr
	}

	if stateErr.Retryable() {
		if entry, attemptSoFar := i.matchRetry(state, stateErr.Name, idx); entry != nil {
			maxAttempts := entry.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = 3
			}
			if attemptSoFar < maxAttempts {
				wait := calculateRetryWaitTimeMs(attemptSoFar-1, entry.Interval, entry.MaxDelay, entry.BackoffRate, entry.Jitter)
				time.Sleep(wait)
				rec := i.recordByIndex(idx)
				return i.executeStateAndHandleError(scope, stateName, rawInput, &rec)
			}
		}
	}

	if entry := matchCatch(state, stateErr.Name); entry != nil {
		nextInput := rawInput
		if entry.ResultPath != "" {
			injected, err := i.renderer.Inject(rawInput, entry.ResultPath, map[string]any{
				"error": stateErr.Name,
				"cause": stateErr.Message,
			})
			if err != nil {
				fatal := newStateError(ErrInvalidResultPath, "", err.Error(), err)
				i.finish(StatusFailed, fatal.Error())
				return nil, fatal
			}
			nextInput = injected
		}
		return i.executeStateAndHandleError(scope, entry.Next, nextInput, nil)
	}

	return nil, stateErr
}

func (i *Instance) matchRetry(state *blueprint.State, errorName string, idx int) (*blueprint.RetryEntry, int) {
	for _, entry := range state.Retry {
		for _, match := range entry.MatchErrors {
			if match == errorName || match == "*" {
				rec := i.recordByIndex(idx)
				return &entry, rec.Attempt
			}
		}
	}
	return nil, 0
}

func matchCatch(state *blueprint.State, errorName string) *blueprint.CatchEntry {
	for _, entry := range state.Catch {
		for _, match := range entry.MatchErrors {
			if match == errorName || match == "*" {
				return &entry
			}
		}
	}
	return nil
}

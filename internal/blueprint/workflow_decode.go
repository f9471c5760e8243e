package blueprint

// DecodeWorkflowSpec converts a resolved `spec` MappingNode of a
// Type==ResourceTypeWorkflow resource into a typed WorkflowSpec, then
// validates it per spec.md §3's invariants.
func DecodeWorkflowSpec(spec *MappingNode) (*WorkflowSpec, error) {
	raw, ok := asMap(spec)
	if !ok {
		return nil, &ErrConfiguration{Reason: "workflow spec must be a mapping"}
	}

	startState, _ := stringField(raw, "startState")
	if startState == "" {
		startState, _ = stringField(raw, "start_state")
	}
	if startState == "" {
		return nil, &ErrConfiguration{Reason: "workflow spec missing startState"}
	}

	statesRaw, ok := mapField(raw, "states")
	if !ok {
		return nil, &ErrConfiguration{Reason: "workflow spec missing states"}
	}

	states := make(map[string]*State, len(statesRaw))
	for name, sv := range statesRaw {
		sm, ok := asMap(sv)
		if !ok {
			return nil, &ErrConfiguration{Reason: "state " + name + " must be a mapping"}
		}
		state, err := decodeState(name, sm)
		if err != nil {
			return nil, err
		}
		states[name] = state
	}

	wf := &WorkflowSpec{StartState: startState, States: states}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

func decodeState(name string, m map[string]*MappingNode) (*State, error) {
	s := &State{Name: name}

	typeStr, _ := stringField(m, "type")
	s.Type = StateType(typeStr)
	s.Description, _ = stringField(m, "description")
	s.InputPath, _ = stringField(m, "inputPath")
	s.ResultPath, _ = stringField(m, "resultPath")
	s.OutputPath, _ = stringField(m, "outputPath")
	s.Next, _ = stringField(m, "next")
	if endNode, ok := m["end"]; ok && endNode.Kind == MappingNodeKindScalar {
		s.End = endNode.ScalarVal.Kind == ScalarKindBool && endNode.ScalarVal.Bool
	}
	if pt, ok := m["payloadTemplate"]; ok {
		s.PayloadTemplate = pt
	}
	if tsNode, ok := m["timeout"]; ok && tsNode.Kind == MappingNodeKindScalar && tsNode.ScalarVal.Kind == ScalarKindInt {
		v := int(tsNode.ScalarVal.Int)
		s.TimeoutSeconds = &v
	}
	if result, ok := m["result"]; ok {
		s.Result = result
	}

	switch s.Type {
	case StateTypeDecision:
		decisionsRaw, _ := sliceField(m, "decisions")
		for _, dv := range decisionsRaw {
			dm, ok := asMap(dv)
			if !ok {
				continue
			}
			cond, _ := stringField(dm, "condition")
			next, _ := stringField(dm, "next")
			s.Decisions = append(s.Decisions, DecisionCase{Condition: cond, Next: next})
		}
	case StateTypeWait:
		if wc, ok := mapField(m, "waitConfig"); ok {
			seconds, _ := stringField(wc, "seconds")
			timestamp, _ := stringField(wc, "timestamp")
			s.WaitConfig = &WaitConfig{Seconds: seconds, Timestamp: timestamp}
		} else {
			return nil, &ErrConfiguration{Reason: "wait state missing waitConfig: " + name}
		}
	case StateTypeFailure:
		if fc, ok := mapField(m, "failureConfig"); ok {
			errName, _ := stringField(fc, "errorName")
			errMsg, _ := stringField(fc, "errorMessage")
			s.FailureConfig = &FailureConfig{ErrorName: errName, ErrorMessage: errMsg}
		}
	case StateTypeParallel:
		branchesRaw, _ := sliceField(m, "parallelBranches")
		for _, bv := range branchesRaw {
			bm, ok := asMap(bv)
			if !ok {
				continue
			}
			branchStart, _ := stringField(bm, "startState")
			branchStatesRaw, _ := mapField(bm, "states")
			branchStates := make(map[string]*State, len(branchStatesRaw))
			for bname, bsv := range branchStatesRaw {
				bsm, ok := asMap(bsv)
				if !ok {
					continue
				}
				branchState, err := decodeState(bname, bsm)
				if err != nil {
					return nil, err
				}
				branchStates[bname] = branchState
			}
			s.ParallelBranches = append(s.ParallelBranches, ParallelBranch{
				StartState: branchStart,
				States:     branchStates,
			})
		}
		if len(s.ParallelBranches) == 0 {
			return nil, &ErrConfiguration{Reason: "parallel state requires non-empty parallelBranches: " + name}
		}
	}

	if retryRaw, ok := sliceField(m, "retry"); ok {
		for _, rv := range retryRaw {
			rm, ok := asMap(rv)
			if !ok {
				continue
			}
			s.Retry = append(s.Retry, decodeRetryEntry(rm))
		}
	}
	if catchRaw, ok := sliceField(m, "catch"); ok {
		for _, cv := range catchRaw {
			cm, ok := asMap(cv)
			if !ok {
				continue
			}
			matchErrors, _ := stringSliceField(cm, "matchErrors")
			next, _ := stringField(cm, "next")
			resultPath, _ := stringField(cm, "resultPath")
			s.Catch = append(s.Catch, CatchEntry{MatchErrors: matchErrors, Next: next, ResultPath: resultPath})
		}
	}

	return s, nil
}

func decodeRetryEntry(rm map[string]*MappingNode) RetryEntry {
	entry := RetryEntry{Interval: 1, MaxAttempts: 3, BackoffRate: 2.0}
	entry.MatchErrors, _ = stringSliceField(rm, "matchErrors")
	if v, ok := floatField(rm, "interval"); ok {
		entry.Interval = v
	}
	if v, ok := intField(rm, "maxAttempts"); ok {
		entry.MaxAttempts = v
	}
	if v, ok := floatField(rm, "maxDelay"); ok {
		entry.MaxDelay = &v
	}
	if v, ok := boolField(rm, "jitter"); ok {
		entry.Jitter = v
	}
	if v, ok := floatField(rm, "backoffRate"); ok {
		entry.BackoffRate = v
	}
	return entry
}

// --- small decoding helpers over the MappingNode tree ---

func asMap(n *MappingNode) (map[string]*MappingNode, bool) {
	if n == nil || n.Kind != MappingNodeKindMapping {
		return nil, false
	}
	out := make(map[string]*MappingNode, n.MappingVal.Len())
	for _, k := range n.MappingVal.Keys() {
		v, _ := n.MappingVal.Get(k)
		out[k] = v
	}
	return out, true
}

func mapField(m map[string]*MappingNode, key string) (map[string]*MappingNode, bool) {
	v, ok := m[key]
	if !ok {
		return nil, false
	}
	return asMap(v)
}

func sliceField(m map[string]*MappingNode, key string) ([]*MappingNode, bool) {
	v, ok := m[key]
	if !ok || v.Kind != MappingNodeKindSequence {
		return nil, false
	}
	return v.SeqVal, true
}

func stringField(m map[string]*MappingNode, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v.Kind != MappingNodeKindScalar || v.ScalarVal.Kind != ScalarKindString {
		return "", false
	}
	return v.ScalarVal.Str, true
}

func stringSliceField(m map[string]*MappingNode, key string) ([]string, bool) {
	items, ok := sliceField(m, key)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Kind == MappingNodeKindScalar && item.ScalarVal.Kind == ScalarKindString {
			out = append(out, item.ScalarVal.Str)
		}
	}
	return out, true
}

func floatField(m map[string]*MappingNode, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v.Kind != MappingNodeKindScalar {
		return 0, false
	}
	switch v.ScalarVal.Kind {
	case ScalarKindFloat:
		return v.ScalarVal.Flt, true
	case ScalarKindInt:
		return float64(v.ScalarVal.Int), true
	default:
		return 0, false
	}
}

func intField(m map[string]*MappingNode, key string) (int, bool) {
	f, ok := floatField(m, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func boolField(m map[string]*MappingNode, key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v.Kind != MappingNodeKindScalar || v.ScalarVal.Kind != ScalarKindBool {
		return false, false
	}
	return v.ScalarVal.Bool, true
}

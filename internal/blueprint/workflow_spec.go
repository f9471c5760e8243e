package blueprint

// StateType enumerates the workflow state kinds from spec.md §3.
type StateType string

const (
	StateTypeExecuteStep StateType = "execute-step"
	StateTypePass        StateType = "pass"
	StateTypeParallel    StateType = "parallel"
	StateTypeWait        StateType = "wait"
	StateTypeDecision    StateType = "decision"
	StateTypeSuccess     StateType = "success"
	StateTypeFailure     StateType = "failure"
)

// RetryEntry is one entry of a state's `retry` list.
type RetryEntry struct {
	MatchErrors []string // "*" matches all
	Interval    float64  // seconds, default 1
	MaxAttempts int      // default 3
	MaxDelay    *float64 // seconds, optional cap
	Jitter      bool     // default false
	BackoffRate float64  // default 2.0
}

// CatchEntry is one entry of a state's `catch` list.
type CatchEntry struct {
	MatchErrors []string
	Next        string
	ResultPath  string // optional, where error info is injected
}

// DecisionCase is one branch of a `decision` state's decision list.
type DecisionCase struct {
	Condition string // CEL expression, evaluated with the state's input bound to `input`
	Next      string
}

// WaitConfig configures a `wait` state: exactly one of Seconds or Timestamp
// is expected to be set per spec.md §4.6.
type WaitConfig struct {
	// Seconds is either a literal non-negative integer string or a "$..."
	// JSON-path into the state's input.
	Seconds string
	// Timestamp is either a literal RFC-3339 timestamp or a "$..." path.
	Timestamp string
}

// FailureConfig configures a `failure` state's terminal error report.
type FailureConfig struct {
	ErrorName  string
	ErrorMessage string
}

// ParallelBranch is one branch of a `parallel` state: its own isolated
// start-state and states map.
type ParallelBranch struct {
	StartState string
	States     map[string]*State
}

// State is one entry of a WorkflowSpec.States map.
type State struct {
	Name        string
	Type        StateType
	Description string

	InputPath  string
	ResultPath string
	OutputPath string

	PayloadTemplate *MappingNode

	Next string
	End  bool

	TimeoutSeconds *int

	Decisions        []DecisionCase
	WaitConfig       *WaitConfig
	FailureConfig    *FailureConfig
	ParallelBranches []ParallelBranch
	Result           *MappingNode // literal result, used by `pass`/`success`

	Retry []RetryEntry
	Catch []CatchEntry
}

// WorkflowSpec is the `spec` payload of a blueprint resource with
// Type == ResourceTypeWorkflow.
type WorkflowSpec struct {
	StartState string
	States     map[string]*State
}

// Validate checks the invariants from spec.md §3:
//   - every non-terminal, non-decision, non-failure state has exactly one
//     of Next or End=true
//   - success/failure states are terminal
//   - decision states have no Next and must declare decisions
func (w *WorkflowSpec) Validate() error {
	if _, ok := w.States[w.StartState]; !ok {
		return &InvalidWorkflowSpecError{Reason: "start state not found: " + w.StartState}
	}
	for name, s := range w.States {
		if err := validateState(name, s); err != nil {
			return err
		}
	}
	return nil
}

func validateState(name string, s *State) error {
	switch s.Type {
	case StateTypeSuccess, StateTypeFailure:
		if s.Next != "" || s.End {
			return &InvalidWorkflowSpecError{Reason: "terminal state must not set next/end: " + name}
		}
	case StateTypeDecision:
		if s.Next != "" {
			return &InvalidWorkflowSpecError{Reason: "decision state must not set next: " + name}
		}
		if len(s.Decisions) == 0 {
			return &InvalidWorkflowSpecError{Reason: "decision state must declare decisions: " + name}
		}
	default:
		hasNext := s.Next != ""
		if hasNext == s.End {
			return &InvalidWorkflowSpecError{Reason: "state must set exactly one of next/end: " + name}
		}
	}
	return nil
}

// InvalidWorkflowSpecError reports a structural violation of the state graph.
type InvalidWorkflowSpecError struct {
	Reason string
}

func (e *InvalidWorkflowSpecError) Error() string {
	return "invalid workflow spec: " + e.Reason
}

// Package workflow implements the workflow state machine of spec.md
// §4.6: one instance per execution, dispatching state-type semantics
// (execute-step/parallel/wait/decision/pass/success/failure), retry and
// catch procedures, and broadcast execution events. Payload shaping is
// delegated to internal/template, persistence to an injected
// execution-service collaborator (internal/executionstore), and
// condition evaluation for decision states to google/cel-go, grounded on
// the teacher's cmd/workflow-runner/condition/evaluator.go.
package workflow

import (
	"sync"
	"time"

	"github.com/celerity/runtime-go/common/logger"
	"github.com/celerity/runtime-go/internal/blueprint"
)

// Status is the terminal or in-progress state of an execution or a
// single state-execution record.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// StateExecutionRecord captures one state's execution within an
// Execution's states[] history, per spec.md §4.6 step 5/7.
type StateExecutionRecord struct {
	Name        string
	ParentState string // enclosing parallel state's name, empty at top level
	Attempt     int
	Input       any
	Output      any
	Status      Status
	StartedMs   int64
	DurationMs  int64
	ErrorName   string
	ErrorDetail string
}

// Execution is the mutable record for one workflow run, owned under a
// mutex by its Instance for the life of the run.
type Execution struct {
	ID           string
	Input        any
	Started      int64
	Completed    *int64
	DurationMs   *int64
	Status       Status
	StatusDetail string
	CurrentState string
	States       []StateExecutionRecord
}

// Snapshot returns a value copy safe to hand to broadcast subscribers or
// a persistence layer without the caller holding Instance's mutex.
func (e *Execution) Snapshot() Execution {
	cp := *e
	cp.States = append([]StateExecutionRecord(nil), e.States...)
	return cp
}

// Instance is one state-machine run, bound to a WorkflowSpec and a set
// of registered step handlers.
type Instance struct {
	spec      *blueprint.WorkflowSpec
	handlers  map[string]StepHandler
	store     ExecutionStore
	events    *Broadcaster
	evaluator *ConditionEvaluator
	renderer  Renderer
	log       *logger.Logger

	mu      sync.Mutex
	exec    *Execution
	execLog *logger.Logger
}

// StepHandler runs an execute-step state's payload and returns its
// output, or a HandlerError carrying the error-name used for
// retry/catch matching.
type StepHandler func(ctx StepContext) (any, error)

// StepContext is the argument passed to a StepHandler.
type StepContext struct {
	StateName string
	Payload   any
}

// Renderer is the subset of internal/template.Engine the state machine
// needs: render/extract/inject over JSON-ish values.
type Renderer interface {
	Render(tmpl any, input any) (any, error)
	Extract(value any, path string) (any, error)
	Inject(value any, path string, child any) (any, error)
}

// ExecutionStore is the consumed execution-service interface of
// spec.md §6.
type ExecutionStore interface {
	SaveWorkflowExecution(id string, payload Execution) error
	GetWorkflowExecution(id string) (Execution, error)
}

func nowMs() int64 { return time.Now().UnixMilli() }

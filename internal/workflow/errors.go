package workflow

import "fmt"

// ErrorKind is the internal error taxonomy of spec.md §4.6, used only to
// decide retry/catch eligibility; the error-name used for matching is
// separate (the handler-provided name when available).
type ErrorKind int

const (
	ErrPersistFailed ErrorKind = iota
	ErrStateNotFound
	ErrInvalidState
	ErrInvalidInputPath
	ErrInvalidPayloadTemplate
	ErrPayloadTemplateFailure
	ErrInvalidResultPath
	ErrInvalidOutputPath
	ErrExecuteStepHandlerFailed
	ErrParallelBranchesFailed
)

var catchable = map[ErrorKind]bool{
	ErrPersistFailed:            false,
	ErrStateNotFound:            false,
	ErrInvalidState:             false,
	ErrInvalidInputPath:         true,
	ErrInvalidPayloadTemplate:   true,
	ErrPayloadTemplateFailure:   true,
	ErrInvalidResultPath:        true,
	ErrInvalidOutputPath:        true,
	ErrExecuteStepHandlerFailed: true,
	ErrParallelBranchesFailed:   true,
}

var retryable = map[ErrorKind]bool{
	ErrPersistFailed:            false,
	ErrStateNotFound:            false,
	ErrInvalidState:             false,
	ErrInvalidInputPath:         false,
	ErrInvalidPayloadTemplate:   false,
	ErrPayloadTemplateFailure:   false,
	ErrInvalidResultPath:        true,
	ErrInvalidOutputPath:        true,
	ErrExecuteStepHandlerFailed: true,
	ErrParallelBranchesFailed:   true,
}

var fallbackErrorName = map[ErrorKind]string{
	ErrPersistFailed:            "PersistFailed",
	ErrStateNotFound:            "StateNotFound",
	ErrInvalidState:             "InvalidState",
	ErrInvalidInputPath:         "InvalidInputPath",
	ErrInvalidPayloadTemplate:   "InvalidPayloadTemplate",
	ErrPayloadTemplateFailure:   "PayloadTemplateFailure",
	ErrInvalidResultPath:        "InvalidResultPath",
	ErrInvalidOutputPath:        "InvalidOutputPath",
	ErrExecuteStepHandlerFailed: "HandlerFailed",
	ErrParallelBranchesFailed:   "BranchesFailed",
}

// StateError is the error type threaded through execute_state_and_handle_error.
// Name is what retry/catch match against: the handler-provided name when
// the error originated from a HandlerError, else the kind's fallback tag.
type StateError struct {
	Kind    ErrorKind
	Name    string
	Message string
	cause   error
}

func newStateError(kind ErrorKind, name, message string, cause error) *StateError {
	if name == "" {
		name = fallbackErrorName[kind]
	}
	return &StateError{Kind: kind, Name: name, Message: message, cause: cause}
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *StateError) Unwrap() error { return e.cause }

func (e *StateError) Catchable() bool { return catchable[e.Kind] }
func (e *StateError) Retryable() bool { return retryable[e.Kind] }

// HandlerError is returned by a StepHandler to carry the error-name used
// for retry/catch matching, per spec.md §4.6's execute-step semantics.
type HandlerError struct {
	Name    string
	Message string
}

func (e *HandlerError) Error() string { return fmt.Sprintf("%s: %s", e.Name, e.Message) }

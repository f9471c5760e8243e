// Package consumer implements the message-consumer worker pool of
// spec.md §4.5: a pool of Redis-stream (and SQS-like) pollers with
// per-message lock/lease acquisition, heartbeat lease extension,
// handler-timeout enforcement, outcome classification, dead-letter
// forwarding, per-attempt retry with exponential backoff and jitter, and
// periodic stream trimming behind a cluster lock. The per-iteration loop
// shape is grounded on the teacher's
// cmd/workflow-runner/worker/http_worker.go XREADGROUP/XACK poller,
// generalized with the lock/heartbeat machinery spec.md §4.2 requires
// that the teacher's worker does not have.
package consumer

import (
	"context"
	"time"
)

// Message is one unit of work read from the source (a Redis stream entry
// or an SQS message), handed to a Handler.
type Message struct {
	ID     string
	Body   map[string]any
	RawLen int
}

// OutcomeKind tags the handler result taxonomy of spec.md §4.5.
type OutcomeKind int

const (
	OutcomeOk OutcomeKind = iota
	OutcomeTimeout
	OutcomeMissingHandler
	OutcomeHandlerFailure
	OutcomePartialBatchFailure
)

// Outcome is returned by a Handler after processing a batch (or single
// message, treated as a batch of one).
type Outcome struct {
	Kind OutcomeKind
	// Err is the underlying error for HandlerFailure.
	Err error
	// FailedIDs lists the message ids that failed, for
	// PartialBatchFailure. Other kinds imply all-or-none.
	FailedIDs []string
}

// Handler processes one dispatched batch of messages. Single-message
// dispatch calls it with a slice of length 1.
type Handler func(ctx context.Context, messages []Message) Outcome

// Config holds the tunables from spec.md §4.5, all with the spec's
// defaults applied by DefaultConfig.
type Config struct {
	NumWorkers int

	BatchSize            int
	BlockTime            time.Duration
	LockDuration         time.Duration
	MessageHandlerTimeout time.Duration
	PollingWaitTime      time.Duration

	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffRate    float64

	DLQStream   string
	DLQQueueURL string // sqs: queue URL to forward exhausted messages to

	TrimStreamInterval time.Duration // -1 disables
	TrimLockTimeout    time.Duration
	MaxStreamLength    int64 // 0 means unset: trim by MINID instead

	// SQS-specific.
	WaitTimeSeconds                time.Duration
	VisibilityTimeout               time.Duration
	ShouldDeleteMessages            bool
	DeleteMessagesOnHandlerFailure  bool
	AuthErrorTimeout                time.Duration
}

// DefaultConfig returns spec.md §4.5's stated defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:            10,
		BatchSize:             100,
		BlockTime:             30 * time.Second,
		LockDuration:          30 * time.Second,
		MessageHandlerTimeout: 30 * time.Second,
		PollingWaitTime:       10 * time.Second,

		MaxRetries:  3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		BackoffRate: 2.0,

		TrimStreamInterval: 86400 * time.Second,
		TrimLockTimeout:    60 * time.Second,

		WaitTimeSeconds:                20 * time.Second,
		VisibilityTimeout:              30 * time.Second,
		ShouldDeleteMessages:           true,
		DeleteMessagesOnHandlerFailure: false,
		AuthErrorTimeout:               60 * time.Second,
	}
}

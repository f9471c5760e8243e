package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	commonredis "github.com/celerity/runtime-go/common/redis"
	"github.com/celerity/runtime-go/common/logger"
	"github.com/celerity/runtime-go/internal/lock"
	"github.com/celerity/runtime-go/internal/metrics"
)

// RedisStreamPool polls a Redis stream with num_workers independent
// workers, each running the per-iteration loop of spec.md §4.5 driven
// off a shared last-message-id cursor key (not a consumer group: the
// cursor approach is spec'd directly, so XRead rather than the
// teacher's XReadGroup is used here).
type RedisStreamPool struct {
	client  *commonredis.Client
	locks   *lock.Manager
	log     *logger.Logger
	stream  string
	cfg     Config
	handler Handler
}

// NewRedisStreamPool builds a pool reading from stream, using cursorKey
// to persist the shared last_message_id.
func NewRedisStreamPool(client *commonredis.Client, locks *lock.Manager, log *logger.Logger, stream string, cfg Config, handler Handler) *RedisStreamPool {
	return &RedisStreamPool{client: client, locks: locks, log: log, stream: stream, cfg: cfg, handler: handler}
}

func (p *RedisStreamPool) cursorKey() string {
	return "celerity:consumer:cursor:" + p.stream
}

// Run launches cfg.NumWorkers workers and, if TrimStreamInterval >= 0, a
// companion trimmer task. It blocks until ctx is cancelled.
func (p *RedisStreamPool) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.cfg.NumWorkers; i++ {
		go func(workerIdx int) {
			p.workerLoop(ctx, workerIdx)
			done <- struct{}{}
		}(i)
	}

	if p.cfg.TrimStreamInterval >= 0 {
		go p.trimLoop(ctx)
	}

	for i := 0; i < p.cfg.NumWorkers; i++ {
		<-done
	}
}

func (p *RedisStreamPool) workerLoop(ctx context.Context, workerIdx int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		iterationStart := time.Now()
		if err := p.iteration(ctx); err != nil {
			p.log.Error("consumer iteration failed", "stream", p.stream, "worker", workerIdx, "error", err)
		}

		if wait := p.cfg.PollingWaitTime - time.Since(iterationStart); wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func (p *RedisStreamPool) iteration(ctx context.Context) error {
	lastID, ok, err := p.client.GetOptional(ctx, p.cursorKey())
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	if !ok {
		lastID = "0"
	}

	streams, err := p.client.ReadStream(ctx, p.stream, lastID, int64(p.cfg.BatchSize), p.cfg.BlockTime)
	if err != nil {
		return fmt.Errorf("XREAD: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil
	}

	entries := streams[0].Messages
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	acquired, err := p.locks.AcquireLocks(ctx, ids, p.cfg.LockDuration)
	if err != nil {
		return fmt.Errorf("acquire locks: %w", err)
	}

	var locked []redis.XMessage
	var lockedIDs []string
	for i, ok := range acquired {
		if ok {
			locked = append(locked, entries[i])
			lockedIDs = append(lockedIDs, ids[i])
		}
	}

	highestID := ids[len(ids)-1]
	defer p.advanceCursor(context.WithoutCancel(ctx), highestID)

	if len(locked) == 0 {
		return nil
	}

	cancelHeartbeat, hbDone := p.locks.StartHeartbeat(ctx, lockedIDs, p.cfg.LockDuration, p.cfg.LockDuration/3)
	defer func() {
		cancelHeartbeat()
		<-hbDone
	}()

	messages := toMessages(locked)
	outcome := dispatchWithTimeout(ctx, p.handler, messages, p.cfg.MessageHandlerTimeout)
	p.classifyAndForward(ctx, messages, outcome)

	return nil
}

func (p *RedisStreamPool) advanceCursor(ctx context.Context, id string) {
	if err := p.client.Set(ctx, p.cursorKey(), id, 0); err != nil {
		p.log.Error("advance cursor failed", "stream", p.stream, "error", err)
	}
}

func toMessages(entries []redis.XMessage) []Message {
	out := make([]Message, len(entries))
	for i, e := range entries {
		body := make(map[string]any, len(e.Values))
		for k, v := range e.Values {
			body[k] = v
		}
		out[i] = Message{ID: e.ID, Body: body}
	}
	return out
}

// dispatchWithTimeout is shared by both pollers (single-message or batch
// path, per spec.md §4.5 step 4 — the dispatch choice is transparent to
// the handler signature, which always takes a slice): run handler
// bounded by timeout, reporting OutcomeTimeout if it is exceeded.
func dispatchWithTimeout(ctx context.Context, handler Handler, messages []Message, timeout time.Duration) Outcome {
	hCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan Outcome, 1)
	go func() {
		resultCh <- handler(hCtx, messages)
	}()

	select {
	case result := <-resultCh:
		return result
	case <-hCtx.Done():
		return Outcome{Kind: OutcomeTimeout, Err: fmt.Errorf("timeout after %s", timeout)}
	}
}

// retryThenFail runs the shared per-attempt retry procedure of spec.md
// §4.5 against an already-failed outcome: up to max_retries further
// attempts (skipped entirely for the fatal MissingHandler
// classification), sleeping by calculateRetryWaitTime between attempts.
// It returns the messages still failing after retries are exhausted and
// the retry count to attach to their DLQ record.
func retryThenFail(ctx context.Context, handler Handler, failed []Message, outcome Outcome, cfg Config, metricSource string) ([]Message, int) {
	retryCount := 0
	if outcome.Kind == OutcomeMissingHandler {
		return failed, retryCount
	}
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		wait := calculateRetryWaitTime(attempt-1, cfg.BaseDelay, cfg.MaxDelay, cfg.BackoffRate, true)
		select {
		case <-ctx.Done():
			return failed, retryCount
		case <-time.After(wait):
		}
		metrics.ConsumerRetryAttemptsTotal.WithLabelValues(metricSource).Inc()
		retryOutcome := dispatchWithTimeout(ctx, handler, failed, cfg.MessageHandlerTimeout)
		retryCount = attempt
		stillFailed := failedMessages(failed, retryOutcome)
		if len(stillFailed) == 0 {
			return nil, retryCount
		}
		failed = stillFailed
	}
	return failed, retryCount
}

// classifyAndForward applies the outcome-classification table of
// spec.md §4.5 and forwards failed messages to the DLQ, first retrying
// only the failed messages up to max_retries further times (no retries
// for a missing handler).
func (p *RedisStreamPool) classifyAndForward(ctx context.Context, messages []Message, outcome Outcome) {
	metrics.ConsumerMessagesTotal.WithLabelValues("redis-stream", outcomeLabel(outcome.Kind)).Add(float64(len(messages)))

	failed := failedMessages(messages, outcome)
	if len(failed) == 0 {
		return
	}

	failed, retryCount := retryThenFail(ctx, p.handler, failed, outcome, p.cfg, "redis-stream")
	for _, m := range failed {
		p.forwardToDLQ(ctx, m, reasonFor(outcome), retryCount)
	}
}

func outcomeLabel(kind OutcomeKind) string {
	switch kind {
	case OutcomeOk:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeMissingHandler:
		return "missing_handler"
	case OutcomeHandlerFailure:
		return "handler_failure"
	case OutcomePartialBatchFailure:
		return "partial_batch_failure"
	default:
		return "unknown"
	}
}

func failedMessages(messages []Message, outcome Outcome) []Message {
	switch outcome.Kind {
	case OutcomeOk:
		return nil
	case OutcomePartialBatchFailure:
		failedSet := make(map[string]struct{}, len(outcome.FailedIDs))
		for _, id := range outcome.FailedIDs {
			failedSet[id] = struct{}{}
		}
		var out []Message
		for _, m := range messages {
			if _, ok := failedSet[m.ID]; ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return messages
	}
}

func reasonFor(outcome Outcome) string {
	switch outcome.Kind {
	case OutcomeTimeout:
		return outcome.Err.Error()
	case OutcomeMissingHandler:
		return "missing handler"
	case OutcomeHandlerFailure:
		return outcome.Err.Error()
	case OutcomePartialBatchFailure:
		return "partial batch failure"
	default:
		return "unknown failure"
	}
}

func (p *RedisStreamPool) forwardToDLQ(ctx context.Context, m Message, reason string, retryCount int) {
	if p.cfg.DLQStream == "" {
		p.log.Warn("no DLQ configured, dropping failed message", "message_id", m.ID, "reason", reason)
		return
	}

	bodyJSON, err := json.Marshal(m.Body)
	if err != nil {
		p.log.Error("failed to marshal DLQ body", "message_id", m.ID, "error", err)
		return
	}

	_, err = p.client.AddToStream(ctx, p.cfg.DLQStream, map[string]interface{}{
		"original_id":    m.ID,
		"body":           string(bodyJSON),
		"failure_reason": reason,
		"retry_count":    retryCount,
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
		"forward_id":     uuid.NewString(),
	})
	if err != nil {
		p.log.Error("failed to forward to DLQ", "message_id", m.ID, "dlq_stream", p.cfg.DLQStream, "error", err)
		return
	}
	metrics.ConsumerDLQForwardedTotal.WithLabelValues("redis-stream").Inc()
}

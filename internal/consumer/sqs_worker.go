package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/celerity/runtime-go/common/logger"
	"github.com/celerity/runtime-go/internal/lock"
	"github.com/celerity/runtime-go/internal/metrics"
)

// SQSPool mirrors RedisStreamPool's per-iteration loop against an
// SQS-like queue, per spec.md §4.5: ReceiveMessage with wait_time_seconds
// and visibility_timeout standing in for the Redis worker's blocking
// XREAD and per-message lock TTL. The lock manager in front of it is the
// same Redis-backed manager the Redis worker uses (per-message Redis lock
// keys kept alive by its heartbeat); the messages' SQS visibility
// timeouts are not extended while a handler runs.
type SQSPool struct {
	client   *sqs.Client
	locks    *lock.Manager
	log      *logger.Logger
	queueURL string
	cfg      Config
	handler  Handler
}

// NewSQSPool builds a pool polling queueURL.
func NewSQSPool(client *sqs.Client, locks *lock.Manager, log *logger.Logger, queueURL string, cfg Config, handler Handler) *SQSPool {
	return &SQSPool{client: client, locks: locks, log: log, queueURL: queueURL, cfg: cfg, handler: handler}
}

// Run launches cfg.NumWorkers workers. It blocks until ctx is cancelled.
func (p *SQSPool) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.cfg.NumWorkers; i++ {
		go func(workerIdx int) {
			p.workerLoop(ctx, workerIdx)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < p.cfg.NumWorkers; i++ {
		<-done
	}
}

func (p *SQSPool) workerLoop(ctx context.Context, workerIdx int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		iterationStart := time.Now()
		authErr, err := p.iteration(ctx)
		if err != nil {
			p.log.Error("sqs consumer iteration failed", "queue", p.queueURL, "worker", workerIdx, "error", err)
		}

		wait := p.cfg.PollingWaitTime - time.Since(iterationStart)
		if authErr {
			wait = p.cfg.AuthErrorTimeout
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// iteration returns (isAuthError, err).
func (p *SQSPool) iteration(ctx context.Context) (bool, error) {
	out, err := p.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &p.queueURL,
		MaxNumberOfMessages: int32(min(p.cfg.BatchSize, 10)),
		WaitTimeSeconds:     int32(p.cfg.WaitTimeSeconds / time.Second),
		VisibilityTimeout:   int32(p.cfg.VisibilityTimeout / time.Second),
	})
	if err != nil {
		return isAuthError(err), err
	}
	if len(out.Messages) == 0 {
		return false, nil
	}

	ids := make([]string, len(out.Messages))
	byID := make(map[string]types.Message, len(out.Messages))
	for i, m := range out.Messages {
		ids[i] = *m.MessageId
		byID[*m.MessageId] = m
	}

	acquired, err := p.locks.AcquireLocks(ctx, ids, p.cfg.LockDuration)
	if err != nil {
		return false, err
	}

	var locked []Message
	receiptHandles := make(map[string]string)
	for i, ok := range acquired {
		if !ok {
			continue
		}
		m := byID[ids[i]]
		var body map[string]any
		_ = json.Unmarshal([]byte(*m.Body), &body)
		if body == nil {
			body = map[string]any{"raw": *m.Body}
		}
		locked = append(locked, Message{ID: *m.MessageId, Body: body})
		receiptHandles[*m.MessageId] = *m.ReceiptHandle
	}
	if len(locked) == 0 {
		return false, nil
	}

	lockedIDs := make([]string, len(locked))
	for i, m := range locked {
		lockedIDs[i] = m.ID
	}
	cancelHeartbeat, hbDone := p.locks.StartHeartbeat(ctx, lockedIDs, p.cfg.LockDuration, p.cfg.LockDuration/3)

	outcome := dispatchWithTimeout(ctx, p.handler, locked, p.cfg.MessageHandlerTimeout)

	cancelHeartbeat()
	<-hbDone

	p.classifyAndForward(ctx, locked, receiptHandles, outcome)

	return false, nil
}

// classifyAndForward mirrors RedisStreamPool.classifyAndForward: retry
// the failed subset up to max_retries further attempts, forward what
// remains failed to the DLQ queue, and apply spec.md §4.5's delete /
// visibility-timeout-termination policy to every message in the batch.
func (p *SQSPool) classifyAndForward(ctx context.Context, messages []Message, receiptHandles map[string]string, outcome Outcome) {
	metrics.ConsumerMessagesTotal.WithLabelValues("sqs", outcomeLabel(outcome.Kind)).Add(float64(len(messages)))

	failed := failedMessages(messages, outcome)
	retryCount := 0
	if len(failed) > 0 {
		failed, retryCount = retryThenFail(ctx, p.handler, failed, outcome, p.cfg, "sqs")
	}

	failedSet := make(map[string]struct{}, len(failed))
	for _, m := range failed {
		failedSet[m.ID] = struct{}{}
	}

	for _, m := range failed {
		p.forwardToDLQ(ctx, m, reasonFor(outcome), retryCount)
	}

	if p.cfg.ShouldDeleteMessages {
		var toDelete []Message
		for _, m := range messages {
			if _, isFailed := failedSet[m.ID]; isFailed && !p.cfg.DeleteMessagesOnHandlerFailure {
				continue
			}
			toDelete = append(toDelete, m)
		}
		p.deleteBatch(ctx, toDelete, receiptHandles)
	}

	// For failed messages left undeleted, terminate their visibility
	// timeout so the queue redelivers them immediately rather than
	// waiting out the full window, per spec.md §4.5's "may ... conditionally
	// terminate visibility timeouts on failure".
	if !p.cfg.ShouldDeleteMessages || !p.cfg.DeleteMessagesOnHandlerFailure {
		var toExpire []string
		for _, m := range failed {
			if handle, ok := receiptHandles[m.ID]; ok {
				toExpire = append(toExpire, handle)
			}
		}
		p.expireVisibility(ctx, toExpire)
	}
}

func (p *SQSPool) expireVisibility(ctx context.Context, receiptHandles []string) {
	if len(receiptHandles) == 0 {
		return
	}
	entries := make([]types.ChangeMessageVisibilityBatchRequestEntry, len(receiptHandles))
	for i, handle := range receiptHandles {
		id := uuid.NewString()
		zero := int32(0)
		entries[i] = types.ChangeMessageVisibilityBatchRequestEntry{
			Id:                &id,
			ReceiptHandle:     &handle,
			VisibilityTimeout: zero,
		}
	}
	if _, err := p.client.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
		QueueUrl: &p.queueURL,
		Entries:  entries,
	}); err != nil {
		p.log.Error("sqs change visibility batch failed", "queue", p.queueURL, "error", err)
	}
}

func (p *SQSPool) forwardToDLQ(ctx context.Context, m Message, reason string, retryCount int) {
	if p.cfg.DLQQueueURL == "" {
		p.log.Warn("no DLQ configured, dropping failed message", "message_id", m.ID, "reason", reason)
		return
	}

	bodyJSON, err := json.Marshal(m.Body)
	if err != nil {
		p.log.Error("failed to marshal DLQ body", "message_id", m.ID, "error", err)
		return
	}
	body := string(bodyJSON)

	dlqURL := p.cfg.DLQQueueURL
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &dlqURL,
		MessageBody: &body,
		MessageAttributes: map[string]types.MessageAttributeValue{
			"failure_reason": stringAttr(reason),
			"retry_count":    stringAttr(strconv.Itoa(retryCount)),
			"failed_at":      stringAttr(time.Now().UTC().Format(time.RFC3339)),
			"original_id":    stringAttr(m.ID),
		},
	})
	if err != nil {
		p.log.Error("failed to forward to DLQ", "message_id", m.ID, "dlq_queue", p.cfg.DLQQueueURL, "error", err)
		return
	}
	metrics.ConsumerDLQForwardedTotal.WithLabelValues("sqs").Inc()
}

func stringAttr(v string) types.MessageAttributeValue {
	dataType := "String"
	return types.MessageAttributeValue{DataType: &dataType, StringValue: &v}
}

func (p *SQSPool) deleteBatch(ctx context.Context, messages []Message, receiptHandles map[string]string) {
	if len(messages) == 0 {
		return
	}
	entries := make([]types.DeleteMessageBatchRequestEntry, len(messages))
	for i, m := range messages {
		id := m.ID
		handle := receiptHandles[m.ID]
		entries[i] = types.DeleteMessageBatchRequestEntry{Id: &id, ReceiptHandle: &handle}
	}
	if _, err := p.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: &p.queueURL,
		Entries:  entries,
	}); err != nil {
		p.log.Error("sqs delete message batch failed", "queue", p.queueURL, "error", err)
	}
}

func isAuthError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "UnauthorizedAccess", "InvalidClientTokenId":
			return true
		}
	}
	return false
}

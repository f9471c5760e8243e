package blueprint

import "time"

// ConsumerSourceKind tags which poller backs a `consumer` resource.
type ConsumerSourceKind string

const (
	ConsumerSourceRedisStream ConsumerSourceKind = "redis-stream"
	ConsumerSourceSQS         ConsumerSourceKind = "sqs"
)

// ConsumerSpec is the resolved `spec` of a Type==ResourceTypeConsumer
// resource, naming its source and overriding spec.md §4.5's tunables.
type ConsumerSpec struct {
	Source   ConsumerSourceKind
	Stream   string // redis-stream: the stream key
	QueueURL string // sqs: the queue URL
	Handler  string // registered Go Handler name

	BatchSize             int
	NumWorkers            int
	BlockTime              time.Duration
	LockDuration           time.Duration
	MessageHandlerTimeout  time.Duration
	PollingWaitTime        time.Duration
	MaxRetries             int
	BaseDelay              time.Duration
	MaxDelay               time.Duration
	BackoffRate            float64
	DLQStream              string
	DLQQueueURL            string
	TrimStreamIntervalSecs int
	HasOverrides           bool
}

// DecodeConsumerSpec decodes a consumer resource's spec MappingNode,
// leaving zero-valued fields unset so the caller can overlay them on
// consumer.DefaultConfig().
func DecodeConsumerSpec(spec *MappingNode) ConsumerSpec {
	out := ConsumerSpec{}
	raw, ok := asMap(spec)
	if !ok {
		return out
	}

	if v, ok := stringField(raw, "sourceType"); ok {
		out.Source = ConsumerSourceKind(v)
	}
	out.Stream, _ = stringField(raw, "stream")
	out.QueueURL, _ = stringField(raw, "queueUrl")
	out.Handler, _ = stringField(raw, "handler")
	out.DLQStream, _ = stringField(raw, "dlqStream")
	out.DLQQueueURL, _ = stringField(raw, "dlqQueueUrl")

	if v, ok := intField(raw, "batchSize"); ok {
		out.BatchSize = v
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "numWorkers"); ok {
		out.NumWorkers = v
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "maxRetries"); ok {
		out.MaxRetries = v
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "blockTimeSeconds"); ok {
		out.BlockTime = time.Duration(v) * time.Second
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "lockDurationSeconds"); ok {
		out.LockDuration = time.Duration(v) * time.Second
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "messageHandlerTimeoutSeconds"); ok {
		out.MessageHandlerTimeout = time.Duration(v) * time.Second
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "pollingWaitTimeSeconds"); ok {
		out.PollingWaitTime = time.Duration(v) * time.Second
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "baseDelaySeconds"); ok {
		out.BaseDelay = time.Duration(v) * time.Second
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "maxDelaySeconds"); ok {
		out.MaxDelay = time.Duration(v) * time.Second
		out.HasOverrides = true
	}
	if v, ok := floatField(raw, "backoffRate"); ok {
		out.BackoffRate = v
		out.HasOverrides = true
	}
	if v, ok := intField(raw, "trimStreamIntervalSeconds"); ok {
		out.TrimStreamIntervalSecs = v
		out.HasOverrides = true
	}

	return out
}

// ScheduleSpec is the resolved `spec` of a Type==ResourceTypeSchedule
// resource: a cron expression driving a registered handler on a timer.
type ScheduleSpec struct {
	Cron    string
	Handler string
}

// DecodeScheduleSpec decodes a schedule resource's spec MappingNode.
func DecodeScheduleSpec(spec *MappingNode) ScheduleSpec {
	out := ScheduleSpec{}
	raw, ok := asMap(spec)
	if !ok {
		return out
	}
	out.Cron, _ = stringField(raw, "cron")
	out.Handler, _ = stringField(raw, "handler")
	return out
}

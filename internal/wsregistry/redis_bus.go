package wsregistry

import (
	"context"
	"encoding/json"
	"fmt"

	commonredis "github.com/celerity/runtime-go/common/redis"
	"github.com/celerity/runtime-go/common/logger"
)

// RedisBus publishes and receives WireMessage traffic over a Redis
// pub/sub channel per node-group, grounded on the teacher's
// cmd/fanout/redis_subscriber.go PSubscribe loop (there hard-coded to
// "workflow:events:*"; here parameterized by group so multiple
// independent WebSocket registries can share one Redis instance).
type RedisBus struct {
	client *commonredis.Client
	group  string
	log    *logger.Logger
}

// NewRedisBus builds a bus that publishes to and subscribes on the
// channel "celerity:ws:<group>".
func NewRedisBus(client *commonredis.Client, group string, log *logger.Logger) *RedisBus {
	return &RedisBus{client: client, group: group, log: log}
}

func (b *RedisBus) channel() string {
	return "celerity:ws:" + b.group
}

type wireEnvelope struct {
	Kind          WireKind        `json:"kind"`
	ConnectionID  string          `json:"connectionId,omitempty"`
	MessageID     string          `json:"messageId"`
	SourceNode    string          `json:"sourceNode"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	InformClients []string        `json:"informClients,omitempty"`
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, msg WireMessage) error {
	env := wireEnvelope{
		Kind:          msg.Kind,
		ConnectionID:  msg.ConnectionID,
		MessageID:     msg.MessageID,
		SourceNode:    msg.SourceNode,
		Payload:       msg.Payload,
		InformClients: msg.InformClients,
	}
	buf, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal wire envelope: %w", err)
	}
	return b.client.PublishEvent(ctx, b.channel(), string(buf))
}

// Listen subscribes to the bus channel and dispatches every inbound
// message to registry.HandleInbound until ctx is cancelled. Messages
// originating from this same node are skipped to avoid double-handling
// a publish this process just made.
func (b *RedisBus) Listen(ctx context.Context, nodeID string, registry *Registry) {
	pubsub := b.client.GetUnderlying().Subscribe(ctx, b.channel())
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		b.log.Error("websocket bus subscribe failed", "channel", b.channel(), "error", err)
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var env wireEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("websocket bus malformed envelope", "error", err)
				continue
			}
			if env.SourceNode == nodeID {
				continue
			}
			registry.HandleInbound(ctx, WireMessage{
				Kind:          env.Kind,
				ConnectionID:  env.ConnectionID,
				MessageID:     env.MessageID,
				SourceNode:    env.SourceNode,
				Payload:       env.Payload,
				InformClients: env.InformClients,
			})
		}
	}
}

package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	commonredis "github.com/celerity/runtime-go/common/redis"
	"github.com/celerity/runtime-go/common/logger"
	"github.com/celerity/runtime-go/internal/lock"
)

func newTestPool(t *testing.T, stream string, cfg Config, handler Handler) (*RedisStreamPool, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logger.New("error", "json")
	client := commonredis.NewClient(rc, log)
	locks := lock.NewManager(client, "worker-1")
	pool := NewRedisStreamPool(client, locks, log, stream, cfg, handler)
	return pool, rc
}

func TestIterationDispatchesAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	var received []Message

	cfg := DefaultConfig()
	cfg.BlockTime = 10 * time.Millisecond
	cfg.TrimStreamInterval = -1

	pool, rc := newTestPool(t, "stream-1", cfg, func(ctx context.Context, messages []Message) Outcome {
		received = append(received, messages...)
		return Outcome{Kind: OutcomeOk}
	})

	_, err := rc.XAdd(ctx, &redis.XAddArgs{Stream: "stream-1", Values: map[string]interface{}{"payload": "hello"}}).Result()
	require.NoError(t, err)

	require.NoError(t, pool.iteration(ctx))
	require.Len(t, received, 1)
	require.Equal(t, "hello", received[0].Body["payload"])

	cursor, err := rc.Get(ctx, pool.cursorKey()).Result()
	require.NoError(t, err)
	require.NotEqual(t, "0", cursor)
}

func TestIterationForwardsFailedMessagesToDLQAfterRetries(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.BlockTime = 10 * time.Millisecond
	cfg.TrimStreamInterval = -1
	cfg.DLQStream = "stream-1-dlq"
	cfg.MaxRetries = 1
	cfg.BaseDelay = 1 * time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond

	attempts := 0
	pool, rc := newTestPool(t, "stream-1", cfg, func(ctx context.Context, messages []Message) Outcome {
		attempts++
		return Outcome{Kind: OutcomeHandlerFailure, Err: assertErr{"boom"}}
	})

	_, err := rc.XAdd(ctx, &redis.XAddArgs{Stream: "stream-1", Values: map[string]interface{}{"payload": "x"}}).Result()
	require.NoError(t, err)

	require.NoError(t, pool.iteration(ctx))
	require.Equal(t, 2, attempts, "initial attempt + 1 retry")

	dlqEntries, err := rc.XRange(ctx, "stream-1-dlq", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dlqEntries, 1)
	require.Equal(t, "boom", dlqEntries[0].Values["failure_reason"])
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

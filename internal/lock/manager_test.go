package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	commonredis "github.com/celerity/runtime-go/common/redis"
	"github.com/celerity/runtime-go/common/logger"
)

func newTestManager(t *testing.T, holder string) *Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := commonredis.NewClient(rc, logger.New("error", "json"))
	return NewManager(client, holder)
}

func TestAcquireLocksAllSucceedWhenFree(t *testing.T) {
	m := newTestManager(t, "worker-1")
	ctx := context.Background()

	acquired, err := m.AcquireLocks(ctx, []string{"msg-1", "msg-2"}, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true}, acquired)
}

func TestAcquireLocksPartialWhenHeldByAnother(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := commonredis.NewClient(rc, logger.New("error", "json"))

	owner := NewManager(client, "worker-1")
	_, err := owner.AcquireLocks(ctx, []string{"msg-1"}, 30*time.Second)
	require.NoError(t, err)

	other := NewManager(client, "worker-2")
	acquired, err := other.AcquireLocks(ctx, []string{"msg-1", "msg-2"}, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, []bool{false, true}, acquired)
}

func TestReleaseLocksOnlyDropsOwnedKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := commonredis.NewClient(rc, logger.New("error", "json"))

	owner := NewManager(client, "worker-1")
	_, err := owner.AcquireLocks(ctx, []string{"msg-1"}, 30*time.Second)
	require.NoError(t, err)

	other := NewManager(client, "worker-2")
	require.NoError(t, other.ReleaseLocks(ctx, []string{"msg-1"}))

	// still held by worker-1, so worker-2 must still fail to acquire it
	acquired, err := other.AcquireLocks(ctx, []string{"msg-1"}, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, []bool{false}, acquired)

	require.NoError(t, owner.ReleaseLocks(ctx, []string{"msg-1"}))
	acquired, err = other.AcquireLocks(ctx, []string{"msg-1"}, 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, []bool{true}, acquired)
}

func TestHeartbeatExtendsTTLPastOriginalExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := commonredis.NewClient(rc, logger.New("error", "json"))
	m := NewManager(client, "worker-1")

	ttl := 200 * time.Millisecond
	_, err := m.AcquireLocks(ctx, []string{"msg-1"}, ttl)
	require.NoError(t, err)

	cancel, _ := m.StartHeartbeat(ctx, []string{"msg-1"}, ttl, 50*time.Millisecond)
	defer cancel()

	// miniredis TTLs only move with FastForward, while the heartbeat ticks
	// in real time: advance part of the ttl, let a tick refresh it, then
	// advance past the original expiry (250ms in total).
	mr.FastForward(150 * time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	mr.FastForward(100 * time.Millisecond)
	require.True(t, mr.Exists(lockKey("msg-1")))
}

func TestHeartbeatStopsAfterCancel(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := commonredis.NewClient(rc, logger.New("error", "json"))
	m := NewManager(client, "worker-1")

	ttl := 200 * time.Millisecond
	_, err := m.AcquireLocks(ctx, []string{"msg-1"}, ttl)
	require.NoError(t, err)

	cancel, done := m.StartHeartbeat(ctx, []string{"msg-1"}, ttl, 50*time.Millisecond)
	cancel()
	<-done

	mr.FastForward(250 * time.Millisecond)
	require.False(t, mr.Exists(lockKey("msg-1")))
}

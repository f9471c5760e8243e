// Package lock implements the distributed lock/lease primitive of
// spec.md §4.2: acquire_locks, release_locks and start_heartbeat, used by
// the consumer worker pool (per-message locks and the stream trimmer's
// lock) to serialize access to shared resources across nodes. It is backed by Redis SETNX/
// EXPIRE, following the teacher's common/redis/client.go pipeline style,
// with github.com/sony/gobreaker wrapping the Redis calls so a flapping
// Redis instance fails lock acquisition fast instead of retry-storming it.
package lock

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	commonredis "github.com/celerity/runtime-go/common/redis"
)

const keyPrefix = "celerity:lock:"

// Manager acquires and releases named locks and runs heartbeats that
// extend their TTL while the holder is still working.
type Manager struct {
	client  *commonredis.Client
	breaker *gobreaker.CircuitBreaker
	holder  string
}

// NewManager builds a lock manager identified by holder (typically the
// node id or worker pool name), used as the SETNX value so a lock's
// owner can be inspected for debugging.
func NewManager(client *commonredis.Client, holder string) *Manager {
	st := gobreaker.Settings{
		Name:        "lock-manager",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Manager{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(st),
		holder:  holder,
	}
}

func lockKey(id string) string {
	return keyPrefix + id
}

// AcquireLocks attempts to acquire every id in ids with the given ttl in a
// single atomic Lua script invocation, per spec.md §4.2, and returns a
// parallel slice reporting which ids were actually acquired. Acquisition
// of each id is still independent: a caller that needs all-or-nothing
// semantics must inspect the result slice and release whatever subset
// succeeded.
func (m *Manager) AcquireLocks(ctx context.Context, ids []string, ttl time.Duration) ([]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = lockKey(id)
	}

	result, err := m.breaker.Execute(func() (interface{}, error) {
		return m.client.EvalBoolSlice(ctx, acquireAllScript, keys, m.holder, int64(ttl/time.Millisecond))
	})
	if err != nil {
		return nil, err
	}
	return result.([]bool), nil
}

// acquireAllScript runs SETNX+PEXPIRE for every key in a single Redis
// command, so a crash mid-batch can never leave some ids locked by this
// holder and others not, racing against the caller's own retry.
const acquireAllScript = `
local acquired = {}
for i, key in ipairs(KEYS) do
  if redis.call("set", key, ARGV[1], "NX", "PX", ARGV[2]) then
    acquired[i] = 1
  else
    acquired[i] = 0
  end
end
return acquired
`

// ReleaseLocks releases locks this manager holds. Ids this holder does not
// own are left untouched: release is a best-effort courtesy unlock, not an
// authority check, matching spec.md §4.2's release_locks contract.
func (m *Manager) ReleaseLocks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = lockKey(id)
	}

	_, err := m.breaker.Execute(func() (interface{}, error) {
		return nil, m.client.EvalEachKey(ctx, releaseIfOwnedScript, keys, m.holder)
	})
	return err
}

// releaseIfOwnedScript only deletes the lock key if its value still
// matches the releasing holder, so a lock that already expired and was
// re-acquired by another node is never deleted out from under it.
const releaseIfOwnedScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end
`

// StartHeartbeat runs in the background, extending ttl on every id this
// manager holds every interval until the returned cancel function is
// called or ctx is done. Per spec.md §4.2 the caller must choose interval
// strictly less than ttl/2 so a missed tick or two never lets the lock
// expire out from under a still-running holder.
func (m *Manager) StartHeartbeat(ctx context.Context, ids []string, ttl, interval time.Duration) (cancel func(), done <-chan struct{}) {
	hbCtx, hbCancel := context.WithCancel(ctx)
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				m.extend(hbCtx, ids, ttl)
			}
		}
	}()

	return hbCancel, finished
}

func (m *Manager) extend(ctx context.Context, ids []string, ttl time.Duration) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = lockKey(id)
	}
	_, _ = m.breaker.Execute(func() (interface{}, error) {
		return nil, m.client.EvalEachKey(ctx, extendIfOwnedScript, keys, m.holder, int64(ttl/time.Millisecond))
	})
}

// extendIfOwnedScript only refreshes the TTL if this holder still owns
// the lock, mirroring releaseIfOwnedScript's ownership check.
const extendIfOwnedScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
else
  return 0
end
`

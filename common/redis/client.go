package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with common operations and instrumentation
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// Set sets a key with optional expiration (0 = no expiration)
func (c *Client) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	err := c.redis.Set(ctx, key, value, expiry).Err()
	if err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	if expiry > 0 {
		c.logger.Debug("redis SET", "key", key, "expiry", expiry)
	} else {
		c.logger.Debug("redis SET", "key", key)
	}
	return nil
}

// GetOptional retrieves a value by key, returning ok=false (and no
// error) when the key does not exist, for callers that treat a missing
// key as "nothing yet" rather than a failure (cursor reads, trim
// checkpoints).
func (c *Client) GetOptional(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		c.logger.Debug("redis GET key not found", "key", key)
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	c.logger.Debug("redis GET", "key", key)
	return val, true, nil
}

// AddToStream adds a message to a Redis stream
func (c *Client) AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error) {
	id, err := c.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		c.logger.Error("redis XADD failed", "stream", stream, "error", err)
		return "", fmt.Errorf("failed to add to stream %s: %w", stream, err)
	}
	c.logger.Debug("redis XADD", "stream", stream, "id", id)
	return id, nil
}

// ReadStream reads new entries from stream after lastID, blocking up to
// block for more if none are immediately available yet. This is the
// plain-cursor XREAD counterpart of a consumer-group XREADGROUP, for a
// poller that tracks its own shared last_message_id key instead of
// relying on a group's PEL.
func (c *Client) ReadStream(ctx context.Context, stream, lastID string, count int64, block time.Duration) ([]redis.XStream, error) {
	streams, err := c.redis.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Error("redis XREAD failed", "stream", stream, "error", err)
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}
	c.logger.Debug("redis XREAD", "stream", stream, "last_id", lastID)
	return streams, nil
}

// TrimMaxLen trims stream down to exactly maxLen entries (XTRIM MAXLEN
// without the approximate "~" modifier).
func (c *Client) TrimMaxLen(ctx context.Context, stream string, maxLen int64) error {
	if err := c.redis.XTrimMaxLen(ctx, stream, maxLen).Err(); err != nil {
		c.logger.Error("redis XTRIM MAXLEN failed", "stream", stream, "error", err)
		return fmt.Errorf("failed to trim stream %s: %w", stream, err)
	}
	c.logger.Debug("redis XTRIM MAXLEN", "stream", stream, "max_len", maxLen)
	return nil
}

// TrimMinID trims every entry of stream older than minID.
func (c *Client) TrimMinID(ctx context.Context, stream, minID string) error {
	if err := c.redis.XTrimMinID(ctx, stream, minID).Err(); err != nil {
		c.logger.Error("redis XTRIM MINID failed", "stream", stream, "error", err)
		return fmt.Errorf("failed to trim stream %s: %w", stream, err)
	}
	c.logger.Debug("redis XTRIM MINID", "stream", stream, "min_id", minID)
	return nil
}

// PublishEvent publishes an event to a Redis channel
func (c *Client) PublishEvent(ctx context.Context, channel string, message string) error {
	err := c.redis.Publish(ctx, channel, message).Err()
	if err != nil {
		c.logger.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	c.logger.Debug("redis PUBLISH", "channel", channel)
	return nil
}

// EvalBoolSlice runs a Lua script against keys in a single round trip
// and interprets its reply as a parallel []bool, for scripts shaped
// like acquire-all-or-report-per-key (1 acquired, 0 not).
func (c *Client) EvalBoolSlice(ctx context.Context, script string, keys []string, args ...interface{}) ([]bool, error) {
	raw, err := c.redis.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		c.logger.Error("redis EVAL failed", "key_count", len(keys), "error", err)
		return nil, fmt.Errorf("eval script failed: %w", err)
	}
	values, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("eval script returned unexpected type %T", raw)
	}
	result := make([]bool, len(values))
	for i, v := range values {
		n, _ := v.(int64)
		result[i] = n == 1
	}
	c.logger.Debug("redis EVAL", "key_count", len(keys))
	return result, nil
}

// EvalEachKey runs script once per key, pipelined into a single round
// trip, discarding each invocation's individual reply. Used for
// per-key ownership-checked scripts (release, extend) where the only
// observable outcome the caller needs is whether the pipeline itself
// succeeded.
func (c *Client) EvalEachKey(ctx context.Context, script string, keys []string, args ...interface{}) error {
	pipe := c.redis.Pipeline()
	for _, key := range keys {
		pipe.Eval(ctx, script, []string{key}, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		c.logger.Error("redis EVAL pipeline failed", "key_count", len(keys), "error", err)
		return fmt.Errorf("eval pipeline failed: %w", err)
	}
	c.logger.Debug("redis EVAL pipeline", "key_count", len(keys))
	return nil
}

// Package cache mirrors session diagnostics into Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"boardsync/model"

	"github.com/go-redis/redis/v8"
)

const (
	messageLogKey   = "boardsync:session:%s:messages" // List of StoredMessage JSON, oldest first
	defaultLogTTL   = time.Hour
	mirrorWriteWait = 2 * time.Second
)

// MessageLogKey returns the list key holding a session's message log.
func MessageLogKey(sessionID string) string {
	return fmt.Sprintf(messageLogKey, sessionID)
}

// MessageLogCache appends each logged message to a capped Redis list so the
// log of a running session can be inspected from outside the process.
type MessageLogCache struct {
	client *redis.Client
	key    string
	limit  int // 0 keeps everything
	ttl    time.Duration
}

// NewMessageLogCache mirrors the log of sessionID. limit caps the list
// length and ttl expires it after the session goes quiet.
func NewMessageLogCache(client *redis.Client, sessionID string, limit int, ttl time.Duration) *MessageLogCache {
	if ttl <= 0 {
		ttl = defaultLogTTL
	}
	return &MessageLogCache{
		client: client,
		key:    MessageLogKey(sessionID),
		limit:  limit,
		ttl:    ttl,
	}
}

// Key returns the Redis key being written.
func (c *MessageLogCache) Key() string {
	return c.key
}

// Append pushes msg onto the list, trims it and refreshes the expiry.
func (c *MessageLogCache) Append(ctx context.Context, msg model.StoredMessage) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, mirrorWriteWait)
	defer cancel()

	pipe := c.client.TxPipeline()
	pipe.RPush(wctx, c.key, data)
	if c.limit > 0 {
		pipe.LTrim(wctx, c.key, int64(-c.limit), -1)
	}
	pipe.Expire(wctx, c.key, c.ttl)
	if _, err := pipe.Exec(wctx); err != nil {
		return fmt.Errorf("failed to mirror message to %s: %w", c.key, err)
	}
	return nil
}

// Recent returns up to n mirrored messages, oldest first. n <= 0 returns all.
func (c *MessageLogCache) Recent(ctx context.Context, n int) ([]model.StoredMessage, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := c.client.LRange(ctx, c.key, start, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []model.StoredMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", c.key, err)
	}
	return decodeMessages(raw)
}

// Clear deletes the mirrored log.
func (c *MessageLogCache) Clear(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c.key, err)
	}
	return nil
}

func decodeMessages(raw []string) ([]model.StoredMessage, error) {
	out := make([]model.StoredMessage, 0, len(raw))
	for _, item := range raw {
		var msg model.StoredMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Package cache keeps a Redis record of messages that finished processing so
// redeliveries of completed work can be settled without a database round trip.
// The database remains authoritative; a miss here proves nothing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "eventgate:processed:"

// ProcessedCache records processed message identities in Redis
type ProcessedCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisClient connects to Redis at url and verifies the connection.
func NewRedisClient(ctx context.Context, url string, maxRetries, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if maxRetries > 0 {
		opt.MaxRetries = maxRetries
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

// NewProcessedCache creates a cache. A nil client yields a disabled cache.
func NewProcessedCache(client *redis.Client, ttl time.Duration) *ProcessedCache {
	return &ProcessedCache{
		redis: client,
		ttl:   ttl,
	}
}

// IsEnabled returns whether the cache is backed by Redis
func (c *ProcessedCache) IsEnabled() bool {
	return c != nil && c.redis != nil
}

// IsProcessed reports whether the message is recorded as processed.
func (c *ProcessedCache) IsProcessed(ctx context.Context, messageID, topic string) (bool, error) {
	if !c.IsEnabled() {
		return false, nil
	}

	err := c.redis.Get(ctx, c.key(messageID, topic)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processed cache: %w", err)
	}
	return true, nil
}

// MarkProcessed records the message as processed for the cache TTL.
func (c *ProcessedCache) MarkProcessed(ctx context.Context, messageID, topic string) error {
	if !c.IsEnabled() {
		return nil
	}

	if err := c.redis.Set(ctx, c.key(messageID, topic), time.Now().UTC().Format(time.RFC3339), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark processed: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *ProcessedCache) Ping(ctx context.Context) error {
	if !c.IsEnabled() {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis client.
func (c *ProcessedCache) Close() error {
	if !c.IsEnabled() {
		return nil
	}
	return c.redis.Close()
}

// key hashes the length-prefixed topic followed by the message ID, so no two
// distinct identities share a key whatever bytes either part contains.
func (c *ProcessedCache) key(messageID, topic string) string {
	return keyPrefix + identityHash(messageID, topic)
}

func identityHash(messageID, topic string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d:%s", len(topic), topic)
	h.Write([]byte(messageID))
	return hex.EncodeToString(h.Sum(nil))
}

// Package lock serializes work on a single message across processes using
// transaction-scoped database advisory locks.
package lock

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"

	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

// Locker is the part of a store transaction that can take advisory locks.
type Locker interface {
	TryAdvisoryXactLock(ctx context.Context, key1, key2 int32) (bool, error)
}

// Key maps s to a non-negative 31-bit lock key: the MD5 digest read as a
// big-endian integer, modulo 2^31.
func Key(s string) int32 {
	sum := md5.Sum([]byte(s))
	return int32(binary.BigEndian.Uint32(sum[12:16]) & 0x7fffffff)
}

// Keys returns the advisory lock key pair for a message on a topic.
func Keys(topic, messageID string) (int32, int32) {
	return Key(topic), Key(messageID)
}

// Acquire takes the message lock inside tx without waiting. If another
// transaction holds it, Acquire returns an *models.EventProcessingError.
// The lock is released when tx commits or rolls back.
func Acquire(ctx context.Context, tx Locker, topic, messageID string) error {
	k1, k2 := Keys(topic, messageID)

	acquired, err := tx.TryAdvisoryXactLock(ctx, k1, k2)
	if err != nil {
		return fmt.Errorf("acquire lock for message %s: %w", messageID, err)
	}
	if !acquired {
		return &models.EventProcessingError{MessageID: messageID, Topic: topic}
	}
	return nil
}

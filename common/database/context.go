package database

import (
	"context"
	"time"
)

// Standard timeout durations for database operations
const (
	// DefaultQueryTimeout is the timeout for read queries
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds admission and finalization transactions
	DefaultWriteTimeout = 10 * time.Second

	// DefaultBulkTimeout is the timeout for sweeps and migrations
	DefaultBulkTimeout = 30 * time.Second
)

// QueryContext creates a context with DefaultQueryTimeout.
// Use this for SELECT queries and read operations.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// BulkContext creates a context with DefaultBulkTimeout.
// Use this for bulk operations and migrations.
func BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultBulkTimeout)
}

// DetachedContext returns a context that keeps parent's values but not its
// cancellation, bounded by timeout. Cleanup writes that must land after the
// caller gave up use it. A non-positive timeout means DefaultWriteTimeout.
func DetachedContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}

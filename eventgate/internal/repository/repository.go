package repository

import (
	"context"
	"errors"
	"time"

	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrTxClosed      = errors.New("transaction already committed or rolled back")
)

// DefaultListLimit caps List when the filter sets no limit.
const DefaultListLimit = 100

// Store is the persistent ledger of processed messages.
type Store interface {
	// Begin opens a read-committed transaction.
	Begin(ctx context.Context) (Tx, error)

	Get(ctx context.Context, messageID, topic string) (*models.Event, error)
	List(ctx context.Context, filter ListFilter) ([]*models.Event, error)
	CountByStatus(ctx context.Context) (map[models.EventStatus]int64, error)

	// ReclaimStale moves up to limit PROCESSING events whose processing
	// started before cutoff to FAILED, skipping rows locked by live
	// transactions, and returns them.
	ReclaimStale(ctx context.Context, cutoff time.Time, limit int, reason string) ([]*models.Event, error)

	Ping(ctx context.Context) error
	Close()
}

// Tx is a unit of work against the store. Locks taken inside a Tx are
// released when it commits or rolls back.
type Tx interface {
	// TryAdvisoryXactLock takes a transaction-scoped advisory lock on the key
	// pair without waiting. It returns false if another transaction holds it.
	TryAdvisoryXactLock(ctx context.Context, key1, key2 int32) (bool, error)

	// FindByIdentity loads the event for (messageID, topic). With forUpdate the
	// row is locked until the transaction ends. Returns ErrEventNotFound if absent.
	FindByIdentity(ctx context.Context, messageID, topic string, forUpdate bool) (*models.Event, error)

	// InsertIfAbsent inserts e unless a row with the same identity exists.
	// It reports whether the row was inserted and sets e.ID when it was.
	InsertIfAbsent(ctx context.Context, e *models.Event) (bool, error)

	// UpdateStatus persists the lifecycle fields of e.
	UpdateStatus(ctx context.Context, e *models.Event) error

	Commit(ctx context.Context) error

	// Rollback aborts the transaction. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status    models.EventStatus
	Topic     string
	EventType string
	Limit     int
	Offset    int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

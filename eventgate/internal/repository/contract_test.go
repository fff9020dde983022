package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("insert if absent is idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		e := models.NewEvent("1", "test-topic", "DailyDigest", now)
		inserted, err := tx.InsertIfAbsent(ctx, e)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.NotZero(t, e.ID)
		require.NoError(t, tx.Commit(ctx))

		tx, err = store.Begin(ctx)
		require.NoError(t, err)
		inserted, err = tx.InsertIfAbsent(ctx, models.NewEvent("1", "test-topic", "DailyDigest", now))
		require.NoError(t, err)
		assert.False(t, inserted)
		require.NoError(t, tx.Rollback(ctx))

		got, err := store.Get(ctx, "1", "test-topic")
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, got.Status)
		assert.Equal(t, "DailyDigest", got.EventType)
		require.NotNil(t, got.ProcessingStartedAt)
		assert.True(t, now.Equal(*got.ProcessingStartedAt))
	})

	t.Run("same message id on different topics are distinct", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		for _, topic := range []string{"a", "b"} {
			tx, err := store.Begin(ctx)
			require.NoError(t, err)
			inserted, err := tx.InsertIfAbsent(ctx, models.NewEvent("1", topic, "DailyDigest", now))
			require.NoError(t, err)
			assert.True(t, inserted)
			require.NoError(t, tx.Commit(ctx))
		}

		events, err := store.List(ctx, ListFilter{})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("find missing returns not found", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		_, err = tx.FindByIdentity(ctx, "missing", "t", true)
		assert.ErrorIs(t, err, ErrEventNotFound)

		_, err = store.Get(ctx, "missing", "t")
		assert.ErrorIs(t, err, ErrEventNotFound)
	})

	t.Run("uncommitted writes are invisible to others", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.InsertIfAbsent(ctx, models.NewEvent("1", "t", "DailyDigest", time.Now()))
		require.NoError(t, err)

		_, err = store.Get(ctx, "1", "t")
		assert.ErrorIs(t, err, ErrEventNotFound)

		require.NoError(t, tx.Rollback(ctx))
		_, err = store.Get(ctx, "1", "t")
		assert.ErrorIs(t, err, ErrEventNotFound)
	})

	t.Run("update status persists lifecycle fields", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		seedEvent(t, store, models.NewEvent("1", "t", "DailyDigest", now))

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		e, err := tx.FindByIdentity(ctx, "1", "t", true)
		require.NoError(t, err)
		require.NoError(t, e.Fail(errors.New("smtp down"), now.Add(time.Second)))
		require.NoError(t, tx.UpdateStatus(ctx, e))
		require.NoError(t, tx.Commit(ctx))

		got, err := store.Get(ctx, "1", "t")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "smtp down", *got.LastError)
	})

	t.Run("update of missing row returns not found", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)

		err = tx.UpdateStatus(ctx, models.NewEvent("ghost", "t", "DailyDigest", time.Now()))
		assert.ErrorIs(t, err, ErrEventNotFound)
	})

	t.Run("advisory lock is exclusive and transaction scoped", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		tx1, err := store.Begin(ctx)
		require.NoError(t, err)
		ok, err := tx1.TryAdvisoryXactLock(ctx, 11, 22)
		require.NoError(t, err)
		require.True(t, ok)

		tx2, err := store.Begin(ctx)
		require.NoError(t, err)
		ok, err = tx2.TryAdvisoryXactLock(ctx, 11, 22)
		require.NoError(t, err)
		assert.False(t, ok, "second transaction must not acquire a held lock")

		ok, err = tx2.TryAdvisoryXactLock(ctx, 11, 23)
		require.NoError(t, err)
		assert.True(t, ok, "different key pair is independent")
		require.NoError(t, tx2.Rollback(ctx))

		require.NoError(t, tx1.Commit(ctx))

		tx3, err := store.Begin(ctx)
		require.NoError(t, err)
		ok, err = tx3.TryAdvisoryXactLock(ctx, 11, 22)
		require.NoError(t, err)
		assert.True(t, ok, "lock is released on commit")
		require.NoError(t, tx3.Rollback(ctx))
	})

	t.Run("row lock blocks until holder commits", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		seedEvent(t, store, models.NewEvent("1", "t", "DailyDigest", time.Now()))

		holder, err := store.Begin(ctx)
		require.NoError(t, err)
		e, err := holder.FindByIdentity(ctx, "1", "t", true)
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			seen *models.Event
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := store.Begin(ctx)
			if err != nil {
				return
			}
			defer tx.Rollback(ctx)
			seen, _ = tx.FindByIdentity(ctx, "1", "t", true)
		}()

		time.Sleep(100 * time.Millisecond)
		require.NoError(t, e.TransitionTo(models.StatusProcessed, time.Now()))
		require.NoError(t, holder.UpdateStatus(ctx, e))
		require.NoError(t, holder.Commit(ctx))

		wg.Wait()
		require.NotNil(t, seen)
		assert.Equal(t, models.StatusProcessed, seen.Status, "waiter sees the committed version")
	})

	t.Run("reclaim stale moves old processing rows to failed", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		old := time.Now().Add(-time.Hour).UTC()
		fresh := time.Now().UTC()

		seedEvent(t, store, models.NewEvent("old", "t", "DailyDigest", old))
		seedEvent(t, store, models.NewEvent("fresh", "t", "DailyDigest", fresh))

		reclaimed, err := store.ReclaimStale(ctx, time.Now().Add(-30*time.Minute), 10, "reclaimed: processing timed out")
		require.NoError(t, err)
		require.Len(t, reclaimed, 1)
		assert.Equal(t, "old", reclaimed[0].MessageID)
		assert.Equal(t, models.StatusFailed, reclaimed[0].Status)

		got, err := store.Get(ctx, "fresh", "t")
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, got.Status)
	})

	t.Run("reclaim skips locked rows", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		seedEvent(t, store, models.NewEvent("busy", "t", "DailyDigest", time.Now().Add(-time.Hour)))

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.FindByIdentity(ctx, "busy", "t", true)
		require.NoError(t, err)

		reclaimed, err := store.ReclaimStale(ctx, time.Now(), 10, "reclaimed")
		require.NoError(t, err)
		assert.Empty(t, reclaimed)
		require.NoError(t, tx.Rollback(ctx))
	})

	t.Run("list filters and counts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		seedEvent(t, store, models.NewEvent("1", "a", "DailyDigest", now))
		seedEvent(t, store, models.NewEvent("2", "a", "Other", now.Add(time.Second)))
		done := models.NewEvent("3", "b", "DailyDigest", now.Add(2*time.Second))
		require.NoError(t, done.TransitionTo(models.StatusProcessed, now))
		seedEvent(t, store, done)

		byTopic, err := store.List(ctx, ListFilter{Topic: "a"})
		require.NoError(t, err)
		assert.Len(t, byTopic, 2)
		assert.Equal(t, "2", byTopic[0].MessageID, "newest first")

		byStatus, err := store.List(ctx, ListFilter{Status: models.StatusProcessed})
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, "3", byStatus[0].MessageID)

		limited, err := store.List(ctx, ListFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "2", limited[0].MessageID)

		counts, err := store.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts[models.StatusProcessing])
		assert.Equal(t, int64(1), counts[models.StatusProcessed])
	})
}

func seedEvent(t *testing.T, store Store, e *models.Event) {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	inserted, err := tx.InsertIfAbsent(ctx, e)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, tx.Commit(ctx))
}

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

type identity struct {
	messageID string
	topic     string
}

// MemoryStore is an in-process Store with read-committed visibility, row
// locks that block like SELECT ... FOR UPDATE, and transaction-scoped
// advisory locks. It backs tests and single-process deployments.
type MemoryStore struct {
	mu       sync.Mutex
	rows     map[identity]*models.Event
	nextID   int64
	rowLocks map[identity]*memoryTx
	pending  map[identity]*memoryTx
	advisory map[[2]int32]*memoryTx
	released chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[identity]*models.Event),
		rowLocks: make(map[identity]*memoryTx),
		pending:  make(map[identity]*memoryTx),
		advisory: make(map[[2]int32]*memoryTx),
		released: make(chan struct{}),
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{store: s, staged: make(map[identity]*models.Event)}, nil
}

func (s *MemoryStore) Get(ctx context.Context, messageID, topic string) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rows[identity{messageID, topic}]
	if !ok {
		return nil, ErrEventNotFound
	}
	return cloneEvent(e), nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var events []*models.Event
	for _, e := range s.rows {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Topic != "" && e.Topic != filter.Topic {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		events = append(events, cloneEvent(e))
	}
	s.mu.Unlock()

	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.After(events[j].CreatedAt)
		}
		return events[i].ID > events[j].ID
	})

	if filter.Offset >= len(events) {
		return nil, nil
	}
	events = events[filter.Offset:]
	if len(events) > filter.limit() {
		events = events[:filter.limit()]
	}
	return events, nil
}

func (s *MemoryStore) CountByStatus(ctx context.Context) (map[models.EventStatus]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.EventStatus]int64)
	for _, e := range s.rows {
		counts[e.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) ReclaimStale(ctx context.Context, cutoff time.Time, limit int, reason string) ([]*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*models.Event
	for id, e := range s.rows {
		if e.Status != models.StatusProcessing || e.ProcessingStartedAt == nil || !e.ProcessingStartedAt.Before(cutoff) {
			continue
		}
		if _, locked := s.rowLocks[id]; locked {
			continue
		}
		stale = append(stale, e)
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].ProcessingStartedAt.Before(*stale[j].ProcessingStartedAt)
	})
	if len(stale) > limit {
		stale = stale[:limit]
	}

	now := time.Now()
	reclaimed := make([]*models.Event, 0, len(stale))
	for _, e := range stale {
		msg := reason
		e.Status = models.StatusFailed
		e.LastError = &msg
		e.UpdatedAt = now
		reclaimed = append(reclaimed, cloneEvent(e))
	}
	return reclaimed, nil
}

// wait blocks until some transaction releases its locks or ctx ends.
// The caller must hold s.mu; it is released while waiting and reacquired.
func (s *MemoryStore) wait(ctx context.Context) error {
	ch := s.released
	s.mu.Unlock()
	defer s.mu.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release drops every lock tx holds and wakes waiters. Caller holds s.mu.
func (s *MemoryStore) release(tx *memoryTx) {
	for id, holder := range s.rowLocks {
		if holder == tx {
			delete(s.rowLocks, id)
		}
	}
	for id, holder := range s.pending {
		if holder == tx {
			delete(s.pending, id)
		}
	}
	for key, holder := range s.advisory {
		if holder == tx {
			delete(s.advisory, key)
		}
	}
	close(s.released)
	s.released = make(chan struct{})
}

// lockRow takes the row lock for id on behalf of tx, waiting while another
// transaction holds it. Caller holds s.mu.
func (s *MemoryStore) lockRow(ctx context.Context, tx *memoryTx, id identity) error {
	for {
		holder, locked := s.rowLocks[id]
		if !locked || holder == tx {
			s.rowLocks[id] = tx
			return nil
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
		if tx.done {
			return ErrTxClosed
		}
	}
}

type memoryTx struct {
	store  *MemoryStore
	staged map[identity]*models.Event
	done   bool
}

func (t *memoryTx) TryAdvisoryXactLock(ctx context.Context, key1, key2 int32) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return false, ErrTxClosed
	}

	key := [2]int32{key1, key2}
	if holder, held := s.advisory[key]; held && holder != t {
		return false, nil
	}
	s.advisory[key] = t
	return true, nil
}

// visible returns the row as this transaction sees it. Caller holds s.mu.
func (t *memoryTx) visible(id identity) (*models.Event, bool) {
	if e, ok := t.staged[id]; ok {
		return e, true
	}
	e, ok := t.store.rows[id]
	return e, ok
}

func (t *memoryTx) FindByIdentity(ctx context.Context, messageID, topic string, forUpdate bool) (*models.Event, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return nil, ErrTxClosed
	}

	id := identity{messageID, topic}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e, ok := t.visible(id)
		if !ok {
			return nil, ErrEventNotFound
		}
		if !forUpdate {
			return cloneEvent(e), nil
		}

		holder, locked := s.rowLocks[id]
		if !locked || holder == t {
			s.rowLocks[id] = t
			// Re-read: the previous holder may have committed a newer version.
			e, _ = t.visible(id)
			return cloneEvent(e), nil
		}
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		if t.done {
			return nil, ErrTxClosed
		}
	}
}

func (t *memoryTx) InsertIfAbsent(ctx context.Context, e *models.Event) (bool, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return false, ErrTxClosed
	}

	id := identity{e.MessageID, e.Topic}
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if _, ok := t.visible(id); ok {
			return false, nil
		}
		holder, inserting := s.pending[id]
		if !inserting || holder == t {
			break
		}
		// A concurrent insert of the same identity decides the outcome.
		if err := s.wait(ctx); err != nil {
			return false, err
		}
		if t.done {
			return false, ErrTxClosed
		}
	}

	s.nextID++
	e.ID = s.nextID
	t.staged[id] = cloneEvent(e)
	s.pending[id] = t
	s.rowLocks[id] = t
	return true, nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, e *models.Event) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return ErrTxClosed
	}

	id := identity{e.MessageID, e.Topic}
	if err := s.lockRow(ctx, t, id); err != nil {
		return err
	}

	current, ok := t.visible(id)
	if !ok {
		return ErrEventNotFound
	}

	updated := cloneEvent(current)
	updated.Status = e.Status
	updated.ProcessingStartedAt = copyTime(e.ProcessingStartedAt)
	updated.Attempts = e.Attempts
	updated.LastError = copyString(e.LastError)
	updated.UpdatedAt = e.UpdatedAt
	t.staged[id] = updated
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return ErrTxClosed
	}
	if err := ctx.Err(); err != nil {
		t.done = true
		s.release(t)
		return err
	}

	for id, e := range t.staged {
		s.rows[id] = e
	}
	t.done = true
	s.release(t)
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return nil
	}
	t.staged = nil
	t.done = true
	s.release(t)
	return nil
}

func cloneEvent(e *models.Event) *models.Event {
	c := *e
	c.ProcessingStartedAt = copyTime(e.ProcessingStartedAt)
	c.LastError = copyString(e.LastError)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

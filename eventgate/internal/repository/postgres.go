package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/telhawk-systems/eventgate/common/database"
	"github.com/telhawk-systems/eventgate/eventgate/internal/models"
)

const eventColumns = `id, message_id, topic, event_type, status, processing_started_at,
		       attempts, last_error, created_at, updated_at`

// PoolConfig sizes the connection pool. Zero values keep pgx defaults.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string, pc PoolConfig) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if pc.MaxConns > 0 {
		config.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		config.MinConns = pc.MinConns
	}
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

func (s *PostgresStore) Get(ctx context.Context, messageID, topic string) (*models.Event, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + eventColumns + ` FROM event WHERE message_id = $1 AND topic = $2`

	e, err := scanEvent(s.pool.QueryRow(ctx, query, messageID, topic))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.Event, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Topic != "" {
		args = append(args, filter.Topic)
		conds = append(conds, fmt.Sprintf("topic = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		conds = append(conds, fmt.Sprintf("event_type = $%d", len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM event`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, filter.limit(), filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[models.EventStatus]int64, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM event GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.EventStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.EventStatus(status)] = n
	}

	return counts, rows.Err()
}

func (s *PostgresStore) ReclaimStale(ctx context.Context, cutoff time.Time, limit int, reason string) ([]*models.Event, error) {
	ctx, cancel := database.BulkContext(ctx)
	defer cancel()

	if limit <= 0 {
		limit = DefaultListLimit
	}

	// SKIP LOCKED leaves rows that a finalizing transaction holds alone.
	query := `
		WITH stale AS (
			SELECT id FROM event
			WHERE status = 'PROCESSING' AND processing_started_at < $1
			ORDER BY processing_started_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event e
		SET status = 'FAILED', last_error = $3, updated_at = NOW()
		FROM stale
		WHERE e.id = stale.id
		RETURNING e.id, e.message_id, e.topic, e.event_type, e.status, e.processing_started_at,
		          e.attempts, e.last_error, e.created_at, e.updated_at
	`

	rows, err := s.pool.Query(ctx, query, cutoff, limit, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reclaimed event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) TryAdvisoryXactLock(ctx context.Context, key1, key2 int32) (bool, error) {
	var acquired bool
	err := t.tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1::int4, $2::int4)`, key1, key2).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	return acquired, nil
}

func (t *postgresTx) FindByIdentity(ctx context.Context, messageID, topic string, forUpdate bool) (*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM event WHERE message_id = $1 AND topic = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	e, err := scanEvent(t.tx.QueryRow(ctx, query, messageID, topic))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	return e, nil
}

func (t *postgresTx) InsertIfAbsent(ctx context.Context, e *models.Event) (bool, error) {
	query := `
		INSERT INTO event (message_id, topic, event_type, status, processing_started_at,
		                   attempts, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id, topic) DO NOTHING
		RETURNING id
	`

	var id int64
	err := t.tx.QueryRow(ctx, query,
		e.MessageID, e.Topic, e.EventType, string(e.Status), e.ProcessingStartedAt,
		e.Attempts, e.LastError, e.CreatedAt, e.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	e.ID = id
	return true, nil
}

func (t *postgresTx) UpdateStatus(ctx context.Context, e *models.Event) error {
	query := `
		UPDATE event
		SET status = $1, processing_started_at = $2, attempts = $3, last_error = $4, updated_at = $5
		WHERE message_id = $6 AND topic = $7
	`

	tag, err := t.tx.Exec(ctx, query,
		string(e.Status), e.ProcessingStartedAt, e.Attempts, e.LastError, e.UpdatedAt,
		e.MessageID, e.Topic,
	)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxClosed
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var (
		e      models.Event
		status string
	)
	if err := row.Scan(
		&e.ID, &e.MessageID, &e.Topic, &e.EventType, &status, &e.ProcessingStartedAt,
		&e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := models.ParseEventStatus(status)
	if err != nil {
		return nil, err
	}
	e.Status = parsed
	return &e, nil
}

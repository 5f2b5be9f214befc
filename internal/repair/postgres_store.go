package repair

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var repairSchema = []string{`
	CREATE TABLE IF NOT EXISTS repair_messages (
		message_id TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		payload    JSONB NOT NULL,
		deadline   TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		attempts   INT NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS repair_messages_deadline_idx ON repair_messages (deadline)`,
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPool opens a connection pool and verifies it
func NewPostgresPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a new PostgreSQL message store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the message table when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range repairSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create repair schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO repair_messages (
			message_id, kind, payload, deadline, created_at, attempts, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			deadline = EXCLUDED.deadline,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error
	`

	_, err := s.pool.Exec(ctx, query,
		msg.ID.String(),
		string(msg.Kind),
		[]byte(msg.Payload),
		msg.Deadline,
		msg.CreatedAt,
		msg.Attempts,
		msg.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to store repair message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `
		SELECT message_id, kind, payload, deadline, created_at, attempts, last_error
		FROM repair_messages
		WHERE message_id = $1
	`

	msg, err := scanMessage(s.pool.QueryRow(ctx, query, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repair message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) Remove(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM repair_messages WHERE message_id = $1`

	if _, err := s.pool.Exec(ctx, query, id.String()); err != nil {
		return fmt.Errorf("failed to remove repair message: %w", err)
	}
	return nil
}

func (s *PostgresStore) Due(ctx context.Context, now time.Time, limit int) ([]*Message, error) {
	query := `
		SELECT message_id, kind, payload, deadline, created_at, attempts, last_error
		FROM repair_messages
		WHERE deadline <= $1
		ORDER BY deadline ASC
	`
	args := []interface{}{now}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list due repair messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repair message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, id uuid.UUID, lastErr string, retryAt time.Time) error {
	query := `
		UPDATE repair_messages
		SET attempts = attempts + 1, last_error = $2, deadline = $3
		WHERE message_id = $1
	`

	if _, err := s.pool.Exec(ctx, query, id.String(), lastErr, retryAt); err != nil {
		return fmt.Errorf("failed to record repair attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM repair_messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count repair messages: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		msg     Message
		rawID   string
		kind    string
		payload []byte
	)
	if err := row.Scan(
		&rawID,
		&kind,
		&payload,
		&msg.Deadline,
		&msg.CreatedAt,
		&msg.Attempts,
		&msg.LastError,
	); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q: %w", rawID, err)
	}
	msg.ID = id
	msg.Kind = Kind(kind)
	msg.Payload = payload
	return &msg, nil
}

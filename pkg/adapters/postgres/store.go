// Package postgres implements ports.CheckpointStore on PostgreSQL using
// lib/pq. Every checkpoint version is a row; the newest row is the current
// checkpoint and older rows are the audit history.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"

	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "espalier_checkpoints"

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store persists checkpoints in a Postgres table.
type Store struct {
	db    *sql.DB
	table string
	owned bool
}

// Option configures a Store.
type Option func(*Store)

// WithTable sets the checkpoint table name.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// Open connects to the database and prepares the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	s, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New uses an existing pool and prepares the schema.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("invalid table name %q", s.table)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	session_id TEXT        NOT NULL,
	version    INTEGER     NOT NULL,
	node       TEXT        NOT NULL,
	reason     TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	checkpoint JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, version)
)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

// Save inserts the checkpoint if it supersedes the current version.
// A transaction-scoped advisory lock on the session serializes writers.
func (s *Store) Save(ctx context.Context, sessionID string, cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	var status domain.Status
	if cp.State != nil {
		status = cp.State.Status
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
		return fmt.Errorf("failed to lock session %s: %w", sessionID, err)
	}

	var current int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %s WHERE session_id = $1`, s.table),
		sessionID).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read current version: %w", err)
	}
	if current >= cp.Version {
		return fmt.Errorf("%w: session %s has version %d, got %d",
			domain.ErrStaleCheckpoint, sessionID, current, cp.Version)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (session_id, version, node, reason, status, checkpoint, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.table),
		sessionID, cp.Version, string(cp.Node), string(cp.Reason), string(status), data, cp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Load returns the newest checkpoint of the session.
func (s *Store) Load(ctx context.Context, sessionID string) (*domain.Checkpoint, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT checkpoint FROM %s WHERE session_id = $1 ORDER BY version DESC LIMIT 1`, s.table),
		sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decode(data)
}

// History returns every checkpoint of the session, oldest first.
func (s *Store) History(ctx context.Context, sessionID string) ([]*domain.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT checkpoint FROM %s WHERE session_id = $1 ORDER BY version ASC`, s.table), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*domain.Checkpoint
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		cp, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return out, nil
}

// List returns the ids of all stored sessions.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT session_id FROM %s ORDER BY session_id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the session and its history.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = $1`, s.table), sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DB exposes the pool, e.g. to share it with a query runner.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the pool if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func decode(data []byte) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
